package version

import "fmt"

// Set through -ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func Full() string {
	return fmt.Sprintf("janus-gateway %s, commit %s, built at %s", Version, Commit, Date)
}
