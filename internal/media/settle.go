package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// ErrOutputNotStable is returned when an output file is missing or keeps
// changing size past the settle timeout.
var ErrOutputNotStable = errors.New("output not stable")

// WaitStable blocks until path exists and its size is unchanged across two
// consecutive checks taken interval apart.
func WaitStable(ctx context.Context, path string, interval, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastSize := int64(-1)
	for {
		info, err := os.Stat(path)
		switch {
		case err == nil:
			if info.Size() == lastSize {
				return nil
			}
			lastSize = info.Size()
		case errors.Is(err, fs.ErrNotExist):
			lastSize = -1
		default:
			return fmt.Errorf("stat %s: %w", path, err)
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", ErrOutputNotStable, path)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
