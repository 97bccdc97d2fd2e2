// Package ingest converts raw Janus .mjr recordings of a room into playable
// fragments by running an external script.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Ingester prepares the fragments of a room.
type Ingester interface {
	Ingest(ctx context.Context, room string) error
}

// ScriptIngester runs `<shell> <script> <room>`.
type ScriptIngester struct {
	shell  string
	script string
	logger *slog.Logger
}

// NewScriptIngester creates an ingester. An empty shell defaults to bash.
func NewScriptIngester(shell, script string, logger *slog.Logger) *ScriptIngester {
	if shell == "" {
		shell = "bash"
	}
	return &ScriptIngester{shell: shell, script: script, logger: logger.With("component", "ingest")}
}

// Ingest runs the script and waits for it to exit.
func (s *ScriptIngester) Ingest(ctx context.Context, room string) error {
	if s.script == "" {
		return fmt.Errorf("ingest %s: no script configured", room)
	}
	started := time.Now()
	cmd := exec.CommandContext(ctx, s.shell, s.script, room)
	output, err := cmd.CombinedOutput()
	out := strings.TrimSpace(string(output))
	if err != nil {
		return fmt.Errorf("ingest %s: %w: %s", room, err, out)
	}
	s.logger.Info("ingest finished",
		"room", room,
		"duration", time.Since(started).Round(time.Millisecond).String(),
		"output", out,
	)
	return nil
}

// Nop is an Ingester that does nothing.
type Nop struct{}

// Ingest implements Ingester.
func (Nop) Ingest(context.Context, string) error { return nil }
