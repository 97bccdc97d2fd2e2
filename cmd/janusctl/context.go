package main

import (
	"log/slog"
	"os"
	"sync"

	"github.com/smpb05/janus-gateway/internal/config"
	"github.com/smpb05/janus-gateway/internal/fragment"
	"github.com/smpb05/janus-gateway/internal/logging"
	"github.com/smpb05/janus-gateway/internal/media"
)

type commandContext struct {
	logLevel *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(logLevel *string) *commandContext {
	return &commandContext{logLevel: logLevel}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = config.Load()
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() *slog.Logger {
	level := "warn"
	if c.logLevel != nil && *c.logLevel != "" {
		level = *c.logLevel
	}
	return logging.NewWithWriter(os.Stderr, level, "text")
}

func (c *commandContext) store(cfg *config.Config) *fragment.Store {
	return fragment.NewStore(cfg.Media.VideosDir)
}

func (c *commandContext) executor(cfg *config.Config, logger *slog.Logger) *media.FFmpeg {
	return media.NewFFmpeg(media.OptionsFromConfig(&cfg.Media), logger)
}
