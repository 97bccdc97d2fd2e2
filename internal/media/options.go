package media

import "github.com/smpb05/janus-gateway/internal/config"

// OptionsFromConfig maps the media configuration onto executor options.
func OptionsFromConfig(cfg *config.MediaConfig) Options {
	return Options{
		FFmpegPath:     cfg.FFmpegPath,
		FFprobePath:    cfg.FFprobePath,
		Threads:        cfg.Threads,
		TargetHeight:   cfg.TargetHeight,
		CRF:            cfg.CRF,
		Preset:         cfg.Preset,
		VideoCodec:     cfg.VideoCodec,
		AudioCodec:     cfg.AudioCodec,
		FrameRate:      cfg.FrameRate,
		SettleInterval: cfg.SettleInterval,
		SettleTimeout:  cfg.SettleTimeout,
	}
}
