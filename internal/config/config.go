package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Queue     QueueConfig
	Media     MediaConfig
	Ingest    IngestConfig
	RateLimit RateLimitConfig
	R2        R2Config
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	LogFormat string
	StaticDir string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Queue backends
const (
	QueueBackendRedis = "redis"
	QueueBackendLocal = "local"
)

type QueueConfig struct {
	Backend     string
	Name        string
	Instance    string
	Workers     int
	TaskTimeout time.Duration
	Retention   time.Duration
	JobTTL      time.Duration
}

type MediaConfig struct {
	VideosDir      string
	FFmpegPath     string
	FFprobePath    string
	Threads        int
	TargetHeight   int
	CRF            int
	Preset         string
	VideoCodec     string
	AudioCodec     string
	FrameRate      int
	SettleInterval time.Duration
	SettleTimeout  time.Duration
}

type IngestConfig struct {
	ScriptPath string
	Shell      string
}

type RateLimitConfig struct {
	SubmitPerHour int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

// Enabled reports whether artifact publishing is configured.
func (c R2Config) Enabled() bool {
	return c.AccountID != "" && c.AccessKeyID != "" && c.SecretAccessKey != "" && c.BucketName != ""
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.log_format", "LOG_FORMAT")
	_ = v.BindEnv("server.static_dir", "STATIC_DIR")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("queue.backend", "QUEUE_BACKEND")
	_ = v.BindEnv("queue.name", "QUEUE_NAME")
	_ = v.BindEnv("queue.workers", "QUEUE_WORKERS")
	_ = v.BindEnv("queue.instance", "QUEUE_INSTANCE")
	_ = v.BindEnv("queue.task_timeout", "QUEUE_TASK_TIMEOUT")
	_ = v.BindEnv("queue.retention", "QUEUE_RETENTION")
	_ = v.BindEnv("queue.job_ttl", "QUEUE_JOB_TTL")
	_ = v.BindEnv("media.videos_dir", "VIDEOS_DIR")
	_ = v.BindEnv("media.ffmpeg_path", "FFMPEG_PATH")
	_ = v.BindEnv("media.ffprobe_path", "FFPROBE_PATH")
	_ = v.BindEnv("media.threads", "FFMPEG_THREADS")
	_ = v.BindEnv("media.target_height", "MEDIA_TARGET_HEIGHT")
	_ = v.BindEnv("media.crf", "MEDIA_CRF")
	_ = v.BindEnv("media.preset", "MEDIA_PRESET")
	_ = v.BindEnv("media.video_codec", "MEDIA_VIDEO_CODEC")
	_ = v.BindEnv("media.audio_codec", "MEDIA_AUDIO_CODEC")
	_ = v.BindEnv("media.frame_rate", "MEDIA_FRAME_RATE")
	_ = v.BindEnv("media.settle_interval", "MEDIA_SETTLE_INTERVAL")
	_ = v.BindEnv("media.settle_timeout", "MEDIA_SETTLE_TIMEOUT")
	_ = v.BindEnv("ingest.script_path", "CONVERT_SCRIPT_PATH")
	_ = v.BindEnv("ingest.shell", "CONVERT_SCRIPT_SHELL")
	_ = v.BindEnv("ratelimit.submit_per_hour", "RATELIMIT_SUBMIT_PER_HOUR")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")

	// Defaults
	v.SetDefault("server.port", "5000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.static_dir", "./public")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Queue defaults
	v.SetDefault("queue.backend", QueueBackendRedis)
	v.SetDefault("queue.name", "video-converter")
	v.SetDefault("queue.workers", 1)
	v.SetDefault("queue.task_timeout", 24*time.Hour)
	v.SetDefault("queue.retention", 24*time.Hour)
	v.SetDefault("queue.job_ttl", 7*24*time.Hour)

	// Media defaults
	v.SetDefault("media.videos_dir", "/usr/src/app/recordings/")
	v.SetDefault("media.ffmpeg_path", "ffmpeg")
	v.SetDefault("media.ffprobe_path", "ffprobe")
	v.SetDefault("media.threads", 0)
	v.SetDefault("media.target_height", 240)
	v.SetDefault("media.crf", 21)
	v.SetDefault("media.preset", "veryfast")
	v.SetDefault("media.video_codec", "libx264")
	v.SetDefault("media.audio_codec", "libopus")
	v.SetDefault("media.frame_rate", 24)
	v.SetDefault("media.settle_interval", 250*time.Millisecond)
	v.SetDefault("media.settle_timeout", 30*time.Second)

	// Ingest defaults
	v.SetDefault("ingest.script_path", "/usr/src/app/shell-scripts/convert-mjr.sh")
	v.SetDefault("ingest.shell", "bash")

	v.SetDefault("ratelimit.submit_per_hour", 60)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      v.GetString("server.port"),
			Env:       v.GetString("server.env"),
			LogLevel:  v.GetString("server.log_level"),
			LogFormat: v.GetString("server.log_format"),
			StaticDir: v.GetString("server.static_dir"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Queue: QueueConfig{
			Backend:     strings.ToLower(v.GetString("queue.backend")),
			Name:        v.GetString("queue.name"),
			Instance:    v.GetString("queue.instance"),
			Workers:     v.GetInt("queue.workers"),
			TaskTimeout: v.GetDuration("queue.task_timeout"),
			Retention:   v.GetDuration("queue.retention"),
			JobTTL:      v.GetDuration("queue.job_ttl"),
		},
		Media: MediaConfig{
			VideosDir:      v.GetString("media.videos_dir"),
			FFmpegPath:     v.GetString("media.ffmpeg_path"),
			FFprobePath:    v.GetString("media.ffprobe_path"),
			Threads:        v.GetInt("media.threads"),
			TargetHeight:   v.GetInt("media.target_height"),
			CRF:            v.GetInt("media.crf"),
			Preset:         v.GetString("media.preset"),
			VideoCodec:     v.GetString("media.video_codec"),
			AudioCodec:     v.GetString("media.audio_codec"),
			FrameRate:      v.GetInt("media.frame_rate"),
			SettleInterval: v.GetDuration("media.settle_interval"),
			SettleTimeout:  v.GetDuration("media.settle_timeout"),
		},
		Ingest: IngestConfig{
			ScriptPath: v.GetString("ingest.script_path"),
			Shell:      v.GetString("ingest.shell"),
		},
		RateLimit: RateLimitConfig{
			SubmitPerHour: v.GetInt("ratelimit.submit_per_hour"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
	}

	if cfg.Queue.Workers < 1 {
		cfg.Queue.Workers = 1
	}

	return cfg, nil
}

// Public returns the settings that are safe to expose over HTTP.
func (c *Config) Public() map[string]interface{} {
	return map[string]interface{}{
		"port":              c.Server.Port,
		"env":               c.Server.Env,
		"videosBaseDir":     c.Media.VideosDir,
		"ffmpegPath":        c.Media.FFmpegPath,
		"ffprobePath":       c.Media.FFprobePath,
		"ffmpegThreads":     c.Media.Threads,
		"targetHeight":      c.Media.TargetHeight,
		"queueBackend":      c.Queue.Backend,
		"queueName":         c.Queue.Name,
		"workers":           c.Queue.Workers,
		"convertScriptPath": c.Ingest.ScriptPath,
		"publishEnabled":    c.R2.Enabled(),
	}
}
