package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/smpb05/janus-gateway/internal/client"
	"github.com/smpb05/janus-gateway/internal/config"
	"github.com/smpb05/janus-gateway/internal/fragment"
	"github.com/smpb05/janus-gateway/internal/handler"
	"github.com/smpb05/janus-gateway/internal/ingest"
	"github.com/smpb05/janus-gateway/internal/logging"
	"github.com/smpb05/janus-gateway/internal/media"
	"github.com/smpb05/janus-gateway/internal/middleware"
	"github.com/smpb05/janus-gateway/internal/pipeline"
	"github.com/smpb05/janus-gateway/internal/scheduler"
	"github.com/smpb05/janus-gateway/internal/version"
	ws "github.com/smpb05/janus-gateway/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Server.LogLevel, cfg.Server.LogFormat)
	slog.SetDefault(log)
	log.Info("starting", "version", version.Full())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("redis not available", "addr", cfg.Redis.Addr, "error", err)
	}

	store, backend := newQueue(cfg, redisClient, log)
	defer backend.Close()

	fragments := fragment.NewStore(cfg.Media.VideosDir)
	executor := media.NewFFmpeg(media.OptionsFromConfig(&cfg.Media), log)

	var ingester ingest.Ingester = ingest.Nop{}
	if cfg.Ingest.ScriptPath != "" {
		ingester = ingest.NewScriptIngester(cfg.Ingest.Shell, cfg.Ingest.ScriptPath, log)
	}

	opts := pipeline.Options{TargetHeight: cfg.Media.TargetHeight}
	if cfg.R2.Enabled() {
		r2, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Warn("artifact publishing disabled", "error", err)
		} else {
			opts.Publisher = r2
		}
	}
	processor := pipeline.NewProcessor(fragments, executor, ingester, opts, log)

	hub := ws.NewHub(log)
	go hub.Run(ctx)

	jobs := scheduler.New(store, backend, processor, log, scheduler.WithNotifier(hub))

	validate := validator.New()
	rateLimiter := middleware.NewRateLimiter(redisClient, log)

	app := fiber.New(fiber.Config{
		ErrorHandler: handler.ErrorHandler,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	handler.Register(app, handler.Routes{
		Video:       handler.NewVideoHandler(jobs, fragments, validate, log),
		Job:         handler.NewJobHandler(jobs),
		Room:        handler.NewRoomHandler(fragments, executor, validate),
		System:      handler.NewSystemHandler(cfg.Public()),
		SubmitLimit: rateLimiter.SubmitLimit(cfg.RateLimit.SubmitPerHour),
		Hub:         hub,
		StaticDir:   cfg.Server.StaticDir,
		VideosDir:   cfg.Media.VideosDir,
	})

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		if err := jobs.Run(ctx); err != nil {
			log.Error("worker pool stopped", "error", err)
			stop()
		}
	}()

	go func() {
		<-ctx.Done()
		log.Info("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error("server shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	log.Info("server starting", "addr", addr, "queue_backend", cfg.Queue.Backend, "workers", cfg.Queue.Workers)
	if err := app.Listen(addr); err != nil {
		log.Error("server error", "error", err)
		stop()
	}

	<-workersDone
	log.Info("stopped")
}

// newQueue picks the job store and task backend for the configured queue.
func newQueue(cfg *config.Config, redisClient *redis.Client, log *slog.Logger) (scheduler.JobStore, scheduler.Backend) {
	if cfg.Queue.Backend == config.QueueBackendLocal {
		log.Warn("local queue backend: queued jobs are lost on restart")
		return scheduler.NewMemoryStore(), scheduler.NewLocalBackend(cfg.Queue.Workers)
	}

	store := scheduler.NewRedisStore(redisClient, cfg.Queue.Name+":", cfg.Queue.JobTTL)
	backend := scheduler.NewAsynqBackend(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, redisClient, scheduler.AsynqOptions{
		Queue:       cfg.Queue.Name,
		Instance:    cfg.Queue.Instance,
		Workers:     cfg.Queue.Workers,
		TaskTimeout: cfg.Queue.TaskTimeout,
		Retention:   cfg.Queue.Retention,
		LogLevel:    cfg.Server.LogLevel,
	}, log)
	return store, backend
}
