package handler

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	ws "github.com/smpb05/janus-gateway/internal/websocket"
)

// Routes bundles everything mounted on the app.
type Routes struct {
	Video  *VideoHandler
	Job    *JobHandler
	Room   *RoomHandler
	System *SystemHandler

	// SubmitLimit guards conversion submissions; optional.
	SubmitLimit fiber.Handler
	// Hub serves /ws/jobs/:jobId; optional.
	Hub *ws.Hub

	StaticDir string
	VideosDir string
}

// Register mounts all routes on app.
func Register(app *fiber.App, r Routes) {
	app.Get("/", r.System.Index)
	app.Get("/health", r.System.Health)
	app.Get("/config", r.System.Config)
	app.Get("/version", r.System.Version)

	if r.StaticDir != "" {
		app.Static("/static", r.StaticDir)
	}
	if r.VideosDir != "" {
		app.Static("/files", r.VideosDir, fiber.Static{ByteRange: true})
	}

	submit := []fiber.Handler{r.Video.Convert}
	if r.SubmitLimit != nil {
		submit = []fiber.Handler{r.SubmitLimit, r.Video.Convert}
	}
	videos := app.Group("/videos")
	videos.Get("/:id", submit...)
	videos.Get("/:id/processed", r.Video.Processed)
	videos.Get("/:id/mixed", r.Video.Mixed)

	app.Get("/job/:id", r.Job.Status)
	app.Get("/jobs/waiting", r.Job.Waiting)

	app.Get("/call/filelist/:id", r.Room.FileList)
	app.Get("/file/info/:id/:filename?", r.Room.FileInfo)

	if r.Hub != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
			r.Hub.HandleConnection(c, c.Params("jobId"))
		}))
	}
}
