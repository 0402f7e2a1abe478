// Package server assembles the HTTP API served by `ijbatch serve`.
package server

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ngbi/ijbatch/internal/handler"
	"github.com/ngbi/ijbatch/internal/middleware"
	ws "github.com/ngbi/ijbatch/internal/websocket"
	"github.com/ngbi/ijbatch/pkg/response"
)

type Deps struct {
	Batches *handler.BatchHandler
	Auth    *middleware.AuthMiddleware
	Hub     *ws.Hub
	// AccessLog enables fiber's request logger.
	AccessLog bool
}

// NewApp builds the fiber app with every route mounted.
func NewApp(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: response.ErrorHandler,
		BodyLimit:    1024 * 1024,
	})

	app.Use(recover.New())
	if d.AccessLog {
		app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		}))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api", d.Auth.Authenticate())
	api.Get("/macros", d.Batches.Macros)
	api.Post("/batches", d.Batches.Start)
	api.Get("/batches/:batchId", d.Batches.Status)
	api.Get("/runs/:runId", d.Batches.Run)

	app.Get("/ws/batches/:batchId", d.Auth.Authenticate(), d.Batches.Watch, websocket.New(func(c *websocket.Conn) {
		d.Hub.HandleConnection(c, c.Params("batchId"))
	}))

	return app
}
