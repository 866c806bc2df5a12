// Package server assembles the HTTP surface of the enrichment service.
package server

import (
	"errors"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/makeasinger/enrichment/internal/analysis"
	"github.com/makeasinger/enrichment/internal/handler"
	"github.com/makeasinger/enrichment/internal/metrics"
	"github.com/makeasinger/enrichment/internal/middleware"
	"github.com/makeasinger/enrichment/internal/model"
	"github.com/makeasinger/enrichment/internal/service"
	ws "github.com/makeasinger/enrichment/internal/websocket"
	"github.com/makeasinger/enrichment/pkg/response"
)

// Deps are the components the routes are built from
type Deps struct {
	Enrichment        *service.EnrichmentService
	EnrichmentHandler *handler.EnrichmentHandler
	CatalogHandler    *handler.CatalogHandler
	Auth              *middleware.AuthMiddleware
	RateLimiter       *middleware.RateLimiter
	Hub               *ws.Hub
	Metrics           *metrics.Metrics
	EnrichPerHour     int
	RequestLog        bool
	QueueEnabled      bool
}

// New builds the fiber app with every route registered
func New(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
		BodyLimit:    4 * 1024 * 1024,
	})

	app.Use(recover.New())
	if d.RequestLog {
		app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		}))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,If-None-Match",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		analysisHealth := d.Enrichment.BackendHealth(c.UserContext())
		status := "ok"
		if analysisHealth.Status != analysis.HealthOK {
			status = analysisHealth.Status
		}
		return c.JSON(fiber.Map{
			"status": status,
			"services": fiber.Map{
				"analysis": analysisHealth,
				"queue":    d.QueueEnabled,
			},
		})
	})
	if d.Metrics != nil {
		app.Get("/metrics", d.Metrics.Handler())
	}

	api := app.Group("/api", d.Auth.Authenticate())

	enrichment := api.Group("/enrichment")
	if d.RateLimiter != nil {
		enrichment.Post("/jobs", d.RateLimiter.EnrichLimit(d.EnrichPerHour), d.EnrichmentHandler.CreateJob)
	} else {
		enrichment.Post("/jobs", d.EnrichmentHandler.CreateJob)
	}
	enrichment.Get("/jobs/:jobId", d.EnrichmentHandler.GetJob)
	enrichment.Post("/jobs/:jobId/process", d.EnrichmentHandler.ProcessJob)
	enrichment.Post("/process", d.EnrichmentHandler.ProcessJobs)
	enrichment.Get("/stats", d.EnrichmentHandler.Stats)
	enrichment.Post("/similar", d.EnrichmentHandler.Similar)

	catalog := api.Group("/catalog")
	catalog.Get("/search", d.CatalogHandler.Search)
	catalog.Get("/updates", d.CatalogHandler.Updates)
	catalog.Post("/sync", d.CatalogHandler.Sync)
	catalog.Get("/rights/:type/:id", d.CatalogHandler.Rights)
	catalog.Get("/features/:type/:id", d.CatalogHandler.Features)
	catalog.Get("/:type/:id", d.CatalogHandler.Get)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/jobs/:jobId", d.Auth.AuthenticateQuery(), watchJob(d.Enrichment), websocket.New(func(c *websocket.Conn) {
		job, _ := c.Locals("job").(*model.Job)
		d.Hub.HandleConnection(c, job)
	}))

	return app
}

// watchJob resolves the job before the upgrade so unknown ids get a 404
func watchJob(svc *service.EnrichmentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		job, err := svc.GetJob(c.UserContext(), c.Params("jobId"))
		if err != nil {
			if errors.Is(err, service.ErrJobNotFound) {
				return response.NotFound(c, "Job not found")
			}
			return response.ServiceError(c, err.Error())
		}
		c.Locals("job", job)
		return c.Next()
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	return response.Error(c, code, response.CodeServiceError, message, nil)
}
