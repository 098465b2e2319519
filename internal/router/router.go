package router

import (
	"ticketing-import/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

func Setup(app *fiber.App, db *sqlx.DB, redis *redis.Client, cfg *config.Config) {
	app.Get("/health", func(c *fiber.Ctx) error {
		status := fiber.Map{
			"status": "ok",
			"app":    cfg.AppName,
			"queue":  redis != nil,
		}
		if err := db.PingContext(c.UserContext()); err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
			return c.Status(fiber.StatusServiceUnavailable).JSON(status)
		}
		return c.JSON(status)
	})

	api := app.Group("/api/v1")
	SetupAPIRoutes(api, db, redis, cfg)
}
