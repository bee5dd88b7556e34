package handler

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

const (
	checkOK       = "ok"
	checkDown     = "down"
	checkDisabled = "disabled"
)

// BrokerStatus reports whether the job broker connection is usable.
type BrokerStatus interface {
	Healthy() bool
}

// RegisterHealthRoutes mounts /livez and /readyz. rdb and broker may be nil
// when generation is disabled; they are then reported but not required.
func RegisterHealthRoutes(app fiber.Router, sqlDB *sql.DB, rdb *redis.Client, broker BrokerStatus) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(sqlDB, rdb, broker))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

func ReadyzHandler(sqlDB *sql.DB, rdb *redis.Client, broker BrokerStatus) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), readinessTimeout)
		defer cancel()

		pgStatus := checkOK
		if err := sqlDB.PingContext(ctx); err != nil {
			pgStatus = checkDown
		}

		redisStatus := checkDisabled
		if rdb != nil {
			redisStatus = checkOK
			if err := rdb.Ping(ctx).Err(); err != nil {
				redisStatus = checkDown
			}
		}

		// The broker connects lazily, so a missing connection only degrades.
		brokerStatus := checkDisabled
		if broker != nil {
			brokerStatus = checkOK
			if !broker.Healthy() {
				brokerStatus = "connecting"
			}
		}

		status := "ready"
		statusCode := fiber.StatusOK
		if pgStatus == checkDown || redisStatus == checkDown {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": fiber.Map{
				"postgres": pgStatus,
				"redis":    redisStatus,
				"rabbitmq": brokerStatus,
			},
		})
	}
}
