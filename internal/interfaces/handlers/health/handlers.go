package health

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Handlers holds dependencies for health endpoints.
type Handlers struct {
	DB  *gorm.DB
	Rdb *redis.Client
}

// JSON GET /health/json — reports dependency reachability.
func (h *Handlers) JSON(c *fiber.Ctx) error {
	status := "ok"
	deps := fiber.Map{}

	if h.DB != nil {
		dbStatus := "up"
		if sqlDB, err := h.DB.DB(); err != nil {
			dbStatus = "down"
		} else if err := sqlDB.Ping(); err != nil {
			dbStatus = "down"
		}
		if dbStatus == "down" {
			status = "degraded"
		}
		deps["database"] = dbStatus
	} else {
		deps["database"] = "not configured"
	}

	if h.Rdb != nil {
		redisStatus := "up"
		if err := h.Rdb.Ping(c.UserContext()).Err(); err != nil {
			redisStatus = "down"
		}
		if redisStatus == "down" {
			status = "degraded"
		}
		deps["redis"] = redisStatus
	} else {
		deps["redis"] = "not configured"
	}

	return c.JSON(fiber.Map{
		"service":      "fidus-allocation-ledger",
		"status":       status,
		"time":         time.Now().UTC().Format(time.RFC3339),
		"dependencies": deps,
	})
}
