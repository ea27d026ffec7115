package middleware

import (
	"fidus-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const adminIDLocal = "admin_id"
const adminKeyHeader = "X-Admin-Key"
const adminIDHeader = "X-Admin-Id"

// RequireAdmin verifies the console key against the configured bcrypt hash
// and binds the acting admin id (set by the upstream auth gateway) into
// Locals. Identity management itself lives outside this service; the ledger
// only needs to know who to record on each mutation.
func RequireAdmin(adminKeyHash string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if adminKeyHash != "" {
			key := c.Get(adminKeyHeader)
			if key == "" {
				return response.Unauthorized(c, "Unauthorized")
			}
			if err := bcrypt.CompareHashAndPassword([]byte(adminKeyHash), []byte(key)); err != nil {
				return response.Unauthorized(c, "Unauthorized")
			}
		}
		adminID, err := uuid.Parse(c.Get(adminIDHeader))
		if err != nil {
			return response.Error(c, "Invalid or missing admin id", fiber.StatusBadRequest, nil)
		}
		c.Locals(adminIDLocal, adminID)
		return c.Next()
	}
}

// GetAdminID returns the acting admin id bound by RequireAdmin.
func GetAdminID(c *fiber.Ctx) (uuid.UUID, bool) {
	id, ok := c.Locals(adminIDLocal).(uuid.UUID)
	return id, ok
}
