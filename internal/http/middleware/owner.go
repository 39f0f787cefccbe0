package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	// OwnerIDHeader carries the authenticated owner set by the upstream auth layer.
	OwnerIDHeader = "X-Owner-ID"
	// OwnerIDLocalKey is the key used to store the owner ID in Fiber's context locals.
	OwnerIDLocalKey = "owner_id"
)

// OwnerScope requires a valid owner ID on the request and stores it in locals.
// Requests without one are answered by the app's error handler with 401.
func OwnerScope() fiber.Handler {
	return func(c *fiber.Ctx) error {
		owner := c.Get(OwnerIDHeader)
		if owner == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "owner required")
		}
		if _, err := uuid.Parse(owner); err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid owner")
		}
		c.Locals(OwnerIDLocalKey, owner)
		return c.Next()
	}
}

// OwnerID returns the owner stored by OwnerScope, or "" outside a scoped route.
func OwnerID(c *fiber.Ctx) string {
	s, _ := c.Locals(OwnerIDLocalKey).(string)
	return s
}
