package middleware

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/dto"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/workspace"
)

// Workspace resolves the signed-in identity's workspace. It must run after
// JWTProtected.
func Workspace(registry *workspace.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, err := workspace.IdentityFromClaims(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: "Unauthorized",
			})
		}

		ws, err := registry.Acquire(c.UserContext(), identity)
		if err != nil {
			slog.Error("workspace open failed", "identity_id", identity.ID, "error", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{
				Error: true, Message: "Could not load your account, please try again",
			})
		}
		workspace.Set(c, ws)
		return c.Next()
	}
}
