package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/clinic"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/dto"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/session"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/workspace"
)

// RoleRequired admits registered identities whose role is one of roles. With
// no roles every registered identity is admitted. It must run after Workspace.
func RoleRequired(roles ...clinic.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ws := workspace.From(c)
		if ws == nil || ws.Session.Status() != session.StatusActive {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
				Error: true, Message: "Registration required",
			})
		}
		if len(roles) == 0 {
			return c.Next()
		}
		role := ws.Session.Role()
		for _, r := range roles {
			if r == role {
				return c.Next()
			}
		}
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
			Error: true, Message: "Not available for role " + string(role),
		})
	}
}
