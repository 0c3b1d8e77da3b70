package apps

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/clinic"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/config"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory"
)

// Plugin is a role-specific feature area mounted under /api/p/{ID}.
type Plugin interface {
	// ID returns the URL segment of the plugin.
	ID() string

	// Role is the only role admitted to the plugin's routes.
	Role() clinic.Role

	// RegisterRoutes mounts the plugin's routes on the given Fiber group.
	// The group already has JWT, workspace and role middleware applied.
	RegisterRoutes(router fiber.Router, docs directory.DocumentStore, cfg *config.Config)
}
