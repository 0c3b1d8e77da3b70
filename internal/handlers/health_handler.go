package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/database"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/dto"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/workspace"
)

type HealthHandler struct {
	registry *workspace.Registry
}

func NewHealthHandler(registry *workspace.Registry) *HealthHandler {
	return &HealthHandler{registry: registry}
}

func (h *HealthHandler) Check(c *fiber.Ctx) error {
	dbStatus := "ok"
	if database.DB == nil {
		dbStatus = "not configured"
	} else if err := database.Ping(); err != nil {
		dbStatus = "unhealthy: " + err.Error()
	}

	return c.JSON(dto.HealthResponse{
		Status:     "ok",
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		DB:         dbStatus,
		Workspaces: h.registry.Len(),
	})
}
