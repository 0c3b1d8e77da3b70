// Package hospital serves a hospital admin's doctor roster.
package hospital

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/clinic"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/config"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/handlers"
)

type HospitalPlugin struct{}

func New() *HospitalPlugin {
	return &HospitalPlugin{}
}

func (p *HospitalPlugin) ID() string { return "hospital" }

func (p *HospitalPlugin) Role() clinic.Role { return clinic.RoleHospitalAdmin }

func (p *HospitalPlugin) RegisterRoutes(router fiber.Router, docs directory.DocumentStore, cfg *config.Config) {
	handler := handlers.NewRosterHandler(docs)
	handler.Mount(router.Group("/doctors"))
}
