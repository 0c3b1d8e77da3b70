// Package doctor serves a doctor's patient roster and the shared patient
// records keyed by mobile number.
package doctor

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/clinic"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/config"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/handlers"
)

type DoctorPlugin struct{}

func New() *DoctorPlugin {
	return &DoctorPlugin{}
}

func (p *DoctorPlugin) ID() string { return "doctor" }

func (p *DoctorPlugin) Role() clinic.Role { return clinic.RoleDoctor }

func (p *DoctorPlugin) RegisterRoutes(router fiber.Router, docs directory.DocumentStore, cfg *config.Config) {
	handler := handlers.NewRosterHandler(docs)

	patients := router.Group("/patients")
	if cfg.GlobalPatientRecords {
		patients.Get("/global/:mobile", handler.Global)
	}
	handler.Mount(patients)
}
