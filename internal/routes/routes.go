package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/apps"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/config"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/dto"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/workspace"
)

type Handlers struct {
	Auth    *handlers.AuthHandler
	Health  *handlers.HealthHandler
	Profile *handlers.ProfileHandler
	// Blob is nil unless attachments are kept in memory.
	Blob *handlers.BlobHandler
}

func Setup(
	app *fiber.App,
	cfg *config.Config,
	docs directory.DocumentStore,
	registry *workspace.Registry,
	h Handlers,
	plugins []apps.Plugin,
) {
	api := app.Group("/api")

	// General API rate limiter: 120 req/min per IP
	api.Use(limiter.New(limiter.Config{
		Max:               120,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))

	api.Get("/health", h.Health.Check)
	if h.Blob != nil {
		api.Get("/blobs/*", h.Blob.Serve)
	}

	// Auth-specific rate limit: 10 req/min per IP (stricter)
	auth := api.Group("/auth")
	auth.Use(limiter.New(limiter.Config{
		Max:               10,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(dto.ErrorResponse{
				Error: true, Message: "Too many attempts, try again later",
			})
		},
	}))
	auth.Post("/register", h.Auth.Register)
	auth.Post("/login", h.Auth.Login)
	auth.Post("/refresh", h.Auth.Refresh)

	jwt := middleware.JWTProtected(cfg)
	ws := middleware.Workspace(registry)

	api.Post("/auth/register/complete", jwt, h.Auth.CompleteRegistration)
	api.Post("/auth/logout", jwt, h.Auth.Logout)
	api.Get("/me", jwt, ws, h.Auth.Me)

	profile := api.Group("/profile", jwt, ws, middleware.RoleRequired())
	profile.Get("/", h.Profile.Get)
	profile.Post("/edit", h.Profile.Edit)
	profile.Put("/draft", h.Profile.Draft)
	profile.Post("/save", h.Profile.Save)
	profile.Post("/cancel", h.Profile.Cancel)

	protected := api.Group("/p", jwt, ws)
	for _, p := range plugins {
		group := protected.Group("/"+p.ID(), middleware.RoleRequired(p.Role()))
		p.RegisterRoutes(group, docs, cfg)
	}
}
