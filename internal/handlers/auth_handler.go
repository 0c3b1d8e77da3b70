package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/clinic"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/dto"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/session"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/workspace"
)

type AuthHandler struct {
	dir      directory.Directory
	registry *workspace.Registry
	opts     []session.Option
}

func NewAuthHandler(dir directory.Directory, registry *workspace.Registry, opts ...session.Option) *AuthHandler {
	return &AuthHandler{dir: dir, registry: registry, opts: opts}
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}

	sess, err := session.Register(c.UserContext(), h.dir, req.Registration, h.opts...)
	if err != nil {
		return respondError(c, err)
	}
	if _, err := h.registry.Install(c.UserContext(), sess); err != nil {
		sess.Close()
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(authResponse(sess, sess.Credentials()))
}

// CompleteRegistration creates the profile of a signed-in identity that has
// none, e.g. after its first registration attempt failed half way.
func (h *AuthHandler) CompleteRegistration(c *fiber.Ctx) error {
	identity, err := workspace.IdentityFromClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}

	sess, err := session.CompleteRegistration(c.UserContext(), h.dir, identity, req.Registration, h.opts...)
	if err != nil {
		return respondError(c, err)
	}
	if _, err := h.registry.Install(c.UserContext(), sess); err != nil {
		sess.Close()
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(authResponse(sess, nil))
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}

	sess, err := session.Start(c.UserContext(), h.dir, req.Identifier, req.Password, h.opts...)
	if err != nil {
		return respondError(c, err)
	}
	if _, err := h.registry.Install(c.UserContext(), sess); err != nil {
		sess.Close()
		return err
	}
	return c.JSON(authResponse(sess, sess.Credentials()))
}

func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req dto.RefreshRequest
	if err := c.BodyParser(&req); err != nil || req.RefreshToken == "" {
		return badBody(c)
	}

	creds, err := h.dir.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return respondError(c, clinic.NewAuthError("refresh", err))
	}
	return c.JSON(dto.AuthResponse{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		Identity:     creds.Identity,
	})
}

// Logout releases the identity's live subscriptions, then revokes the
// refresh token.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	identity, err := workspace.IdentityFromClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}
	var req dto.LogoutRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}

	h.registry.Release(identity.ID)
	if req.RefreshToken != "" {
		if err := h.dir.SignOut(c.UserContext(), req.RefreshToken); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
				Error: true, Message: "Failed to logout",
			})
		}
	}
	return c.JSON(fiber.Map{"message": "Logged out successfully"})
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	ws := workspace.From(c)
	if ws == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}
	s := ws.Session
	return c.JSON(dto.MeResponse{
		Identity:    s.Identity(),
		Status:      string(s.Status()),
		Role:        string(s.Role()),
		DisplayName: s.DisplayName(),
		Profile:     dto.ProfileView(s.Profile()),
	})
}

func authResponse(s *session.Session, creds *directory.Credentials) dto.AuthResponse {
	resp := dto.AuthResponse{
		Identity: s.Identity(),
		Status:   string(s.Status()),
		Role:     string(s.Role()),
	}
	if creds != nil {
		resp.AccessToken = creds.AccessToken
		resp.RefreshToken = creds.RefreshToken
	}
	return resp
}
