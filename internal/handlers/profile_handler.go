package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/clinic"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/dto"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/profile"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/workspace"
)

// ProfileHandler drives the signed-in identity's profile editor.
type ProfileHandler struct{}

func NewProfileHandler() *ProfileHandler { return &ProfileHandler{} }

func editorOf(c *fiber.Ctx) (*profile.Editor, error) {
	ws := workspace.From(c)
	if ws == nil || ws.Profile == nil {
		return nil, c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
			Error: true, Message: "Registration required",
		})
	}
	return ws.Profile, nil
}

func profileResponse(e *profile.Editor) dto.ProfileResponse {
	resp := dto.ProfileResponse{
		State:   string(e.State()),
		Profile: dto.ProfileView(e.Display()),
		Latest:  dto.ProfileView(e.Latest()),
	}
	if draft, ok := e.Draft(); ok {
		resp.Draft = dto.ProfileView(draft)
	}
	return resp
}

func (h *ProfileHandler) Get(c *fiber.Ctx) error {
	e, err := editorOf(c)
	if e == nil {
		return err
	}
	return c.JSON(profileResponse(e))
}

// Edit switches the editor to Editing.
func (h *ProfileHandler) Edit(c *fiber.Ctx) error {
	e, err := editorOf(c)
	if e == nil {
		return err
	}
	if _, err := e.Begin(); err != nil {
		return respondError(c, err)
	}
	return c.JSON(profileResponse(e))
}

// Draft replaces the edit buffer with the request body's profile fields.
func (h *ProfileHandler) Draft(c *fiber.Ctx) error {
	e, err := editorOf(c)
	if e == nil {
		return err
	}
	current, editing := e.Draft()
	if !editing {
		return respondError(c, profile.ErrNotEditing)
	}

	fields := directory.Fields{}
	if err := c.BodyParser(&fields); err != nil {
		return badBody(c)
	}
	// Identity and creation time are not editable.
	for _, k := range []string{"id", "role", "createdAt"} {
		delete(fields, k)
	}
	draft, err := clinic.ProfileFromFields(current.Role(), current.Base().ID, fields)
	if err != nil {
		return badBody(c)
	}
	if err := e.SetDraft(draft); err != nil {
		return respondError(c, err)
	}
	return c.JSON(profileResponse(e))
}

func (h *ProfileHandler) Save(c *fiber.Ctx) error {
	e, err := editorOf(c)
	if e == nil {
		return err
	}
	if err := e.Save(c.UserContext()); err != nil {
		return respondError(c, err)
	}
	return c.JSON(profileResponse(e))
}

func (h *ProfileHandler) Cancel(c *fiber.Ctx) error {
	e, err := editorOf(c)
	if e == nil {
		return err
	}
	if err := e.Cancel(); err != nil {
		return respondError(c, err)
	}
	return c.JSON(profileResponse(e))
}
