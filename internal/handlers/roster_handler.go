package handlers

import (
	"context"
	"io"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/clinic"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/dto"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/roster"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/workspace"
)

const globalRecordWarning = "Saved, but the shared patient record could not be updated"

// RosterHandler serves the signed-in owner's roster.
type RosterHandler struct {
	docs directory.DocumentStore
}

func NewRosterHandler(docs directory.DocumentStore) *RosterHandler {
	return &RosterHandler{docs: docs}
}

// Mount registers the roster routes on router. Static paths come before /:id.
func (h *RosterHandler) Mount(router fiber.Router) {
	router.Get("/", h.List)
	router.Post("/", h.Create)
	router.Post("/attachments", h.Upload)

	router.Get("/form", h.Screen)
	router.Post("/form", h.OpenForm)
	router.Put("/form", h.UpdateForm)
	router.Delete("/form", h.CancelForm)
	router.Post("/form/submit", h.Submit)
	router.Post("/form/attachment", h.Attach)
	router.Post("/list/toggle", h.ToggleList)

	router.Get("/:id", h.Get)
	router.Put("/:id", h.Update)
}

func rosterOf(c *fiber.Ctx) (*roster.Manager, error) {
	ws := workspace.From(c)
	if ws == nil || ws.Roster == nil {
		return nil, c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
			Error: true, Message: "No roster for this account",
		})
	}
	return ws.Roster, nil
}

// entrySaved answers with the stored entry. A zero entry means nothing was
// stored and err is reported instead.
func entrySaved(c *fiber.Ctx, status int, e clinic.Entry, err error) error {
	if e.ID == "" {
		return respondError(c, err)
	}
	resp := dto.EntryResponse{Entry: e}
	if err != nil {
		slog.Warn("roster entry saved without global record", "entry_id", e.ID, "error", err)
		resp.Warning = globalRecordWarning
	}
	return c.Status(status).JSON(resp)
}

func (h *RosterHandler) List(c *fiber.Ctx) error {
	m, err := rosterOf(c)
	if m == nil {
		return err
	}

	var entries []clinic.Entry
	if mobile := c.Query("mobile"); mobile != "" {
		entries, err = m.FindByMobile(c.UserContext(), mobile)
		if err != nil {
			return err
		}
	} else {
		entries = m.List(c.Query("q"))
	}
	if entries == nil {
		entries = []clinic.Entry{}
	}
	return c.JSON(dto.RosterListResponse{Entries: entries, Total: len(entries)})
}

func (h *RosterHandler) Get(c *fiber.Ctx) error {
	m, err := rosterOf(c)
	if m == nil {
		return err
	}
	e, ok := m.Get(c.Params("id"))
	if !ok {
		return respondError(c, roster.ErrNotFound)
	}
	return c.JSON(dto.EntryResponse{Entry: e})
}

func (h *RosterHandler) Create(c *fiber.Ctx) error {
	m, err := rosterOf(c)
	if m == nil {
		return err
	}
	var req clinic.Entry
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	e, err := m.Add(c.UserContext(), req)
	return entrySaved(c, fiber.StatusCreated, e, err)
}

func (h *RosterHandler) Update(c *fiber.Ctx) error {
	m, err := rosterOf(c)
	if m == nil {
		return err
	}
	var req clinic.Entry
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	e, err := m.Edit(c.UserContext(), c.Params("id"), req)
	return entrySaved(c, fiber.StatusOK, e, err)
}

func (h *RosterHandler) Upload(c *fiber.Ctx) error {
	m, err := rosterOf(c)
	if m == nil {
		return err
	}
	return h.receiveFile(c, m.Upload)
}

func (h *RosterHandler) Attach(c *fiber.Ctx) error {
	m, err := rosterOf(c)
	if m == nil {
		return err
	}
	return h.receiveFile(c, m.Attach)
}

type uploadFunc func(ctx context.Context, name, contentType string, r io.Reader) (string, error)

func (h *RosterHandler) receiveFile(c *fiber.Ctx, upload uploadFunc) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "A file is required", Field: "file",
		})
	}
	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()

	url, err := upload(c.UserContext(), fh.Filename, fh.Header.Get("Content-Type"), f)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.AttachmentResponse{URL: url})
}

func (h *RosterHandler) Screen(c *fiber.Ctx) error {
	m, err := rosterOf(c)
	if m == nil {
		return err
	}
	return c.JSON(m.Screen())
}

type openFormRequest struct {
	EntryID string `json:"entryId"`
}

// OpenForm opens the add form, or the edit form when entryId is given.
func (h *RosterHandler) OpenForm(c *fiber.Ctx) error {
	m, err := rosterOf(c)
	if m == nil {
		return err
	}
	var req openFormRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badBody(c)
		}
	}

	var form roster.Form
	if req.EntryID != "" {
		form, err = m.OpenEditForm(req.EntryID)
	} else {
		form, err = m.OpenAddForm()
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(form)
}

func (h *RosterHandler) UpdateForm(c *fiber.Ctx) error {
	m, err := rosterOf(c)
	if m == nil {
		return err
	}
	var draft clinic.Entry
	if err := c.BodyParser(&draft); err != nil {
		return badBody(c)
	}
	form, err := m.UpdateForm(draft)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(form)
}

func (h *RosterHandler) CancelForm(c *fiber.Ctx) error {
	m, err := rosterOf(c)
	if m == nil {
		return err
	}
	m.CancelForm()
	return c.JSON(m.Screen())
}

func (h *RosterHandler) Submit(c *fiber.Ctx) error {
	m, err := rosterOf(c)
	if m == nil {
		return err
	}
	e, err := m.Submit(c.UserContext())
	return entrySaved(c, fiber.StatusOK, e, err)
}

func (h *RosterHandler) ToggleList(c *fiber.Ctx) error {
	m, err := rosterOf(c)
	if m == nil {
		return err
	}
	return c.JSON(dto.ListToggleResponse{ListOpen: m.ToggleList()})
}

// Global returns the cross-doctor record for a mobile number.
func (h *RosterHandler) Global(c *fiber.Ctx) error {
	g, err := roster.LookupGlobal(c.UserContext(), h.docs, c.Params("mobile"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(g)
}
