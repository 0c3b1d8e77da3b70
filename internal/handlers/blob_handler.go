package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/blob"
)

// BlobHandler serves attachments kept by the in-memory blob store.
type BlobHandler struct {
	store *blob.MemoryStore
}

func NewBlobHandler(store *blob.MemoryStore) *BlobHandler {
	return &BlobHandler{store: store}
}

func (h *BlobHandler) Serve(c *fiber.Ctx) error {
	r, contentType, err := h.store.Open(c.Params("*"))
	if err != nil {
		return respondError(c, err)
	}
	if contentType != "" {
		c.Set(fiber.HeaderContentType, contentType)
	}
	return c.SendStream(r)
}
