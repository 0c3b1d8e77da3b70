package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/blob"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/clinic"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/dto"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/profile"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/roster"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/session"
)

// writeFailedMessage is shown for rejected backend writes; the client keeps
// its draft and may retry.
const writeFailedMessage = "Could not save your changes, please try again"

const backendFailedMessage = "Something went wrong on our side, please try again"

// respondError maps domain errors to HTTP responses. Unknown errors go to
// the app's error handler as 500s.
func respondError(c *fiber.Ctx, err error) error {
	var (
		verr *clinic.ValidationError
		aerr *clinic.AuthError
		werr *clinic.WriteError
		berr *clinic.BackendError
	)
	switch {
	case errors.As(err, &verr):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: verr.Message, Field: verr.Field,
		})

	case errors.As(err, &aerr):
		status := fiber.StatusUnauthorized
		switch {
		case errors.Is(err, directory.ErrIdentifierTaken):
			status = fiber.StatusConflict
		case errors.Is(err, directory.ErrThrottled):
			status = fiber.StatusTooManyRequests
		}
		return c.Status(status).JSON(dto.ErrorResponse{Error: true, Message: authMessage(err)})

	case errors.Is(err, roster.ErrNotFound), errors.Is(err, directory.ErrNotFound), errors.Is(err, blob.ErrBlobNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: true, Message: "Not found"})

	case errors.Is(err, session.ErrAlreadyRegistered):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: true, Message: err.Error()})

	case errors.Is(err, roster.ErrFormOpen),
		errors.Is(err, roster.ErrNoForm),
		errors.Is(err, roster.ErrSaveInFlight),
		errors.Is(err, roster.ErrUploadInFlight),
		errors.Is(err, profile.ErrAlreadyEditing),
		errors.Is(err, profile.ErrNotEditing),
		errors.Is(err, profile.ErrSaveInFlight),
		errors.Is(err, profile.ErrNoProfile):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: true, Message: err.Error()})

	case errors.Is(err, profile.ErrRoleMismatch),
		errors.Is(err, blob.ErrMissingName),
		errors.Is(err, blob.ErrFileTooLarge):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: true, Message: err.Error()})

	case errors.Is(err, roster.ErrNoBlobStore):
		return c.Status(fiber.StatusNotImplemented).JSON(dto.ErrorResponse{Error: true, Message: err.Error()})

	case errors.Is(err, roster.ErrClosed), errors.Is(err, profile.ErrClosed):
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{
			Error: true, Message: "Your session was reset, please try again",
		})

	case errors.As(err, &werr):
		slog.Warn("backend write failed", "path", werr.Path, "action", werr.Op, "error", werr.Err)
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Error: true, Message: writeFailedMessage})

	case errors.As(err, &berr):
		slog.Error("backend call failed", "action", berr.Op, "error", berr.Err)
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Error: true, Message: backendFailedMessage})
	}
	return err
}

func authMessage(err error) string {
	switch {
	case errors.Is(err, directory.ErrUnknownIdentifier):
		return "No account found for this email or mobile number"
	case errors.Is(err, directory.ErrIdentifierTaken):
		return "This email or mobile number is already registered"
	case errors.Is(err, directory.ErrThrottled):
		return "Too many attempts, try again later"
	case errors.Is(err, directory.ErrInvalidToken):
		return "Invalid or expired refresh token"
	}
	return "Invalid email/mobile or password"
}

func badBody(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Error: true, Message: "Invalid request body",
	})
}
