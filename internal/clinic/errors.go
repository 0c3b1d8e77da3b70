package clinic

import (
	"errors"
	"fmt"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory"
)

// ValidationError blocks an action locally; it never reaches the backend.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// WriteError reports a rejected or failed backend write. Local drafts stay intact.
type WriteError struct {
	Op   string
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// NewWriteError wraps err unless it is nil.
func NewWriteError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &WriteError{Op: op, Path: path, Err: err}
}

// AuthError is an authentication or registration failure shown to the user.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return e.Err.Error() }

func (e *AuthError) Unwrap() error { return e.Err }

// NewAuthError classifies err from an auth call. Known directory auth
// sentinels become an AuthError; anything else is a BackendError for op.
func NewAuthError(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		directory.ErrInvalidCredentials,
		directory.ErrUnknownIdentifier,
		directory.ErrIdentifierTaken,
		directory.ErrThrottled,
		directory.ErrInvalidToken,
	} {
		if errors.Is(err, known) {
			return &AuthError{Err: err}
		}
	}
	return &BackendError{Op: op, Err: err}
}

// BackendError is a backend failure that is not the caller's fault. The
// request may succeed when retried.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// SubscriptionError describes a failed live listener.
type SubscriptionError struct {
	Path string
	Err  error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription %s: %v", e.Path, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }
