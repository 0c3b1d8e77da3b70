// Package profile reconciles a live-pushed profile with a local edit buffer.
//
// The editor has two states. While Viewing, the displayed profile follows
// every pushed snapshot. Begin copies the latest snapshot into a draft and
// switches to Editing; pushes then only update the latest snapshot, never
// the draft. Save writes the draft back (blank fields are deleted, not stored
// empty) and Cancel drops it.
package profile

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/clinic"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory"
)

type State string

const (
	Viewing State = "viewing"
	Editing State = "editing"
)

var (
	ErrNotEditing     = errors.New("profile is not being edited")
	ErrAlreadyEditing = errors.New("profile is already being edited")
	ErrSaveInFlight   = errors.New("a save is already in progress")
	ErrNoProfile      = errors.New("profile has not loaded yet")
	ErrRoleMismatch   = errors.New("draft role does not match the profile")
	ErrClosed         = errors.New("profile editor is closed")
)

// Editor is safe for concurrent use.
type Editor struct {
	docs directory.DocumentStore
	id   string
	path string
	log  *slog.Logger

	mu      sync.Mutex
	state   State
	latest  clinic.Profile
	display clinic.Profile
	draft   clinic.Profile
	saving  bool
	closed  bool
	unsub   directory.Unsubscribe
	ready   chan struct{}
	loaded  bool
}

// Open subscribes to profiles/{identityID} and starts in Viewing.
func Open(ctx context.Context, docs directory.DocumentStore, identityID string, logger *slog.Logger) (*Editor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Editor{
		docs:  docs,
		id:    identityID,
		path:  clinic.ProfilePath(identityID),
		log:   logger.With("identity_id", identityID),
		state: Viewing,
		ready: make(chan struct{}),
	}
	unsub, err := docs.Subscribe(context.WithoutCancel(ctx), e.path, e.onSnapshot, e.onError)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.unsub = unsub
	e.mu.Unlock()
	return e, nil
}

func (e *Editor) onSnapshot(snap directory.Snapshot) {
	var p clinic.Profile
	if snap.Exists() {
		var err error
		p, err = clinic.ProfileFromRecord(&snap.Records[0])
		if err != nil {
			e.log.Warn("pushed profile unreadable", "path", e.path, "error", err)
			e.markLoaded()
			return
		}
	}

	e.mu.Lock()
	if !e.closed {
		e.latest = p
		if e.state == Viewing {
			e.display = p
		}
	}
	e.mu.Unlock()
	e.markLoaded()
}

func (e *Editor) onError(err error) {
	e.log.Warn("profile subscription error", "error", &clinic.SubscriptionError{Path: e.path, Err: err})
	e.markLoaded()
}

func (e *Editor) markLoaded() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		e.loaded = true
		close(e.ready)
	}
}

// Ready is closed once the first snapshot (or subscription error) arrived.
func (e *Editor) Ready() <-chan struct{} { return e.ready }

func (e *Editor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Display is what the screen shows: the latest snapshot while viewing, the
// pre-edit snapshot while editing, the saved draft right after a save.
func (e *Editor) Display() clinic.Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.display
}

// Latest is the most recent pushed snapshot.
func (e *Editor) Latest() clinic.Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latest
}

// Draft returns the edit buffer while editing.
func (e *Editor) Draft() (clinic.Profile, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draft, e.state == Editing
}

// Begin switches to Editing with a copy of the latest snapshot as the draft.
func (e *Editor) Begin() (clinic.Profile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.closed:
		return nil, ErrClosed
	case e.saving:
		return nil, ErrSaveInFlight
	case e.state == Editing:
		return nil, ErrAlreadyEditing
	case e.latest == nil:
		return nil, ErrNoProfile
	}
	e.draft = e.latest
	e.state = Editing
	return e.draft, nil
}

// SetDraft replaces the edit buffer. The draft keeps the profile's id and
// creation time whatever p carries.
func (e *Editor) SetDraft(p clinic.Profile) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Editing {
		return ErrNotEditing
	}
	if e.saving {
		return ErrSaveInFlight
	}
	if p == nil || p.Role() != e.draft.Role() {
		return ErrRoleMismatch
	}
	e.draft = clinic.WithID(p, e.id, e.draft.Base().CreatedAt)
	return nil
}

// Save validates and writes the draft. On failure the editor stays in
// Editing with the draft intact.
func (e *Editor) Save(ctx context.Context) error {
	e.mu.Lock()
	switch {
	case e.closed:
		e.mu.Unlock()
		return ErrClosed
	case e.state != Editing:
		e.mu.Unlock()
		return ErrNotEditing
	case e.saving:
		e.mu.Unlock()
		return ErrSaveInFlight
	}
	draft := e.draft
	if err := clinic.ValidateProfile(draft); err != nil {
		e.mu.Unlock()
		return err
	}
	e.saving = true
	e.mu.Unlock()

	err := e.docs.Write(ctx, e.path, clinic.ProfileUpdate(draft))
	if err == nil {
		if admin, ok := draft.(clinic.HospitalAdminProfile); ok {
			hpath := clinic.HospitalPath(e.id)
			if herr := e.docs.Write(ctx, hpath, clinic.HospitalUpdate(admin)); herr != nil {
				e.log.Warn("hospital record sync failed", "path", hpath, "error", herr)
			}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.saving = false
	if err != nil {
		e.log.Warn("profile save failed", "path", e.path, "error", err)
		return clinic.NewWriteError("write", e.path, err)
	}
	if e.closed {
		return nil
	}
	e.display = draft
	e.draft = nil
	e.state = Viewing
	return nil
}

// Cancel drops the draft and shows the latest snapshot again. The draft
// being saved cannot be dropped.
func (e *Editor) Cancel() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Editing {
		return ErrNotEditing
	}
	if e.saving {
		return ErrSaveInFlight
	}
	e.draft = nil
	e.display = e.latest
	e.state = Viewing
	return nil
}

// Close releases the subscription. It is idempotent.
func (e *Editor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	unsub := e.unsub
	e.unsub = nil
	e.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}
