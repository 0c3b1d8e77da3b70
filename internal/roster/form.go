package roster

import (
	"context"
	"errors"
	"io"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/clinic"
)

var (
	ErrNoForm   = errors.New("no roster form is open")
	ErrFormOpen = errors.New("a roster form is already open")
)

type FormMode string

const (
	ModeAdd  FormMode = "add"
	ModeEdit FormMode = "edit"
)

// Form is the entry being composed. EntryID is set in ModeEdit.
type Form struct {
	Mode    FormMode     `json:"mode"`
	EntryID string       `json:"entryId,omitempty"`
	Draft   clinic.Entry `json:"draft"`
}

// Screen is what the roster view currently shows.
type Screen struct {
	Form      *Form `json:"form,omitempty"`
	ListOpen  bool  `json:"listOpen"`
	Saving    bool  `json:"saving"`
	Uploading bool  `json:"uploading"`
}

// Hidden reports whether neither the form nor the list is shown.
func (s Screen) Hidden() bool { return s.Form == nil && !s.ListOpen }

func (m *Manager) Screen() Screen {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Screen{ListOpen: m.listOpen, Saving: m.saving, Uploading: m.uploading}
	if m.form != nil {
		f := *m.form
		s.Form = &f
	}
	return s
}

// Form returns a copy of the open form.
func (m *Manager) Form() (Form, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.form == nil {
		return Form{}, false
	}
	return *m.form, true
}

// OpenAddForm starts composing a new entry.
func (m *Manager) OpenAddForm() (Form, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.canOpenLocked(); err != nil {
		return Form{}, err
	}
	m.form = &Form{Mode: ModeAdd, Draft: clinic.Entry{Kind: m.kind}}
	return *m.form, nil
}

// OpenEditForm starts editing a cached entry, prefilled with its values.
func (m *Manager) OpenEditForm(id string) (Form, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.canOpenLocked(); err != nil {
		return Form{}, err
	}
	e, ok := m.cache[id]
	if !ok {
		return Form{}, ErrNotFound
	}
	m.form = &Form{Mode: ModeEdit, EntryID: id, Draft: e}
	return *m.form, nil
}

func (m *Manager) canOpenLocked() error {
	switch {
	case m.closed:
		return ErrClosed
	case m.form != nil:
		return ErrFormOpen
	}
	return nil
}

// UpdateForm replaces the draft's fields. The attachment is only set by
// Attach, so an empty AttachmentURL keeps the current one.
func (m *Manager) UpdateForm(draft clinic.Entry) (Form, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.form == nil {
		return Form{}, ErrNoForm
	}
	cur := m.form.Draft
	draft.Kind = m.kind
	draft.ID = cur.ID
	draft.CreatedAt, draft.UpdatedAt, draft.VisitDate = cur.CreatedAt, cur.UpdatedAt, cur.VisitDate
	if draft.AttachmentURL == "" {
		draft.AttachmentURL = cur.AttachmentURL
	}
	m.form.Draft = draft
	return *m.form, nil
}

// CancelForm discards the open form, if any.
func (m *Manager) CancelForm() {
	m.mu.Lock()
	m.form = nil
	m.mu.Unlock()
}

// ToggleList shows or hides the list and returns the new visibility.
func (m *Manager) ToggleList() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listOpen = !m.listOpen
	return m.listOpen
}

// Submit saves the open form. When the roster write fails the form stays
// open with its draft; once the entry is stored the form closes and the
// list opens, even if the global record could not be updated, in which case
// the stored entry is returned with that error.
func (m *Manager) Submit(ctx context.Context) (clinic.Entry, error) {
	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return clinic.Entry{}, ErrClosed
	case m.form == nil:
		m.mu.Unlock()
		return clinic.Entry{}, ErrNoForm
	case m.uploading:
		m.mu.Unlock()
		return clinic.Entry{}, ErrUploadInFlight
	}
	form := m.form
	f := *form
	m.mu.Unlock()

	var (
		saved clinic.Entry
		err   error
	)
	if f.Mode == ModeEdit {
		saved, err = m.Edit(ctx, f.EntryID, f.Draft)
	} else {
		saved, err = m.Add(ctx, f.Draft)
	}
	if saved.ID == "" {
		return saved, err
	}

	m.mu.Lock()
	if m.form == form {
		m.form = nil
	}
	m.listOpen = true
	m.mu.Unlock()
	return saved, err
}

// Upload stores an attachment and returns its URL without touching a form.
func (m *Manager) Upload(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	m.mu.Lock()
	if err := m.beginUploadLocked(); err != nil {
		m.mu.Unlock()
		return "", err
	}
	m.mu.Unlock()

	url, err := m.upload(ctx, name, contentType, r)
	m.mu.Lock()
	m.uploading = false
	m.mu.Unlock()
	return url, err
}

// Attach uploads a file into the open form's attachment. Only one upload
// runs at a time. If the form or the manager closes while the upload is
// running the URL is still returned but nothing is updated.
func (m *Manager) Attach(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	m.mu.Lock()
	if m.form == nil && !m.closed {
		m.mu.Unlock()
		return "", ErrNoForm
	}
	if err := m.beginUploadLocked(); err != nil {
		m.mu.Unlock()
		return "", err
	}
	form := m.form
	m.mu.Unlock()

	url, err := m.upload(ctx, name, contentType, r)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploading = false
	if err != nil {
		return "", err
	}
	if m.closed || m.form != form {
		m.log.Info("attachment finished after its form closed", "url", url)
		return url, nil
	}
	m.form.Draft.AttachmentURL = url
	return url, nil
}

func (m *Manager) beginUploadLocked() error {
	switch {
	case m.closed:
		return ErrClosed
	case m.opts.Blobs == nil:
		return ErrNoBlobStore
	case m.uploading:
		return ErrUploadInFlight
	}
	m.uploading = true
	return nil
}

func (m *Manager) upload(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	ref, err := m.opts.Blobs.UploadBlob(ctx, name, contentType, r)
	if err != nil {
		m.log.Warn("attachment upload failed", "name", name, "error", err)
		return "", clinic.NewWriteError("upload", name, err)
	}
	m.log.Info("attachment uploaded", "key", ref.Key)
	return ref.URL, nil
}
