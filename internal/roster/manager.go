// Package roster keeps a doctor's patients or a hospital's doctors live-synced
// from the directory and runs the add/edit/attach flows against that cache.
package roster

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/clinic"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory"
)

var (
	ErrNotFound       = errors.New("roster entry not found")
	ErrNoRoster       = errors.New("this role has no roster")
	ErrSaveInFlight   = errors.New("a roster save is already in progress")
	ErrUploadInFlight = errors.New("an attachment upload is already in progress")
	ErrNoBlobStore    = errors.New("attachments are not configured")
	ErrClosed         = errors.New("roster is closed")
)

// DefaultLocaleLayout renders creation dates the way the list shows them.
const DefaultLocaleLayout = "1/2/2006"

// Owner is the identity whose roster is managed.
type Owner struct {
	ID   string
	Name string
	Role clinic.Role
	// DisplayName, when set, is read at every global record update so a
	// renamed owner is recorded under the new name.
	DisplayName func() string
}

func (o Owner) currentName() string {
	if o.DisplayName != nil {
		if n := o.DisplayName(); n != "" {
			return n
		}
	}
	return o.Name
}

type Options struct {
	// GlobalRecords enables the cross-doctor patients/{mobile} fan-out.
	GlobalRecords bool
	// Blobs receives attachments; nil disables Attach and Upload.
	Blobs directory.BlobUploader
	// Location and LocaleLayout control the locale date matched by List.
	Location     *time.Location
	LocaleLayout string
	Now          func() time.Time
	Logger       *slog.Logger
}

// Manager is safe for concurrent use.
type Manager struct {
	docs  directory.DocumentStore
	owner Owner
	kind  clinic.EntryKind
	path  string
	opts  Options
	log   *slog.Logger

	mu        sync.Mutex
	cache     map[string]clinic.Entry
	pending   map[string]clinic.Entry
	form      *Form
	listOpen  bool
	uploading bool
	saving    bool
	closed    bool
	unsub     directory.Unsubscribe
	ready     chan struct{}
	loaded    bool
}

// Open subscribes to the owner's roster collection. The cache starts empty
// and fills when the first snapshot arrives.
func Open(ctx context.Context, docs directory.DocumentStore, owner Owner, opts Options) (*Manager, error) {
	path, ok := clinic.RosterPath(owner.Role, owner.ID)
	if !ok {
		return nil, ErrNoRoster
	}
	kind, _ := clinic.KindFor(owner.Role)
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.LocaleLayout == "" {
		opts.LocaleLayout = DefaultLocaleLayout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	m := &Manager{
		docs:    docs,
		owner:   owner,
		kind:    kind,
		path:    path,
		opts:    opts,
		log:     opts.Logger.With("identity_id", owner.ID, "path", path),
		cache:   make(map[string]clinic.Entry),
		pending: make(map[string]clinic.Entry),
		ready:   make(chan struct{}),
	}
	unsub, err := docs.Subscribe(context.WithoutCancel(ctx), path, m.onSnapshot, m.onError)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.unsub = unsub
	m.mu.Unlock()
	return m, nil
}

func (m *Manager) Kind() clinic.EntryKind { return m.kind }

func (m *Manager) Path() string { return m.path }

// Ready is closed once the first snapshot (or subscription error) arrived.
func (m *Manager) Ready() <-chan struct{} { return m.ready }

func (m *Manager) onSnapshot(snap directory.Snapshot) {
	next := make(map[string]clinic.Entry, len(snap.Records))
	for _, rec := range snap.Records {
		e, err := clinic.EntryFromRecord(rec)
		if err != nil {
			m.log.Warn("skipping unreadable roster entry", "id", rec.ID, "error", err)
			continue
		}
		next[e.ID] = e
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	// Local writes stay visible until the store echoes them back.
	for id, local := range m.pending {
		if pushed, ok := next[id]; ok && !pushed.UpdatedAt.Before(local.UpdatedAt) {
			delete(m.pending, id)
			continue
		}
		next[id] = local
	}
	m.cache = next
	m.markLoadedLocked()
}

func (m *Manager) onError(err error) {
	m.log.Warn("roster subscription error", "error", &clinic.SubscriptionError{Path: m.path, Err: err})
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markLoadedLocked()
}

func (m *Manager) markLoadedLocked() {
	if !m.loaded {
		m.loaded = true
		close(m.ready)
	}
}

// Len returns the number of cached entries.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cache)
}

// Get returns a cached entry.
func (m *Manager) Get(id string) (clinic.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.cache[id]
	return e, ok
}

// List filters the cache by query, newest first. It never mutates the cache.
func (m *Manager) List(query string) []clinic.Entry {
	q := normalizeQuery(query)

	m.mu.Lock()
	out := make([]clinic.Entry, 0, len(m.cache))
	for _, e := range m.cache {
		if matches(e, q, m.opts.Location, m.opts.LocaleLayout) {
			out = append(out, e)
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// FindByMobile asks the store for roster entries with the given mobile number.
func (m *Manager) FindByMobile(ctx context.Context, mobile string) ([]clinic.Entry, error) {
	recs, err := m.docs.Query(ctx, m.path, "mobile", mobile)
	if err != nil {
		return nil, err
	}
	out := make([]clinic.Entry, 0, len(recs))
	for _, rec := range recs {
		e, err := clinic.EntryFromRecord(rec)
		if err != nil {
			m.log.Warn("skipping unreadable roster entry", "id", rec.ID, "error", err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *Manager) beginSave() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.closed:
		return ErrClosed
	case m.saving:
		return ErrSaveInFlight
	}
	m.saving = true
	return nil
}

func (m *Manager) endSave() {
	m.mu.Lock()
	m.saving = false
	m.mu.Unlock()
}

// remember applies a successful local write to the cache ahead of its echo.
func (m *Manager) remember(e clinic.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.cache[e.ID] = e
	m.pending[e.ID] = e
}

// Add validates entry and stores it as a new roster entry. For doctor
// rosters with global records enabled it then links the patient's global
// record. The two writes are independent: when only the second fails the
// stored entry is returned together with the error.
func (m *Manager) Add(ctx context.Context, entry clinic.Entry) (clinic.Entry, error) {
	e := entry.Normalized()
	e.Kind = m.kind
	e.ID = ""
	if err := clinic.ValidateEntry(e); err != nil {
		return clinic.Entry{}, err
	}
	if err := m.beginSave(); err != nil {
		return clinic.Entry{}, err
	}
	defer m.endSave()

	now := m.opts.Now()
	e.CreatedAt, e.UpdatedAt, e.VisitDate = now, now, now
	fields, err := clinic.EntryFields(e)
	if err != nil {
		return clinic.Entry{}, err
	}
	id, err := m.docs.Add(ctx, m.path, fields)
	if err != nil {
		m.log.Warn("roster add failed", "error", err)
		return clinic.Entry{}, clinic.NewWriteError("add", m.path, err)
	}
	e.ID = id
	m.remember(e)
	m.log.Info("roster entry added", "entry_id", id)

	if m.linksGlobal() {
		if err := m.linkGlobal(ctx, e, now, false); err != nil {
			return e, err
		}
	}
	return e, nil
}

// Edit replaces the editable fields of a cached entry with patch's values
// and stamps the update time.
func (m *Manager) Edit(ctx context.Context, id string, patch clinic.Entry) (clinic.Entry, error) {
	cur, ok := m.Get(id)
	if !ok {
		return clinic.Entry{}, ErrNotFound
	}
	e := patch.Normalized()
	e.Kind = m.kind
	e.ID = id
	e.CreatedAt = cur.CreatedAt
	e.VisitDate = cur.VisitDate
	if err := clinic.ValidateEntry(e); err != nil {
		return clinic.Entry{}, err
	}
	if err := m.beginSave(); err != nil {
		return clinic.Entry{}, err
	}
	defer m.endSave()

	now := m.opts.Now()
	e.UpdatedAt = now
	path := directory.Join(m.path, id)
	if err := m.docs.Write(ctx, path, clinic.EntryUpdate(e)); err != nil {
		m.log.Warn("roster edit failed", "entry_id", id, "error", err)
		return clinic.Entry{}, clinic.NewWriteError("write", path, err)
	}
	m.remember(e)

	if m.linksGlobal() {
		if err := m.linkGlobal(ctx, e, now, true); err != nil {
			return e, err
		}
	}
	return e, nil
}

// Close releases the subscription. In-flight writes and uploads finish on
// their own; their results no longer touch the cache.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	unsub := m.unsub
	m.unsub = nil
	m.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Closed reports whether Close was called.
func (m *Manager) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
