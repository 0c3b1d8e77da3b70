// Package workspace keeps one live session, profile editor and roster per
// signed-in identity so that request handlers share the same synced state.
package workspace

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/profile"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/roster"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/session"
)

// Workspace is the live state of one identity. Profile and Roster are nil
// while the identity is unregistered; Roster is also nil for patients.
type Workspace struct {
	Session *session.Session
	Profile *profile.Editor
	Roster  *roster.Manager

	mu       sync.Mutex
	lastUsed time.Time
}

func (w *Workspace) touch(now time.Time) {
	w.mu.Lock()
	w.lastUsed = now
	w.mu.Unlock()
}

func (w *Workspace) idleSince() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastUsed
}

// Close releases every subscription the workspace holds.
func (w *Workspace) Close() {
	if w.Roster != nil {
		w.Roster.Close()
	}
	if w.Profile != nil {
		w.Profile.Close()
	}
	w.Session.Close()
}

type Config struct {
	IdleTTL       time.Duration
	GlobalRecords bool
	Location      *time.Location
	LocaleLayout  string
	Blobs         directory.BlobUploader
	Logger        *slog.Logger
	Now           func() time.Time
}

type Registry struct {
	docs directory.DocumentStore
	cfg  Config
	log  *slog.Logger

	mu         sync.Mutex
	workspaces map[string]*Workspace
}

func NewRegistry(docs directory.DocumentStore, cfg Config) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	return &Registry{
		docs:       docs,
		cfg:        cfg,
		log:        cfg.Logger,
		workspaces: make(map[string]*Workspace),
	}
}

// Acquire returns the identity's workspace, building it on first use.
// Unregistered identities get a fresh, uncached workspace every time so a
// registration made elsewhere is picked up on the next request.
func (r *Registry) Acquire(ctx context.Context, identity directory.Identity) (*Workspace, error) {
	if ws := r.Get(identity.ID); ws != nil {
		return ws, nil
	}
	sess := session.Resume(ctx, r.docs, identity, session.WithLogger(r.log), session.WithClock(r.cfg.Now))
	if sess.Status() != session.StatusActive {
		return &Workspace{Session: sess, lastUsed: r.cfg.Now()}, nil
	}
	ws, err := r.build(ctx, sess)
	if err != nil {
		sess.Close()
		return nil, err
	}
	return r.store(ws, false), nil
}

// Install caches a workspace for a session created by sign-in or
// registration, replacing any previous one for the same identity.
func (r *Registry) Install(ctx context.Context, sess *session.Session) (*Workspace, error) {
	if sess.Status() != session.StatusActive {
		return &Workspace{Session: sess, lastUsed: r.cfg.Now()}, nil
	}
	ws, err := r.build(ctx, sess)
	if err != nil {
		return nil, err
	}
	return r.store(ws, true), nil
}

func (r *Registry) build(ctx context.Context, sess *session.Session) (*Workspace, error) {
	id := sess.Identity().ID
	ws := &Workspace{Session: sess, lastUsed: r.cfg.Now()}

	editor, err := profile.Open(ctx, r.docs, id, r.log)
	if err != nil {
		return nil, err
	}
	ws.Profile = editor

	owner := roster.Owner{ID: id, Name: sess.DisplayName(), Role: sess.Role(), DisplayName: sess.DisplayName}
	m, err := roster.Open(ctx, r.docs, owner, roster.Options{
		GlobalRecords: r.cfg.GlobalRecords,
		Blobs:         r.cfg.Blobs,
		Location:      r.cfg.Location,
		LocaleLayout:  r.cfg.LocaleLayout,
		Now:           r.cfg.Now,
		Logger:        r.log,
	})
	switch {
	case errors.Is(err, roster.ErrNoRoster):
	case err != nil:
		editor.Close()
		return nil, err
	default:
		ws.Roster = m
	}
	return ws, nil
}

// store caches ws. Without replace, a workspace built concurrently by another
// request wins and ws is closed.
func (r *Registry) store(ws *Workspace, replace bool) *Workspace {
	id := ws.Session.Identity().ID

	r.mu.Lock()
	existing, ok := r.workspaces[id]
	if ok && !replace {
		r.mu.Unlock()
		ws.Close()
		existing.touch(r.cfg.Now())
		return existing
	}
	r.workspaces[id] = ws
	r.mu.Unlock()

	if ok {
		existing.Close()
	}
	r.log.Debug("workspace opened", "identity_id", id, "role", string(ws.Session.Role()))
	return ws
}

// Get returns the cached workspace and marks it used, or nil.
func (r *Registry) Get(identityID string) *Workspace {
	r.mu.Lock()
	ws := r.workspaces[identityID]
	r.mu.Unlock()
	if ws != nil {
		ws.touch(r.cfg.Now())
	}
	return ws
}

// Release closes and forgets the identity's workspace.
func (r *Registry) Release(identityID string) {
	r.mu.Lock()
	ws, ok := r.workspaces[identityID]
	delete(r.workspaces, identityID)
	r.mu.Unlock()
	if ok {
		ws.Close()
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workspaces)
}

// Evict closes workspaces idle for longer than the configured TTL and
// returns how many were closed.
func (r *Registry) Evict(now time.Time) int {
	var idle []*Workspace
	r.mu.Lock()
	for id, ws := range r.workspaces {
		if now.Sub(ws.idleSince()) > r.cfg.IdleTTL {
			idle = append(idle, ws)
			delete(r.workspaces, id)
		}
	}
	r.mu.Unlock()

	for _, ws := range idle {
		ws.Close()
	}
	return len(idle)
}

// StartEviction runs a goroutine that evicts idle workspaces every minute.
func (r *Registry) StartEviction(done chan struct{}) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := r.Evict(r.cfg.Now()); n > 0 {
					r.log.Info("idle workspaces evicted", "count", n)
				}
			case <-done:
				return
			}
		}
	}()
}

// CloseAll closes every cached workspace.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := r.workspaces
	r.workspaces = make(map[string]*Workspace)
	r.mu.Unlock()
	for _, ws := range all {
		ws.Close()
	}
}
