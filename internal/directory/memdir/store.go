// Package memdir is an in-process implementation of the directory contract,
// used for development servers and tests.
package memdir

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory"
)

// Store keeps documents in a map guarded by a RWMutex and publishes every
// committed change to its hub.
type Store struct {
	mu   sync.RWMutex
	docs map[string]*directory.Record
	hub  *directory.Hub
	now  func() time.Time
}

type Option func(*Store)

// WithClock overrides the store's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used by the subscription hub.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.hub = directory.NewHub(s.snapshot, l) }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		docs: make(map[string]*directory.Record),
		now:  time.Now,
	}
	s.hub = directory.NewHub(s.snapshot, nil)
	for _, o := range opts {
		o(s)
	}
	return s
}

// Hub exposes the subscription hub, e.g. for relaying remote changes.
func (s *Store) Hub() *directory.Hub { return s.hub }

func (s *Store) ReadOnce(_ context.Context, path string) (*directory.Record, error) {
	if !directory.IsDocument(path) {
		return nil, fmt.Errorf("read %q: %w", path, directory.ErrInvalidPath)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.docs[directory.Clean(path)]
	if !ok {
		return nil, directory.ErrNotFound
	}
	return copyRecord(rec), nil
}

func (s *Store) Subscribe(ctx context.Context, path string, onChange directory.ChangeFunc, onError directory.ErrorFunc) (directory.Unsubscribe, error) {
	return s.hub.Subscribe(ctx, path, onChange, onError)
}

// Write merges fields into the document at path, creating it if needed.
func (s *Store) Write(_ context.Context, path string, fields directory.Fields) error {
	if !directory.IsDocument(path) {
		return fmt.Errorf("write %q: %w", path, directory.ErrInvalidPath)
	}
	path = directory.Clean(path)

	s.mu.Lock()
	rec, ok := s.docs[path]
	if !ok {
		rec = s.newRecord(path)
		s.docs[path] = rec
	}
	merged := rec.Fields.Clone()
	for k, v := range fields {
		if directory.IsDelete(v) {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	rec.Fields = merged.Clone()
	rec.UpdatedAt = s.now()
	s.mu.Unlock()

	s.hub.Notify(path)
	return nil
}

// Set replaces the document at path.
func (s *Store) Set(_ context.Context, path string, fields directory.Fields) error {
	if !directory.IsDocument(path) {
		return fmt.Errorf("set %q: %w", path, directory.ErrInvalidPath)
	}
	path = directory.Clean(path)

	s.mu.Lock()
	rec, ok := s.docs[path]
	if !ok {
		rec = s.newRecord(path)
		s.docs[path] = rec
	}
	rec.Fields = fields.Clone()
	rec.UpdatedAt = s.now()
	s.mu.Unlock()

	s.hub.Notify(path)
	return nil
}

// Add stores fields as a new document with a generated id.
func (s *Store) Add(_ context.Context, collection string, fields directory.Fields) (string, error) {
	if !directory.IsCollection(collection) {
		return "", fmt.Errorf("add to %q: %w", collection, directory.ErrInvalidPath)
	}
	id := uuid.NewString()
	path := directory.Join(directory.Clean(collection), id)

	s.mu.Lock()
	rec := s.newRecord(path)
	rec.Fields = fields.Clone()
	s.docs[path] = rec
	s.mu.Unlock()

	s.hub.Notify(path)
	return id, nil
}

func (s *Store) Query(_ context.Context, collection, field string, equals any) ([]directory.Record, error) {
	if !directory.IsCollection(collection) {
		return nil, fmt.Errorf("query %q: %w", collection, directory.ErrInvalidPath)
	}
	want, err := normalize(equals)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", collection, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []directory.Record
	for _, rec := range s.collection(directory.Clean(collection)) {
		if v, ok := rec.Fields[field]; ok && reflect.DeepEqual(v, want) {
			out = append(out, *copyRecord(rec))
		}
	}
	return out, nil
}

// Update runs fn under the store's write lock. fn must not call back into the store.
func (s *Store) Update(_ context.Context, path string, fn directory.UpdateFunc) error {
	if !directory.IsDocument(path) {
		return fmt.Errorf("update %q: %w", path, directory.ErrInvalidPath)
	}
	path = directory.Clean(path)

	s.mu.Lock()
	var current *directory.Record
	if rec, ok := s.docs[path]; ok {
		current = copyRecord(rec)
	}
	fields, err := fn(current)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	rec, ok := s.docs[path]
	if !ok {
		rec = s.newRecord(path)
		s.docs[path] = rec
	}
	rec.Fields = fields.Clone()
	rec.UpdatedAt = s.now()
	s.mu.Unlock()

	s.hub.Notify(path)
	return nil
}

// Close ends all live subscriptions.
func (s *Store) Close() { s.hub.Close() }

func (s *Store) snapshot(_ context.Context, path string) (directory.Snapshot, error) {
	path = directory.Clean(path)
	snap := directory.Snapshot{Path: path}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if directory.IsDocument(path) {
		if rec, ok := s.docs[path]; ok {
			snap.Records = []directory.Record{*copyRecord(rec)}
		}
		return snap, nil
	}
	for _, rec := range s.collection(path) {
		snap.Records = append(snap.Records, *copyRecord(rec))
	}
	return snap, nil
}

// collection returns the documents directly under collection, oldest first.
// Callers hold s.mu.
func (s *Store) collection(collection string) []*directory.Record {
	var out []*directory.Record
	for p, rec := range s.docs {
		parent, _, err := directory.Parent(p)
		if err != nil || parent != collection {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Store) newRecord(path string) *directory.Record {
	_, id, _ := directory.Parent(path)
	now := s.now()
	return &directory.Record{
		Path:      path,
		ID:        id,
		Fields:    directory.Fields{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func copyRecord(rec *directory.Record) *directory.Record {
	out := *rec
	out.Fields = rec.Fields.Clone()
	return &out
}

func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
