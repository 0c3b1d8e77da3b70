// Package pgdir stores directory documents in PostgreSQL through GORM.
// Subscriptions are served by an in-process hub; changes made by other
// instances arrive through Notify.
package pgdir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/models"
)

// maxAttempts bounds retries when two writers race to create one document.
const maxAttempts = 3

// PublishFunc announces a committed change beyond this process.
type PublishFunc func(ctx context.Context, path string)

type Store struct {
	db      *gorm.DB
	hub     *directory.Hub
	publish PublishFunc
	log     *slog.Logger
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithPublisher registers a hook called after every committed change.
func WithPublisher(p PublishFunc) Option {
	return func(s *Store) { s.publish = p }
}

func NewStore(db *gorm.DB, opts ...Option) *Store {
	s := &Store{db: db, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	s.hub = directory.NewHub(s.snapshot, s.log)
	return s
}

// Hub exposes the subscription hub for relaying remote changes.
func (s *Store) Hub() *directory.Hub { return s.hub }

// Notify marks subscriptions observing path as stale without publishing.
func (s *Store) Notify(path string) { s.hub.Notify(path) }

func (s *Store) Close() { s.hub.Close() }

func (s *Store) ReadOnce(ctx context.Context, path string) (*directory.Record, error) {
	if !directory.IsDocument(path) {
		return nil, fmt.Errorf("read %q: %w", path, directory.ErrInvalidPath)
	}
	var doc models.Document
	err := s.db.WithContext(ctx).Scopes(atPath(directory.Clean(path))).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, directory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	rec, err := recordOf(&doc)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) Subscribe(ctx context.Context, path string, onChange directory.ChangeFunc, onError directory.ErrorFunc) (directory.Unsubscribe, error) {
	return s.hub.Subscribe(ctx, path, onChange, onError)
}

// Write merges fields into the document at path, creating it if needed.
func (s *Store) Write(ctx context.Context, path string, fields directory.Fields) error {
	if !directory.IsDocument(path) {
		return fmt.Errorf("write %q: %w", path, directory.ErrInvalidPath)
	}
	return s.update(ctx, "write", path, func(current *directory.Record) (directory.Fields, error) {
		var base directory.Fields
		if current != nil {
			base = current.Fields
		}
		return merge(base, fields), nil
	})
}

// Set replaces the document at path.
func (s *Store) Set(ctx context.Context, path string, fields directory.Fields) error {
	if !directory.IsDocument(path) {
		return fmt.Errorf("set %q: %w", path, directory.ErrInvalidPath)
	}
	doc, err := newDocument(directory.Clean(path), fields)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"fields", "updated_at"}),
	}).Create(doc).Error
	if err != nil {
		return fmt.Errorf("set %q: %w", path, err)
	}
	s.changed(ctx, doc.Path)
	return nil
}

func (s *Store) Add(ctx context.Context, collection string, fields directory.Fields) (string, error) {
	if !directory.IsCollection(collection) {
		return "", fmt.Errorf("add to %q: %w", collection, directory.ErrInvalidPath)
	}
	id := uuid.NewString()
	doc, err := newDocument(directory.Join(directory.Clean(collection), id), fields)
	if err != nil {
		return "", err
	}
	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		return "", fmt.Errorf("add to %q: %w", collection, err)
	}
	s.changed(ctx, doc.Path)
	return id, nil
}

func (s *Store) Query(ctx context.Context, collection, field string, equals any) ([]directory.Record, error) {
	if !directory.IsCollection(collection) {
		return nil, fmt.Errorf("query %q: %w", collection, directory.ErrInvalidPath)
	}
	want, err := queryValue(equals)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", collection, err)
	}

	var docs []models.Document
	err = s.db.WithContext(ctx).
		Scopes(inCollection(directory.Clean(collection))).
		Where(datatypes.JSONQuery("fields").Equals(want, field)).
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", collection, err)
	}
	return recordsOf(docs)
}

// Update runs fn inside a transaction holding a row lock on path.
func (s *Store) Update(ctx context.Context, path string, fn directory.UpdateFunc) error {
	if !directory.IsDocument(path) {
		return fmt.Errorf("update %q: %w", path, directory.ErrInvalidPath)
	}
	return s.update(ctx, "update", path, fn)
}

func (s *Store) update(ctx context.Context, op, path string, fn directory.UpdateFunc) error {
	path = directory.Clean(path)

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return updateTx(tx, path, fn)
		})
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			break
		}
		s.log.Debug("document created concurrently, retrying", "path", path, "attempt", attempt)
	}
	if err != nil {
		return fmt.Errorf("%s %q: %w", op, path, err)
	}
	s.changed(ctx, path)
	return nil
}

func updateTx(tx *gorm.DB, path string, fn directory.UpdateFunc) error {
	var doc models.Document
	err := tx.Scopes(atPath(path), forUpdate).First(&doc).Error
	exists := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	var current *directory.Record
	if exists {
		rec, err := recordOf(&doc)
		if err != nil {
			return err
		}
		current = &rec
	}

	fields, err := fn(current)
	if err != nil {
		return err
	}
	body, err := encode(fields)
	if err != nil {
		return err
	}

	if !exists {
		created, err := newDocument(path, fields)
		if err != nil {
			return err
		}
		return tx.Create(created).Error
	}
	return tx.Model(&models.Document{}).Where("id = ?", doc.ID).Updates(map[string]interface{}{
		"fields":     body,
		"updated_at": time.Now(),
	}).Error
}

func (s *Store) changed(ctx context.Context, path string) {
	s.hub.Notify(path)
	if s.publish != nil {
		s.publish(ctx, path)
	}
}

func (s *Store) snapshot(ctx context.Context, path string) (directory.Snapshot, error) {
	path = directory.Clean(path)
	snap := directory.Snapshot{Path: path}
	db := s.db.WithContext(ctx)

	if directory.IsDocument(path) {
		var docs []models.Document
		if err := db.Scopes(atPath(path)).Limit(1).Find(&docs).Error; err != nil {
			return snap, err
		}
		recs, err := recordsOf(docs)
		snap.Records = recs
		return snap, err
	}

	var docs []models.Document
	if err := db.Scopes(inCollection(path)).Find(&docs).Error; err != nil {
		return snap, err
	}
	recs, err := recordsOf(docs)
	snap.Records = recs
	return snap, err
}

func newDocument(path string, fields directory.Fields) (*models.Document, error) {
	collection, id, err := directory.Parent(path)
	if err != nil {
		return nil, err
	}
	body, err := encode(fields)
	if err != nil {
		return nil, err
	}
	return &models.Document{
		ID:         uuid.New(),
		Path:       path,
		Collection: collection,
		DocID:      id,
		Fields:     body,
	}, nil
}

// merge applies patch on top of base, honoring Delete markers.
func merge(base, patch directory.Fields) directory.Fields {
	out := base.Clone()
	for k, v := range patch {
		if directory.IsDelete(v) {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out.Clone()
}

func encode(fields directory.Fields) (datatypes.JSON, error) {
	b, err := json.Marshal(fields.Clone())
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	return datatypes.JSON(b), nil
}

func recordOf(doc *models.Document) (directory.Record, error) {
	fields := directory.Fields{}
	if len(doc.Fields) > 0 {
		if err := json.Unmarshal(doc.Fields, &fields); err != nil {
			return directory.Record{}, fmt.Errorf("decode %q: %w", doc.Path, err)
		}
	}
	return directory.Record{
		Path:      doc.Path,
		ID:        doc.DocID,
		Fields:    fields,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

func recordsOf(docs []models.Document) ([]directory.Record, error) {
	out := make([]directory.Record, 0, len(docs))
	for i := range docs {
		rec, err := recordOf(&docs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// queryValue renders equals the way json_extract_path_text reports it.
func queryValue(equals any) (string, error) {
	if s, ok := equals.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(equals)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
