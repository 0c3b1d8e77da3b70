// Package blob stores roster attachments. S3Store is the production backend;
// MemoryStore backs development servers and tests.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory"
)

var (
	ErrMissingName  = errors.New("file name is required")
	ErrFileTooLarge = errors.New("file exceeds maximum allowed size")
	ErrBlobNotFound = errors.New("blob not found")
)

// MaxFileSize is the largest attachment accepted (20 MB).
const MaxFileSize = 20 * 1024 * 1024

// Key builds the object key for an attachment: attachments/{unixMillis}_{name}.
func Key(now time.Time, name string) (string, error) {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return "", ErrMissingName
	}
	return fmt.Sprintf("attachments/%d_%s", now.UnixMilli(), name), nil
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	if len(data) > MaxFileSize {
		return nil, ErrFileTooLarge
	}
	return data, nil
}

type storedBlob struct {
	contentType string
	content     []byte
}

// MemoryStore keeps blobs in memory and serves them under BaseURL.
type MemoryStore struct {
	BaseURL string

	mu    sync.RWMutex
	blobs map[string]storedBlob
	now   func() time.Time
}

func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{
		BaseURL: strings.TrimRight(baseURL, "/"),
		blobs:   make(map[string]storedBlob),
		now:     time.Now,
	}
}

func (m *MemoryStore) UploadBlob(ctx context.Context, name, contentType string, r io.Reader) (directory.BlobRef, error) {
	key, err := Key(m.now(), name)
	if err != nil {
		return directory.BlobRef{}, err
	}
	data, err := readLimited(r)
	if err != nil {
		return directory.BlobRef{}, err
	}
	if err := ctx.Err(); err != nil {
		return directory.BlobRef{}, err
	}

	m.mu.Lock()
	m.blobs[key] = storedBlob{contentType: contentType, content: data}
	m.mu.Unlock()

	return directory.BlobRef{Key: key, URL: m.BaseURL + "/" + key}, nil
}

// Open returns a stored blob's content.
func (m *MemoryStore) Open(key string) (io.Reader, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[key]
	if !ok {
		return nil, "", ErrBlobNotFound
	}
	return bytes.NewReader(b.content), b.contentType, nil
}
