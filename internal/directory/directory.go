// Package directory defines the contract of the managed backend every clinic
// component talks to: identities, documents with live subscriptions, and blobs.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("document not found")
	ErrInvalidPath  = errors.New("invalid document path")
	ErrExists       = errors.New("document already exists")
	ErrUnsubscribed = errors.New("subscription closed")

	ErrInvalidCredentials = errors.New("invalid identifier or password")
	ErrUnknownIdentifier  = errors.New("no account for this identifier")
	ErrIdentifierTaken    = errors.New("identifier already registered")
	ErrThrottled          = errors.New("too many attempts, try again later")
	ErrInvalidToken       = errors.New("invalid or expired refresh token")
)

// Fields is a document body. Values must be JSON compatible; Delete removes a
// field in Write.
type Fields map[string]any

type deleteField struct{}

// Delete marks a field for removal when passed as a value to Write.
var Delete any = deleteField{}

// IsDelete reports whether v is the Delete marker.
func IsDelete(v any) bool {
	_, ok := v.(deleteField)
	return ok
}

// FieldsOf converts a JSON-tagged struct into Fields.
func FieldsOf(v any) (Fields, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	out := Fields{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	return out, nil
}

// Decode fills the JSON-tagged struct pointed to by v from f.
func (f Fields) Decode(v any) error {
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("decode fields: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode fields: %w", err)
	}
	return nil
}

// String returns the string value stored under key, or "".
func (f Fields) String(key string) string {
	s, _ := f[key].(string)
	return s
}

// Clone returns a deep copy of f through its JSON form. Delete markers are dropped.
func (f Fields) Clone() Fields {
	plain := make(Fields, len(f))
	for k, v := range f {
		if IsDelete(v) {
			continue
		}
		plain[k] = v
	}
	out, err := FieldsOf(plain)
	if err != nil {
		return plain
	}
	return out
}

// Record is a stored document.
type Record struct {
	Path      string    `json:"path"`
	ID        string    `json:"id"`
	Fields    Fields    `json:"fields"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot is what a subscription delivers: the current state of a document
// (zero or one record) or of a whole collection.
type Snapshot struct {
	Path    string
	Records []Record
}

// Exists reports whether a document snapshot holds its document.
func (s Snapshot) Exists() bool { return len(s.Records) > 0 }

type (
	ChangeFunc  func(Snapshot)
	ErrorFunc   func(error)
	Unsubscribe func()
)

// UpdateFunc receives the current record (nil when absent) and returns the
// fields to store. Returning an error aborts the update.
type UpdateFunc func(current *Record) (Fields, error)

// AuthMethod tells how an identity signs in.
type AuthMethod string

const (
	AuthEmail  AuthMethod = "email"
	AuthMobile AuthMethod = "mobile"
)

// MethodFor picks the auth method from the identifier's shape.
func MethodFor(identifier string) AuthMethod {
	if strings.Contains(identifier, "@") {
		return AuthEmail
	}
	return AuthMobile
}

// Identity is an authenticated principal.
type Identity struct {
	ID         string     `json:"id"`
	Identifier string     `json:"identifier"`
	AuthMethod AuthMethod `json:"auth_method"`
}

// Credentials is the outcome of a successful authentication.
type Credentials struct {
	Identity     Identity `json:"identity"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
}

// BlobRef locates an uploaded blob.
type BlobRef struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

type Authenticator interface {
	Register(ctx context.Context, identifier, secret string) (Identity, error)
	Authenticate(ctx context.Context, identifier, secret string) (*Credentials, error)
	Refresh(ctx context.Context, refreshToken string) (*Credentials, error)
	SignOut(ctx context.Context, refreshToken string) error
}

type DocumentStore interface {
	ReadOnce(ctx context.Context, path string) (*Record, error)
	Subscribe(ctx context.Context, path string, onChange ChangeFunc, onError ErrorFunc) (Unsubscribe, error)
	Write(ctx context.Context, path string, fields Fields) error
	Set(ctx context.Context, path string, fields Fields) error
	Add(ctx context.Context, collection string, fields Fields) (string, error)
	Query(ctx context.Context, collection, field string, equals any) ([]Record, error)
	Update(ctx context.Context, path string, fn UpdateFunc) error
}

type BlobUploader interface {
	UploadBlob(ctx context.Context, name, contentType string, r io.Reader) (BlobRef, error)
}

// Directory is the full managed backend.
type Directory interface {
	Authenticator
	DocumentStore
	BlobUploader
}

type composite struct {
	Authenticator
	DocumentStore
	BlobUploader
}

// Compose assembles a Directory from separately provided services.
func Compose(auth Authenticator, docs DocumentStore, blobs BlobUploader) Directory {
	return composite{Authenticator: auth, DocumentStore: docs, BlobUploader: blobs}
}
