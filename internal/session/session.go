// Package session resolves who is signed in and what role they hold, and
// keeps the signed-in identity's own profile live for the session's lifetime.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/clinic"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory"
)

type Status string

const (
	// StatusUnregistered means the identity has no profile; send it to registration.
	StatusUnregistered Status = "unregistered"
	StatusActive       Status = "active"
	StatusSignedOut    Status = "signed_out"
)

// ErrAlreadyRegistered rejects completing a registration for an identity
// that already has a profile.
var ErrAlreadyRegistered = errors.New("identity already has a profile")

type options struct {
	log *slog.Logger
	now func() time.Time
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{log: slog.Default(), now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Session is one signed-in identity. It is safe for concurrent use.
type Session struct {
	auth     directory.Authenticator
	identity directory.Identity
	creds    *directory.Credentials
	log      *slog.Logger

	mu      sync.RWMutex
	status  Status
	role    clinic.Role
	profile clinic.Profile
	unsub   directory.Unsubscribe
	once    sync.Once
}

// Start authenticates and resumes a session for the returned identity.
func Start(ctx context.Context, dir directory.Directory, identifier, secret string, opts ...Option) (*Session, error) {
	creds, err := dir.Authenticate(ctx, identifier, secret)
	if err != nil {
		return nil, clinic.NewAuthError("authenticate", err)
	}
	s := Resume(ctx, dir, creds.Identity, opts...)
	s.auth = dir
	s.creds = creds
	return s, nil
}

// Resume builds a session for an identity that is already authenticated,
// e.g. from a verified access token. A missing or unreadable profile yields
// an unregistered session without a subscription.
func Resume(ctx context.Context, docs directory.DocumentStore, identity directory.Identity, opts ...Option) *Session {
	o := buildOptions(opts)
	s := &Session{
		identity: identity,
		status:   StatusUnregistered,
		log:      o.log.With("identity_id", identity.ID),
	}

	path := clinic.ProfilePath(identity.ID)
	rec, err := docs.ReadOnce(ctx, path)
	if err != nil {
		if !errors.Is(err, directory.ErrNotFound) {
			s.log.Warn("profile lookup failed, treating as unregistered", "path", path, "error", err)
		}
		return s
	}
	p, err := clinic.ProfileFromRecord(rec)
	if err != nil {
		s.log.Warn("stored profile unreadable, treating as unregistered", "path", path, "error", err)
		return s
	}
	s.status = StatusActive
	s.role = p.Role()
	s.profile = p

	unsub, err := docs.Subscribe(context.WithoutCancel(ctx), path, s.onProfile, s.onError)
	if err != nil {
		s.log.Warn("profile subscription failed", "path", path, "error", err)
		return s
	}
	s.mu.Lock()
	s.unsub = unsub
	s.mu.Unlock()
	return s
}

// Register creates an identity with its profile and returns its session.
// When the profile write fails the identity already exists; it can sign in
// and finish with CompleteRegistration.
func Register(ctx context.Context, dir directory.Directory, reg clinic.Registration, opts ...Option) (*Session, error) {
	if err := clinic.ValidateRegistration(reg); err != nil {
		return nil, err
	}
	o := buildOptions(opts)

	identity, err := dir.Register(ctx, reg.Identifier(), reg.Password)
	if err != nil {
		return nil, clinic.NewAuthError("register", err)
	}
	if err := writeProfile(ctx, dir, identity, reg, o.now()); err != nil {
		o.log.Warn("profile write failed after identity creation", "identity_id", identity.ID, "error", err)
		return nil, err
	}
	o.log.Info("identity registered", "identity_id", identity.ID, "role", string(reg.Role))

	return Start(ctx, dir, reg.Identifier(), reg.Password, opts...)
}

// CompleteRegistration writes the profile of an authenticated identity that
// has none yet and returns its active session. The sign-in identifier fills
// in the contact field when reg leaves both empty.
func CompleteRegistration(ctx context.Context, docs directory.DocumentStore, identity directory.Identity, reg clinic.Registration, opts ...Option) (*Session, error) {
	if strings.TrimSpace(reg.Email) == "" && strings.TrimSpace(reg.Mobile) == "" {
		if identity.AuthMethod == directory.AuthEmail {
			reg.Email = identity.Identifier
		} else {
			reg.Mobile = identity.Identifier
		}
	}
	if err := clinic.ValidateCompletion(reg); err != nil {
		return nil, err
	}
	o := buildOptions(opts)

	path := clinic.ProfilePath(identity.ID)
	_, err := docs.ReadOnce(ctx, path)
	switch {
	case err == nil:
		return nil, ErrAlreadyRegistered
	case !errors.Is(err, directory.ErrNotFound):
		return nil, &clinic.BackendError{Op: "read " + path, Err: err}
	}
	if err := writeProfile(ctx, docs, identity, reg, o.now()); err != nil {
		return nil, err
	}
	o.log.Info("registration completed", "identity_id", identity.ID, "role", string(reg.Role))

	return Resume(ctx, docs, identity, opts...), nil
}

// writeProfile stores the profile, and the hospital record for admins.
func writeProfile(ctx context.Context, docs directory.DocumentStore, identity directory.Identity, reg clinic.Registration, now time.Time) error {
	p := reg.Profile(identity.ID, now)
	path := clinic.ProfilePath(identity.ID)
	if err := docs.Set(ctx, path, clinic.ProfileFields(p)); err != nil {
		return clinic.NewWriteError("set", path, err)
	}
	admin, ok := p.(clinic.HospitalAdminProfile)
	if !ok {
		return nil
	}
	hpath := clinic.HospitalPath(identity.ID)
	fields, err := directory.FieldsOf(clinic.HospitalOf(admin))
	if err != nil {
		return err
	}
	if err := docs.Set(ctx, hpath, fields); err != nil {
		return clinic.NewWriteError("set", hpath, err)
	}
	return nil
}

func (s *Session) onProfile(snap directory.Snapshot) {
	if !snap.Exists() {
		s.log.Warn("own profile disappeared, keeping last known state")
		return
	}
	p, err := clinic.ProfileFromRecord(&snap.Records[0])
	if err != nil {
		s.log.Warn("pushed profile unreadable", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusActive {
		return
	}
	if p.Role() != s.role {
		s.log.Warn("ignoring role change on pushed profile", "role", string(s.role), "pushed_role", string(p.Role()))
		return
	}
	s.profile = p
}

func (s *Session) onError(err error) {
	s.log.Warn("profile subscription error", "error", &clinic.SubscriptionError{Path: clinic.ProfilePath(s.identity.ID), Err: err})
}

func (s *Session) Identity() directory.Identity { return s.identity }

// Credentials returns the tokens from authentication, or nil for resumed sessions.
func (s *Session) Credentials() *directory.Credentials { return s.creds }

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Role is fixed by the profile read when the session started.
func (s *Session) Role() clinic.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

// Profile returns the latest known own profile, nil when unregistered.
func (s *Session) Profile() clinic.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

// DisplayName is the profile's full name, empty when unknown.
func (s *Session) DisplayName() string {
	if p := s.Profile(); p != nil {
		return p.Base().FullName
	}
	return ""
}

// Close releases the profile subscription. It is idempotent.
func (s *Session) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		unsub := s.unsub
		s.unsub = nil
		s.status = StatusSignedOut
		s.mu.Unlock()
		if unsub != nil {
			unsub()
		}
	})
}

// SignOut releases the subscription first, then revokes the refresh token.
func (s *Session) SignOut(ctx context.Context) error {
	s.Close()
	if s.auth == nil || s.creds == nil || s.creds.RefreshToken == "" {
		return nil
	}
	return s.auth.SignOut(ctx, s.creds.RefreshToken)
}

// Subscribed reports whether the own-profile subscription is held.
func (s *Session) Subscribed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unsub != nil
}
