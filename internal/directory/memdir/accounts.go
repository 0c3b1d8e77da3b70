package memdir

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory"
)

// TokenFunc mints an access token for an identity.
type TokenFunc func(directory.Identity) (string, error)

type account struct {
	identity directory.Identity
	hash     []byte
}

// Accounts is an in-memory identity provider.
type Accounts struct {
	mu       sync.Mutex
	byID     map[string]*account
	byLogin  map[string]*account
	refresh  map[string]string // refresh token -> identity id
	token    TokenFunc
	hashCost int
}

// NewAccounts creates an identity provider. A nil token func issues opaque
// random access tokens.
func NewAccounts(token TokenFunc) *Accounts {
	if token == nil {
		token = func(directory.Identity) (string, error) { return uuid.NewString(), nil }
	}
	return &Accounts{
		byID:     make(map[string]*account),
		byLogin:  make(map[string]*account),
		refresh:  make(map[string]string),
		token:    token,
		hashCost: bcrypt.MinCost,
	}
}

func (a *Accounts) Register(_ context.Context, identifier, secret string) (directory.Identity, error) {
	login := normalizeLogin(identifier)
	if login == "" || secret == "" {
		return directory.Identity{}, directory.ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), a.hashCost)
	if err != nil {
		return directory.Identity{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, taken := a.byLogin[login]; taken {
		return directory.Identity{}, directory.ErrIdentifierTaken
	}
	acc := &account{
		identity: directory.Identity{
			ID:         uuid.NewString(),
			Identifier: login,
			AuthMethod: directory.MethodFor(login),
		},
		hash: hash,
	}
	a.byID[acc.identity.ID] = acc
	a.byLogin[login] = acc
	return acc.identity, nil
}

func (a *Accounts) Authenticate(_ context.Context, identifier, secret string) (*directory.Credentials, error) {
	a.mu.Lock()
	acc, ok := a.byLogin[normalizeLogin(identifier)]
	a.mu.Unlock()
	if !ok {
		return nil, directory.ErrUnknownIdentifier
	}
	if err := bcrypt.CompareHashAndPassword(acc.hash, []byte(secret)); err != nil {
		return nil, directory.ErrInvalidCredentials
	}
	return a.issue(acc.identity)
}

func (a *Accounts) Refresh(_ context.Context, refreshToken string) (*directory.Credentials, error) {
	a.mu.Lock()
	id, ok := a.refresh[refreshToken]
	if ok {
		delete(a.refresh, refreshToken)
	}
	acc := a.byID[id]
	a.mu.Unlock()
	if !ok || acc == nil {
		return nil, directory.ErrInvalidToken
	}
	return a.issue(acc.identity)
}

func (a *Accounts) SignOut(_ context.Context, refreshToken string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.refresh, refreshToken)
	return nil
}

func (a *Accounts) issue(id directory.Identity) (*directory.Credentials, error) {
	access, err := a.token(id)
	if err != nil {
		return nil, err
	}
	refresh := uuid.NewString()

	a.mu.Lock()
	a.refresh[refresh] = id.ID
	a.mu.Unlock()

	return &directory.Credentials{Identity: id, AccessToken: access, RefreshToken: refresh}, nil
}

func normalizeLogin(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
