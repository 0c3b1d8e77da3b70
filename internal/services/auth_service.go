package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/config"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/models"
)

// MinSecretLength is the shortest password accepted at registration.
const MinSecretLength = 6

// AuthService is the PostgreSQL identity provider.
type AuthService struct {
	db     *gorm.DB
	cfg    *config.Config
	tokens *TokenIssuer
}

func NewAuthService(db *gorm.DB, cfg *config.Config) *AuthService {
	return &AuthService{
		db:     db,
		cfg:    cfg,
		tokens: NewTokenIssuer(cfg.JWTSecret, cfg.JWTAccessExpiry),
	}
}

func (s *AuthService) Register(ctx context.Context, identifier, secret string) (directory.Identity, error) {
	login := NormalizeIdentifier(identifier)
	if login == "" || len(secret) < MinSecretLength {
		return directory.Identity{}, directory.ErrInvalidCredentials
	}

	db := s.db.WithContext(ctx)
	var existing models.Identity
	if err := db.Where("identifier = ?", login).First(&existing).Error; err == nil {
		return directory.Identity{}, directory.ErrIdentifierTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return directory.Identity{}, fmt.Errorf("failed to hash password: %w", err)
	}

	row := models.Identity{
		ID:         uuid.New(),
		Identifier: login,
		AuthMethod: string(directory.MethodFor(login)),
		Password:   string(hash),
	}
	if err := db.Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return directory.Identity{}, directory.ErrIdentifierTaken
		}
		return directory.Identity{}, fmt.Errorf("failed to create identity: %w", err)
	}
	return identityOf(&row), nil
}

func (s *AuthService) Authenticate(ctx context.Context, identifier, secret string) (*directory.Credentials, error) {
	var row models.Identity
	err := s.db.WithContext(ctx).Where("identifier = ?", NormalizeIdentifier(identifier)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, directory.ErrUnknownIdentifier
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(row.Password), []byte(secret)); err != nil {
		return nil, directory.ErrInvalidCredentials
	}
	return s.issue(ctx, &row)
}

// Refresh rotates a refresh token: the presented one is revoked and a new
// pair is issued.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*directory.Credentials, error) {
	db := s.db.WithContext(ctx)
	var stored models.RefreshToken
	if err := db.Where("token_hash = ? AND revoked = false", hashToken(refreshToken)).First(&stored).Error; err != nil {
		return nil, directory.ErrInvalidToken
	}

	db.Model(&stored).Update("revoked", true)
	if time.Now().After(stored.ExpiresAt) {
		return nil, directory.ErrInvalidToken
	}

	var row models.Identity
	if err := db.First(&row, "id = ?", stored.IdentityID).Error; err != nil {
		return nil, directory.ErrInvalidToken
	}
	return s.issue(ctx, &row)
}

func (s *AuthService) SignOut(ctx context.Context, refreshToken string) error {
	return s.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("token_hash = ?", hashToken(refreshToken)).
		Update("revoked", true).Error
}

func (s *AuthService) issue(ctx context.Context, row *models.Identity) (*directory.Credentials, error) {
	id := identityOf(row)
	access, err := s.tokens.AccessToken(id)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}
	refresh, err := s.generateRefreshToken(ctx, row)
	if err != nil {
		return nil, err
	}
	return &directory.Credentials{Identity: id, AccessToken: access, RefreshToken: refresh}, nil
}

func (s *AuthService) generateRefreshToken(ctx context.Context, row *models.Identity) (string, error) {
	rawBytes := make([]byte, 32)
	if _, err := rand.Read(rawBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	rawToken := base64.URLEncoding.EncodeToString(rawBytes)
	record := models.RefreshToken{
		ID:         uuid.New(),
		IdentityID: row.ID,
		TokenHash:  hashToken(rawToken),
		ExpiresAt:  time.Now().Add(s.cfg.JWTRefreshExpiry),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", fmt.Errorf("failed to store refresh token: %w", err)
	}
	return rawToken, nil
}

// NormalizeIdentifier lowercases and trims a sign-in identifier.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

func identityOf(row *models.Identity) directory.Identity {
	return directory.Identity{
		ID:         row.ID.String(),
		Identifier: row.Identifier,
		AuthMethod: directory.AuthMethod(row.AuthMethod),
	}
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", h)
}
