package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Identity is a sign-in account. The clinic profile lives in the documents
// table at profiles/{id}.
type Identity struct {
	ID         uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Identifier string         `gorm:"not null;size:255;uniqueIndex" json:"identifier"`
	AuthMethod string         `gorm:"size:20;not null;default:'email'" json:"auth_method"`
	Password   string         `gorm:"not null" json:"-"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}
