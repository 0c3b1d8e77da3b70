package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Document is one directory document. Path is the full slash-separated path,
// Collection its parent collection and DocID the last segment.
type Document struct {
	ID         uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Path       string         `gorm:"size:512;not null;uniqueIndex" json:"path"`
	Collection string         `gorm:"size:512;not null;index:idx_documents_collection_created" json:"collection"`
	DocID      string         `gorm:"size:128;not null" json:"doc_id"`
	Fields     datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'" json:"fields"`
	CreatedAt  time.Time      `gorm:"index:idx_documents_collection_created" json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
