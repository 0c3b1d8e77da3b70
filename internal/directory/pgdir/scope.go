package pgdir

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// atPath returns a GORM scope that selects one document.
func atPath(path string) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("path = ?", path)
	}
}

// inCollection returns a GORM scope that selects a collection's documents in
// creation order.
func inCollection(collection string) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("collection = ?", collection).Order("created_at, doc_id")
	}
}

// forUpdate locks the selected rows until the transaction ends.
func forUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}
