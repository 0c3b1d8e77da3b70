package logging

import (
	"log/slog"
	"time"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/models"
	"gorm.io/gorm"
)

// DefaultLogRetention applies when no positive retention is configured.
const DefaultLogRetention = 30 * 24 * time.Hour

// StartCleanup deletes system_logs older than retention once at start and
// then daily, until done is closed.
func StartCleanup(db *gorm.DB, retention time.Duration, done chan struct{}) {
	if retention <= 0 {
		retention = DefaultLogRetention
	}
	go func() {
		purgeLogs(db, time.Now().Add(-retention))

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				purgeLogs(db, time.Now().Add(-retention))
			case <-done:
				return
			}
		}
	}()
}

func purgeLogs(db *gorm.DB, cutoff time.Time) {
	result := db.Where("timestamp < ?", cutoff).Delete(&models.SystemLog{})
	if result.Error != nil {
		slog.Error("log cleanup failed", "error", result.Error)
		return
	}
	if result.RowsAffected > 0 {
		slog.Info("log cleanup completed", "deleted", result.RowsAffected, "cutoff", cutoff)
	}
}
