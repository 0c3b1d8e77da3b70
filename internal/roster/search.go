package roster

import (
	"strings"
	"time"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/clinic"
)

const isoDate = "2006-01-02"

func normalizeQuery(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

// matches reports whether q (already normalized) is a substring of the
// entry's name, address, mobile, email or creation date, the date being
// tried both as YYYY-MM-DD in UTC and in the locale layout.
func matches(e clinic.Entry, q string, loc *time.Location, layout string) bool {
	if q == "" {
		return true
	}
	for _, s := range []string{e.Name, e.Address, e.Mobile, e.Email} {
		if strings.Contains(strings.ToLower(s), q) {
			return true
		}
	}
	if e.CreatedAt.IsZero() {
		return false
	}
	if strings.Contains(e.CreatedAt.UTC().Format(isoDate), q) {
		return true
	}
	return strings.Contains(strings.ToLower(e.CreatedAt.In(loc).Format(layout)), q)
}
