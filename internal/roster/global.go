package roster

import (
	"context"
	"errors"
	"time"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/clinic"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory"
)

var errNoGlobalRecord = errors.New("no global record for mobile")

func (m *Manager) linksGlobal() bool {
	return m.opts.GlobalRecords && m.kind == clinic.KindPatient
}

// linkGlobal folds e into patients/{mobile} inside a single read-modify-write.
// An edit only touches an existing record; it never creates one.
func (m *Manager) linkGlobal(ctx context.Context, e clinic.Entry, at time.Time, edit bool) error {
	path := clinic.GlobalPatientPath(e.Mobile)
	doctor := clinic.Doctor{ID: m.owner.ID, Name: m.owner.currentName()}

	err := m.docs.Update(ctx, path, func(cur *directory.Record) (directory.Fields, error) {
		var current *clinic.GlobalPatient
		if cur != nil {
			g, err := clinic.GlobalFromRecord(cur)
			if err != nil {
				return nil, err
			}
			current = &g
		}
		var next clinic.GlobalPatient
		if edit {
			if current == nil {
				return nil, errNoGlobalRecord
			}
			next = clinic.MergeEdit(*current, e, doctor, at)
		} else {
			next = clinic.MergeAdd(current, e, doctor, at)
		}
		return clinic.GlobalFields(next)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errNoGlobalRecord):
		m.log.Debug("no global record to update", "path", path)
		return nil
	}
	m.log.Warn("global patient record update failed", "path", path, "error", err)
	return clinic.NewWriteError("update", path, err)
}

// LookupGlobal reads the cross-doctor record for mobile.
func LookupGlobal(ctx context.Context, docs directory.DocumentStore, mobile string) (clinic.GlobalPatient, error) {
	rec, err := docs.ReadOnce(ctx, clinic.GlobalPatientPath(mobile))
	if err != nil {
		return clinic.GlobalPatient{}, err
	}
	return clinic.GlobalFromRecord(rec)
}
