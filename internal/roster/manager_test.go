package roster

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/blob"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/clinic"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory/memdir"
)

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *stepClock {
	return &stepClock{t: time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Minute)
	return c.t
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func openDoctor(t *testing.T, docs directory.DocumentStore, id, name string, opts Options) *Manager {
	t.Helper()
	if opts.Now == nil {
		opts.Now = newClock().Now
	}
	opts.Location = time.UTC
	m, err := Open(context.Background(), docs, Owner{ID: id, Name: name, Role: clinic.RoleDoctor}, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(m.Close)
	<-m.Ready()
	return m
}

func patient(name, mobile string) clinic.Entry {
	return clinic.Entry{
		Name:    name,
		Address: "12 Park Street",
		Mobile:  mobile,
		Disease: "Flu",
	}
}

func TestOpen_PatientHasNoRoster(t *testing.T) {
	_, err := Open(context.Background(), memdir.NewStore(), Owner{ID: "p1", Role: clinic.RolePatient}, Options{})
	if !errors.Is(err, ErrNoRoster) {
		t.Fatalf("expected ErrNoRoster, got %v", err)
	}
}

func TestAdd_ListedImmediately(t *testing.T) {
	m := openDoctor(t, memdir.NewStore(), "doc1", "Dr. Rao", Options{})

	in := patient("Asha", "9000000001")
	saved, err := m.Add(context.Background(), in)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if saved.ID == "" {
		t.Fatal("expected an assigned id")
	}

	list := m.List("")
	if len(list) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(list))
	}
	in.Kind = clinic.KindPatient
	if !clinic.SameContent(list[0], in) {
		t.Errorf("listed entry %+v does not match added %+v", list[0], in)
	}
}

func TestAdd_ValidationBlocksWrite(t *testing.T) {
	store := memdir.NewStore()
	m := openDoctor(t, store, "doc1", "Dr. Rao", Options{})

	_, err := m.Add(context.Background(), clinic.Entry{Name: "Asha", Mobile: "9000000001"})
	var verr *clinic.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if verr.Field != "address" {
		t.Errorf("expected address to be reported first, got %s", verr.Field)
	}

	recs, err := store.Query(context.Background(), clinic.DoctorPatientsPath("doc1"), "mobile", "9000000001")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("expected no stored entries, got %d", len(recs))
	}
	if m.Len() != 0 {
		t.Errorf("expected empty cache, got %d", m.Len())
	}
}

func TestList_QueryMatching(t *testing.T) {
	m := openDoctor(t, memdir.NewStore(), "doc1", "Dr. Rao", Options{})
	ctx := context.Background()

	alice := patient("Alice Fernandes", "9000000001")
	alice.Email = "alice@example.com"
	if _, err := m.Add(ctx, alice); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Add(ctx, patient("Bob Mathew", "9000000002")); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		query string
		want  int
	}{
		{"", 2},
		{"  ALICE ", 1},
		{"example.COM", 1},
		{"park street", 2},
		{"0000002", 1},
		{"2024-03-05", 2},
		{"3/5/2024", 2},
		{"2023", 0},
		{"nobody", 0},
	}
	for _, tt := range tests {
		if got := len(m.List(tt.query)); got != tt.want {
			t.Errorf("List(%q) returned %d entries, want %d", tt.query, got, tt.want)
		}
	}
	if m.Len() != 2 {
		t.Errorf("List must not change the cache, got %d entries", m.Len())
	}
}

func TestList_NewestFirst(t *testing.T) {
	m := openDoctor(t, memdir.NewStore(), "doc1", "Dr. Rao", Options{})
	ctx := context.Background()

	for _, name := range []string{"First", "Second", "Third"} {
		if _, err := m.Add(ctx, patient(name, "90000"+name)); err != nil {
			t.Fatal(err)
		}
	}
	list := m.List("")
	if len(list) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(list))
	}
	if list[0].Name != "Third" || list[2].Name != "First" {
		t.Errorf("unexpected order: %s, %s, %s", list[0].Name, list[1].Name, list[2].Name)
	}
}

func TestEdit_SameFieldsOnlyTouchesUpdateTime(t *testing.T) {
	m := openDoctor(t, memdir.NewStore(), "doc1", "Dr. Rao", Options{})
	ctx := context.Background()

	saved, err := m.Add(ctx, patient("Asha", "9000000001"))
	if err != nil {
		t.Fatal(err)
	}
	before := m.List("")

	edited, err := m.Edit(ctx, saved.ID, saved)
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if !edited.UpdatedAt.After(saved.UpdatedAt) {
		t.Errorf("expected update time to advance")
	}

	after := m.List("")
	if len(after) != len(before) {
		t.Fatalf("list length changed from %d to %d", len(before), len(after))
	}
	got := after[0]
	if !clinic.SameContent(got, before[0]) || !got.CreatedAt.Equal(before[0].CreatedAt) || !got.VisitDate.Equal(before[0].VisitDate) {
		t.Errorf("edit with identical fields changed the entry: %+v -> %+v", before[0], got)
	}
}

func TestEdit_UnknownID(t *testing.T) {
	m := openDoctor(t, memdir.NewStore(), "doc1", "Dr. Rao", Options{})
	if _, err := m.Edit(context.Background(), "missing", patient("Asha", "9000000001")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEdit_BlankFieldIsDeleted(t *testing.T) {
	store := memdir.NewStore()
	m := openDoctor(t, store, "doc1", "Dr. Rao", Options{})
	ctx := context.Background()

	in := patient("Asha", "9000000001")
	in.Cause = "Rain"
	saved, err := m.Add(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	saved.Cause = ""
	if _, err := m.Edit(ctx, saved.ID, saved); err != nil {
		t.Fatal(err)
	}

	rec, err := store.ReadOnce(ctx, directory.Join(clinic.DoctorPatientsPath("doc1"), saved.ID))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := rec.Fields["cause"]; ok {
		t.Errorf("expected cause to be removed, fields: %v", rec.Fields)
	}
}

func TestRemount_LoadsFromStore(t *testing.T) {
	store := memdir.NewStore()
	first := openDoctor(t, store, "doc1", "Dr. Rao", Options{})
	saved, err := first.Add(context.Background(), patient("Asha", "9000000001"))
	if err != nil {
		t.Fatal(err)
	}
	first.Close()

	second := openDoctor(t, store, "doc1", "Dr. Rao", Options{})
	waitFor(t, "remounted roster to load", func() bool { return second.Len() == 1 })
	got, ok := second.Get(saved.ID)
	if !ok || !clinic.SameContent(got, saved) {
		t.Errorf("remounted roster has %+v, want %+v", got, saved)
	}
}

func TestPushedChange_ReachesCache(t *testing.T) {
	store := memdir.NewStore()
	m := openDoctor(t, store, "doc1", "Dr. Rao", Options{})

	fields, err := clinic.EntryFields(clinic.Entry{Kind: clinic.KindPatient, Name: "Pushed", Address: "x", Disease: "y", Mobile: "1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Add(context.Background(), clinic.DoctorPatientsPath("doc1"), fields); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "pushed entry", func() bool { return len(m.List("pushed")) == 1 })
}

func TestSnapshot_KeepsLocalWriteUntilEchoed(t *testing.T) {
	m := openDoctor(t, memdir.NewStore(), "doc1", "Dr. Rao", Options{})
	saved, err := m.Add(context.Background(), patient("Asha", "9000000001"))
	if err != nil {
		t.Fatal(err)
	}

	m.onSnapshot(directory.Snapshot{Path: m.Path()})
	if _, ok := m.Get(saved.ID); !ok {
		t.Fatal("stale snapshot dropped the local write")
	}

	fields, err := clinic.EntryFields(saved)
	if err != nil {
		t.Fatal(err)
	}
	m.onSnapshot(directory.Snapshot{Path: m.Path(), Records: []directory.Record{{ID: saved.ID, Fields: fields}}})
	m.mu.Lock()
	pending := len(m.pending)
	m.mu.Unlock()
	if pending != 0 {
		t.Errorf("expected echo to clear pending writes, %d left", pending)
	}
}

func TestGlobalRecord_LinksEveryDoctor(t *testing.T) {
	store := memdir.NewStore()
	clock := newClock()
	ctx := context.Background()
	a := openDoctor(t, store, "doc1", "Dr. Rao", Options{GlobalRecords: true, Now: clock.Now})
	b := openDoctor(t, store, "doc2", "", Options{GlobalRecords: true, Now: clock.Now})

	if _, err := a.Add(ctx, patient("Asha", "9000000001")); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Add(ctx, patient("Asha K", "9000000001")); err != nil {
		t.Fatal(err)
	}

	g, err := LookupGlobal(ctx, store, "9000000001")
	if err != nil {
		t.Fatalf("LookupGlobal: %v", err)
	}
	if len(g.LinkedDoctors) != 2 || !g.HasDoctor("doc1") || !g.HasDoctor("doc2") {
		t.Errorf("unexpected linked doctors %v", g.LinkedDoctors)
	}
	if len(g.VisitHistory) != 2 {
		t.Fatalf("expected 2 visits, got %d", len(g.VisitHistory))
	}
	if g.VisitHistory[0].DoctorID != "doc1" || g.VisitHistory[1].DoctorID != "doc2" {
		t.Errorf("visits out of call order: %s, %s", g.VisitHistory[0].DoctorID, g.VisitHistory[1].DoctorID)
	}
	if !g.VisitHistory[0].Date.Before(g.VisitHistory[1].Date) {
		t.Errorf("visit dates not ascending: %s, %s", g.VisitHistory[0].Date, g.VisitHistory[1].Date)
	}
	if g.VisitHistory[1].DoctorName != clinic.UnknownDoctor {
		t.Errorf("expected unnamed doctor to be recorded as %q, got %q", clinic.UnknownDoctor, g.VisitHistory[1].DoctorName)
	}
	if g.Name != "Asha" {
		t.Errorf("adding must not overwrite the existing name, got %q", g.Name)
	}

	// Re-adding by the same doctor appends a visit without duplicating the link.
	if _, err := a.Add(ctx, patient("Asha", "9000000001")); err != nil {
		t.Fatal(err)
	}
	g, _ = LookupGlobal(ctx, store, "9000000001")
	if len(g.LinkedDoctors) != 2 || len(g.VisitHistory) != 3 {
		t.Errorf("got %d doctors and %d visits, want 2 and 3", len(g.LinkedDoctors), len(g.VisitHistory))
	}
}

func TestGlobalRecord_VisitUsesCurrentDoctorName(t *testing.T) {
	store := memdir.NewStore()
	ctx := context.Background()
	var (
		mu      sync.Mutex
		current = "Dr. Rao"
	)
	owner := Owner{ID: "doc1", Name: "Dr. Rao", Role: clinic.RoleDoctor, DisplayName: func() string {
		mu.Lock()
		defer mu.Unlock()
		return current
	}}
	m, err := Open(ctx, store, owner, Options{GlobalRecords: true, Now: newClock().Now, Location: time.UTC})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m.Close)
	<-m.Ready()

	if _, err := m.Add(ctx, patient("Asha", "9000000001")); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	current = "Dr. S. Rao"
	mu.Unlock()
	if _, err := m.Add(ctx, patient("Asha", "9000000001")); err != nil {
		t.Fatal(err)
	}

	g, err := LookupGlobal(ctx, store, "9000000001")
	if err != nil {
		t.Fatal(err)
	}
	if len(g.VisitHistory) != 2 || g.VisitHistory[0].DoctorName != "Dr. Rao" || g.VisitHistory[1].DoctorName != "Dr. S. Rao" {
		t.Errorf("unexpected visits %+v", g.VisitHistory)
	}
}

func TestGlobalRecord_EditUpdatesExistingOnly(t *testing.T) {
	store := memdir.NewStore()
	ctx := context.Background()
	m := openDoctor(t, store, "doc1", "Dr. Rao", Options{GlobalRecords: true})

	saved, err := m.Add(ctx, patient("Asha", "9000000001"))
	if err != nil {
		t.Fatal(err)
	}
	saved.Name = "Asha Rao"
	if _, err := m.Edit(ctx, saved.ID, saved); err != nil {
		t.Fatal(err)
	}
	g, err := LookupGlobal(ctx, store, "9000000001")
	if err != nil {
		t.Fatal(err)
	}
	if g.Name != "Asha Rao" || len(g.VisitHistory) != 2 {
		t.Errorf("got name %q with %d visits", g.Name, len(g.VisitHistory))
	}

	saved.Mobile = "9000000002"
	if _, err := m.Edit(ctx, saved.ID, saved); err != nil {
		t.Fatal(err)
	}
	if _, err := LookupGlobal(ctx, store, "9000000002"); !errors.Is(err, directory.ErrNotFound) {
		t.Errorf("edit must not create a global record, got %v", err)
	}
}

func TestGlobalRecord_Disabled(t *testing.T) {
	store := memdir.NewStore()
	m := openDoctor(t, store, "doc1", "Dr. Rao", Options{})
	if _, err := m.Add(context.Background(), patient("Asha", "9000000001")); err != nil {
		t.Fatal(err)
	}
	if _, err := LookupGlobal(context.Background(), store, "9000000001"); !errors.Is(err, directory.ErrNotFound) {
		t.Errorf("expected no global record, got %v", err)
	}
}

func TestHospitalRoster_AddsDoctors(t *testing.T) {
	store := memdir.NewStore()
	m, err := Open(context.Background(), store, Owner{ID: "h1", Name: "City Hospital", Role: clinic.RoleHospitalAdmin}, Options{GlobalRecords: true})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	if _, err := m.Add(context.Background(), clinic.Entry{Name: "Dr. Sen"}); err == nil {
		t.Fatal("expected specialization to be required")
	}
	saved, err := m.Add(context.Background(), clinic.Entry{Name: "Dr. Sen", Specialization: "Neurologist", Mobile: "9000000009", CurrentlyWorking: true})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if saved.Kind != clinic.KindDoctor {
		t.Errorf("expected doctor kind, got %s", saved.Kind)
	}
	if _, err := LookupGlobal(context.Background(), store, "9000000009"); !errors.Is(err, directory.ErrNotFound) {
		t.Errorf("hospital rosters must not write global records, got %v", err)
	}
}

type failingAdds struct {
	*memdir.Store
}

func (f failingAdds) Add(context.Context, string, directory.Fields) (string, error) {
	return "", errors.New("permission denied")
}

func TestSubmit_FailureKeepsForm(t *testing.T) {
	m := openDoctor(t, failingAdds{memdir.NewStore()}, "doc1", "Dr. Rao", Options{})

	if _, err := m.OpenAddForm(); err != nil {
		t.Fatal(err)
	}
	draft := patient("Asha", "9000000001")
	if _, err := m.UpdateForm(draft); err != nil {
		t.Fatal(err)
	}

	_, err := m.Submit(context.Background())
	var werr *clinic.WriteError
	if !errors.As(err, &werr) {
		t.Fatalf("expected write error, got %v", err)
	}
	f, ok := m.Form()
	if !ok {
		t.Fatal("form closed after a failed save")
	}
	if f.Draft.Name != "Asha" || f.Draft.Disease != "Flu" {
		t.Errorf("draft lost: %+v", f.Draft)
	}
	if m.Len() != 0 {
		t.Errorf("failed add reached the cache")
	}
}

func TestSubmit_ClosesFormAndShowsList(t *testing.T) {
	m := openDoctor(t, memdir.NewStore(), "doc1", "Dr. Rao", Options{})

	if !m.Screen().Hidden() {
		t.Fatal("expected a hidden screen initially")
	}
	if _, err := m.OpenAddForm(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.OpenAddForm(); !errors.Is(err, ErrFormOpen) {
		t.Fatalf("expected ErrFormOpen, got %v", err)
	}
	if _, err := m.UpdateForm(patient("Asha", "9000000001")); err != nil {
		t.Fatal(err)
	}
	saved, err := m.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	s := m.Screen()
	if s.Form != nil || !s.ListOpen {
		t.Errorf("expected list open and form closed, got %+v", s)
	}

	f, err := m.OpenEditForm(saved.ID)
	if err != nil {
		t.Fatal(err)
	}
	if f.Mode != ModeEdit || f.Draft.Name != "Asha" {
		t.Errorf("edit form not prefilled: %+v", f)
	}
	m.CancelForm()
	if _, ok := m.Form(); ok {
		t.Error("expected form to be cancelled")
	}
}

type gateUploader struct {
	started chan struct{}
	release chan struct{}
}

func newGate() *gateUploader {
	return &gateUploader{started: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *gateUploader) UploadBlob(_ context.Context, name, _ string, r io.Reader) (directory.BlobRef, error) {
	if _, err := io.ReadAll(r); err != nil {
		return directory.BlobRef{}, err
	}
	g.started <- struct{}{}
	<-g.release
	return directory.BlobRef{Key: "attachments/" + name, URL: "https://blobs.test/attachments/" + name}, nil
}

func TestAttach_SetsFormURL(t *testing.T) {
	m := openDoctor(t, memdir.NewStore(), "doc1", "Dr. Rao", Options{Blobs: blob.NewMemoryStore("https://blobs.test")})

	if _, err := m.Attach(context.Background(), "scan.pdf", "application/pdf", strings.NewReader("pdf")); !errors.Is(err, ErrNoForm) {
		t.Fatalf("expected ErrNoForm, got %v", err)
	}
	if _, err := m.OpenAddForm(); err != nil {
		t.Fatal(err)
	}
	url, err := m.Attach(context.Background(), "scan.pdf", "application/pdf", strings.NewReader("pdf"))
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	f, _ := m.Form()
	if f.Draft.AttachmentURL != url || !strings.HasSuffix(url, "_scan.pdf") {
		t.Errorf("unexpected attachment url %q on draft %q", url, f.Draft.AttachmentURL)
	}

	// Later field edits keep the uploaded attachment.
	f, _ = m.UpdateForm(patient("Asha", "9000000001"))
	if f.Draft.AttachmentURL != url {
		t.Errorf("attachment dropped by UpdateForm")
	}
}

func TestAttach_OneUploadAtATime(t *testing.T) {
	gate := newGate()
	m := openDoctor(t, memdir.NewStore(), "doc1", "Dr. Rao", Options{Blobs: gate})
	if _, err := m.OpenAddForm(); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := m.Attach(context.Background(), "a.png", "image/png", strings.NewReader("a"))
		done <- err
	}()
	<-gate.started

	if _, err := m.Attach(context.Background(), "b.png", "image/png", strings.NewReader("b")); !errors.Is(err, ErrUploadInFlight) {
		t.Errorf("expected ErrUploadInFlight, got %v", err)
	}
	if _, err := m.Submit(context.Background()); !errors.Is(err, ErrUploadInFlight) {
		t.Errorf("expected submit to wait for the upload, got %v", err)
	}
	close(gate.release)
	if err := <-done; err != nil {
		t.Fatalf("first upload: %v", err)
	}
	if m.Screen().Uploading {
		t.Error("upload flag left set")
	}
}

func TestAttach_FinishesAfterClose(t *testing.T) {
	gate := newGate()
	m := openDoctor(t, memdir.NewStore(), "doc1", "Dr. Rao", Options{Blobs: gate})
	if _, err := m.OpenAddForm(); err != nil {
		t.Fatal(err)
	}

	type result struct {
		url string
		err error
	}
	done := make(chan result, 1)
	go func() {
		url, err := m.Attach(context.Background(), "late.png", "image/png", strings.NewReader("x"))
		done <- result{url, err}
	}()
	<-gate.started
	m.Close()
	close(gate.release)

	res := <-done
	if res.err != nil {
		t.Fatalf("expected a silent completion, got %v", res.err)
	}
	if res.url == "" {
		t.Error("expected the uploaded url to be returned")
	}
	if f, _ := m.Form(); f.Draft.AttachmentURL != "" {
		t.Error("closed manager's form was updated")
	}
}

func TestUpload_WithoutBlobStore(t *testing.T) {
	m := openDoctor(t, memdir.NewStore(), "doc1", "Dr. Rao", Options{})
	if _, err := m.Upload(context.Background(), "a.png", "image/png", strings.NewReader("a")); !errors.Is(err, ErrNoBlobStore) {
		t.Fatalf("expected ErrNoBlobStore, got %v", err)
	}
}

func TestFindByMobile(t *testing.T) {
	m := openDoctor(t, memdir.NewStore(), "doc1", "Dr. Rao", Options{})
	ctx := context.Background()
	if _, err := m.Add(ctx, patient("Asha", "9000000001")); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Add(ctx, patient("Bob", "9000000002")); err != nil {
		t.Fatal(err)
	}
	found, err := m.FindByMobile(ctx, "9000000002")
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 || found[0].Name != "Bob" {
		t.Errorf("unexpected result %+v", found)
	}
}
