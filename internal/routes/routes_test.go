package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/apps"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/apps/doctor"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/apps/hospital"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/blob"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/config"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory/memdir"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/services"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/workspace"
)

type testServer struct {
	app      *fiber.App
	registry *workspace.Registry
	store    *memdir.Store
}

// serverDeps lets a test put a different authenticator or document store
// behind the auth handlers. Workspaces always use the memory store.
type serverDeps struct {
	auth directory.Authenticator
	docs directory.DocumentStore
}

type serverOption func(*serverDeps)

func withAuth(wrap func(directory.Authenticator) directory.Authenticator) serverOption {
	return func(d *serverDeps) { d.auth = wrap(d.auth) }
}

func withDocs(wrap func(directory.DocumentStore) directory.DocumentStore) serverOption {
	return func(d *serverDeps) { d.docs = wrap(d.docs) }
}

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	cfg := &config.Config{
		JWTSecret:            "test-secret",
		JWTAccessExpiry:      15 * time.Minute,
		CORSOrigins:          "*",
		GlobalPatientRecords: true,
		LocaleDateLayout:     "1/2/2006",
	}
	store := memdir.NewStore()
	blobs := blob.NewMemoryStore("/api/blobs")
	issuer := services.NewTokenIssuer(cfg.JWTSecret, cfg.JWTAccessExpiry)
	deps := serverDeps{auth: memdir.NewAccounts(issuer.AccessToken), docs: store}
	for _, o := range opts {
		o(&deps)
	}
	dir := directory.Compose(deps.auth, deps.docs, blobs)

	registry := workspace.NewRegistry(store, workspace.Config{
		GlobalRecords: true,
		Location:      time.UTC,
		Blobs:         blobs,
	})
	t.Cleanup(func() {
		registry.CloseAll()
		store.Close()
	})

	app := fiber.New()
	Setup(app, cfg, store, registry, Handlers{
		Auth:    handlers.NewAuthHandler(dir, registry),
		Health:  handlers.NewHealthHandler(registry),
		Profile: handlers.NewProfileHandler(),
		Blob:    handlers.NewBlobHandler(blobs),
	}, []apps.Plugin{doctor.New(), hospital.New()})

	return &testServer{app: app, registry: registry, store: store}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.send(t, req, token)
}

func (s *testServer) send(t *testing.T, req *http.Request, token string) (int, map[string]any) {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

func (s *testServer) register(t *testing.T, reg map[string]any) string {
	t.Helper()
	status, body := s.do(t, "POST", "/api/auth/register", "", reg)
	if status != fiber.StatusCreated {
		t.Fatalf("register: status %d body %v", status, body)
	}
	token, _ := body["access_token"].(string)
	if token == "" {
		t.Fatalf("register: no access token in %v", body)
	}
	return token
}

func doctorReg(email string) map[string]any {
	return map[string]any{
		"role": "doctor", "fullName": "Dr. Rao", "email": email,
		"password": "secret1", "specialization": "Cardiologist",
	}
}

func patientBody(name, mobile string) map[string]any {
	return map[string]any{"name": name, "address": "12 Park St", "disease": "Flu", "mobile": mobile}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	status, body := s.do(t, "GET", "/api/health", "", nil)
	if status != fiber.StatusOK || body["status"] != "ok" {
		t.Errorf("health: %d %v", status, body)
	}
}

func TestRegisterAndMe(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, doctorReg("rao@example.com"))

	status, body := s.do(t, "GET", "/api/me", token, nil)
	if status != fiber.StatusOK {
		t.Fatalf("me: %d %v", status, body)
	}
	if body["status"] != "active" || body["role"] != "doctor" || body["display_name"] != "Dr. Rao" {
		t.Errorf("unexpected me %v", body)
	}
	if s.registry.Len() != 1 {
		t.Errorf("expected one workspace, got %d", s.registry.Len())
	}
}

func TestAuthErrors(t *testing.T) {
	s := newTestServer(t)
	s.register(t, doctorReg("rao@example.com"))

	tests := []struct {
		name   string
		path   string
		body   map[string]any
		status int
	}{
		{"duplicate", "/api/auth/register", doctorReg("rao@example.com"), fiber.StatusConflict},
		{"validation", "/api/auth/register", map[string]any{"role": "doctor", "email": "x@y.z", "password": "1"}, fiber.StatusBadRequest},
		{"wrong password", "/api/auth/login", map[string]any{"identifier": "rao@example.com", "password": "nope"}, fiber.StatusUnauthorized},
		{"unknown identifier", "/api/auth/login", map[string]any{"identifier": "who@example.com", "password": "secret1"}, fiber.StatusUnauthorized},
		{"bad refresh", "/api/auth/refresh", map[string]any{"refresh_token": "bogus"}, fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := s.do(t, "POST", tt.path, "", tt.body)
			if status != tt.status {
				t.Errorf("status %d, want %d (%v)", status, tt.status, body)
			}
		})
	}

	_, body := s.do(t, "POST", "/api/auth/register", "", map[string]any{"role": "doctor", "email": "x@y.z", "password": "1"})
	if body["field"] != "password" {
		t.Errorf("validation error should name the field: %v", body)
	}
}

func TestAuthThrottled(t *testing.T) {
	s := newTestServer(t)
	var status int
	for i := 0; i < 11; i++ {
		status, _ = s.do(t, "POST", "/api/auth/login", "", map[string]any{"identifier": "a@b.c", "password": "x"})
	}
	if status != fiber.StatusTooManyRequests {
		t.Errorf("expected 429 after repeated attempts, got %d", status)
	}
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/api/me", "/api/profile", "/api/p/doctor/patients"} {
		if status, _ := s.do(t, "GET", path, "", nil); status != fiber.StatusUnauthorized {
			t.Errorf("%s: status %d, want 401", path, status)
		}
	}
}

func TestDoctorPatients(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, doctorReg("rao@example.com"))

	status, body := s.do(t, "POST", "/api/p/doctor/patients", token, patientBody("Asha", "9000000001"))
	if status != fiber.StatusCreated {
		t.Fatalf("add: %d %v", status, body)
	}
	entry := body["entry"].(map[string]any)
	id := entry["id"].(string)
	if body["warning"] != nil {
		t.Errorf("unexpected warning %v", body["warning"])
	}

	status, body = s.do(t, "POST", "/api/p/doctor/patients", token, map[string]any{"name": "NoMobile"})
	if status != fiber.StatusBadRequest || body["field"] == nil {
		t.Errorf("invalid add: %d %v", status, body)
	}

	status, body = s.do(t, "GET", "/api/p/doctor/patients?q=asha", token, nil)
	if status != fiber.StatusOK || body["total"] != float64(1) {
		t.Errorf("search: %d %v", status, body)
	}
	status, body = s.do(t, "GET", "/api/p/doctor/patients?q=nobody", token, nil)
	if status != fiber.StatusOK || body["total"] != float64(0) {
		t.Errorf("empty search: %d %v", status, body)
	}

	edit := patientBody("Asha K", "9000000001")
	status, body = s.do(t, "PUT", "/api/p/doctor/patients/"+id, token, edit)
	if status != fiber.StatusOK || body["entry"].(map[string]any)["name"] != "Asha K" {
		t.Errorf("edit: %d %v", status, body)
	}
	if status, _ := s.do(t, "PUT", "/api/p/doctor/patients/missing", token, edit); status != fiber.StatusNotFound {
		t.Errorf("edit unknown: status %d", status)
	}

	status, body = s.do(t, "GET", "/api/p/doctor/patients/global/9000000001", token, nil)
	if status != fiber.StatusOK {
		t.Fatalf("global: %d %v", status, body)
	}
	if body["name"] != "Asha K" {
		t.Errorf("global record not updated by edit: %v", body)
	}
	if visits := body["visitHistory"].([]any); len(visits) != 2 {
		t.Errorf("expected 2 visits, got %d", len(visits))
	}
	if status, _ := s.do(t, "GET", "/api/p/doctor/patients/global/0000", token, nil); status != fiber.StatusNotFound {
		t.Errorf("missing global record: status %d", status)
	}
}

func TestRoleGuards(t *testing.T) {
	s := newTestServer(t)
	admin := s.register(t, map[string]any{
		"role": "hospitalAdmin", "email": "admin@city.example", "mobile": "9000000009",
		"password": "secret1", "hospitalName": "City Hospital", "state": "KA", "city": "Mysuru",
	})

	if status, _ := s.do(t, "GET", "/api/p/doctor/patients", admin, nil); status != fiber.StatusForbidden {
		t.Errorf("hospital admin reached doctor routes: %d", status)
	}
	status, body := s.do(t, "POST", "/api/p/hospital/doctors", admin, map[string]any{
		"name": "Dr. Iyer", "specialization": "Neurologist",
	})
	if status != fiber.StatusCreated {
		t.Errorf("hospital add doctor: %d %v", status, body)
	}
}

func TestProfileEditFlow(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, doctorReg("rao@example.com"))

	if status, _ := s.do(t, "POST", "/api/profile/save", token, nil); status != fiber.StatusConflict {
		t.Errorf("save while viewing: status %d", status)
	}

	status, body := s.do(t, "POST", "/api/profile/edit", token, nil)
	if status != fiber.StatusOK || body["state"] != "editing" {
		t.Fatalf("edit: %d %v", status, body)
	}

	draft := map[string]any{"fullName": "Dr. S. Rao", "email": "", "mobile": "", "specialization": "Cardiologist"}
	status, body = s.do(t, "PUT", "/api/profile/draft", token, draft)
	if status != fiber.StatusOK {
		t.Fatalf("draft: %d %v", status, body)
	}
	status, body = s.do(t, "POST", "/api/profile/save", token, nil)
	if status != fiber.StatusBadRequest || body["field"] != "contact" {
		t.Errorf("contact rule: %d %v", status, body)
	}

	draft["mobile"] = "9000000003"
	s.do(t, "PUT", "/api/profile/draft", token, draft)
	status, body = s.do(t, "POST", "/api/profile/save", token, nil)
	if status != fiber.StatusOK || body["state"] != "viewing" {
		t.Fatalf("save: %d %v", status, body)
	}
	if p := body["profile"].(map[string]any); p["fullName"] != "Dr. S. Rao" || p["email"] != "" {
		t.Errorf("saved profile not shown: %v", p)
	}
}

func TestRosterFormFlow(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, doctorReg("rao@example.com"))
	base := "/api/p/doctor/patients"

	if status, _ := s.do(t, "POST", base+"/form/submit", token, nil); status != fiber.StatusConflict {
		t.Errorf("submit without form: status %d", status)
	}
	if status, body := s.do(t, "POST", base+"/form", token, nil); status != fiber.StatusCreated || body["mode"] != "add" {
		t.Fatalf("open form: %d %v", status, body)
	}
	if status, _ := s.do(t, "POST", base+"/form", token, nil); status != fiber.StatusConflict {
		t.Errorf("second form: status %d", status)
	}

	// attach before filling in the rest
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "scan.pdf")
	fw.Write([]byte("%PDF-1.4"))
	mw.Close()
	req := httptest.NewRequest("POST", base+"/form/attachment", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	status, body := s.send(t, req, token)
	if status != fiber.StatusCreated {
		t.Fatalf("attach: %d %v", status, body)
	}
	url := body["url"].(string)

	if status, body := s.do(t, "PUT", base+"/form", token, patientBody("Ravi", "9000000002")); status != fiber.StatusOK {
		t.Fatalf("update form: %d %v", status, body)
	}
	status, body = s.do(t, "POST", base+"/form/submit", token, nil)
	if status != fiber.StatusOK {
		t.Fatalf("submit: %d %v", status, body)
	}
	if got := body["entry"].(map[string]any)["attachmentUrl"]; got != url {
		t.Errorf("attachment lost on submit: %v, want %s", got, url)
	}

	_, screen := s.do(t, "GET", base+"/form", token, nil)
	if screen["form"] != nil || screen["listOpen"] != true {
		t.Errorf("screen after submit: %v", screen)
	}
	if _, toggled := s.do(t, "POST", base+"/list/toggle", token, nil); toggled["listOpen"] != false {
		t.Errorf("toggle: %v", toggled)
	}

	resp, err := s.app.Test(httptest.NewRequest("GET", url, nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	content, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || string(content) != "%PDF-1.4" {
		t.Errorf("blob download: %d %q", resp.StatusCode, content)
	}
}

func TestLogoutReleasesWorkspace(t *testing.T) {
	s := newTestServer(t)
	status, body := s.do(t, "POST", "/api/auth/register", "", doctorReg("rao@example.com"))
	if status != fiber.StatusCreated {
		t.Fatalf("register: %d %v", status, body)
	}
	token := body["access_token"].(string)
	refresh := body["refresh_token"].(string)

	status, _ = s.do(t, "POST", "/api/auth/logout", token, map[string]any{"refresh_token": refresh})
	if status != fiber.StatusOK {
		t.Fatalf("logout: status %d", status)
	}
	if s.registry.Len() != 0 || s.store.Hub().Len() != 0 {
		t.Errorf("logout left %d workspaces, %d subscriptions", s.registry.Len(), s.store.Hub().Len())
	}
	if status, _ := s.do(t, "POST", "/api/auth/refresh", "", map[string]any{"refresh_token": refresh}); status != fiber.StatusUnauthorized {
		t.Errorf("refresh after logout: status %d", status)
	}
}

// failFirstSet fails the first Set, leaving an identity without a profile.
type failFirstSet struct {
	directory.DocumentStore
	failed *atomic.Bool
}

func (f failFirstSet) Set(ctx context.Context, path string, fields directory.Fields) error {
	if f.failed.CompareAndSwap(false, true) {
		return errors.New("network down")
	}
	return f.DocumentStore.Set(ctx, path, fields)
}

func TestRegisterCompletesAfterProfileWriteFailure(t *testing.T) {
	s := newTestServer(t, withDocs(func(d directory.DocumentStore) directory.DocumentStore {
		return failFirstSet{DocumentStore: d, failed: &atomic.Bool{}}
	}))
	reg := doctorReg("rao@example.com")

	if status, body := s.do(t, "POST", "/api/auth/register", "", reg); status != fiber.StatusBadGateway {
		t.Fatalf("first register: %d %v", status, body)
	}
	if status, _ := s.do(t, "POST", "/api/auth/register", "", reg); status != fiber.StatusConflict {
		t.Fatalf("retry register: status %d", status)
	}

	status, body := s.do(t, "POST", "/api/auth/login", "", map[string]any{"identifier": "rao@example.com", "password": "secret1"})
	if status != fiber.StatusOK || body["status"] != "unregistered" {
		t.Fatalf("login: %d %v", status, body)
	}
	token := body["access_token"].(string)
	if status, _ := s.do(t, "GET", "/api/profile", token, nil); status != fiber.StatusForbidden {
		t.Errorf("profile before completion: status %d", status)
	}

	status, body = s.do(t, "POST", "/api/auth/register/complete", token, map[string]any{
		"role": "doctor", "fullName": "Dr. Rao", "specialization": "Cardiologist",
	})
	if status != fiber.StatusCreated || body["status"] != "active" || body["role"] != "doctor" {
		t.Fatalf("complete: %d %v", status, body)
	}
	if status, body := s.do(t, "GET", "/api/profile", token, nil); status != fiber.StatusOK {
		t.Errorf("profile after completion: %d %v", status, body)
	}
	if status, _ := s.do(t, "POST", "/api/auth/register/complete", token, map[string]any{
		"role": "doctor", "fullName": "Dr. Rao", "specialization": "Cardiologist",
	}); status != fiber.StatusConflict {
		t.Errorf("second completion: status %d", status)
	}
}

type unreachableAuth struct {
	directory.Authenticator
}

func (unreachableAuth) Authenticate(context.Context, string, string) (*directory.Credentials, error) {
	return nil, errors.New("failed to load identity: connection refused")
}

func TestLoginBackendFailureIsRetryable(t *testing.T) {
	s := newTestServer(t, withAuth(func(a directory.Authenticator) directory.Authenticator {
		return unreachableAuth{a}
	}))
	status, body := s.do(t, "POST", "/api/auth/login", "", map[string]any{"identifier": "rao@example.com", "password": "secret1"})
	if status != fiber.StatusBadGateway {
		t.Fatalf("expected 502, got %d %v", status, body)
	}
	if msg, _ := body["message"].(string); strings.Contains(msg, "password") {
		t.Errorf("backend failure reported as bad credentials: %q", msg)
	}
}
