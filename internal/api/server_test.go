package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/allokapri/workspace-core/internal/audit"
	"github.com/allokapri/workspace-core/internal/auth"
	"github.com/allokapri/workspace-core/internal/infrastructure/config"
	"github.com/allokapri/workspace-core/internal/infrastructure/database"
	"github.com/allokapri/workspace-core/internal/infrastructure/logging"
	"github.com/allokapri/workspace-core/migrations"
)

const (
	testSecret        = "test-secret-key-at-least-32-characters-long"
	testPassword      = "correct-horse-battery"
	testOwnerEmail    = "owner@allokapri.com"
	testOwnerPassword = "Allokapri123!"
	testBcryptCost    = 4 // bcrypt.MinCost keeps tests fast
)

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []eventMessage
}

func (p *recordingPublisher) PublishEvent(eventType string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg, _ := event.(eventMessage)
	msg.Type = eventType
	p.events = append(p.events, msg)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// recordingSeries captures time-series writes.
type recordingSeries struct {
	mu     sync.Mutex
	events []string // "event/outcome/role"
	sweeps []int64
}

func (r *recordingSeries) WriteAuthEvent(event, outcome, role string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event+"/"+outcome+"/"+role)
}

func (r *recordingSeries) WriteSessionSweep(deleted int64, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweeps = append(r.sweeps, deleted)
}

func (r *recordingSeries) snapshot() ([]string, []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...), append([]int64(nil), r.sweeps...)
}

// testEnv is a server wired to a migrated in-memory database with the
// default owner seeded.
type testEnv struct {
	srv       *Server
	router    http.Handler
	db        *database.DB
	users     *auth.SQLiteUserRepository
	sessions  *auth.SQLiteSessionRepository
	auditRepo *audit.SQLiteRepository
	issuer    *auth.TokenIssuer
	publisher *recordingPublisher
	series    *recordingSeries
	owner     *auth.User
}

// newTestEnv builds a testEnv. Background workers run until the test ends.
// Optional mutators adjust the Deps before the server is created.
func newTestEnv(t *testing.T, mutate ...func(*Deps)) *testEnv {
	t.Helper()

	db, err := database.Open(database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if _, err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	logger := logging.Discard()
	users := auth.NewUserRepository(db.DB)
	sessionRepo := auth.NewSessionRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	if _, err := auth.SeedOwner(context.Background(), users, auth.SeedOwnerParams{
		Email:      testOwnerEmail,
		Password:   testOwnerPassword,
		Name:       "Owner",
		BcryptCost: testBcryptCost,
	}, logger.Logger); err != nil {
		t.Fatalf("SeedOwner() error = %v", err)
	}
	owner, err := users.GetByEmail(context.Background(), testOwnerEmail)
	if err != nil {
		t.Fatalf("GetByEmail(owner) error = %v", err)
	}

	issuer, err := auth.NewTokenIssuer(testSecret, 15*time.Minute)
	if err != nil {
		t.Fatalf("NewTokenIssuer() error = %v", err)
	}

	publisher := &recordingPublisher{}
	series := &recordingSeries{}

	deps := Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		Security: config.SecurityConfig{
			Password: config.PasswordConfig{BcryptCost: testBcryptCost},
		},
		Logger:     logger,
		Users:      users,
		Issuer:     issuer,
		Sessions:   auth.NewSessionStore(sessionRepo, 0, logger.Logger),
		Audit:      auditRepo,
		Events:     publisher,
		TimeSeries: series,
		Version:    "test",
	}
	for _, m := range mutate {
		m(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	srv.startWorkers(context.Background())
	t.Cleanup(srv.stopWorkers)

	return &testEnv{
		srv:       srv,
		router:    srv.buildRouter(),
		db:        db,
		users:     users,
		sessions:  sessionRepo,
		auditRepo: auditRepo,
		issuer:    issuer,
		publisher: publisher,
		series:    series,
		owner:     owner,
	}
}

// do sends a request through the router. An empty token sends no
// Authorization header.
func (e *testEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// createUser inserts an active user with testPassword.
func (e *testEnv) createUser(t *testing.T, email string, role auth.Role) *auth.User {
	t.Helper()

	hash, err := auth.HashPassword(testPassword, testBcryptCost)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	user := &auth.User{Name: email, Email: email, PasswordHash: hash, Role: role, IsActive: true}
	if err := e.users.Create(context.Background(), user); err != nil {
		t.Fatalf("Create(%s) error = %v", email, err)
	}
	return user
}

// tokenFor issues an access token for user with its stored role.
func (e *testEnv) tokenFor(t *testing.T, user *auth.User) string {
	t.Helper()

	token, _, err := e.issuer.Issue(user.ID, user.Role)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return token
}

// decodeError parses an Error body.
func decodeError(t *testing.T, w *httptest.ResponseRecorder) Error {
	t.Helper()

	var body Error
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal error body %q: %v", w.Body.String(), err)
	}
	return body
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ─── Construction ──────────────────────────────────────────────────

func TestNew_RequiresDependencies(t *testing.T) {
	env := newTestEnv(t)
	full := Deps{
		Logger:   logging.Discard(),
		Users:    env.users,
		Issuer:   env.issuer,
		Sessions: auth.NewSessionStore(env.sessions, 0, logging.Discard().Logger),
	}

	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"missing logger", func(d *Deps) { d.Logger = nil }},
		{"missing users", func(d *Deps) { d.Users = nil }},
		{"missing issuer", func(d *Deps) { d.Issuer = nil }},
		{"missing sessions", func(d *Deps) { d.Sessions = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := full
			tt.mutate(&deps)
			if _, err := New(deps); err == nil {
				t.Error("New() should fail")
			}
		})
	}

	if _, err := New(full); err != nil {
		t.Errorf("New() with required deps error = %v", err)
	}
}

func TestServer_StartAndClose(t *testing.T) {
	env := newTestEnv(t)
	srv, err := New(Deps{
		Config:   config.APIConfig{Host: "127.0.0.1", Port: 0},
		Logger:   logging.Discard(),
		Users:    env.users,
		Issuer:   env.issuer,
		Sessions: auth.NewSessionStore(env.sessions, 0, logging.Discard().Logger),
		Audit:    env.auditRepo,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() before Start error = %v", err)
	}

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := srv.HealthCheck(cancelled); err == nil {
		t.Error("HealthCheck() with cancelled context should fail")
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

// ─── Health & Routing ──────────────────────────────────────────────

func TestHealth_DualMounted(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/health", "/api/health"} {
		t.Run(path, func(t *testing.T) {
			w := env.do(t, http.MethodGet, path, "", "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}

			var resp map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if resp["status"] != "ok" {
				t.Errorf("status = %v, want ok", resp["status"])
			}
			if resp["version"] != "test" {
				t.Errorf("version = %v, want test", resp["version"])
			}
		})
	}
}

// stubChecker reports err from HealthCheck.
type stubChecker struct{ err error }

func (c stubChecker) HealthCheck(context.Context) error { return c.err }

func TestHealth_Dependencies(t *testing.T) {
	down := stubChecker{err: errors.New("connection refused")}
	up := stubChecker{}

	tests := []struct {
		name           string
		deps           []Dependency
		wantCode       int
		wantStatus     string
		wantComponents map[string]any
	}{
		{
			name:           "all healthy",
			deps:           []Dependency{{Name: "database", Check: up, Critical: true}, {Name: "mqtt", Check: up}},
			wantCode:       http.StatusOK,
			wantStatus:     "ok",
			wantComponents: map[string]any{"database": "ok", "mqtt": "ok"},
		},
		{
			name:           "optional sink down",
			deps:           []Dependency{{Name: "database", Check: up, Critical: true}, {Name: "influxdb", Check: down}},
			wantCode:       http.StatusOK,
			wantStatus:     "degraded",
			wantComponents: map[string]any{"database": "ok", "influxdb": "unavailable"},
		},
		{
			name:           "database down",
			deps:           []Dependency{{Name: "database", Check: down, Critical: true}, {Name: "mqtt", Check: down}},
			wantCode:       http.StatusServiceUnavailable,
			wantStatus:     "unavailable",
			wantComponents: map[string]any{"database": "unavailable", "mqtt": "unavailable"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(d *Deps) { d.Health = tt.deps })

			w := env.do(t, http.MethodGet, "/health", "", "")
			if w.Code != tt.wantCode {
				t.Fatalf("status code = %d, want %d", w.Code, tt.wantCode)
			}
			var resp struct {
				Status     string         `json:"status"`
				Components map[string]any `json:"components"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if !reflect.DeepEqual(resp.Components, tt.wantComponents) {
				t.Errorf("components = %v, want %v", resp.Components, tt.wantComponents)
			}
			if strings.Contains(w.Body.String(), "connection refused") {
				t.Errorf("health body leaks error detail: %s", w.Body.String())
			}
		})
	}
}

func TestCheckDependencies_WithDatabase(t *testing.T) {
	env := newTestEnv(t)

	report := CheckDependencies(context.Background(), []Dependency{{Name: "database", Check: env.db, Critical: true}})
	if report.Status != "ok" || report.CriticalDown {
		t.Fatalf("report = %+v, want ok", report)
	}

	env.db.Close() //nolint:errcheck // Closed on purpose
	report = CheckDependencies(context.Background(), []Dependency{{Name: "database", Check: env.db, Critical: true}})
	if !report.CriticalDown || report.Errors["database"] == nil {
		t.Errorf("report after Close = %+v, want database down", report)
	}
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/nonexistent", "", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if body := decodeError(t, w); body.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", body.Code, ErrCodeNotFound)
	}
}

// ─── Middleware ────────────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health", "", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestRequestID_ReplacesMalformed(t *testing.T) {
	env := newTestEnv(t)

	for _, id := range []string{"has space", "line\nbreak", strings.Repeat("x", 65)} {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("X-Request-ID", id)
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)

		got := w.Header().Get("X-Request-ID")
		if got == "" || got == id {
			t.Errorf("X-Request-ID for %q = %q, want a generated ID", id, got)
		}
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t)

	// Preflight on a protected route must not require a token.
	req := httptest.NewRequest(http.MethodOptions, "/api/users", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:5173")
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Config.CORS.AllowedOrigins = []string{"https://app.allokapri.com"}
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO = %q, want empty", got)
	}
}

func TestRecovery(t *testing.T) {
	env := newTestEnv(t)

	handler := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if body := decodeError(t, w); body.Code != ErrCodeInternal {
		t.Errorf("code = %q, want %q", body.Code, ErrCodeInternal)
	}
}

func TestBodySizeLimit(t *testing.T) {
	env := newTestEnv(t)

	body := `{"email":"` + strings.Repeat("a", maxRequestBodySize) + `","password":"x"}`
	w := env.do(t, http.MethodPost, "/auth/login", "", body)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// ─── Metrics ───────────────────────────────────────────────────────

func TestMetrics_Exposition(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodGet, "/api/health", "", "")
	env.do(t, http.MethodGet, "/me", "", "")

	w := env.do(t, http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	out := w.Body.String()
	for _, want := range []string{
		`allokapri_http_requests_total{method="GET",route="/api/health",status="200"} 1`,
		`allokapri_gate_rejections_total{reason="missing_token"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestMetrics_RootOnly(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/metrics", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("/api/metrics status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
