package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/allokapri/workspace-core/internal/audit"
	"github.com/allokapri/workspace-core/internal/auth"
)

// insertSession stores a session record for userID expiring at expires.
func (e *testEnv) insertSession(t *testing.T, userID string, expires time.Time) {
	t.Helper()

	err := e.sessions.Create(context.Background(), &auth.Session{
		UserID:    userID,
		TokenHash: auth.HashToken(userID + expires.String()),
		ExpiresAt: expires,
	})
	if err != nil {
		t.Fatalf("Create(session) error = %v", err)
	}
}

func TestListSessions(t *testing.T) {
	env := newTestEnv(t)
	editor := env.createUser(t, "editor@allokapri.com", auth.RoleEditor)

	first := env.login(t, editor.Email, testPassword)
	env.login(t, editor.Email, testPassword)
	env.login(t, testOwnerEmail, testOwnerPassword)
	env.insertSession(t, editor.ID, time.Now().Add(-time.Minute))

	w := env.do(t, http.MethodGet, "/api/sessions", first.AccessToken, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if strings.Contains(w.Body.String(), first.RefreshToken) || strings.Contains(w.Body.String(), "tokenHash") {
		t.Errorf("session list exposes handle material: %s", w.Body.String())
	}

	var resp struct {
		Sessions []auth.Session `json:"sessions"`
		Count    int            `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 2 {
		t.Fatalf("count = %d, want 2 unexpired sessions of the caller", resp.Count)
	}
	for _, s := range resp.Sessions {
		if s.UserID != editor.ID {
			t.Errorf("session %s belongs to %s, want %s", s.ID, s.UserID, editor.ID)
		}
	}
}

func TestSweepSessions(t *testing.T) {
	env := newTestEnv(t)
	viewer := env.createUser(t, "viewer@allokapri.com", auth.RoleViewer)

	env.insertSession(t, viewer.ID, time.Now().Add(-time.Hour))
	env.insertSession(t, env.owner.ID, time.Now().Add(-time.Second))
	env.insertSession(t, env.owner.ID, time.Now().Add(time.Hour))

	if w := env.do(t, http.MethodPost, "/sessions/sweep", env.tokenFor(t, viewer), ""); w.Code != http.StatusForbidden {
		t.Fatalf("viewer sweep status = %d, want %d", w.Code, http.StatusForbidden)
	}

	w := env.do(t, http.MethodPost, "/sessions/sweep", env.tokenFor(t, env.owner), "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	var resp struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Deleted != 2 {
		t.Errorf("deleted = %d, want 2", resp.Deleted)
	}

	remaining, err := env.srv.sessions.ListActive(context.Background(), env.owner.ID)
	if err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	if len(remaining) != 1 {
		t.Errorf("owner sessions after sweep = %d, want 1", len(remaining))
	}

	// A second sweep finds nothing.
	w = env.do(t, http.MethodPost, "/api/sessions/sweep", env.tokenFor(t, env.owner), "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"deleted":0`) {
		t.Errorf("second sweep = %d %s, want 200 with deleted 0", w.Code, w.Body.String())
	}
}

func TestSweepSessions_NotifiesObservers(t *testing.T) {
	env := newTestEnv(t)
	env.insertSession(t, env.owner.ID, time.Now().Add(-time.Hour))

	w := env.do(t, http.MethodPost, "/sessions/sweep", env.tokenFor(t, env.owner), "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	if _, sweeps := env.series.snapshot(); len(sweeps) != 1 || sweeps[0] != 1 {
		t.Errorf("time-series sweeps = %v, want [1]", sweeps)
	}
	if got := testutil.ToFloat64(env.srv.metrics.sessionsSwept); got != 1 {
		t.Errorf("sessions_swept_total = %v, want 1", got)
	}

	waitFor(t, "session_sweep audit entry", func() bool {
		res, err := env.auditRepo.List(context.Background(), audit.Filter{Action: audit.ActionSessionSweep})
		return err == nil && res.Total == 1 && res.Logs[0].Source == sourceSystem &&
			res.Logs[0].EntityType == audit.EntitySession
	})
}

func TestPeriodicSweeper(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.SweepInterval = 10 * time.Millisecond })
	env.insertSession(t, env.owner.ID, time.Now().Add(-time.Hour))

	waitFor(t, "periodic sweep", func() bool {
		_, sweeps := env.series.snapshot()
		for _, n := range sweeps {
			if n == 1 {
				return true
			}
		}
		return false
	})
}

// stallingSweepRepo holds the first DeleteExpired call until release is
// closed, ignoring cancellation.
type stallingSweepRepo struct {
	auth.SessionRepository
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (r *stallingSweepRepo) DeleteExpired(context.Context, time.Time) (int64, error) {
	r.once.Do(func() { close(r.entered) })
	<-r.release
	return 3, nil
}

func TestStopWorkers_FlushesInFlightSweep(t *testing.T) {
	repo := &stallingSweepRepo{entered: make(chan struct{}), release: make(chan struct{})}
	env := newTestEnv(t, func(d *Deps) {
		d.Sessions = auth.NewSessionStore(repo, 0, d.Logger.Logger)
		d.SweepInterval = 5 * time.Millisecond
	})

	select {
	case <-repo.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper never ran")
	}

	stopped := make(chan struct{})
	go func() {
		env.srv.stopWorkers()
		close(stopped)
	}()

	// Give a premature drain shutdown time to happen before the sweep ends.
	time.Sleep(50 * time.Millisecond)
	close(repo.release)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stopWorkers() did not return")
	}

	res, err := env.auditRepo.List(context.Background(), audit.Filter{Action: audit.ActionSessionSweep})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total < 1 {
		t.Error("audit entry for the in-flight sweep was lost on shutdown")
	}
	if got := len(env.publisher.types()); got < 1 {
		t.Errorf("published events = %d, want the sweep event", got)
	}
}
