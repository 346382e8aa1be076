package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"
)

// DefaultSessionWindow is how long a session handle lives when none is configured.
const DefaultSessionWindow = 7 * 24 * time.Hour

// handleBytes is the entropy of a session handle.
const handleBytes = 32

// SessionOutcome says whether a session record reached storage.
type SessionOutcome int

const (
	// SessionPersisted means the record was stored.
	SessionPersisted SessionOutcome = iota
	// SessionEphemeral means storage failed; the handle exists only on the client.
	SessionEphemeral
)

// String returns the outcome label used in logs and metrics.
func (o SessionOutcome) String() string {
	if o == SessionPersisted {
		return "persisted"
	}
	return "ephemeral"
}

// SessionResult is what SessionStore.Create hands back to the login flow.
type SessionResult struct {
	Handle    string
	ExpiresAt time.Time
	Outcome   SessionOutcome
}

// SweepObserver is notified after every successful sweep.
type SweepObserver interface {
	SessionsSwept(ctx context.Context, deleted int64, took time.Duration)
}

// SessionStore creates and expires opaque session handles.
type SessionStore struct {
	repo     SessionRepository
	window   time.Duration
	logger   *slog.Logger
	now      func() time.Time
	observer SweepObserver
}

// NewSessionStore creates a store with the given expiry window. A zero
// window means DefaultSessionWindow.
func NewSessionStore(repo SessionRepository, window time.Duration, logger *slog.Logger) *SessionStore {
	if window <= 0 {
		window = DefaultSessionWindow
	}
	return &SessionStore{
		repo:   repo,
		window: window,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetSweepObserver registers an observer for sweep results. Must be called
// before RunSweeper.
func (s *SessionStore) SetSweepObserver(o SweepObserver) {
	s.observer = o
}

// Create mints a session handle for userID and tries to persist its hash.
//
// Create never fails and always returns a handle. When the record cannot
// be stored the failure is logged and the result is marked
// SessionEphemeral; login still succeeds.
func (s *SessionStore) Create(ctx context.Context, userID string) SessionResult {
	now := s.now()
	handle := newHandle()
	result := SessionResult{Handle: handle, ExpiresAt: now.Add(s.window), Outcome: SessionEphemeral}

	err := s.repo.Create(ctx, &Session{
		UserID:    userID,
		TokenHash: HashToken(handle),
		ExpiresAt: result.ExpiresAt,
		CreatedAt: now,
	})
	if err != nil {
		s.logger.Warn("session record not persisted", "user_id", userID, "error", err)
		return result
	}

	result.Outcome = SessionPersisted
	return result
}

// ListActive returns userID's unexpired session records.
func (s *SessionStore) ListActive(ctx context.Context, userID string) ([]Session, error) {
	return s.repo.ListActiveByUser(ctx, userID, s.now())
}

// Revoke deletes every session record of userID.
func (s *SessionStore) Revoke(ctx context.Context, userID string) (int64, error) {
	return s.repo.DeleteByUser(ctx, userID)
}

// Sweep deletes records that have expired.
func (s *SessionStore) Sweep(ctx context.Context) (int64, error) {
	start := time.Now()
	deleted, err := s.repo.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("sweeping sessions: %w", err)
	}

	took := time.Since(start)
	s.logger.Info("expired sessions swept", "deleted", deleted, "duration", took)
	if s.observer != nil {
		s.observer.SessionsSwept(ctx, deleted, took)
	}
	return deleted, nil
}

// RunSweeper sweeps every interval until ctx is cancelled. It blocks, so
// start it in its own goroutine.
func (s *SessionStore) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("session sweep failed", "error", err)
			}
		}
	}
}

// newHandle returns handleBytes of crypto/rand entropy as hex. rand.Read
// never returns an error; the runtime aborts if the system source fails.
func newHandle() string {
	b := make([]byte, handleBytes)
	_, _ = rand.Read(b) //nolint:errcheck // documented to never fail
	return hex.EncodeToString(b)
}
