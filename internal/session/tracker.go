// Package session tracks conversation continuity per device and decides
// when a new session boundary should be drawn.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vozlab/voz/internal/domain"
	"github.com/vozlab/voz/internal/identity"
	"github.com/vozlab/voz/internal/store"
)

// Options configures the boundary heuristic.
type Options struct {
	// IdleTimeout is the inactivity span after which a new session starts.
	IdleTimeout time.Duration
	// SimilarityFloor is the minimum keyword overlap ratio; below it the
	// topic is considered to have drifted.
	SimilarityFloor float64
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Tracker owns session lifecycle for all devices. Devices on the
// ephemeral fingerprint fallback are kept in a process-local store so
// their sessions never outlive a reload.
type Tracker struct {
	repo      store.Repository
	ephemeral store.Repository
	opts      Options
	logger    *slog.Logger
}

// NewTracker creates a session tracker backed by repo.
func NewTracker(repo store.Repository, opts Options, logger *slog.Logger) *Tracker {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 10 * time.Minute
	}
	if opts.SimilarityFloor <= 0 {
		opts.SimilarityFloor = 0.30
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		repo:      repo,
		ephemeral: store.NewMemory(),
		opts:      opts,
		logger:    logger,
	}
}

func (t *Tracker) repoFor(deviceID string) store.Repository {
	if identity.Ephemeral(deviceID) {
		return t.ephemeral
	}
	return t.repo
}

func newID(prefix string) string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// Fall back to a time-derived ID rather than failing the turn.
		return fmt.Sprintf("%s%x", prefix, time.Now().UnixNano())
	}
	return prefix + hex.EncodeToString(buf)
}

// StartOrResume returns the device's active session, starting a fresh one
// when none exists or when the module or idle-time boundary fires.
// The bool result reports whether a new session was started.
func (t *Tracker) StartOrResume(ctx context.Context, deviceID, module string) (*domain.Session, bool, error) {
	repo := t.repoFor(deviceID)
	now := t.opts.Now()

	current, err := repo.GetActiveSession(ctx, deviceID)
	if err != nil {
		return nil, false, fmt.Errorf("load active session: %w", err)
	}

	if current != nil {
		boundary := current.Module != module || current.IdleSince(now) > t.opts.IdleTimeout
		if !boundary {
			return current, false, nil
		}
		if err := t.endSession(ctx, repo, current, now); err != nil {
			t.logger.Warn("failed to close superseded session",
				"session_id", current.ID, "error", err)
		}
	}

	sess := &domain.Session{
		ID:             newID("sess_"),
		DeviceID:       deviceID,
		Module:         module,
		StartedAt:      now,
		LastActivityAt: now,
	}
	if err := repo.InsertSession(ctx, sess); err != nil {
		return nil, false, fmt.Errorf("create session: %w", err)
	}

	t.logger.Info("session started",
		"session_id", sess.ID, "device_id", deviceID, "module_slug", module)
	return sess, true, nil
}

// ShouldStartNewSession reports whether the boundary heuristic fires for
// the next utterance: idle timeout exceeded, module changed, or keyword
// overlap with the session's recent keywords below the similarity floor.
// Utterances with no extractable keywords never trigger a boundary alone.
func (t *Tracker) ShouldStartNewSession(sess *domain.Session, utterance string, now time.Time) bool {
	if sess == nil {
		return true
	}
	if sess.IdleSince(now) > t.opts.IdleTimeout {
		return true
	}

	keywords := ExtractKeywords(utterance)
	if len(keywords) == 0 || len(sess.RecentKeywords) == 0 {
		return false
	}
	return overlapRatio(sess.RecentKeywords, keywords) < t.opts.SimilarityFloor
}

// SessionForTurn resolves the session an utterance belongs to, superseding
// the current one when the boundary heuristic fires. The decision itself
// requires no network call.
func (t *Tracker) SessionForTurn(ctx context.Context, deviceID, module, utterance string) (*domain.Session, bool, error) {
	sess, started, err := t.StartOrResume(ctx, deviceID, module)
	if err != nil {
		return nil, false, err
	}
	if started || !t.ShouldStartNewSession(sess, utterance, t.opts.Now()) {
		return sess, started, nil
	}

	// Topic drifted: close the session and open a fresh one.
	repo := t.repoFor(deviceID)
	now := t.opts.Now()
	if err := t.endSession(ctx, repo, sess, now); err != nil {
		t.logger.Warn("failed to close drifted session",
			"session_id", sess.ID, "error", err)
	}

	fresh := &domain.Session{
		ID:             newID("sess_"),
		DeviceID:       deviceID,
		Module:         module,
		StartedAt:      now,
		LastActivityAt: now,
	}
	if err := repo.InsertSession(ctx, fresh); err != nil {
		return nil, false, fmt.Errorf("create session: %w", err)
	}
	t.logger.Info("session superseded on topic drift",
		"old_session_id", sess.ID, "session_id", fresh.ID, "device_id", deviceID)
	return fresh, true, nil
}

// RecordTurn persists one exchange and updates the session's activity,
// keyword set and message count.
func (t *Tracker) RecordTurn(ctx context.Context, sess *domain.Session, question, response string) error {
	repo := t.repoFor(sess.DeviceID)
	now := t.opts.Now()

	keywordsIn := ExtractKeywords(question)
	keywordsOut := ExtractKeywords(response)

	turn := &domain.Turn{
		ID:          newID("turn_"),
		SessionID:   sess.ID,
		Question:    question,
		Response:    response,
		KeywordsIn:  keywordsIn,
		KeywordsOut: keywordsOut,
		CreatedAt:   now,
	}
	if err := repo.InsertTurn(ctx, turn); err != nil {
		return fmt.Errorf("record turn: %w", err)
	}

	sess.LastActivityAt = now
	sess.MessageCount++
	if len(keywordsIn) > 0 {
		sess.RecentKeywords = keywordsIn
	}
	if err := repo.UpdateSessionActivity(ctx, sess.ID, now, sess.RecentKeywords, sess.MessageCount); err != nil {
		return fmt.Errorf("update session activity: %w", err)
	}

	if err := repo.UpsertDeviceActivity(ctx, &domain.DeviceActivity{
		DeviceID:      sess.DeviceID,
		LastModule:    sess.Module,
		LastSessionID: sess.ID,
		LastActiveAt:  now,
	}); err != nil {
		t.logger.Warn("failed to update device activity",
			"device_id", sess.DeviceID, "error", err)
	}
	return nil
}

// History returns the session's recent turns, oldest first.
func (t *Tracker) History(ctx context.Context, sess *domain.Session, limit int) ([]*domain.Turn, error) {
	return t.repoFor(sess.DeviceID).ListTurns(ctx, sess.ID, limit)
}

// endSession closes sess with a keyword summary. The summary is plain
// text; the successor session never holds a live reference to it.
func (t *Tracker) endSession(ctx context.Context, repo store.Repository, sess *domain.Session, now time.Time) error {
	summary := strings.Join(sess.RecentKeywords, ", ")
	return repo.EndSession(ctx, sess.ID, now, summary)
}

// Cleanup ends sessions idle longer than the configured timeout. Run
// periodically from a background worker.
func (t *Tracker) Cleanup(ctx context.Context) (int64, error) {
	n, err := t.repo.CleanupStaleSessions(ctx, t.opts.IdleTimeout)
	if err != nil {
		return n, err
	}
	m, err := t.ephemeral.CleanupStaleSessions(ctx, t.opts.IdleTimeout)
	return n + m, err
}
