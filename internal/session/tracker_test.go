package session

import (
	"context"
	"testing"
	"time"

	"github.com/vozlab/voz/internal/domain"
	"github.com/vozlab/voz/internal/store"
)

func newTestTracker(t *testing.T, now time.Time) *Tracker {
	t.Helper()
	return NewTracker(store.NewMemory(), Options{
		IdleTimeout:     10 * time.Minute,
		SimilarityFloor: 0.30,
		Now:             func() time.Time { return now },
	}, nil)
}

func TestStartOrResumeCreatesSession(t *testing.T) {
	now := time.Now()
	tr := newTestTracker(t, now)

	sess, started, err := tr.StartOrResume(context.Background(), "dev_1", "health")
	if err != nil {
		t.Fatalf("StartOrResume failed: %v", err)
	}
	if !started {
		t.Error("Expected new session on first contact")
	}
	if sess.Module != "health" {
		t.Errorf("Expected module health, got %s", sess.Module)
	}

	again, started, err := tr.StartOrResume(context.Background(), "dev_1", "health")
	if err != nil {
		t.Fatalf("StartOrResume failed: %v", err)
	}
	if started {
		t.Error("Expected resume, not new session")
	}
	if again.ID != sess.ID {
		t.Errorf("Expected same session %s, got %s", sess.ID, again.ID)
	}
}

func TestStartOrResumeModuleSwitchStartsNewSession(t *testing.T) {
	now := time.Now()
	tr := newTestTracker(t, now)
	ctx := context.Background()

	first, _, err := tr.StartOrResume(ctx, "dev_1", "health")
	if err != nil {
		t.Fatalf("StartOrResume failed: %v", err)
	}

	second, started, err := tr.StartOrResume(ctx, "dev_1", "city")
	if err != nil {
		t.Fatalf("StartOrResume failed: %v", err)
	}
	if !started {
		t.Error("Expected new session on module switch")
	}
	if second.ID == first.ID {
		t.Error("Expected a fresh session ID")
	}
}

func TestShouldStartNewSessionIdleTimeout(t *testing.T) {
	now := time.Now()
	tr := newTestTracker(t, now)

	sess := &domain.Session{
		Module:         "health",
		LastActivityAt: now.Add(-11 * time.Minute),
		RecentKeywords: []string{"pressão", "arterial"},
	}
	// Idle boundary fires regardless of keyword overlap.
	if !tr.ShouldStartNewSession(sess, "pressão arterial", now) {
		t.Error("Expected boundary after 11 minutes idle")
	}
}

func TestShouldStartNewSessionKeywordOverlap(t *testing.T) {
	now := time.Now()
	tr := newTestTracker(t, now)

	sess := &domain.Session{
		Module:         "health",
		LastActivityAt: now.Add(-time.Minute),
		RecentKeywords: []string{"pressão", "cardiaco"},
	}
	// Overlap {pressão} over union of 3 ≈ 33%, above the 30% floor.
	if tr.ShouldStartNewSession(sess, "pressão arterial", now) {
		t.Error("33%% overlap should not trigger a boundary")
	}

	sess.RecentKeywords = []string{"dieta", "peso"}
	// Zero overlap over union of 4 → boundary.
	if !tr.ShouldStartNewSession(sess, "pressão arterial", now) {
		t.Error("0%% overlap should trigger a boundary")
	}
}

func TestShouldStartNewSessionEmptyUtterance(t *testing.T) {
	now := time.Now()
	tr := newTestTracker(t, now)

	sess := &domain.Session{
		Module:         "health",
		LastActivityAt: now.Add(-time.Minute),
		RecentKeywords: []string{"dieta", "peso"},
	}
	// Stop words only: no extractable keywords, always similar.
	if tr.ShouldStartNewSession(sess, "o que e a de", now) {
		t.Error("Empty keyword utterance must not trigger a boundary")
	}
}

func TestSessionForTurnSupersedesOnDrift(t *testing.T) {
	now := time.Now()
	tr := newTestTracker(t, now)
	ctx := context.Background()

	first, _, err := tr.SessionForTurn(ctx, "dev_1", "health", "dieta e peso ideal")
	if err != nil {
		t.Fatalf("SessionForTurn failed: %v", err)
	}
	if err := tr.RecordTurn(ctx, first, "dieta e peso ideal", "resposta sobre dieta"); err != nil {
		t.Fatalf("RecordTurn failed: %v", err)
	}

	second, started, err := tr.SessionForTurn(ctx, "dev_1", "health", "pressão arterial alta")
	if err != nil {
		t.Fatalf("SessionForTurn failed: %v", err)
	}
	if !started {
		t.Error("Expected boundary on topic drift")
	}
	if second.ID == first.ID {
		t.Error("Expected a fresh session after drift")
	}
}

func TestRecordTurnUpdatesSession(t *testing.T) {
	now := time.Now()
	tr := newTestTracker(t, now)
	ctx := context.Background()

	sess, _, err := tr.StartOrResume(ctx, "dev_1", "health")
	if err != nil {
		t.Fatalf("StartOrResume failed: %v", err)
	}
	if err := tr.RecordTurn(ctx, sess, "pressão arterial", "resposta"); err != nil {
		t.Fatalf("RecordTurn failed: %v", err)
	}

	if sess.MessageCount != 1 {
		t.Errorf("Expected message count 1, got %d", sess.MessageCount)
	}
	if len(sess.RecentKeywords) == 0 {
		t.Error("Expected keywords recorded on session")
	}

	history, err := tr.History(ctx, sess, 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 || history[0].Question != "pressão arterial" {
		t.Errorf("Unexpected history: %v", history)
	}
}

func TestEphemeralDevicesStayInMemory(t *testing.T) {
	now := time.Now()
	repo := store.NewMemory()
	tr := NewTracker(repo, Options{Now: func() time.Time { return now }}, nil)
	ctx := context.Background()

	sess, _, err := tr.StartOrResume(ctx, "tab_0123", "health")
	if err != nil {
		t.Fatalf("StartOrResume failed: %v", err)
	}
	if sess == nil {
		t.Fatal("Expected session for ephemeral device")
	}

	// The durable repository must not see ephemeral sessions.
	durable, err := repo.GetActiveSession(ctx, "tab_0123")
	if err != nil {
		t.Fatalf("GetActiveSession failed: %v", err)
	}
	if durable != nil {
		t.Error("Ephemeral session leaked into the durable store")
	}
}

func TestExtractKeywords(t *testing.T) {
	got := ExtractKeywords("Qual é a pressão arterial ideal? Pressão!")
	want := map[string]bool{"pressão": true, "arterial": true, "ideal": true}
	for _, kw := range got {
		if !want[kw] {
			t.Errorf("Unexpected keyword %q in %v", kw, got)
		}
	}
	if len(got) != 3 {
		t.Errorf("Expected 3 keywords, got %v", got)
	}
	// Frequency ranking: pressão appears twice, so it comes first.
	if got[0] != "pressão" {
		t.Errorf("Expected pressão ranked first, got %v", got)
	}
}

func TestOverlapRatio(t *testing.T) {
	cases := []struct {
		a, b []string
		want float64
	}{
		{[]string{"pressão", "arterial"}, []string{"pressão", "cardiaco"}, 1.0 / 3.0},
		{[]string{"dieta", "peso"}, []string{"pressão", "arterial"}, 0},
		{[]string{"a"}, []string{"a"}, 1},
		{nil, []string{"a"}, 1},
		{[]string{"a"}, nil, 1},
	}
	for _, tc := range cases {
		if got := overlapRatio(tc.a, tc.b); got != tc.want {
			t.Errorf("overlapRatio(%v, %v) = %f, want %f", tc.a, tc.b, got, tc.want)
		}
	}
}
