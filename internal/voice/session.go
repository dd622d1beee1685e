package voice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vozlab/voz/internal/domain"
	"github.com/vozlab/voz/internal/model"
	"github.com/vozlab/voz/internal/orchestrator"
)

// Transcriber converts captured audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, deviceID, sessionID string) (string, error)
}

// Synthesizer renders reply text as playable audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (string, error)
}

// IntentClassifier resolves an utterance to an intent.
type IntentClassifier interface {
	Classify(ctx context.Context, utterance string) domain.ClassifiedIntent
}

// Router executes a classified intent.
type Router interface {
	Route(ctx context.Context, intent domain.ClassifiedIntent, rctx orchestrator.RouteContext) *domain.OrchestratorResult
}

// TurnTracker is the session-boundary and history dependency.
type TurnTracker interface {
	SessionForTurn(ctx context.Context, deviceID, module, utterance string) (*domain.Session, bool, error)
	RecordTurn(ctx context.Context, sess *domain.Session, question, response string) error
	History(ctx context.Context, sess *domain.Session, limit int) ([]*domain.Turn, error)
}

// Auditor records completed turns best-effort.
type Auditor interface {
	RecordTurn(deviceID, sessionID, agentSlug, question, response string)
}

// Transition is the typed notification emitted on every state change.
type Transition struct {
	From  State
	To    State
	Event Event
	At    time.Time
}

// TurnResult is delivered to observers when a processing turn finishes.
type TurnResult struct {
	SessionID    string
	AgentSlug    string
	Utterance    string
	ResponseText string
	AudioURL     string
	Sources      []string
	Err          string
}

// Observers fan out session notifications. All callbacks are advisory:
// they never gate transitions, and nil fields are skipped.
type Observers struct {
	OnTransition func(Transition)
	OnProgress   func(domain.ProgressEvent)
	OnWelcome    func(text, audioURL string)
	OnResult     func(TurnResult)
}

// Ports bundles the injected collaborators for a voice session.
type Ports struct {
	Transcriber Transcriber
	Synthesizer Synthesizer
	Classifier  IntentClassifier
	Router      Router
	Tracker     TurnTracker
	Auditor     Auditor
}

// SessionOptions tunes a single voice session.
type SessionOptions struct {
	// MaxRecording bounds a capture independent of server latency.
	MaxRecording time.Duration
	// Voice names the synthesis voice.
	Voice string
	// Module is the active assistant module slug.
	Module string
	// WelcomeText is played after start. Empty skips playback entirely
	// and the session moves straight to ready.
	WelcomeText string
	// HistoryTurns is how many prior turns feed generation.
	HistoryTurns int
}

const defaultHistoryTurns = 5

// Session is one device's voice lifecycle. All exported methods are safe
// for concurrent use; at most one turn is in flight at a time, enforced by
// the processing state.
type Session struct {
	deviceID string
	ports    Ports
	opts     SessionOptions
	obs      Observers
	logger   *slog.Logger

	mu          sync.Mutex
	state       State
	capture     []byte
	maxTimer    *time.Timer
	inflight    *turn
	currentSess *domain.Session
}

// turn is a handle for one in-flight processing pipeline, so a reset can
// cancel exactly the turn it saw.
type turn struct {
	cancel context.CancelFunc
}

// NewSession creates an idle voice session for a device.
func NewSession(deviceID string, ports Ports, opts SessionOptions, obs Observers, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxRecording <= 0 {
		opts.MaxRecording = 60 * time.Second
	}
	if opts.HistoryTurns <= 0 {
		opts.HistoryTurns = defaultHistoryTurns
	}
	return &Session{
		deviceID: deviceID,
		ports:    ports,
		opts:     opts,
		obs:      obs,
		logger:   logger.With("device_id", deviceID),
		state:    StateIdle,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Apply feeds one event into the state machine and runs its side effects.
// Invalid events for the current state are no-ops and return false.
func (s *Session) Apply(ctx context.Context, event Event) bool {
	s.mu.Lock()

	from := s.state
	next, ok := Next(from, event)
	if !ok {
		s.mu.Unlock()
		s.logger.Debug("event ignored", "state", from, "event", event)
		return false
	}
	s.state = next

	switch {
	case event == EventReset:
		s.cancelTurnLocked()
		s.capture = nil
		s.stopMaxTimerLocked()
		s.currentSess = nil
	case from == StateReady && next == StateRecording:
		s.capture = s.capture[:0]
		s.armMaxTimerLocked()
	case from == StateRecording && next == StateProcessing:
		s.stopMaxTimerLocked()
		audio := s.capture
		s.capture = nil
		turnCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		tn := &turn{cancel: cancel}
		s.inflight = tn
		go s.processTurn(turnCtx, tn, audio)
	case from == StateIdle && next == StatePlaying:
		go s.playWelcome(context.WithoutCancel(ctx))
	}

	s.mu.Unlock()
	s.notifyTransition(Transition{From: from, To: next, Event: event, At: time.Now().UTC()})
	return true
}

// Reset returns the session to idle from any state, cancelling in-flight
// work. A start immediately afterwards is always accepted.
func (s *Session) Reset() {
	s.Apply(context.Background(), EventReset)
}

// PushAudio appends captured audio. Frames outside the recording state
// are dropped.
func (s *Session) PushAudio(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording {
		return
	}
	s.capture = append(s.capture, frame...)
}

func (s *Session) armMaxTimerLocked() {
	s.stopMaxTimerLocked()
	s.maxTimer = time.AfterFunc(s.opts.MaxRecording, func() {
		s.Apply(context.Background(), EventMaxDuration)
	})
}

func (s *Session) stopMaxTimerLocked() {
	if s.maxTimer != nil {
		s.maxTimer.Stop()
		s.maxTimer = nil
	}
}

func (s *Session) cancelTurnLocked() {
	if s.inflight != nil {
		s.inflight.cancel()
		s.inflight = nil
	}
}

func (s *Session) notifyTransition(tr Transition) {
	if s.obs.OnTransition != nil {
		s.obs.OnTransition(tr)
	}
}

// playWelcome synthesizes the greeting after start. With no welcome text
// there is nothing to play, so the session advances straight to ready.
func (s *Session) playWelcome(ctx context.Context) {
	if s.opts.WelcomeText == "" {
		s.Apply(ctx, EventPlaybackEnded)
		return
	}
	audioURL := ""
	if s.ports.Synthesizer != nil {
		url, err := s.ports.Synthesizer.Synthesize(ctx, s.opts.WelcomeText, s.opts.Voice)
		if err != nil {
			s.logger.Warn("welcome synthesis failed", "error", err)
		} else {
			audioURL = url
		}
	}
	if s.obs.OnWelcome != nil {
		s.obs.OnWelcome(s.opts.WelcomeText, audioURL)
	}
}

// processTurn runs the full pipeline for one captured utterance. It ends
// by applying responseReceived or errorOccurred; both are no-ops if a
// reset already moved the session away from processing.
func (s *Session) processTurn(ctx context.Context, tn *turn, audio []byte) {
	defer func() {
		tn.cancel()
		s.mu.Lock()
		if s.inflight == tn {
			s.inflight = nil
		}
		s.mu.Unlock()
	}()

	fail := func(f *domain.Failure) {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("turn failed", "kind", f.Kind, "error", f.Err)
		if s.obs.OnResult != nil {
			s.obs.OnResult(TurnResult{Err: f.Message})
		}
		s.Apply(ctx, EventError)
	}

	text, err := s.ports.Transcriber.Transcribe(ctx, audio, s.deviceID, s.sessionID())
	if err != nil {
		fail(domain.NewFailure(domain.FailureInput,
			"Não entendi o áudio. Pode repetir?", err))
		return
	}

	sess, _, err := s.ports.Tracker.SessionForTurn(ctx, s.deviceID, s.opts.Module, text)
	if err != nil {
		fail(domain.NewFailure(domain.FailureProvider,
			"Tive um problema para continuar a conversa. Tente novamente.", err))
		return
	}
	s.setSession(sess)

	history := s.loadHistory(ctx, sess)
	intent := s.ports.Classifier.Classify(ctx, text)
	result := s.ports.Router.Route(ctx, intent, orchestrator.RouteContext{
		DeviceID:  s.deviceID,
		SessionID: sess.ID,
		History:   history,
		Observer:  s.obs.OnProgress,
	})
	if !result.Succeeded() {
		last := result.StageEvents[len(result.StageEvents)-1]
		fail(&domain.Failure{Kind: domain.FailureKind(last.Err), Message: last.Message})
		return
	}

	audioURL := ""
	if s.ports.Synthesizer != nil {
		url, synthErr := s.ports.Synthesizer.Synthesize(ctx, result.ResponseText, s.opts.Voice)
		if synthErr != nil {
			// Text still reaches the client; playback degrades to silence.
			s.logger.Warn("synthesis failed", "error", synthErr)
		} else {
			audioURL = url
		}
	}

	if err := s.ports.Tracker.RecordTurn(ctx, sess, text, result.ResponseText); err != nil {
		s.logger.Warn("turn not recorded", "session_id", sess.ID, "error", err)
	}
	if s.ports.Auditor != nil {
		s.ports.Auditor.RecordTurn(s.deviceID, sess.ID, result.AgentSlug, text, result.ResponseText)
	}

	if ctx.Err() != nil {
		return
	}
	if s.obs.OnResult != nil {
		s.obs.OnResult(TurnResult{
			SessionID:    sess.ID,
			AgentSlug:    result.AgentSlug,
			Utterance:    text,
			ResponseText: result.ResponseText,
			AudioURL:     audioURL,
			Sources:      result.Sources,
		})
	}
	s.Apply(ctx, EventResponseReceived)
}

func (s *Session) loadHistory(ctx context.Context, sess *domain.Session) []model.Message {
	turns, err := s.ports.Tracker.History(ctx, sess, s.opts.HistoryTurns)
	if err != nil {
		s.logger.Warn("history unavailable", "session_id", sess.ID, "error", err)
		return nil
	}
	history := make([]model.Message, 0, len(turns)*2)
	for _, turn := range turns {
		history = append(history,
			model.Message{Role: "user", Content: turn.Question},
			model.Message{Role: "assistant", Content: turn.Response})
	}
	return history
}

func (s *Session) setSession(sess *domain.Session) {
	s.mu.Lock()
	s.currentSess = sess
	s.mu.Unlock()
}

func (s *Session) sessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentSess != nil {
		return s.currentSess.ID
	}
	return ""
}
