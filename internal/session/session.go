package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/fieldguide/internal/composer"
	"github.com/kalambet/fieldguide/internal/pipeline"
	"github.com/kalambet/fieldguide/internal/retrieval"
	"github.com/kalambet/fieldguide/internal/voice"
)

var (
	// ErrBusy is returned when a question arrives while another is in flight.
	ErrBusy = errors.New("a question is already in flight")

	// ErrSessionNotFound is returned for unknown or expired session IDs.
	ErrSessionNotFound = errors.New("session not found")

	// ErrUnknownPreset is returned for a preset ID that does not exist.
	ErrUnknownPreset = errors.New("unknown preset")

	errAnswerAborted = errors.New("answering aborted unexpectedly")
)

// Source records how a question was entered.
type Source string

const (
	SourceText   Source = "text"
	SourcePreset Source = "preset"
	SourceVoice  Source = "voice"
)

// AnswerRecord is one question and its answer in a session history.
type AnswerRecord struct {
	ID         string          `json:"id"`
	Question   string          `json:"question"`
	Source     Source          `json:"source"`
	Answer     string          `json:"answer"`
	Shape      composer.Shape  `json:"shape"`
	References []retrieval.Hit `json:"references,omitempty"`
	Latency    time.Duration   `json:"latency"`
	AskedAt    time.Time       `json:"asked_at"`
}

// Snapshot is a read-only view of a session. References are those of the
// most recent answer.
type Snapshot struct {
	ID          string               `json:"id"`
	State       State                `json:"state"`
	Halted      bool                 `json:"halted"`
	IndexStatus pipeline.IndexStatus `json:"index_status"`
	Banner      string               `json:"banner,omitempty"`
	LastError   string               `json:"last_error,omitempty"`
	History     []AnswerRecord       `json:"history"`
	References  []retrieval.Hit      `json:"references,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	LastActive  time.Time            `json:"last_active"`
}

// QuestionAnswerer runs one question against an index.
type QuestionAnswerer interface {
	Answer(ctx context.Context, index pipeline.Searcher, question string) (pipeline.Answer, error)
}

// VoiceRecognizer turns a capture into a question or a placeholder.
type VoiceRecognizer interface {
	Recognize(ctx context.Context, c voice.Capture) voice.Result
}

// Session is one user's conversation. Questions within a session are
// serialized; sessions share the index read-only.
type Session struct {
	mu         sync.Mutex
	id         string
	state      State
	halted     bool
	history    []AnswerRecord
	lastErr    error
	createdAt  time.Time
	lastActive time.Time
	deps       *Deps
	logger     *slog.Logger
}

func newSession(d *Deps, now time.Time) *Session {
	s := &Session{
		id:         uuid.New().String(),
		state:      StateIdle,
		createdAt:  now,
		lastActive: now,
		deps:       d,
	}
	s.logger = slog.Default().With("session", s.id)
	s.fire(EventStart)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// fire applies e. Callers hold s.mu.
func (s *Session) fire(e Event) {
	next, err := Next(s.state, e)
	if err != nil {
		s.logger.Error("dropping event", "error", err)
		return
	}
	s.logger.Debug("state change", "from", s.state, "to", next, "event", e)
	s.state = next
}

// syncIndex moves a session out of awaiting_index once the gate settles.
// Callers hold s.mu.
func (s *Session) syncIndex() pipeline.GateState {
	gs := s.deps.Gate.State()
	if s.state != StateAwaitingIndex {
		return gs
	}
	switch gs.Status {
	case pipeline.IndexReady:
		s.fire(EventIndexReady)
	case pipeline.IndexFailed:
		s.fire(EventIndexFail)
		s.halted = true
		s.lastErr = gs.Err
	}
	return gs
}

func (s *Session) touch() {
	s.lastActive = s.deps.now()
}

// Snapshot returns the current state and history.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	gs := s.syncIndex()

	snap := Snapshot{
		ID:          s.id,
		State:       s.state,
		Halted:      s.halted,
		IndexStatus: gs.Status,
		History:     make([]AnswerRecord, len(s.history)),
		CreatedAt:   s.createdAt,
		LastActive:  s.lastActive,
	}
	copy(snap.History, s.history)
	if n := len(s.history); n > 0 {
		snap.References = s.history[n-1].References
	}
	if s.halted && gs.Err != nil {
		snap.Banner = gs.Err.Error()
	}
	if s.lastErr != nil && !s.halted {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}

// SubmitText asks a typed question.
func (s *Session) SubmitText(ctx context.Context, question string) (AnswerRecord, error) {
	return s.ask(ctx, question, SourceText)
}

// SubmitPreset asks the question behind a preset button.
func (s *Session) SubmitPreset(ctx context.Context, id string) (AnswerRecord, error) {
	p, ok := LookupPreset(id)
	if !ok {
		return AnswerRecord{}, ErrUnknownPreset
	}
	return s.ask(ctx, p.Question, SourcePreset)
}

// SubmitVoice recognizes a capture and, when it yields a question, asks it.
// A placeholder result leaves the session state unchanged and returns a nil
// record.
func (s *Session) SubmitVoice(ctx context.Context, c voice.Capture) (voice.Result, *AnswerRecord, error) {
	s.mu.Lock()
	s.touch()
	s.mu.Unlock()

	res := s.deps.Recognizer.Recognize(ctx, c)
	s.deps.Metrics.VoiceCapture(string(res.Outcome))
	if !res.Recognized {
		s.logger.Info("voice capture produced no question", "outcome", res.Outcome)
		return res, nil, nil
	}

	rec, err := s.ask(ctx, res.Text, SourceVoice)
	if err != nil {
		return res, nil, err
	}
	return res, &rec, nil
}

func (s *Session) ask(ctx context.Context, question string, src Source) (AnswerRecord, error) {
	s.mu.Lock()
	s.touch()
	gs := s.syncIndex()

	switch s.state {
	case StateAwaitingIndex:
		s.mu.Unlock()
		return AnswerRecord{}, pipeline.ErrIndexPending
	case StateQueryInFlight, StateDisplaying:
		s.mu.Unlock()
		return AnswerRecord{}, ErrBusy
	case StateError:
		s.mu.Unlock()
		if gs.Err != nil {
			return AnswerRecord{}, gs.Err
		}
		return AnswerRecord{}, pipeline.ErrIndexUnavailable
	}
	if strings.TrimSpace(question) == "" {
		s.mu.Unlock()
		return AnswerRecord{}, pipeline.ErrEmptyQuestion
	}

	s.fire(EventQuestion)
	s.mu.Unlock()

	askedAt := s.deps.now()
	finished := false
	defer func() {
		if finished {
			return
		}
		// Answer panicked; release the session before the panic unwinds.
		s.mu.Lock()
		defer s.mu.Unlock()
		s.fire(EventFailed)
		s.lastErr = errAnswerAborted
		s.deps.Metrics.QueryFailed("aborted")
		s.fire(EventErrorShown)
	}()
	ans, err := s.deps.Answerer.Answer(ctx, gs.Index, question)
	finished = true

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if err != nil {
		s.fire(EventFailed)
		s.lastErr = err
		s.deps.Metrics.QueryFailed(failureKind(err))
		s.logger.Warn("question failed", "source", src, "error", err)
		// The caller renders the error with its response.
		s.fire(EventErrorShown)
		return AnswerRecord{}, err
	}

	s.fire(EventAnswered)
	rec := AnswerRecord{
		ID:         uuid.New().String(),
		Question:   question,
		Source:     src,
		Answer:     ans.Text,
		Shape:      ans.Shape,
		References: ans.References,
		Latency:    ans.Latency,
		AskedAt:    askedAt,
	}
	s.history = append(s.history, rec)
	s.lastErr = nil
	s.deps.Metrics.ObserveQuery(string(src), string(ans.Shape), ans.Latency)
	s.logger.Info("question answered",
		"source", src,
		"shape", ans.Shape,
		"model_called", ans.ModelCalled,
		"latency", ans.Latency,
	)
	s.fire(EventRendered)
	return rec, nil
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, pipeline.ErrRetrieval):
		return "retrieval"
	case errors.Is(err, pipeline.ErrGeneration):
		return "generation"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
