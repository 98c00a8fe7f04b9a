package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/fieldguide/internal/chunker"
	"github.com/kalambet/fieldguide/internal/composer"
	"github.com/kalambet/fieldguide/internal/pipeline"
	"github.com/kalambet/fieldguide/internal/retrieval"
	"github.com/kalambet/fieldguide/internal/storage"
	"github.com/kalambet/fieldguide/internal/voice"
)

var vocabulary = []string{"communications", "equipment", "failure", "fire", "ambush", "cold"}

// keywordEmbedder embeds text as keyword counts over a fixed vocabulary.
type keywordEmbedder struct{}

func (keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, len(vocabulary))
	lower := strings.ToLower(text)
	for i, w := range vocabulary {
		v[i] = float32(strings.Count(lower, w))
	}
	// Keeps every vector non-zero.
	v = append(v, 0.01)
	return v, nil
}

func (e keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

var corpus = []string{
	"Fire outbreak: evacuate upwind and fight the fire only with extinguishers.",
	"During communications equipment failure switch to the backup set, then use runners and hand signals.",
	"Ambush drill: return fire and move out of the kill zone.",
	"Cold injuries: keep dry and share body heat.",
}

func buildIndex(t *testing.T) *retrieval.Index {
	t.Helper()
	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	chunks := make([]chunker.Chunk, len(corpus))
	for i, text := range corpus {
		chunks[i] = chunker.Chunk{ID: chunker.ID("field-manual.pdf", i+1, 0), File: "field-manual.pdf", Page: i + 1, Text: text}
	}
	ix, err := retrieval.Build(context.Background(), chunks, keywordEmbedder{}, retrieval.NewSQLiteStore(st.DB()))
	if err != nil {
		t.Fatalf("retrieval.Build: %v", err)
	}
	return ix
}

// mockChat is a test double for pipeline.ChatClient.
type mockChat struct {
	chatFn func(ctx context.Context, prompt string) (string, error)
}

func (m *mockChat) Chat(ctx context.Context, prompt string) (string, error) {
	return m.chatFn(ctx, prompt)
}

const protocolReply = "**Step-by-Step Procedure:**\n1. Switch to the backup set.\n\n**Protocol Reference:** field-manual.pdf, page 2"

func newAnswerer(t *testing.T, chat pipeline.ChatClient) *pipeline.Answerer {
	t.Helper()
	comp, err := composer.New(composer.Options{})
	if err != nil {
		t.Fatalf("composer.New: %v", err)
	}
	return pipeline.NewAnswerer(chat, comp, 2, 0.1)
}

func readyGate(t *testing.T) *pipeline.IndexGate {
	t.Helper()
	g := pipeline.NewIndexGate()
	g.Resolve(buildIndex(t), pipeline.Report{Files: 1, Pages: len(corpus), Chunks: len(corpus)})
	return g
}

func newTestManager(t *testing.T, gate *pipeline.IndexGate, ans QuestionAnswerer) *Manager {
	t.Helper()
	return NewManager(Deps{
		Gate:       gate,
		Answerer:   ans,
		Recognizer: voice.NewRecognizer(nil, time.Second),
	}, time.Minute)
}

func TestSubmitPreset_SurfacesMatchingChunk(t *testing.T) {
	var prompt string
	chat := &mockChat{chatFn: func(_ context.Context, p string) (string, error) {
		prompt = p
		return protocolReply, nil
	}}
	m := newTestManager(t, readyGate(t), newAnswerer(t, chat))
	s := m.Create()

	rec, err := s.SubmitPreset(context.Background(), "comms-failure")
	if err != nil {
		t.Fatalf("SubmitPreset: %v", err)
	}
	if rec.Shape != composer.ShapeProtocol {
		t.Errorf("Shape = %q, want %q", rec.Shape, composer.ShapeProtocol)
	}
	if rec.Source != SourcePreset {
		t.Errorf("Source = %q, want %q", rec.Source, SourcePreset)
	}
	if len(rec.References) == 0 {
		t.Fatal("expected references")
	}
	if !strings.Contains(rec.References[0].Text, "communications equipment failure") {
		t.Errorf("top reference = %q, want the communications chunk", rec.References[0].Text)
	}
	if !strings.Contains(prompt, "[Source: field-manual.pdf, page 2]") {
		t.Errorf("prompt does not cite the matching chunk:\n%s", prompt)
	}

	snap := s.Snapshot()
	if snap.State != StateReady {
		t.Errorf("State = %s, want ready", snap.State)
	}
	if len(snap.History) != 1 || snap.History[0].ID != rec.ID {
		t.Errorf("History = %+v, want the one record", snap.History)
	}
	if len(snap.References) != len(rec.References) {
		t.Errorf("len(Snapshot.References) = %d, want %d", len(snap.References), len(rec.References))
	}
}

func TestSubmitPreset_Unknown(t *testing.T) {
	m := newTestManager(t, readyGate(t), newAnswerer(t, &mockChat{}))
	s := m.Create()

	if _, err := s.SubmitPreset(context.Background(), "does-not-exist"); !errors.Is(err, ErrUnknownPreset) {
		t.Errorf("error = %v, want ErrUnknownPreset", err)
	}
}

func TestSubmitText_HistoryOrdered(t *testing.T) {
	chat := &mockChat{chatFn: func(context.Context, string) (string, error) { return protocolReply, nil }}
	m := newTestManager(t, readyGate(t), newAnswerer(t, chat))
	s := m.Create()

	questions := []string{"fire in the camp", "ambush on the road", "cold night"}
	for _, q := range questions {
		if _, err := s.SubmitText(context.Background(), q); err != nil {
			t.Fatalf("SubmitText(%q): %v", q, err)
		}
	}

	snap := s.Snapshot()
	if len(snap.History) != len(questions) {
		t.Fatalf("len(History) = %d, want %d", len(snap.History), len(questions))
	}
	for i, q := range questions {
		if snap.History[i].Question != q {
			t.Errorf("History[%d].Question = %q, want %q", i, snap.History[i].Question, q)
		}
	}
}

func TestSubmitText_EmptyQuestion(t *testing.T) {
	m := newTestManager(t, readyGate(t), newAnswerer(t, &mockChat{}))
	s := m.Create()

	if _, err := s.SubmitText(context.Background(), "  \n"); !errors.Is(err, pipeline.ErrEmptyQuestion) {
		t.Errorf("error = %v, want ErrEmptyQuestion", err)
	}
	if got := s.Snapshot().State; got != StateReady {
		t.Errorf("State = %s, want ready", got)
	}
}

func TestSubmitText_IndexPending(t *testing.T) {
	m := newTestManager(t, pipeline.NewIndexGate(), newAnswerer(t, &mockChat{}))
	s := m.Create()

	if got := s.Snapshot().State; got != StateAwaitingIndex {
		t.Fatalf("State = %s, want awaiting_index", got)
	}
	if _, err := s.SubmitText(context.Background(), "fire"); !errors.Is(err, pipeline.ErrIndexPending) {
		t.Errorf("error = %v, want ErrIndexPending", err)
	}
}

func TestIndexFailure_HaltsSession(t *testing.T) {
	gate := pipeline.NewIndexGate()
	m := newTestManager(t, gate, newAnswerer(t, &mockChat{}))
	s := m.Create()

	buildErr := fmt.Errorf("%w: no PDF files found", pipeline.ErrIndexUnavailable)
	gate.Fail(buildErr, pipeline.Report{})

	snap := s.Snapshot()
	if snap.State != StateError || !snap.Halted {
		t.Errorf("State = %s halted = %v, want error and halted", snap.State, snap.Halted)
	}
	if !strings.Contains(snap.Banner, "no PDF files found") {
		t.Errorf("Banner = %q", snap.Banner)
	}
	if _, err := s.SubmitText(context.Background(), "fire"); !errors.Is(err, pipeline.ErrIndexUnavailable) {
		t.Errorf("error = %v, want ErrIndexUnavailable", err)
	}
	if got := s.Snapshot().State; got != StateError {
		t.Errorf("State after submit = %s, want error", got)
	}
}

func TestSubmitText_GenerationFailureRecovers(t *testing.T) {
	fail := true
	chat := &mockChat{chatFn: func(context.Context, string) (string, error) {
		if fail {
			return "", errors.New("upstream 503")
		}
		return protocolReply, nil
	}}
	m := newTestManager(t, readyGate(t), newAnswerer(t, chat))
	s := m.Create()

	if _, err := s.SubmitText(context.Background(), "fire"); !errors.Is(err, pipeline.ErrGeneration) {
		t.Fatalf("error = %v, want ErrGeneration", err)
	}
	snap := s.Snapshot()
	if snap.State != StateReady {
		t.Errorf("State = %s, want ready after error shown", snap.State)
	}
	if snap.LastError == "" {
		t.Error("LastError is empty after a failed question")
	}
	if len(snap.History) != 0 {
		t.Errorf("len(History) = %d, want 0", len(snap.History))
	}

	fail = false
	if _, err := s.SubmitText(context.Background(), "fire"); err != nil {
		t.Fatalf("second SubmitText: %v", err)
	}
	if s.Snapshot().LastError != "" {
		t.Error("LastError not cleared after a successful question")
	}
}

// blockingAnswerer holds every question until release is closed.
type blockingAnswerer struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingAnswerer) Answer(ctx context.Context, _ pipeline.Searcher, q string) (pipeline.Answer, error) {
	close(b.started)
	select {
	case <-b.release:
	case <-ctx.Done():
		return pipeline.Answer{}, ctx.Err()
	}
	return pipeline.Answer{Text: composer.NotAvailableMessage, Shape: composer.ShapeNotAvailable}, nil
}

type panickingAnswerer struct{ calls int }

func (p *panickingAnswerer) Answer(context.Context, pipeline.Searcher, string) (pipeline.Answer, error) {
	p.calls++
	if p.calls == 1 {
		panic("chat client bug")
	}
	return pipeline.Answer{Text: composer.NotAvailableMessage, Shape: composer.ShapeNotAvailable}, nil
}

func TestSubmitText_PanicReleasesSession(t *testing.T) {
	ans := &panickingAnswerer{}
	m := newTestManager(t, readyGate(t), ans)
	s := m.Create()

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Error("expected the panic to propagate")
			}
		}()
		s.SubmitText(context.Background(), "fire")
	}()

	snap := s.Snapshot()
	if snap.State != StateReady {
		t.Fatalf("State = %s after panic, want ready", snap.State)
	}
	if snap.LastError == "" {
		t.Error("LastError empty after panic")
	}
	if _, err := s.SubmitText(context.Background(), "fire"); err != nil {
		t.Fatalf("submit after panic: %v", err)
	}
	if n := len(s.Snapshot().History); n != 1 {
		t.Errorf("len(History) = %d, want 1", n)
	}
}

func TestSubmitText_BusyWhileInFlight(t *testing.T) {
	ans := &blockingAnswerer{started: make(chan struct{}), release: make(chan struct{})}
	m := newTestManager(t, readyGate(t), ans)
	s := m.Create()

	errc := make(chan error, 1)
	go func() {
		_, err := s.SubmitText(context.Background(), "fire")
		errc <- err
	}()
	<-ans.started

	if got := s.Snapshot().State; got != StateQueryInFlight {
		t.Errorf("State = %s, want query_in_flight", got)
	}
	if _, err := s.SubmitText(context.Background(), "ambush"); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent submit error = %v, want ErrBusy", err)
	}
	if _, err := s.SubmitPreset(context.Background(), "fire-hazard"); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent preset error = %v, want ErrBusy", err)
	}

	close(ans.release)
	if err := <-errc; err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if n := len(s.Snapshot().History); n != 1 {
		t.Errorf("len(History) = %d, want 1", n)
	}
}

func TestSubmitVoice_TimeoutLeavesSessionReady(t *testing.T) {
	m := newTestManager(t, readyGate(t), newAnswerer(t, &mockChat{}))
	s := m.Create()

	res, rec, err := s.SubmitVoice(context.Background(), voice.Capture{TimedOut: true})
	if err != nil {
		t.Fatalf("SubmitVoice: %v", err)
	}
	if rec != nil {
		t.Errorf("record = %+v, want nil", rec)
	}
	if res.Recognized || res.Text != voice.NoSpeech {
		t.Errorf("result = %+v, want %q placeholder", res, voice.NoSpeech)
	}
	snap := s.Snapshot()
	if snap.State != StateReady {
		t.Errorf("State = %s, want ready", snap.State)
	}
	if len(snap.History) != 0 {
		t.Errorf("len(History) = %d, want 0", len(snap.History))
	}
}

// stubRecognizer returns a fixed result.
type stubRecognizer struct {
	result voice.Result
}

func (s stubRecognizer) Recognize(context.Context, voice.Capture) voice.Result {
	return s.result
}

func TestSubmitVoice_RecognizedQuestionIsAsked(t *testing.T) {
	chat := &mockChat{chatFn: func(context.Context, string) (string, error) { return protocolReply, nil }}
	m := NewManager(Deps{
		Gate:       readyGate(t),
		Answerer:   newAnswerer(t, chat),
		Recognizer: stubRecognizer{voice.Result{Text: "what about communications equipment failure", Recognized: true, Outcome: voice.Recognized}},
	}, time.Minute)
	s := m.Create()

	_, rec, err := s.SubmitVoice(context.Background(), voice.Capture{Audio: []byte("RIFF")})
	if err != nil {
		t.Fatalf("SubmitVoice: %v", err)
	}
	if rec == nil {
		t.Fatal("record is nil for a recognized question")
	}
	if rec.Source != SourceVoice {
		t.Errorf("Source = %q, want voice", rec.Source)
	}
}
