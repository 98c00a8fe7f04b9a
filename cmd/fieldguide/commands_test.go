package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/fieldguide/internal/api"
	"github.com/kalambet/fieldguide/internal/chunker"
	"github.com/kalambet/fieldguide/internal/composer"
	"github.com/kalambet/fieldguide/internal/retrieval"
	"github.com/kalambet/fieldguide/internal/session"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"session not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestAsk_CreatesAsksAndCloses(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/sessions":               `{"id":"s-1","state":"ready"}`,
		"POST /api/sessions/s-1/questions": `{"id":"a-1","question":"What to do during communications equipment failure?","answer":"Switch to backup.","shape":"protocol","references":[{"file":"manual.pdf","page":4,"text":"backup set","score":0.91}]}`,
		"DELETE /api/sessions/s-1":         ``,
	})

	rec, err := ask(ctx, ts.client(), api.AskRequest{Preset: "comms-failure"})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if rec.Shape != composer.ShapeProtocol || rec.Answer != "Switch to backup." {
		t.Errorf("record = %+v", rec)
	}
	if len(rec.References) != 1 || rec.References[0].Page != 4 {
		t.Errorf("References = %+v", rec.References)
	}

	if len(ts.requests) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(ts.requests))
	}
	if ts.requests[1].Body != `{"question":"","preset":"comms-failure"}` {
		t.Errorf("question body = %s", ts.requests[1].Body)
	}
	if ts.requests[2].Method != http.MethodDelete {
		t.Errorf("last request = %s %s, want DELETE", ts.requests[2].Method, ts.requests[2].Path)
	}
}

func TestAsk_ServerError(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/sessions": `{"id":"s-2"}`,
	})

	_, err := ask(ctx, ts.client(), api.AskRequest{Question: "fire"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "not_found") || !strings.Contains(err.Error(), "session not found") {
		t.Errorf("error = %q", err)
	}
}

func TestAskCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"ask"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for ask without question or preset")
	}
	if !strings.Contains(err.Error(), "--preset") {
		t.Errorf("error = %q", err)
	}
}

func TestPrintAnswer(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()
	noColor = true

	var buf bytes.Buffer
	printAnswer(&buf, session.AnswerRecord{
		Question: "Fire?",
		Answer:   "Evacuate upwind.",
		Shape:    composer.ShapeProtocol,
		Latency:  1234 * time.Millisecond,
		References: []retrieval.Hit{
			{Chunk: chunker.Chunk{File: "fire.pdf", Page: 2}, Score: 0.8},
		},
	})
	got := buf.String()
	for _, want := range []string{"Fire?", "Evacuate upwind.", "Response time: 1.23 seconds", "Reference Materials (1):", "Protocol Reference 1: fire.pdf, page 2 [score: 0.800]"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestStatusCommand_Running(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/status": `{"index":"ready","chunks":12,"files":2,"pages":6,"sessions":1}`,
	})
	var out bytes.Buffer
	oldDiag, oldColor := diag, noColor
	defer func() { diag, noColor = oldDiag, oldColor }()
	diag, noColor = &out, true

	if err := showStatus(ctx, ts.client()); err != nil {
		t.Fatalf("showStatus: %v", err)
	}
	if len(ts.requests) != 1 || ts.requests[0].Path != "/api/status" {
		t.Errorf("requests = %+v", ts.requests)
	}
	for _, want := range []string{"Index: ready", "2 files, 6 pages, 12 chunks", "Sessions: 1"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("status output missing %q:\n%s", want, out.String())
		}
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
	if err := showStatus(ctx, client); err != nil {
		t.Errorf("showStatus on stopped server returned %v, want nil", err)
	}
}

func TestNewAPIClient_ServerURLEnv(t *testing.T) {
	t.Setenv(serverURLEnv, "http://field-laptop:8484/")

	client, err := newAPIClient()
	if err != nil {
		t.Fatalf("newAPIClient: %v", err)
	}
	if client.baseURL != "http://field-laptop:8484" {
		t.Errorf("baseURL = %q, want trailing slash trimmed", client.baseURL)
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	rr := httptest.NewRecorder()
	rr.WriteHeader(http.StatusServiceUnavailable)
	rr.WriteString(`{"error":{"message":"index is still being built","type":"index_pending"}}`)

	var v map[string]any
	err := decodeJSON(rr.Result(), &v)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "index_pending") {
		t.Errorf("error = %q", err)
	}
}

func TestSetupLogging_Levels(t *testing.T) {
	var buf bytes.Buffer
	setupLogging("warn", &buf)
	t.Cleanup(func() { setupLogging("info", &bytes.Buffer{}) })

	logInfoAndWarn()
	out := buf.String()
	if strings.Contains(out, "info-line") {
		t.Errorf("info logged at warn level: %s", out)
	}
	if !strings.Contains(out, "warn-line") {
		t.Errorf("warn not logged: %s", out)
	}
}

func logInfoAndWarn() {
	slog.Info("info-line")
	slog.Warn("warn-line")
}
