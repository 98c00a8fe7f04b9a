package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/fieldguide/internal/metrics"
	"github.com/kalambet/fieldguide/internal/pipeline"
	"github.com/kalambet/fieldguide/internal/session"
	"github.com/kalambet/fieldguide/internal/storage"
	"github.com/kalambet/fieldguide/internal/voice"
)

const (
	maxRequestBodySize = 1 << 20  // 1MB
	maxAudioSize       = 10 << 20 // 10MB
)

// SourceLister reports per-file ingestion outcomes.
type SourceLister interface {
	ListSources() ([]storage.Source, error)
}

// Deps holds dependencies for the HTTP handler.
type Deps struct {
	Sessions *session.Manager
	Sources  SourceLister // optional
	Metrics  *metrics.Metrics
	UI       UIOptions
}

// NewHandler returns the router serving the web UI and the JSON API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/", handleIndex(deps.UI))
	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", handleStatus(deps))
		r.Get("/presets", handlePresets)
		r.Post("/sessions", handleCreateSession(deps))
		r.Get("/sessions/{id}", handleGetSession(deps))
		r.Delete("/sessions/{id}", handleDeleteSession(deps))
		r.Post("/sessions/{id}/questions", handleAsk(deps))
		r.Post("/sessions/{id}/voice", handleVoice(deps))
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Index    pipeline.IndexStatus `json:"index"`
	Chunks   int                  `json:"chunks"`
	Files    int                  `json:"files"`
	Pages    int                  `json:"pages"`
	Skipped  int                  `json:"skipped"`
	Error    string               `json:"error,omitempty"`
	Sessions int                  `json:"sessions"`
	Sources  []storage.Source     `json:"sources,omitempty"`
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gs := deps.Sessions.Gate().State()
		resp := StatusResponse{
			Index:    gs.Status,
			Chunks:   gs.Report.Chunks,
			Files:    gs.Report.Files,
			Pages:    gs.Report.Pages,
			Skipped:  len(gs.Report.Skipped),
			Sessions: deps.Sessions.Len(),
		}
		if gs.Err != nil {
			resp.Error = gs.Err.Error()
		}
		if deps.Sources != nil {
			srcs, err := deps.Sources.ListSources()
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "listing sources: %v", err)
				return
			}
			resp.Sources = srcs
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handlePresets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, session.Presets())
}

func handleCreateSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := deps.Sessions.Create()
		writeJSON(w, http.StatusCreated, s.Snapshot())
	}
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := deps.Sessions.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.Snapshot())
	}
}

func handleDeleteSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Sessions.Close(chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// AskRequest is the body of POST /api/sessions/{id}/questions. Exactly one
// of Question and Preset is set.
type AskRequest struct {
	Question string `json:"question"`
	Preset   string `json:"preset"`
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		s, err := deps.Sessions.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}

		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Question != "" && req.Preset != "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "set either question or preset, not both")
			return
		}

		var rec session.AnswerRecord
		if req.Preset != "" {
			rec, err = s.SubmitPreset(r.Context(), req.Preset)
		} else {
			rec, err = s.SubmitText(r.Context(), req.Question)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// VoiceResponse is the body of POST /api/sessions/{id}/voice. Answer is nil
// when the capture produced a placeholder instead of a question.
type VoiceResponse struct {
	Recognition voice.Result          `json:"recognition"`
	Answer      *session.AnswerRecord `json:"answer"`
}

func handleVoice(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxAudioSize)
		defer r.Body.Close()

		s, err := deps.Sessions.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}

		if err := r.ParseMultipartForm(maxAudioSize); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart body: %v", err)
			return
		}
		timedOut, _ := strconv.ParseBool(r.FormValue("timed_out"))
		capture := voice.Capture{TimedOut: timedOut}

		f, hdr, err := r.FormFile("audio")
		switch {
		case err == nil:
			defer f.Close()
			audio, err := io.ReadAll(f)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "reading audio: %v", err)
				return
			}
			capture.Audio = audio
			capture.Filename = hdr.Filename
		case errors.Is(err, http.ErrMissingFile):
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading audio: %v", err)
			return
		}

		res, rec, err := s.SubmitVoice(r.Context(), capture)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, VoiceResponse{Recognition: res, Answer: rec})
	}
}
