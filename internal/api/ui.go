package api

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/kalambet/fieldguide/internal/session"
)

//go:embed web/index.html
var webFS embed.FS

var indexTmpl = template.Must(template.ParseFS(webFS, "web/index.html"))

// UIOptions configures the browser client.
type UIOptions struct {
	Title string
	// ListenTimeout is how long push-to-talk waits for speech to start.
	ListenTimeout time.Duration
	// Calibration is the ambient-noise sampling window before listening.
	Calibration time.Duration
}

type indexData struct {
	Title           string
	ListenTimeoutMS int64
	CalibrationMS   int64
	Presets         []session.Preset
}

func handleIndex(opts UIOptions) http.HandlerFunc {
	data := indexData{
		Title:           opts.Title,
		ListenTimeoutMS: opts.ListenTimeout.Milliseconds(),
		CalibrationMS:   opts.Calibration.Milliseconds(),
		Presets:         session.Presets(),
	}
	if data.Title == "" {
		data.Title = "Military Protocol Assistant"
	}
	if data.ListenTimeoutMS <= 0 {
		data.ListenTimeoutMS = 5000
	}
	if data.CalibrationMS <= 0 {
		data.CalibrationMS = 2000
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := indexTmpl.Execute(&buf, data); err != nil {
			slog.Error("rendering index page", "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "rendering page")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(buf.Bytes())
	}
}
