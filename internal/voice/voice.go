// Package voice turns a recorded audio clip into a question string.
//
// Capture problems never surface as errors: every failure maps to one of a
// fixed set of placeholder strings that the caller shows in place of a
// question.
package voice

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Placeholder texts returned instead of a transcript.
const (
	NoSpeech           = "No speech detected"
	ServiceUnavailable = "Could not connect to speech recognition service"
	NotUnderstood      = "Could not understand the audio"
)

// Outcome classifies a recognition attempt.
type Outcome string

const (
	Recognized      Outcome = "recognized"
	OutcomeNoSpeech Outcome = "no_speech"
	OutcomeService  Outcome = "service_error"
	OutcomeGarbled  Outcome = "not_understood"
)

// Transcriber converts audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}

// Capture is one push-to-talk recording from the client.
type Capture struct {
	Audio    []byte
	Filename string
	// TimedOut is set by the client when its listen window elapsed before
	// any speech started.
	TimedOut bool
}

// Result is either a recognized question or a placeholder.
type Result struct {
	Text       string  `json:"text"`
	Recognized bool    `json:"recognized"`
	Outcome    Outcome `json:"outcome"`
}

// Recognizer wraps a Transcriber with placeholder mapping.
type Recognizer struct {
	transcriber Transcriber
	timeout     time.Duration
	logger      *slog.Logger
}

// NewRecognizer creates a Recognizer. A nil transcriber makes every capture
// report ServiceUnavailable. timeout bounds each transcription call.
func NewRecognizer(t Transcriber, timeout time.Duration) *Recognizer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Recognizer{transcriber: t, timeout: timeout, logger: slog.Default()}
}

// Recognize transcribes c.
func (r *Recognizer) Recognize(ctx context.Context, c Capture) Result {
	if c.TimedOut || len(c.Audio) == 0 {
		return placeholder(OutcomeNoSpeech)
	}
	if r.transcriber == nil {
		return placeholder(OutcomeService)
	}

	filename := c.Filename
	if filename == "" {
		filename = "capture.webm"
	}

	tctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	text, err := r.transcriber.Transcribe(tctx, bytes.NewReader(c.Audio), filename)
	if err != nil {
		r.logger.Warn("speech transcription failed", "error", err, "bytes", len(c.Audio))
		return placeholder(OutcomeService)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return placeholder(OutcomeGarbled)
	}
	return Result{Text: text, Recognized: true, Outcome: Recognized}
}

// IsPlaceholder reports whether text is one of the fixed placeholder strings.
func IsPlaceholder(text string) bool {
	switch text {
	case NoSpeech, ServiceUnavailable, NotUnderstood:
		return true
	}
	return false
}

func placeholder(o Outcome) Result {
	var text string
	switch o {
	case OutcomeNoSpeech:
		text = NoSpeech
	case OutcomeService:
		text = ServiceUnavailable
	default:
		text = NotUnderstood
	}
	return Result{Text: text, Outcome: o}
}
