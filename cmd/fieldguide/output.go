package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kalambet/fieldguide/internal/composer"
	"github.com/kalambet/fieldguide/internal/session"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// diag receives status lines and diagnostics. Answers go to stdout.
var diag io.Writer = os.Stderr

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printLine(color, glyph, format string, args ...any) {
	fmt.Fprintln(diag, colorize(color, glyph+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { printLine(colorGreen, "✓", format, args...) }
func printError(format string, args ...any)   { printLine(colorRed, "✗", format, args...) }
func printWarning(format string, args ...any) { printLine(colorYellow, "⚠", format, args...) }

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(diag, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

// shapeColor picks the header color for an answer: green for a protocol,
// yellow for either fallback.
func shapeColor(s composer.Shape) string {
	if s == composer.ShapeProtocol {
		return colorGreen
	}
	return colorYellow
}

func printAnswer(w io.Writer, rec session.AnswerRecord) {
	fmt.Fprintf(w, "%s\n\n%s\n", colorize(colorBold+shapeColor(rec.Shape), rec.Question), rec.Answer)
	if rec.Latency > 0 {
		fmt.Fprintf(w, "\nResponse time: %.2f seconds\n", rec.Latency.Round(10*time.Millisecond).Seconds())
	}
	if len(rec.References) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s\n", colorize(colorCyan, fmt.Sprintf("Reference Materials (%d):", len(rec.References))))
	for i, h := range rec.References {
		fmt.Fprintf(w, "  Protocol Reference %d: %s, page %d [score: %.3f]\n", i+1, h.File, h.Page, h.Score)
	}
}
