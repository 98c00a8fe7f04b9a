package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/kalambet/fieldguide/internal/api"
	"github.com/kalambet/fieldguide/internal/chunker"
	"github.com/kalambet/fieldguide/internal/composer"
	"github.com/kalambet/fieldguide/internal/config"
	"github.com/kalambet/fieldguide/internal/ingest"
	"github.com/kalambet/fieldguide/internal/metrics"
	"github.com/kalambet/fieldguide/internal/pipeline"
	"github.com/kalambet/fieldguide/internal/provider"
	"github.com/kalambet/fieldguide/internal/retrieval"
	"github.com/kalambet/fieldguide/internal/session"
	"github.com/kalambet/fieldguide/internal/storage"
	"github.com/kalambet/fieldguide/internal/voice"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Index the corpus and serve the web UI and API (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _ := cmd.Flags().GetString("host")
		return runServer(host)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the protocol tools over MCP on stdin/stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func init() {
	startCmd.Flags().String("host", "127.0.0.1", "interface to listen on")
}

func setupLogging(level string, w io.Writer) {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})))
}

// app holds the components shared by the HTTP and MCP front ends.
type app struct {
	cfg        config.Config
	store      *storage.Store
	builder    *pipeline.Builder
	gate       *pipeline.IndexGate
	answerer   *pipeline.Answerer
	recognizer *voice.Recognizer
	metrics    *metrics.Metrics

	builds sync.WaitGroup
}

func newApp(cfg config.Config) (*app, error) {
	llm, err := provider.New(provider.Options{
		Name:               "llm",
		BaseURL:            cfg.LLM.BaseURL,
		APIKey:             cfg.LLM.APIKey,
		Model:              cfg.LLM.Model,
		TranscriptionModel: cfg.Voice.Model,
		Timeout:            cfg.LLM.TimeoutDuration(),
		MaxRetries:         cfg.LLM.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("creating LLM client: %w (set GROQ_API_KEY or run `fieldguide config secret llm.api_key <key>`)", err)
	}

	// A missing embedding key is reported through the index gate instead of
	// failing startup.
	var embedder retrieval.TextEmbedder
	embedClient, err := provider.New(provider.Options{
		Name:       "embedding",
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Timeout:    cfg.Embedding.TimeoutDuration(),
		MaxRetries: cfg.LLM.MaxRetries,
	})
	if err != nil {
		slog.Warn("embedding client unavailable, index build will fail", "error", err)
	} else {
		embedder = retrieval.NewEmbedder(embedClient, cfg.Embedding.BatchSize)
	}

	tmpl := ""
	if cfg.Prompt.TemplateFile != "" {
		if tmpl, err = composer.LoadTemplate(cfg.Prompt.TemplateFile); err != nil {
			return nil, err
		}
	}
	comp, err := composer.New(composer.Options{Role: cfg.Prompt.Role, Template: tmpl})
	if err != nil {
		return nil, err
	}

	splitter, err := chunker.New(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		return nil, err
	}

	// The index lives only as long as the process.
	store, err := storage.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	return &app{
		cfg:   cfg,
		store: store,
		builder: pipeline.NewBuilder(
			ingest.NewLoader(ingest.PDFExtractor{}),
			splitter,
			embedder,
			retrieval.NewSQLiteStore(store.DB()),
			store,
		),
		gate:       pipeline.NewIndexGate(),
		answerer:   pipeline.NewAnswerer(llm, comp, cfg.Retrieval.TopK, cfg.Retrieval.MinScore),
		recognizer: voice.NewRecognizer(llm, cfg.LLM.TimeoutDuration()),
		metrics:    metrics.New(),
	}, nil
}

// Close waits for a running index build, then closes storage.
func (a *app) Close() {
	a.builds.Wait()
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

// startBuild runs buildIndex in the background. Close joins it.
func (a *app) startBuild(ctx context.Context) {
	a.builds.Add(1)
	go func() {
		defer a.builds.Done()
		a.buildIndex(ctx)
	}()
}

// buildIndex runs the one-time ingestion and settles the gate.
func (a *app) buildIndex(ctx context.Context) {
	slog.Info("building index", "dir", a.cfg.Corpus.Dir)
	ix, report, err := a.builder.Build(ctx, a.cfg.Corpus.Dir)
	if err != nil && ctx.Err() != nil {
		slog.Info("index build canceled")
		a.gate.Fail(err, report)
		return
	}
	if err != nil {
		slog.Error("index build failed", "error", err)
		a.metrics.IndexFailed()
		a.gate.Fail(err, report)
		return
	}
	a.metrics.IndexBuilt(report.Chunks, report.Duration)
	a.gate.Resolve(ix, report)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runServer(host string) error {
	fmt.Fprintf(os.Stderr, "fieldguide version %s\n", version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level, os.Stderr)

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.startBuild(ctx)

	sessions := session.NewManager(session.Deps{
		Gate:       a.gate,
		Answerer:   a.answerer,
		Recognizer: a.recognizer,
		Metrics:    a.metrics,
	}, cfg.Session.IdleTimeoutDuration())
	go sessions.Run(ctx)

	handler := api.NewHandler(api.Deps{
		Sessions: sessions,
		Sources:  a.store,
		Metrics:  a.metrics,
		UI: api.UIOptions{
			ListenTimeout: cfg.Voice.ListenTimeoutDuration(),
			Calibration:   cfg.Voice.CalibrationDuration(),
		},
	})

	addr := net.JoinHostPort(host, fmt.Sprint(cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "fieldguide listening on http://%s\n", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runMCP() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// stdout carries the protocol.
	setupLogging(cfg.Log.Level, os.Stderr)

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.startBuild(ctx)

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Index:    api.GateIndex(a.gate),
		Answerer: a.answerer,
		Sources:  a.store,
		Metrics:  a.metrics,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	slog.Info("MCP server started (stdio transport)")
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}
