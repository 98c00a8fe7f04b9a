package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Corpus    CorpusConfig
	Chunking  ChunkingConfig
	Retrieval RetrievalConfig
	LLM       LLMConfig
	Embedding EmbeddingConfig
	Voice     VoiceConfig
	Session   SessionConfig
	Prompt    PromptConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port     int
	MaxConns int
}

type CorpusConfig struct {
	Dir string
}

type ChunkingConfig struct {
	Size    int
	Overlap int
}

type RetrievalConfig struct {
	TopK     int
	MinScore float64
}

type LLMConfig struct {
	BaseURL    string
	Model      string
	APIKey     string
	Timeout    string
	MaxRetries int
}

type EmbeddingConfig struct {
	BaseURL   string
	Model     string
	APIKey    string
	BatchSize int
	Timeout   string
}

type VoiceConfig struct {
	Model         string
	ListenTimeout string
	Calibration   string
}

type SessionConfig struct {
	IdleTimeout string
}

type PromptConfig struct {
	Role         string
	TemplateFile string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:     8501,
			MaxConns: 64,
		},
		Corpus: CorpusConfig{
			Dir: "./Data",
		},
		Chunking: ChunkingConfig{
			Size:    1000,
			Overlap: 200,
		},
		Retrieval: RetrievalConfig{
			TopK:     4,
			MinScore: 0.3,
		},
		LLM: LLMConfig{
			BaseURL:    "https://api.groq.com/openai/v1",
			Model:      "llama-3.3-70b-versatile",
			Timeout:    "60s",
			MaxRetries: 3,
		},
		Embedding: EmbeddingConfig{
			BaseURL:   "https://generativelanguage.googleapis.com/v1beta/openai/",
			Model:     "text-embedding-004",
			BatchSize: 32,
			Timeout:   "30s",
		},
		Voice: VoiceConfig{
			Model:         "whisper-large-v3",
			ListenTimeout: "5s",
			Calibration:   "2s",
		},
		Session: SessionConfig{
			IdleTimeout: "30m",
		},
		Prompt: PromptConfig{
			Role: "Military Emergency Protocol Assistant",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend, a .env file in the
// working directory, environment variables, and the local secrets file.
//
// The backend file lives at $XDG_CONFIG_HOME/fieldguide/config.json.
// Variables from .env never override variables already present in the
// process environment. FIELDGUIDE_* variables override backend values;
// credentials are read from GROQ_API_KEY and GOOGLE_API_KEY.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), secretsReader{}, ".env")
}

// secrets abstracts the local secrets store for testing.
type secrets interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, sec secrets, envFile string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "[WARN] could not load env file %s: %v\n", envFile, err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.LLM.APIKey == "" {
		if key, err := sec.Get(appName, "groq_api_key"); err == nil && key != "" {
			cfg.LLM.APIKey = key
		}
	}
	if cfg.Embedding.APIKey == "" {
		if key, err := sec.Get(appName, "google_api_key"); err == nil && key != "" {
			cfg.Embedding.APIKey = key
		}
	}

	return cfg, nil
}

// Validate reports settings that make the server impossible to start.
// Missing credentials are not checked here: the LLM client and the index
// build report them in their own terms.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Chunking.Size <= 0 {
		errs = append(errs, fmt.Errorf("chunking.size must be positive, got %d", c.Chunking.Size))
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		errs = append(errs, fmt.Errorf("chunking.overlap must be in [0, %d), got %d", c.Chunking.Size, c.Chunking.Overlap))
	}
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK))
	}
	if c.Corpus.Dir == "" {
		errs = append(errs, errors.New("corpus.dir is empty"))
	}
	return errors.Join(errs...)
}

// Duration parses a duration-valued key, falling back to def with a warning
// when the stored value is empty or malformed.
func Duration(key, raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from config key %s=%q. Using %s.\n", key, raw, def)
		return def
	}
	return d
}

func (c LLMConfig) TimeoutDuration() time.Duration {
	return Duration("llm.timeout", c.Timeout, 60*time.Second)
}

func (c EmbeddingConfig) TimeoutDuration() time.Duration {
	return Duration("embedding.timeout", c.Timeout, 30*time.Second)
}

func (c VoiceConfig) ListenTimeoutDuration() time.Duration {
	return Duration("voice.listen_timeout", c.ListenTimeout, 5*time.Second)
}

func (c VoiceConfig) CalibrationDuration() time.Duration {
	return Duration("voice.calibration", c.Calibration, 2*time.Second)
}

func (c SessionConfig) IdleTimeoutDuration() time.Duration {
	return Duration("session.idle_timeout", c.IdleTimeout, 30*time.Minute)
}

// secretsReader reads credentials from the local secrets file.
type secretsReader struct{}

func (secretsReader) Get(service, account string) (string, error) {
	out, err := secretsGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
