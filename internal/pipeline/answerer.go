package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/fieldguide/internal/composer"
	"github.com/kalambet/fieldguide/internal/retrieval"
)

const defaultTopK = 4

// Searcher finds the chunks most similar to a question.
type Searcher interface {
	Search(ctx context.Context, question string, k int) ([]retrieval.Hit, error)
}

// ChatClient sends a prompt to the chat model.
type ChatClient interface {
	Chat(ctx context.Context, prompt string) (string, error)
}

// Answer is the result of one question.
type Answer struct {
	Text        string
	Shape       composer.Shape
	References  []retrieval.Hit
	ModelCalled bool
	Latency     time.Duration
}

// Answerer runs the query path: retrieve, filter, compose, generate.
type Answerer struct {
	chat     ChatClient
	composer *composer.Composer
	topK     int
	minScore float32
	logger   *slog.Logger
}

// NewAnswerer creates an Answerer. Hits scoring below minScore are discarded;
// if none remain the model is not called. topK <= 0 uses 4.
func NewAnswerer(chat ChatClient, comp *composer.Composer, topK int, minScore float64) *Answerer {
	if topK <= 0 {
		topK = defaultTopK
	}
	return &Answerer{
		chat:     chat,
		composer: comp,
		topK:     topK,
		minScore: float32(minScore),
		logger:   slog.Default(),
	}
}

// Answer answers question from the chunks index returns. Search failures
// wrap ErrRetrieval and model failures wrap ErrGeneration.
func (a *Answerer) Answer(ctx context.Context, index Searcher, question string) (ans Answer, err error) {
	start := time.Now()
	defer func() {
		ans.Latency = time.Since(start)
	}()

	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, ErrEmptyQuestion
	}

	hits, err := index.Search(ctx, question, a.topK)
	if err != nil {
		return Answer{}, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}
	var relevant []retrieval.Hit
	for _, h := range hits {
		if h.Score >= a.minScore {
			relevant = append(relevant, h)
		}
	}

	if len(relevant) == 0 {
		a.logger.Debug("no chunk above relevance floor", "hits", len(hits), "min_score", a.minScore)
		return Answer{Text: composer.NotAvailableMessage, Shape: composer.ShapeNotAvailable}, nil
	}

	prompt, used, err := a.composer.Compose(relevant, question)
	if err != nil {
		return Answer{}, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	if len(used) == 0 {
		a.logger.Warn("no relevant chunk fits the context budget", "relevant", len(relevant))
		return Answer{Text: composer.NotAvailableMessage, Shape: composer.ShapeNotAvailable}, nil
	}

	reply, err := a.chat.Chat(ctx, prompt)
	if err != nil {
		return Answer{}, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	shape, text := composer.Normalize(reply)
	if _, ok := composer.Classify(reply); !ok {
		a.logger.Warn("model reply matched no answer shape, using generic fallback", "reply_len", len(reply))
	}

	a.logger.Debug("question answered",
		"shape", shape,
		"chunks_used", len(used),
		"chunks_dropped", len(relevant)-len(used),
	)

	return Answer{
		Text:        text,
		Shape:       shape,
		References:  used,
		ModelCalled: true,
	}, nil
}
