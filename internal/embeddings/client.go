package embeddings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/mediarag/internal/apperr"
)

const (
	defaultBatchSize   = 32
	maxConcurrentCalls = 4
)

// Embedding is the vector for one input text.
type Embedding struct {
	// Index is the position of Text in the caller's input.
	Index  int       `json:"index"`
	Text   string    `json:"text"`
	Vector []float32 `json:"embedding"`
}

// Client validates input and dispatches it to a Provider.
type Client struct {
	provider  Provider
	batchSize int
	metrics   *Metrics
	logger    *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBatchSize caps the number of texts per provider call.
func WithBatchSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithMetrics records provider calls.
func WithMetrics(m *Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient wraps provider.
func NewClient(provider Provider, opts ...ClientOption) *Client {
	c := &Client{provider: provider, batchSize: defaultBatchSize, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dimension is the provider's vector length.
func (c *Client) Dimension() int { return c.provider.Dimension() }

// Model is the provider's model name.
func (c *Client) Model() string { return c.provider.Model() }

// Embed returns the vector for text. Blank text fails with InvalidInput
// before the provider is called.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	const op = "embeddings.Embed"

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.InvalidInput(op, "text is required and cannot be blank")
	}

	start := time.Now()
	vec, err := c.provider.EmbedQuery(ctx, text)
	c.metrics.RecordGeneration(ctx, c.provider.Model(), "embed", time.Since(start), 1, err)
	if err != nil {
		c.logger.Warn("embedding failed", zap.String("model", c.provider.Model()), zap.Error(err))
		return nil, apperr.Provider(op, err)
	}
	if err := c.checkDimension(op, vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedBatch drops blank texts, then embeds the rest in batches dispatched
// concurrently. Results are in input order. Only an all-blank input fails
// with InvalidInput; any provider failure fails the whole call.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error) {
	const op = "embeddings.EmbedBatch"

	out := make([]Embedding, 0, len(texts))
	for i, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, Embedding{Index: i, Text: t})
		}
	}
	if len(out) == 0 {
		return nil, apperr.InvalidInput(op, "at least one non-blank text is required")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentCalls)

	for lo := 0; lo < len(out); lo += c.batchSize {
		batch := out[lo:min(lo+c.batchSize, len(out))]
		g.Go(func() error {
			inputs := make([]string, len(batch))
			for i, e := range batch {
				inputs[i] = e.Text
			}

			start := time.Now()
			vectors, err := c.provider.EmbedDocuments(gctx, inputs)
			c.metrics.RecordGeneration(gctx, c.provider.Model(), "embed_batch", time.Since(start), len(inputs), err)
			if err != nil {
				return apperr.Provider(op, err)
			}
			if len(vectors) != len(batch) {
				return apperr.Provider(op, fmt.Errorf("provider returned %d embeddings for %d texts", len(vectors), len(batch)))
			}
			for i := range batch {
				if err := c.checkDimension(op, vectors[i]); err != nil {
					return err
				}
				// Each goroutine owns a disjoint slice of out.
				batch[i].Vector = vectors[i]
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		c.logger.Warn("batch embedding failed", zap.Int("texts", len(out)), zap.Error(err))
		return nil, err
	}
	return out, nil
}

func (c *Client) checkDimension(op string, vec []float32) error {
	if want := c.provider.Dimension(); want > 0 && len(vec) != want {
		return apperr.Provider(op, apperr.DimensionMismatch(op, want, len(vec)))
	}
	return nil
}
