// Package embeddings turns text into fixed-length vectors through a
// pluggable provider (OpenAI, Ollama or local FastEmbed models).
package embeddings

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"
)

// ErrInvalidConfig indicates a provider cannot be built from the given config.
var ErrInvalidConfig = errors.New("invalid embeddings configuration")

// Provider generates embeddings for a single model.
type Provider interface {
	// EmbedDocuments returns one vector per text, in input order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a search query. Some models embed queries and
	// passages differently.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Model() string
	Close() error
}

// EmbeddingCreator is the part of a langchaingo LLM client used for embeddings.
type EmbeddingCreator interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// ProviderConfig selects and configures a provider.
type ProviderConfig struct {
	// Provider is "openai", "ollama" or "fastembed".
	Provider  string
	Model     string
	Dimension int
	CacheDir  string
}

// NewProvider builds the provider named in cfg. creator backs the openai
// and ollama providers and may be nil for fastembed. limiter may be nil.
func NewProvider(cfg ProviderConfig, creator EmbeddingCreator, limiter *rate.Limiter) (Provider, error) {
	switch cfg.Provider {
	case "openai", "ollama":
		if creator == nil {
			return nil, fmt.Errorf("%w: %s provider needs a client", ErrInvalidConfig, cfg.Provider)
		}
		if cfg.Dimension <= 0 {
			return nil, fmt.Errorf("%w: dimension must be positive for model %q", ErrInvalidConfig, cfg.Model)
		}
		return NewLangChainProvider(creator, cfg.Model, cfg.Dimension, limiter), nil
	case "fastembed":
		p, err := NewFastEmbedProvider(FastEmbedConfig{Model: cfg.Model, CacheDir: cfg.CacheDir})
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// LangChainProvider embeds through a langchaingo client.
type LangChainProvider struct {
	creator   EmbeddingCreator
	model     string
	dimension int
	limiter   *rate.Limiter
}

// NewLangChainProvider wraps creator. limiter may be nil.
func NewLangChainProvider(creator EmbeddingCreator, model string, dimension int, limiter *rate.Limiter) *LangChainProvider {
	return &LangChainProvider{creator: creator, model: model, dimension: dimension, limiter: limiter}
}

func (p *LangChainProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}
	vectors, err := p.creator.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("provider returned %d embeddings for %d texts", len(vectors), len(texts))
	}
	return vectors, nil
}

func (p *LangChainProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (p *LangChainProvider) Dimension() int { return p.dimension }
func (p *LangChainProvider) Model() string  { return p.model }
func (p *LangChainProvider) Close() error   { return nil }
