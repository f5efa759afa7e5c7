// Package llm adapts langchaingo chat models to the completion contract used
// by the conversational assistant: role-tagged messages in, text and token
// usage out.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/mediarag/internal/apperr"
)

// Role tags a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleSystem || r == RoleUser || r == RoleAssistant
}

// Message is one role-tagged conversation message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Usage is the provider-reported token accounting for one completion.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Completion is a provider reply.
type Completion struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
}

// Completer produces a chat completion for a message sequence.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (*Completion, error)
}

// Backend is a langchaingo model that can also embed. Both the openai and
// ollama clients satisfy it.
type Backend interface {
	llms.Model
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Config configures the provider backend and completion parameters.
type Config struct {
	Provider          string
	APIKey            string
	BaseURL           string
	ChatModel         string
	EmbeddingModel    string
	Temperature       float64
	MaxTokens         int
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// NewBackend creates the langchaingo chat client for cfg.Provider.
func NewBackend(cfg Config) (Backend, error) {
	return newBackend(cfg, cfg.ChatModel)
}

// NewEmbeddingBackend creates a langchaingo client whose embedding calls go
// to cfg.EmbeddingModel. Ollama embeds with the client's main model, so it
// gets a client of its own rather than sharing the chat one.
func NewEmbeddingBackend(cfg Config) (Backend, error) {
	if cfg.EmbeddingModel == "" {
		return nil, errors.New("embedding model required")
	}
	return newBackend(cfg, cfg.EmbeddingModel)
}

func newBackend(cfg Config, model string) (Backend, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}

	switch cfg.Provider {
	case "openai", "":
		if cfg.APIKey == "" {
			return nil, errors.New("openai API key required (set PROVIDER_API_KEY or OPENAI_API_KEY)")
		}
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithModel(model),
			openai.WithEmbeddingModel(cfg.EmbeddingModel),
			openai.WithHTTPClient(httpClient),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	case "ollama":
		opts := []ollama.Option{
			ollama.WithModel(model),
			ollama.WithHTTPClient(httpClient),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// NewLimiter returns a limiter for outbound provider calls, or nil when rps
// is zero.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Client implements Completer over a langchaingo model.
type Client struct {
	model       llms.Model
	modelName   string
	temperature float64
	maxTokens   int
	limiter     *rate.Limiter
	logger      *zap.Logger
}

// NewClient wraps model. limiter may be nil.
func NewClient(model llms.Model, cfg Config, limiter *rate.Limiter, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		model:       model,
		modelName:   cfg.ChatModel,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		limiter:     limiter,
		logger:      logger,
	}
}

// Complete sends messages to the provider. Any upstream failure, including
// an empty reply, is a ProviderError carrying the upstream message.
func (c *Client) Complete(ctx context.Context, messages []Message) (*Completion, error) {
	const op = "llm.Complete"

	if len(messages) == 0 {
		return nil, apperr.InvalidInput(op, "at least one message is required")
	}
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		mc, err := toMessageContent(m)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInvalidInput, op, err)
		}
		content = append(content, mc)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, apperr.Provider(op, fmt.Errorf("rate limiter: %w", err))
		}
	}

	start := time.Now()
	resp, err := c.model.GenerateContent(ctx, content,
		llms.WithTemperature(c.temperature),
		llms.WithMaxTokens(c.maxTokens),
	)
	if err != nil {
		c.logger.Warn("completion failed", zap.String("model", c.modelName), zap.Error(err))
		return nil, apperr.Provider(op, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, apperr.Provider(op, errors.New("provider returned no choices"))
	}

	choice := resp.Choices[0]
	out := &Completion{
		Content: choice.Content,
		Model:   c.modelName,
		Usage:   usageFrom(choice.GenerationInfo),
	}
	c.logger.Debug("completion",
		zap.String("model", c.modelName),
		zap.Duration("duration", time.Since(start)),
		zap.Int("total_tokens", out.Usage.TotalTokens),
	)
	return out, nil
}

func toMessageContent(m Message) (llms.MessageContent, error) {
	var role llms.ChatMessageType
	switch m.Role {
	case RoleSystem:
		role = llms.ChatMessageTypeSystem
	case RoleUser:
		role = llms.ChatMessageTypeHuman
	case RoleAssistant:
		role = llms.ChatMessageTypeAI
	default:
		return llms.MessageContent{}, fmt.Errorf("unknown message role %q", m.Role)
	}
	return llms.TextParts(role, m.Content), nil
}

// usageFrom reads token counts from GenerationInfo. The openai and ollama
// clients both report PromptTokens, CompletionTokens and TotalTokens.
func usageFrom(info map[string]any) Usage {
	u := Usage{
		PromptTokens:     intValue(info["PromptTokens"]),
		CompletionTokens: intValue(info["CompletionTokens"]),
		TotalTokens:      intValue(info["TotalTokens"]),
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
