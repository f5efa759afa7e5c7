package conversation

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mediarag/internal/apperr"
	"github.com/fyrsmithlabs/mediarag/internal/llm"
	"github.com/fyrsmithlabs/mediarag/internal/vectorstore"
)

const (
	// NoContext replaces the context block when retrieval found nothing.
	NoContext = "No relevant information found in the knowledge base."
	// FailureMessage is shown to users when the completion call fails.
	FailureMessage = "Sorry, I encountered an error processing your request. Please try again."

	DefaultMaxQueryLength = 500
)

// Source names one collection in prompts.
type Source struct {
	Collection string
	// Label is the singular item name, e.g. "Podcast".
	Label string
}

// Config configures an Assembler.
type Config struct {
	SystemPrompt   string
	Sources        []Source
	MaxQueryLength int
	Logger         *zap.Logger
}

// Assembler turns a query and its retrieval hits into one completion turn.
type Assembler struct {
	completer    llm.Completer
	systemPrompt string
	sources      []Source
	maxQuery     int
	logger       *zap.Logger
}

// NewAssembler creates an Assembler. Sources fix the order of context
// blocks.
func NewAssembler(completer llm.Completer, cfg Config) *Assembler {
	a := &Assembler{
		completer:    completer,
		systemPrompt: cfg.SystemPrompt,
		sources:      append([]Source(nil), cfg.Sources...),
		maxQuery:     cfg.MaxQueryLength,
		logger:       cfg.Logger,
	}
	if a.systemPrompt == "" {
		a.systemPrompt = DefaultSystemPrompt
	}
	if a.maxQuery <= 0 {
		a.maxQuery = DefaultMaxQueryLength
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	return a
}

// SystemPrompt returns the prompt placed at position 0 of every State.
func (a *Assembler) SystemPrompt() string { return a.systemPrompt }

// NewState returns an empty conversation.
func (a *Assembler) NewState() State { return NewState(a.systemPrompt) }

// Reply is the outcome of one turn.
type Reply struct {
	Answer string    `json:"message"`
	Model  string    `json:"model,omitempty"`
	Usage  llm.Usage `json:"usage"`
	// Sources summarises the context, e.g. "2 podcasts and 1 movie".
	Sources       string         `json:"sources"`
	SourceCounts  map[string]int `json:"sourceCounts"`
	MaxSimilarity float64        `json:"maxSimilarity"`
}

// Ask appends a context-bearing user message for query, sends the history
// to the completer and appends the reply. On failure the returned State is
// state itself and the error is a ProviderError whose message is
// FailureMessage.
func (a *Assembler) Ask(ctx context.Context, state State, query string, hits []vectorstore.SearchHit) (State, *Reply, error) {
	const op = "conversation.Ask"

	query, err := a.ValidateQuery(query)
	if err != nil {
		return state, nil, err
	}

	base := state
	if base.IsZero() {
		base = a.NewState()
	}
	next := base.with(llm.Message{Role: llm.RoleUser, Content: UserMessage(a.BuildContext(hits), query)})

	completion, err := a.completer.Complete(ctx, next.messages)
	if err != nil {
		a.logger.Warn("completion failed, conversation left unchanged",
			zap.Int("messages", state.Len()),
			zap.Error(err),
		)
		return state, nil, &apperr.Error{Kind: apperr.KindProvider, Op: op, Message: FailureMessage, Err: err}
	}

	next = next.with(llm.Message{Role: llm.RoleAssistant, Content: completion.Content})
	counts := a.countSources(hits)
	reply := &Reply{
		Answer:        completion.Content,
		Model:         completion.Model,
		Usage:         completion.Usage,
		Sources:       a.summarize(counts),
		SourceCounts:  counts,
		MaxSimilarity: maxSimilarity(hits),
	}
	a.logger.Debug("conversation turn",
		zap.Int("messages", next.Len()),
		zap.Int("hits", len(hits)),
		zap.String("sources", reply.Sources),
	)
	return next, reply, nil
}

// ValidateQuery trims query and checks it is non-blank and within the
// length limit, counted in characters.
func (a *Assembler) ValidateQuery(query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", apperr.InvalidInput("conversation.Ask", "query is required")
	}
	if n := utf8.RuneCountInString(query); n > a.maxQuery {
		return "", apperr.InvalidInput("conversation.Ask", "query is too long: %d characters (maximum %d)", n, a.maxQuery)
	}
	return query, nil
}

// UserMessage builds the synthetic user message carrying the context.
func UserMessage(knowledge, query string) string {
	return "Context from knowledge base:\n\n" + knowledge + "\n\nUser Question: " + query
}

// BuildContext renders hits as one block per source, in source order:
//
//	=== PODCAST CONTENT ===
//	Podcast 1: ...
//
//	Podcast 2: ...
//
// Hits whose source is not configured are ignored. Without any hit the
// NoContext sentinel is returned.
func (a *Assembler) BuildContext(hits []vectorstore.SearchHit) string {
	var blocks []string
	for _, src := range a.sources {
		var entries []string
		for _, h := range hits {
			if h.Source == src.Collection {
				entries = append(entries, fmt.Sprintf("%s %d: %s", src.Label, len(entries)+1, h.Content))
			}
		}
		if len(entries) == 0 {
			continue
		}
		header := "=== " + strings.ToUpper(src.Label) + " CONTENT ==="
		blocks = append(blocks, header+"\n"+strings.Join(entries, "\n\n"))
	}
	if len(blocks) == 0 {
		return NoContext
	}
	return strings.Join(blocks, "\n\n")
}

func (a *Assembler) countSources(hits []vectorstore.SearchHit) map[string]int {
	counts := make(map[string]int, len(a.sources))
	for _, src := range a.sources {
		counts[src.Collection] = 0
	}
	for _, h := range hits {
		if _, ok := counts[h.Source]; ok {
			counts[h.Source]++
		}
	}
	return counts
}

// summarize renders counts like "2 podcasts and 1 movie".
func (a *Assembler) summarize(counts map[string]int) string {
	var parts []string
	for _, src := range a.sources {
		n := counts[src.Collection]
		if n == 0 {
			continue
		}
		noun := strings.ToLower(src.Label)
		if n != 1 {
			noun += "s"
		}
		parts = append(parts, fmt.Sprintf("%d %s", n, noun))
	}
	return strings.Join(parts, " and ")
}

func maxSimilarity(hits []vectorstore.SearchHit) float64 {
	var best float64
	for _, h := range hits {
		best = max(best, h.Similarity)
	}
	return best
}
