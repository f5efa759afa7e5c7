// Package service exposes the operations of mediarag to its transports.
//
// Service owns no state of its own beyond the long-lived handles it is
// given: the embedding client, the vector store, the completer and the
// event publisher. Conversation history is passed in and returned by
// Converse and never kept between calls.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mediarag/internal/apperr"
	"github.com/fyrsmithlabs/mediarag/internal/chunker"
	"github.com/fyrsmithlabs/mediarag/internal/config"
	"github.com/fyrsmithlabs/mediarag/internal/conversation"
	"github.com/fyrsmithlabs/mediarag/internal/embeddings"
	"github.com/fyrsmithlabs/mediarag/internal/events"
	"github.com/fyrsmithlabs/mediarag/internal/llm"
	"github.com/fyrsmithlabs/mediarag/internal/retrieval"
	"github.com/fyrsmithlabs/mediarag/internal/seed"
	"github.com/fyrsmithlabs/mediarag/internal/similarity"
	"github.com/fyrsmithlabs/mediarag/internal/vectorstore"
)

// Search limits for single-collection search.
const (
	DefaultSearchLimit     = 5
	DefaultSearchThreshold = 0.5
	MaxSearchLimit         = 20
)

// Options configures a Service. Embeddings, Store and Completer are
// required.
type Options struct {
	Embeddings  *embeddings.Client
	Store       *vectorstore.Store
	Completer   llm.Completer
	Publisher   events.Publisher
	Seeds       *seed.Set
	Splitter    *chunker.Splitter
	Collections []config.CollectionConfig
	Retrieval   config.RetrievalConfig
	Chunking    config.ChunkingConfig
	// SystemPrompt overrides the built-in assistant prompt.
	SystemPrompt string
	Logger       *zap.Logger
}

// Service implements every mediarag operation.
type Service struct {
	embeddings  *embeddings.Client
	store       *vectorstore.Store
	merger      *retrieval.Merger
	assembler   *conversation.Assembler
	publisher   events.Publisher
	seeds       *seed.Set
	splitter    *chunker.Splitter
	collections []config.CollectionConfig
	retrieval   config.RetrievalConfig
	chunking    config.ChunkingConfig
	logger      *zap.Logger
}

// New wires a Service from opts.
func New(opts Options) (*Service, error) {
	if opts.Embeddings == nil || opts.Store == nil || opts.Completer == nil {
		return nil, errors.New("service: embeddings, store and completer are required")
	}
	if len(opts.Collections) == 0 {
		for _, name := range opts.Store.Collections() {
			opts.Collections = append(opts.Collections, config.CollectionConfig{Name: name, Label: name})
		}
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Splitter == nil {
		sp, err := chunker.NewSplitter(opts.Chunking.Strategy)
		if err != nil {
			return nil, err
		}
		opts.Splitter = sp
	}
	if opts.Retrieval.DefaultLimit <= 0 {
		opts.Retrieval.DefaultLimit = 3
	}
	if opts.Chunking.DefaultSize == 0 {
		opts.Chunking.DefaultSize = 500
		opts.Chunking.DefaultOverlap = 50
	}

	names := make([]string, len(opts.Collections))
	sources := make([]conversation.Source, len(opts.Collections))
	for i, c := range opts.Collections {
		label := c.Label
		if label == "" {
			label = c.Name
		}
		names[i] = c.Name
		sources[i] = conversation.Source{Collection: c.Name, Label: label}
	}

	return &Service{
		embeddings: opts.Embeddings,
		store:      opts.Store,
		merger:     retrieval.NewMerger(opts.Embeddings, opts.Store, names, opts.Logger),
		assembler: conversation.NewAssembler(opts.Completer, conversation.Config{
			SystemPrompt:   opts.SystemPrompt,
			Sources:        sources,
			MaxQueryLength: opts.Retrieval.MaxQueryLength,
			Logger:         opts.Logger,
		}),
		publisher:   opts.Publisher,
		seeds:       opts.Seeds,
		splitter:    opts.Splitter,
		collections: append([]config.CollectionConfig(nil), opts.Collections...),
		retrieval:   opts.Retrieval,
		chunking:    opts.Chunking,
		logger:      opts.Logger,
	}, nil
}

// EmbeddingResult is the response of Embed.
type EmbeddingResult struct {
	Text       string    `json:"text"`
	Embedding  []float32 `json:"embedding"`
	Dimensions int       `json:"dimensions"`
	Model      string    `json:"model"`
}

// Embed returns the embedding of text.
func (s *Service) Embed(ctx context.Context, text string) (*EmbeddingResult, error) {
	vec, err := s.embeddings.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return &EmbeddingResult{
		Text:       strings.TrimSpace(text),
		Embedding:  vec,
		Dimensions: len(vec),
		Model:      s.embeddings.Model(),
	}, nil
}

// BatchResult is the response of EmbedBatch.
type BatchResult struct {
	Embeddings []embeddings.Embedding `json:"embeddings"`
	Count      int                    `json:"count"`
	Dimensions int                    `json:"dimensions"`
	Model      string                 `json:"model"`
}

// EmbedBatch embeds every non-blank text.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) (*BatchResult, error) {
	out, err := s.embeddings.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	return &BatchResult{
		Embeddings: out,
		Count:      len(out),
		Dimensions: s.embeddings.Dimension(),
		Model:      s.embeddings.Model(),
	}, nil
}

// Comparison is the response of Compare.
type Comparison struct {
	Text1                string          `json:"text1"`
	Text2                string          `json:"text2"`
	Similarity           float64         `json:"similarity"`
	SimilarityPercentage string          `json:"similarityPercentage"`
	Band                 similarity.Band `json:"band"`
	Interpretation       string          `json:"interpretation"`
}

// Compare embeds both texts in one provider call and returns their cosine
// similarity.
func (s *Service) Compare(ctx context.Context, text1, text2 string) (*Comparison, error) {
	const op = "service.Compare"

	text1, text2 = strings.TrimSpace(text1), strings.TrimSpace(text2)
	if text1 == "" || text2 == "" {
		return nil, apperr.InvalidInput(op, "text1 and text2 are both required")
	}

	out, err := s.embeddings.EmbedBatch(ctx, []string{text1, text2})
	if err != nil {
		return nil, err
	}
	score, err := similarity.Cosine(out[0].Vector, out[1].Vector)
	if err != nil {
		return nil, err
	}
	band := similarity.Interpret(score)
	return &Comparison{
		Text1:                text1,
		Text2:                text2,
		Similarity:           score,
		SimilarityPercentage: similarity.Percentage(score),
		Band:                 band,
		Interpretation:       band.Description(),
	}, nil
}

// StoreResult is the response of StoreDocuments and ChunkAndStore.
type StoreResult struct {
	Collection string                 `json:"collection"`
	Count      int                    `json:"count"`
	Documents  []vectorstore.Document `json:"documents"`
}

// StoreDocuments embeds texts and inserts them into collection as one
// all-or-nothing batch.
func (s *Service) StoreDocuments(ctx context.Context, collection string, texts []string) (*StoreResult, error) {
	if err := s.checkCollection("service.StoreDocuments", collection); err != nil {
		return nil, err
	}
	out, err := s.embeddings.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	docs := make([]vectorstore.NewDocument, len(out))
	for i, e := range out {
		docs[i] = vectorstore.NewDocument{Content: e.Text, Embedding: e.Vector}
	}
	stored, err := s.store.Insert(ctx, collection, docs)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(stored))
	for i := range stored {
		ids[i] = stored[i].ID
		stored[i].Embedding = nil
	}
	s.publish(ctx, events.Event{Type: events.DocumentsStored, Collection: collection, Count: len(stored), IDs: ids})
	s.logger.Info("documents stored", zap.String("collection", collection), zap.Int("count", len(stored)))
	return &StoreResult{Collection: collection, Count: len(stored), Documents: stored}, nil
}

// ListDocuments returns one page of collection, newest first, without
// embeddings.
func (s *Service) ListDocuments(ctx context.Context, collection string, limit, offset int) (vectorstore.Page, error) {
	page, err := s.store.List(ctx, collection, limit, offset)
	if err != nil {
		return vectorstore.Page{}, err
	}
	for i := range page.Items {
		page.Items[i].Embedding = nil
	}
	return page, nil
}

// SearchResult is the response of Search.
type SearchResult struct {
	Query      string                  `json:"query"`
	Collection string                  `json:"collection"`
	Results    []vectorstore.SearchHit `json:"results"`
	Count      int                     `json:"count"`
}

// Search embeds query and searches one collection. limit must be within
// [1, MaxSearchLimit].
func (s *Service) Search(ctx context.Context, collection, query string, limit int, threshold float64) (*SearchResult, error) {
	const op = "service.Search"

	if err := s.checkCollection(op, collection); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.InvalidInput(op, "query is required")
	}
	if limit < 1 || limit > MaxSearchLimit {
		return nil, apperr.InvalidParameter(op, "limit must be between 1 and %d, got %d", MaxSearchLimit, limit)
	}

	vec, err := s.embeddings.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := s.store.Search(ctx, collection, vec, threshold, limit)
	if err != nil {
		return nil, err
	}
	return &SearchResult{Query: query, Collection: collection, Results: hits, Count: len(hits)}, nil
}

// SearchAll searches every configured collection and merges the hits.
// limit and threshold fall back to the configured retrieval defaults when
// nil.
func (s *Service) SearchAll(ctx context.Context, query string, limit *int, threshold *float64) (*retrieval.Result, error) {
	query, err := s.assembler.ValidateQuery(query)
	if err != nil {
		return nil, err
	}
	l, t := s.retrieval.DefaultLimit, s.retrieval.DefaultThreshold
	if limit != nil {
		l = *limit
	}
	if threshold != nil {
		t = *threshold
	}
	return s.merger.SearchAll(ctx, query, l, t)
}

// DeleteAll removes every document of collection. Without confirmation the
// store is left untouched.
func (s *Service) DeleteAll(ctx context.Context, collection string, confirmed bool) (int, error) {
	n, err := s.store.DeleteAll(ctx, collection, confirmed)
	if err != nil {
		return 0, err
	}
	s.publish(ctx, events.Event{Type: events.DocumentsCleared, Collection: collection, Count: n})
	s.logger.Info("collection cleared", zap.String("collection", collection), zap.Int("deleted", n))
	return n, nil
}

// ChunkResult is the response of ChunkAndStore.
type ChunkResult struct {
	StoreResult
	Chunks       int    `json:"chunks"`
	ChunkSize    int    `json:"chunkSize"`
	ChunkOverlap int    `json:"chunkOverlap"`
	Strategy     string `json:"strategy"`
}

// ChunkOptions selects chunk size and overlap. Nil fields use the
// configured defaults.
type ChunkOptions struct {
	Size    *int
	Overlap *int
}

// ChunkAndStore splits text into chunks and stores each one as a document.
// Blank text falls back to the collection's seed data.
func (s *Service) ChunkAndStore(ctx context.Context, collection, text string, opts ChunkOptions) (*ChunkResult, error) {
	const op = "service.ChunkAndStore"

	if err := s.checkCollection(op, collection); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		data, ok := s.seeds.Get(collection)
		if !ok || len(data.Documents) == 0 {
			return nil, apperr.InvalidInput(op, "text is required: collection %q has no seed data", collection)
		}
		text = data.Text()
	}

	size, overlap := s.chunking.DefaultSize, s.chunking.DefaultOverlap
	if opts.Size != nil {
		size = *opts.Size
	}
	if opts.Overlap != nil {
		overlap = *opts.Overlap
	}
	chunks, err := s.splitter.Split(text, size, overlap)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, apperr.InvalidInput(op, "text produced no chunks")
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	stored, err := s.StoreDocuments(ctx, collection, texts)
	if err != nil {
		return nil, err
	}
	return &ChunkResult{
		StoreResult:  *stored,
		Chunks:       len(chunks),
		ChunkSize:    size,
		ChunkOverlap: overlap,
		Strategy:     s.splitter.Strategy(),
	}, nil
}

// ProcessSeed chunks and stores the seed data of collection with the
// default chunking settings.
func (s *Service) ProcessSeed(ctx context.Context, collection string) (*ChunkResult, error) {
	return s.ChunkAndStore(ctx, collection, "", ChunkOptions{})
}

// Autoseed processes the seed data of every seeded collection that is
// still empty. It returns the number of documents stored per collection.
func (s *Service) Autoseed(ctx context.Context) (map[string]int, error) {
	stored := make(map[string]int)
	for _, name := range s.seeds.Collections() {
		if s.checkCollection("service.Autoseed", name) != nil {
			continue
		}
		n, err := s.store.Count(ctx, name)
		if err != nil {
			return stored, fmt.Errorf("count %s: %w", name, err)
		}
		if n > 0 {
			s.logger.Debug("collection already seeded", zap.String("collection", name), zap.Int("documents", n))
			continue
		}
		res, err := s.ProcessSeed(ctx, name)
		if err != nil {
			return stored, fmt.Errorf("seed %s: %w", name, err)
		}
		stored[name] = res.Count
	}
	return stored, nil
}

// ConverseResult is the response of Converse.
type ConverseResult struct {
	*conversation.Reply
	// Messages is the updated history, starting with the system prompt.
	Messages []llm.Message `json:"messages"`
}

// Converse answers query in the context of history. The history returned is
// history plus the new user and assistant messages; when the completion
// fails the caller's history is left as it was.
func (s *Service) Converse(ctx context.Context, history []llm.Message, query string) (*ConverseResult, error) {
	state, err := conversation.FromMessages(history, s.assembler.SystemPrompt())
	if err != nil {
		return nil, err
	}
	query, err = s.assembler.ValidateQuery(query)
	if err != nil {
		return nil, err
	}

	merged, err := s.SearchAll(ctx, query, nil, nil)
	if err != nil {
		return nil, err
	}
	next, reply, err := s.assembler.Ask(ctx, state, query, merged.Hits)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.Event{Type: events.ConversationTurn, Count: len(merged.Hits), Sources: reply.Sources, Model: reply.Model})
	return &ConverseResult{Reply: reply, Messages: next.Messages()}, nil
}

// CollectionInfo describes one configured collection.
type CollectionInfo struct {
	Name      string `json:"name"`
	Label     string `json:"label"`
	Documents int    `json:"documents"`
	Seeded    bool   `json:"seeded"`
}

// Collections returns every configured collection with its document count.
func (s *Service) Collections(ctx context.Context) ([]CollectionInfo, error) {
	out := make([]CollectionInfo, 0, len(s.collections))
	for _, c := range s.collections {
		n, err := s.store.Count(ctx, c.Name)
		if err != nil {
			return nil, err
		}
		_, seeded := s.seeds.Get(c.Name)
		out = append(out, CollectionInfo{Name: c.Name, Label: c.Label, Documents: n, Seeded: seeded})
	}
	return out, nil
}

// Health statuses.
const (
	StatusOK       = "OK"
	StatusDegraded = "DEGRADED"
)

// StoreHealth reports vector store readiness.
type StoreHealth struct {
	Backend string `json:"backend"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// HealthReport is the response of Health.
type HealthReport struct {
	Status      string      `json:"status"`
	Message     string      `json:"message"`
	Store       StoreHealth `json:"store"`
	Model       string      `json:"model"`
	Dimension   int         `json:"dimension"`
	Collections []string    `json:"collections"`
}

// Health checks the vector store. The process is live whenever it can
// answer; Status is degraded when the store is not reachable.
func (s *Service) Health(ctx context.Context) *HealthReport {
	r := &HealthReport{
		Status:      StatusOK,
		Message:     "Server is running",
		Store:       StoreHealth{Backend: s.store.Backend(), Healthy: true},
		Model:       s.embeddings.Model(),
		Dimension:   s.store.Dimension(),
		Collections: s.store.Collections(),
	}
	if err := s.store.Health(ctx); err != nil {
		r.Status = StatusDegraded
		r.Message = "Vector store is unavailable"
		r.Store.Healthy = false
		r.Store.Error = err.Error()
		s.logger.Warn("health check failed", zap.String("backend", r.Store.Backend), zap.Error(err))
	}
	return r
}

func (s *Service) checkCollection(op, collection string) error {
	for _, c := range s.collections {
		if c.Name == collection {
			return nil
		}
	}
	return apperr.InvalidInput(op, "unknown collection %q", collection).WithCollection(collection)
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("event publish failed", zap.String("type", string(e.Type)), zap.Error(err))
	}
}
