// Package vectorstore stores documents with their embeddings and runs
// nearest-neighbour search over named collections.
//
// Store enforces the invariants shared by every backend (parameter bounds,
// dimension checks, confirmation of destructive calls) and delegates the
// actual I/O to a Backend: chromem (embedded), qdrant or pgvector.
package vectorstore

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mediarag/internal/apperr"
)

// Backend is a datastore holding one table, index or collection per
// collection name. Arguments are validated by Store before a Backend sees
// them.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Insert writes all docs or none of them.
	Insert(ctx context.Context, collection string, docs []NewDocument) ([]Document, error)

	// List returns documents newest first plus the collection size.
	List(ctx context.Context, collection string, limit, offset int) ([]Document, int, error)

	// Search returns up to count hits with similarity >= threshold,
	// most similar first.
	Search(ctx context.Context, collection string, vector []float32, threshold float64, count int) ([]SearchHit, error)

	// DeleteAll removes every document and returns how many there were.
	DeleteAll(ctx context.Context, collection string) (int, error)

	// Count returns the number of documents in collection.
	Count(ctx context.Context, collection string) (int, error)

	// Health reports whether the backend is reachable.
	Health(ctx context.Context) error

	Close() error
}

// Options configures a Store.
type Options struct {
	// Dimension is the embedding length every vector must have.
	Dimension int
	// Collections restricts the store to these names. Empty allows any
	// valid name.
	Collections []string
	Logger      *zap.Logger
}

// Store is the validating client every caller goes through.
type Store struct {
	backend     Backend
	dimension   int
	collections map[string]struct{}
	names       []string
	logger      *zap.Logger
}

// New wraps backend.
func New(backend Backend, opts Options) (*Store, error) {
	if backend == nil {
		return nil, apperr.New(apperr.KindInternal, "vectorstore.New", "backend is required")
	}
	if opts.Dimension <= 0 {
		return nil, apperr.InvalidParameter("vectorstore.New", "dimension must be positive, got %d", opts.Dimension)
	}
	s := &Store{
		backend:     backend,
		dimension:   opts.Dimension,
		collections: make(map[string]struct{}, len(opts.Collections)),
		logger:      opts.Logger,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	for _, name := range opts.Collections {
		if err := ValidateCollectionName(name); err != nil {
			return nil, err
		}
		if _, dup := s.collections[name]; !dup {
			s.collections[name] = struct{}{}
			s.names = append(s.names, name)
		}
	}
	return s, nil
}

// Backend returns the backend name.
func (s *Store) Backend() string { return s.backend.Name() }

// Dimension returns the configured embedding length.
func (s *Store) Dimension() int { return s.dimension }

// Collections returns the configured collection names in configuration order.
func (s *Store) Collections() []string { return append([]string(nil), s.names...) }

// Insert stores docs in collection. Either every document is stored or
// none is.
func (s *Store) Insert(ctx context.Context, collection string, docs []NewDocument) ([]Document, error) {
	const op = "vectorstore.Insert"
	if err := s.checkCollection(op, collection); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, apperr.InvalidInput(op, "at least one document is required").WithCollection(collection)
	}
	for i, d := range docs {
		if strings.TrimSpace(d.Content) == "" {
			return nil, apperr.InvalidInput(op, "document %d has empty content", i).WithCollection(collection)
		}
		if err := s.checkVector(op, collection, d.Embedding); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	out, err := s.backend.Insert(ctx, collection, docs)
	err = s.wrap(op, collection, err)
	observe(s.backend.Name(), "insert", start, err)
	if err != nil {
		s.logger.Warn("insert failed", zap.String("collection", collection), zap.Int("documents", len(docs)), zap.Error(err))
		return nil, err
	}
	DocumentsInserted.WithLabelValues(collection).Add(float64(len(out)))
	s.logger.Debug("documents inserted", zap.String("collection", collection), zap.Int("documents", len(out)))
	return out, nil
}

// List returns one newest-first page of collection.
func (s *Store) List(ctx context.Context, collection string, limit, offset int) (Page, error) {
	const op = "vectorstore.List"
	if err := s.checkCollection(op, collection); err != nil {
		return Page{}, err
	}
	if limit < MinListLimit || limit > MaxListLimit {
		return Page{}, apperr.InvalidParameter(op, "limit must be between %d and %d, got %d", MinListLimit, MaxListLimit, limit).WithCollection(collection)
	}
	if offset < 0 {
		return Page{}, apperr.InvalidParameter(op, "offset must not be negative, got %d", offset).WithCollection(collection)
	}

	start := time.Now()
	items, total, err := s.backend.List(ctx, collection, limit, offset)
	err = s.wrap(op, collection, err)
	observe(s.backend.Name(), "list", start, err)
	if err != nil {
		return Page{}, err
	}
	if items == nil {
		items = []Document{}
	}
	return Page{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: total > offset+limit,
	}, nil
}

// Search returns the documents in collection most similar to vector.
// threshold is clamped to [0,1] and count to [MinSearchCount, MaxSearchCount].
func (s *Store) Search(ctx context.Context, collection string, vector []float32, threshold float64, count int) ([]SearchHit, error) {
	const op = "vectorstore.Search"
	if err := s.checkCollection(op, collection); err != nil {
		return nil, err
	}
	if err := s.checkVector(op, collection, vector); err != nil {
		return nil, err
	}
	threshold = ClampThreshold(threshold)
	count = ClampCount(count)

	start := time.Now()
	hits, err := s.backend.Search(ctx, collection, vector, threshold, count)
	err = s.wrap(op, collection, err)
	observe(s.backend.Name(), "search", start, err)
	if err != nil {
		return nil, err
	}

	out := make([]SearchHit, 0, len(hits))
	for _, h := range hits {
		if h.Similarity < threshold {
			continue
		}
		h.Similarity = min(h.Similarity, 1)
		h.Source = collection
		out = append(out, h)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > count {
		out = out[:count]
	}
	SearchHits.WithLabelValues(collection).Observe(float64(len(out)))
	return out, nil
}

// DeleteAll removes every document in collection. Without confirmed the
// backend is never called.
func (s *Store) DeleteAll(ctx context.Context, collection string, confirmed bool) (int, error) {
	const op = "vectorstore.DeleteAll"
	if err := s.checkCollection(op, collection); err != nil {
		return 0, err
	}
	if !confirmed {
		return 0, apperr.ConfirmationRequired(op, collection)
	}

	start := time.Now()
	n, err := s.backend.DeleteAll(ctx, collection)
	err = s.wrap(op, collection, err)
	observe(s.backend.Name(), "delete_all", start, err)
	if err != nil {
		return 0, err
	}
	DocumentsDeleted.WithLabelValues(collection).Add(float64(n))
	s.logger.Info("collection cleared", zap.String("collection", collection), zap.Int("deleted", n))
	return n, nil
}

// Count returns the number of documents in collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	const op = "vectorstore.Count"
	if err := s.checkCollection(op, collection); err != nil {
		return 0, err
	}
	start := time.Now()
	n, err := s.backend.Count(ctx, collection)
	err = s.wrap(op, collection, err)
	observe(s.backend.Name(), "count", start, err)
	return n, err
}

// Health checks the backend.
func (s *Store) Health(ctx context.Context) error {
	if err := s.backend.Health(ctx); err != nil {
		return s.wrap("vectorstore.Health", "", err)
	}
	return nil
}

// Close releases the backend.
func (s *Store) Close() error { return s.backend.Close() }

// ClampThreshold limits t to [0,1]. NaN becomes 0.
func ClampThreshold(t float64) float64 {
	if math.IsNaN(t) || t < 0 {
		return 0
	}
	return min(t, 1)
}

// ClampCount limits n to [MinSearchCount, MaxSearchCount].
func ClampCount(n int) int {
	return max(MinSearchCount, min(n, MaxSearchCount))
}

func (s *Store) checkCollection(op, collection string) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if len(s.collections) == 0 {
		return nil
	}
	if _, ok := s.collections[collection]; !ok {
		return apperr.InvalidInput(op, "unknown collection %q (configured: %s)", collection, strings.Join(s.names, ", ")).WithCollection(collection)
	}
	return nil
}

func (s *Store) checkVector(op, collection string, v []float32) error {
	if len(v) != s.dimension {
		return apperr.DimensionMismatch(op, s.dimension, len(v)).WithCollection(collection)
	}
	return nil
}

// wrap turns raw backend errors into StoreError, keeping errors that
// already carry a kind.
func (s *Store) wrap(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	if e, ok := apperr.As(err); ok {
		if e.Collection == "" && collection != "" {
			return e.WithCollection(collection)
		}
		return e
	}
	return apperr.Store(op, collection, err)
}
