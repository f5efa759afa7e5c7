// Package retrieval searches several collections with one query and merges
// the hits into a single ranked list.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/mediarag/internal/apperr"
	"github.com/fyrsmithlabs/mediarag/internal/vectorstore"
)

// Embedder turns the query into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher runs one collection-scoped search.
type Searcher interface {
	Search(ctx context.Context, collection string, vector []float32, threshold float64, count int) ([]vectorstore.SearchHit, error)
}

// Failure records a collection whose search failed.
type Failure struct {
	Collection string `json:"collection"`
	Err        error  `json:"-"`
	Message    string `json:"message"`
}

// Result is the outcome of SearchAll.
type Result struct {
	// Hits is every collection's hits, most similar first, truncated to
	// limit times the number of collections.
	Hits []vectorstore.SearchHit
	// BySource holds each collection's own hits; a failed collection maps
	// to an empty slice.
	BySource map[string][]vectorstore.SearchHit
	// Collections lists the searched collections in configuration order.
	Collections []string
	Failures    []Failure
}

// MaxSimilarity returns the best similarity in r, or 0 without hits.
func (r *Result) MaxSimilarity() float64 {
	if r == nil || len(r.Hits) == 0 {
		return 0
	}
	return r.Hits[0].Similarity
}

// Merger fans one query out to every configured collection.
type Merger struct {
	embedder    Embedder
	store       Searcher
	collections []string
	logger      *zap.Logger
}

// NewMerger searches collections, in the given order, through store.
func NewMerger(embedder Embedder, store Searcher, collections []string, logger *zap.Logger) *Merger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{
		embedder:    embedder,
		store:       store,
		collections: append([]string(nil), collections...),
		logger:      logger,
	}
}

// Collections returns the searched collections.
func (m *Merger) Collections() []string { return append([]string(nil), m.collections...) }

// SearchAll embeds query once and searches every collection concurrently.
// A failing collection contributes no hits and is reported in Failures; the
// call only fails when the query cannot be embedded or every collection
// fails.
func (m *Merger) SearchAll(ctx context.Context, query string, limit int, threshold float64) (*Result, error) {
	const op = "retrieval.SearchAll"

	vector, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	limit = vectorstore.ClampCount(limit)

	start := time.Now()
	perSource := make([][]vectorstore.SearchHit, len(m.collections))
	errs := make([]error, len(m.collections))

	// Branch errors are kept per slot, so no branch cancels another.
	var g errgroup.Group
	for i, collection := range m.collections {
		g.Go(func() error {
			hits, err := m.store.Search(ctx, collection, vector, threshold, limit)
			if err != nil {
				errs[i] = err
				return nil
			}
			for j := range hits {
				hits[j].Source = collection
			}
			perSource[i] = hits
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{
		BySource:    make(map[string][]vectorstore.SearchHit, len(m.collections)),
		Collections: m.Collections(),
	}
	var all []vectorstore.SearchHit
	for i, collection := range m.collections {
		if errs[i] != nil {
			res.Failures = append(res.Failures, Failure{Collection: collection, Err: errs[i], Message: errs[i].Error()})
			m.logger.Warn("collection search failed",
				zap.String("collection", collection),
				zap.String("kind", string(apperr.KindOf(errs[i]))),
				zap.Error(errs[i]),
			)
			res.BySource[collection] = []vectorstore.SearchHit{}
			continue
		}
		if perSource[i] == nil {
			perSource[i] = []vectorstore.SearchHit{}
		}
		res.BySource[collection] = perSource[i]
		all = append(all, perSource[i]...)
	}

	if len(m.collections) > 0 && len(res.Failures) == len(m.collections) {
		causes := make([]error, len(res.Failures))
		names := make([]string, len(res.Failures))
		for i, f := range res.Failures {
			causes[i], names[i] = f.Err, f.Collection
		}
		return nil, &apperr.Error{
			Kind:    apperr.KindAllSourcesFailed,
			Op:      op,
			Message: fmt.Sprintf("search failed in every collection (%s)", strings.Join(names, ", ")),
			Err:     errors.Join(causes...),
		}
	}

	Sort(all)
	if bound := limit * len(m.collections); len(all) > bound {
		all = all[:bound]
	}
	if all == nil {
		all = []vectorstore.SearchHit{}
	}
	res.Hits = all

	m.logger.Debug("search-all complete",
		zap.Int("collections", len(m.collections)),
		zap.Int("hits", len(all)),
		zap.Int("failures", len(res.Failures)),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}

// Sort orders hits by similarity descending, then source collection and ID
// ascending.
func Sort(hits []vectorstore.SearchHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.ID < b.ID
	})
}
