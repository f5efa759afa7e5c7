package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// timeNow is a variable for testing purposes.
var timeNow = time.Now

var chromemTracer = otel.Tracer("mediarag.vectorstore.chromem")

const (
	metaCreatedAt = "created_at"
	metaSeq       = "seq"
)

// errPrecomputedOnly is returned if chromem ever tries to embed text itself.
var errPrecomputedOnly = errors.New("chromem: embeddings must be precomputed")

// ChromemConfig configures the embedded backend.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	Path     string
	Compress bool
}

// ChromemStore is the embedded backend built on chromem-go. Documents are
// persisted as gob files under Path.
type ChromemStore struct {
	db        *chromem.DB
	dimension int
	logger    *zap.Logger
	tracer    trace.Tracer

	// mu serialises DeleteAll (which drops and recreates the collection)
	// against everything else.
	mu  sync.RWMutex
	seq int64
}

// NewChromemStore opens or creates the database at cfg.Path.
func NewChromemStore(cfg ChromemConfig, dimension int, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("chromem: dimension must be positive, got %d", dimension)
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
		logger.Info("chromem store initialized in memory", zap.Int("dimension", dimension))
	} else {
		path, err := expandPath(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
		logger.Info("chromem store initialized",
			zap.String("path", path),
			zap.Bool("compress", cfg.Compress),
			zap.Int("dimension", dimension),
		)
	}

	return &ChromemStore{db: db, dimension: dimension, logger: logger, tracer: chromemTracer, seq: timeNow().UnixNano()}, nil
}

func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}

func (s *ChromemStore) Name() string { return "chromem" }

func (s *ChromemStore) collection(name string) (*chromem.Collection, error) {
	col, err := s.db.GetOrCreateCollection(name, nil, func(context.Context, string) ([]float32, error) {
		return nil, errPrecomputedOnly
	})
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", name, err)
	}
	return col, nil
}

// nextSeq hands out increasing sequence numbers so newest-first ordering
// is stable within one insert batch.
func (s *ChromemStore) nextSeq(n int) int64 {
	s.seq += int64(n)
	return s.seq - int64(n) + 1
}

// Insert adds docs. A partially applied batch is deleted again before the
// error is returned.
func (s *ChromemStore) Insert(ctx context.Context, collection string, docs []NewDocument) ([]Document, error) {
	ctx, span := s.tracer.Start(ctx, "ChromemStore.Insert")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("documents", len(docs)))

	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.collection(collection)
	if err != nil {
		return nil, spanError(span, err)
	}

	now := timeNow().UTC()
	first := s.nextSeq(len(docs))
	out := make([]Document, len(docs))
	cdocs := make([]chromem.Document, len(docs))
	ids := make([]string, len(docs))
	for i, d := range docs {
		id := uuid.New().String()
		ids[i] = id
		cdocs[i] = chromem.Document{
			ID:        id,
			Content:   d.Content,
			Embedding: append([]float32(nil), d.Embedding...),
			Metadata: map[string]string{
				metaCreatedAt: now.Format(time.RFC3339Nano),
				metaSeq:       strconv.FormatInt(first+int64(i), 10),
			},
		}
		out[i] = Document{ID: id, Content: d.Content, Embedding: d.Embedding, CreatedAt: now}
	}

	if err := col.AddDocuments(ctx, cdocs, runtime.NumCPU()); err != nil {
		if rbErr := col.Delete(context.WithoutCancel(ctx), nil, nil, ids...); rbErr != nil {
			s.logger.Error("rollback of partial insert failed",
				zap.String("collection", collection), zap.Int("documents", len(ids)), zap.Error(rbErr))
		}
		return nil, spanError(span, fmt.Errorf("adding documents to %s: %w", collection, err))
	}

	span.SetStatus(codes.Ok, "success")
	return out, nil
}

// List reads the whole collection through a probe query, since chromem has
// no scan API, then orders by insertion sequence.
func (s *ChromemStore) List(ctx context.Context, collection string, limit, offset int) ([]Document, int, error) {
	ctx, span := s.tracer.Start(ctx, "ChromemStore.List")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("limit", limit), attribute.Int("offset", offset))

	s.mu.RLock()
	defer s.mu.RUnlock()

	col, err := s.collection(collection)
	if err != nil {
		return nil, 0, spanError(span, err)
	}
	total := col.Count()
	if total == 0 || offset >= total {
		span.SetStatus(codes.Ok, "success")
		return []Document{}, total, nil
	}

	probe := make([]float32, s.dimension)
	for i := range probe {
		probe[i] = 1
	}
	results, err := col.QueryEmbedding(ctx, probe, total, nil, nil)
	if err != nil {
		return nil, 0, spanError(span, fmt.Errorf("scanning %s: %w", collection, err))
	}

	docs := make([]Document, len(results))
	seqs := make([]int64, len(results))
	for i, r := range results {
		docs[i] = Document{
			ID:        r.ID,
			Content:   r.Content,
			Embedding: r.Embedding,
			CreatedAt: parseTime(r.Metadata[metaCreatedAt]),
		}
		seqs[i], _ = strconv.ParseInt(r.Metadata[metaSeq], 10, 64)
	}
	idx := make([]int, len(docs))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return seqs[idx[a]] > seqs[idx[b]] })

	end := min(offset+limit, len(idx))
	page := make([]Document, 0, end-offset)
	for _, i := range idx[offset:end] {
		page = append(page, docs[i])
	}
	span.SetAttributes(attribute.Int("total", total))
	span.SetStatus(codes.Ok, "success")
	return page, total, nil
}

func (s *ChromemStore) Search(ctx context.Context, collection string, vector []float32, threshold float64, count int) ([]SearchHit, error) {
	ctx, span := s.tracer.Start(ctx, "ChromemStore.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Float64("threshold", threshold),
		attribute.Int("count", count),
	)

	s.mu.RLock()
	defer s.mu.RUnlock()

	col, err := s.collection(collection)
	if err != nil {
		return nil, spanError(span, err)
	}
	// QueryEmbedding rejects nResults larger than the collection.
	n := min(count, col.Count())
	if n == 0 {
		span.SetStatus(codes.Ok, "empty collection")
		return []SearchHit{}, nil
	}

	results, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("searching %s: %w", collection, err))
	}

	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		sim := float64(r.Similarity)
		if sim < threshold {
			continue
		}
		hits = append(hits, SearchHit{ID: r.ID, Content: r.Content, Similarity: sim})
	}
	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// DeleteAll drops the collection and recreates it empty.
func (s *ChromemStore) DeleteAll(ctx context.Context, collection string) (int, error) {
	_, span := s.tracer.Start(ctx, "ChromemStore.DeleteAll")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection))

	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.collection(collection)
	if err != nil {
		return 0, spanError(span, err)
	}
	n := col.Count()
	if err := s.db.DeleteCollection(collection); err != nil {
		return 0, spanError(span, fmt.Errorf("deleting collection %s: %w", collection, err))
	}
	if _, err := s.collection(collection); err != nil {
		return 0, spanError(span, err)
	}

	span.SetAttributes(attribute.Int("deleted", n))
	span.SetStatus(codes.Ok, "success")
	return n, nil
}

func (s *ChromemStore) Count(_ context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, err := s.collection(collection)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

// Health always succeeds; the database lives in process.
func (s *ChromemStore) Health(context.Context) error { return nil }

// Close is a no-op; chromem writes through on every change.
func (s *ChromemStore) Close() error { return nil }

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

var _ Backend = (*ChromemStore)(nil)
