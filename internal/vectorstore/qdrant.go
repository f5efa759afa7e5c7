package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/mediarag/internal/apperr"
)

var qdrantTracer = otel.Tracer("mediarag.vectorstore.qdrant")

const (
	payloadContent   = "content"
	payloadCreatedAt = "created_at"
	payloadSeq       = "seq"

	qdrantScrollBatch = 256
)

// QdrantConfig configures the qdrant backend.
type QdrantConfig struct {
	Host   string
	Port   int
	UseTLS bool
	APIKey string
	// CollectionPrefix is prepended to every collection name on the server.
	CollectionPrefix string
	// AutoCreate creates missing collections instead of failing with
	// StoreUnavailable.
	AutoCreate bool

	MaxRetries   int
	RetryBackoff time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 200 * time.Millisecond
	}
}

// QdrantStore talks to qdrant over its native gRPC API.
type QdrantStore struct {
	client    *qdrant.Client
	config    QdrantConfig
	dimension int
	logger    *zap.Logger

	// known caches collections confirmed to exist.
	known sync.Map
}

// NewQdrantStore connects to qdrant and checks that it answers.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig, dimension int, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("qdrant: dimension must be positive, got %d", dimension)
	}
	cfg.ApplyDefaults()

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(64 * 1024 * 1024)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}

	s := &QdrantStore{client: client, config: cfg, dimension: dimension, logger: logger}
	if err := s.Health(ctx); err != nil {
		client.Close()
		return nil, err
	}
	logger.Info("qdrant store initialized",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.Bool("tls", cfg.UseTLS),
		zap.Bool("auto_create", cfg.AutoCreate),
	)
	return s, nil
}

func (s *QdrantStore) Name() string { return "qdrant" }

func (s *QdrantStore) remoteName(collection string) string {
	return s.config.CollectionPrefix + collection
}

// IsTransientError reports whether a gRPC failure is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

func isNotFound(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == grpccodes.NotFound
}

// retry runs operation with exponential backoff while it fails transiently.
func (s *QdrantStore) retry(ctx context.Context, name string, operation func() error) error {
	backoff := s.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := operation()
		if err == nil || !IsTransientError(err) || attempt == s.config.MaxRetries {
			return err
		}
		s.logger.Debug("retrying qdrant operation", zap.String("operation", name), zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

func (s *QdrantStore) unavailable(op, collection string, err error) error {
	guidance := fmt.Sprintf(
		"qdrant collection %q does not exist: create it with vector size %d and cosine distance, or set vectorstore.qdrant.auto_create to true",
		s.remoteName(collection), s.dimension)
	return apperr.StoreUnavailable(op, collection, guidance, err)
}

// ensure makes sure the collection exists, creating it when AutoCreate is set.
func (s *QdrantStore) ensure(ctx context.Context, op, collection string) error {
	if _, ok := s.known.Load(collection); ok {
		return nil
	}
	name := s.remoteName(collection)
	var exists bool
	err := s.retry(ctx, "collection_exists", func() error {
		var err error
		exists, err = s.client.CollectionExists(ctx, name)
		return err
	})
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", name, err)
	}
	if !exists {
		if !s.config.AutoCreate {
			return s.unavailable(op, collection, nil)
		}
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("creating collection %s: %w", name, err)
		}
		s.logger.Info("created qdrant collection", zap.String("collection", name), zap.Int("dimension", s.dimension))
	}
	s.known.Store(collection, true)
	return nil
}

// Insert upserts all points in one waited request and deletes them again
// if the request fails.
func (s *QdrantStore) Insert(ctx context.Context, collection string, docs []NewDocument) ([]Document, error) {
	const op = "vectorstore.Insert"
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Insert")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("documents", len(docs)))

	if err := s.ensure(ctx, op, collection); err != nil {
		return nil, spanError(span, err)
	}

	now := timeNow().UTC()
	base := now.UnixNano()
	out := make([]Document, len(docs))
	points := make([]*qdrant.PointStruct, len(docs))
	ids := make([]*qdrant.PointId, len(docs))
	for i, d := range docs {
		id := uuid.New().String()
		ids[i] = qdrant.NewIDUUID(id)
		points[i] = &qdrant.PointStruct{
			Id:      ids[i],
			Vectors: qdrant.NewVectors(d.Embedding...),
			Payload: map[string]*qdrant.Value{
				payloadContent:   {Kind: &qdrant.Value_StringValue{StringValue: d.Content}},
				payloadCreatedAt: {Kind: &qdrant.Value_StringValue{StringValue: now.Format(time.RFC3339Nano)}},
				payloadSeq:       {Kind: &qdrant.Value_IntegerValue{IntegerValue: base + int64(i)}},
			},
		}
		out[i] = Document{ID: id, Content: d.Content, Embedding: d.Embedding, CreatedAt: now}
	}

	name := s.remoteName(collection)
	err := s.retry(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: name,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		s.rollback(context.WithoutCancel(ctx), name, ids)
		if isNotFound(err) {
			s.known.Delete(collection)
			return nil, spanError(span, s.unavailable(op, collection, err))
		}
		return nil, spanError(span, fmt.Errorf("upserting into %s: %w", name, err))
	}

	span.SetStatus(codes.Ok, "success")
	return out, nil
}

func (s *QdrantStore) rollback(ctx context.Context, name string, ids []*qdrant.PointId) {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: ids},
			},
		},
	})
	if err != nil && !isNotFound(err) {
		s.logger.Error("rollback of partial insert failed", zap.String("collection", name), zap.Int("points", len(ids)), zap.Error(err))
	}
}

// List scrolls the collection and orders it by insertion sequence.
func (s *QdrantStore) List(ctx context.Context, collection string, limit, offset int) ([]Document, int, error) {
	const op = "vectorstore.List"
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.List")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("limit", limit), attribute.Int("offset", offset))

	if err := s.ensure(ctx, op, collection); err != nil {
		return nil, 0, spanError(span, err)
	}

	name := s.remoteName(collection)
	var all []*qdrant.RetrievedPoint
	var next *qdrant.PointId
	for {
		var batch []*qdrant.RetrievedPoint
		err := s.retry(ctx, "scroll", func() error {
			var err error
			batch, next, err = s.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
				CollectionName: name,
				Offset:         next,
				Limit:          qdrant.PtrOf(uint32(qdrantScrollBatch)),
				WithPayload:    qdrant.NewWithPayload(true),
				WithVectors:    qdrant.NewWithVectors(true),
			})
			return err
		})
		if err != nil {
			if isNotFound(err) {
				s.known.Delete(collection)
				return nil, 0, spanError(span, s.unavailable(op, collection, err))
			}
			return nil, 0, spanError(span, fmt.Errorf("scrolling %s: %w", name, err))
		}
		all = append(all, batch...)
		if next == nil || len(batch) < qdrantScrollBatch {
			break
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return payloadInt(all[i].GetPayload(), payloadSeq) > payloadInt(all[j].GetPayload(), payloadSeq)
	})

	total := len(all)
	if offset >= total {
		span.SetStatus(codes.Ok, "success")
		return []Document{}, total, nil
	}
	page := make([]Document, 0, min(limit, total-offset))
	for _, p := range all[offset:min(offset+limit, total)] {
		doc := Document{
			ID:        pointID(p.GetId()),
			Content:   payloadString(p.GetPayload(), payloadContent),
			CreatedAt: parseTime(payloadString(p.GetPayload(), payloadCreatedAt)),
		}
		if v := p.GetVectors().GetVector(); v != nil {
			doc.Embedding = v.GetData()
		}
		page = append(page, doc)
	}
	span.SetAttributes(attribute.Int("total", total))
	span.SetStatus(codes.Ok, "success")
	return page, total, nil
}

func (s *QdrantStore) Search(ctx context.Context, collection string, vector []float32, threshold float64, count int) ([]SearchHit, error) {
	const op = "vectorstore.Search"
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Float64("threshold", threshold),
		attribute.Int("count", count),
	)

	if err := s.ensure(ctx, op, collection); err != nil {
		return nil, spanError(span, err)
	}

	var points []*qdrant.ScoredPoint
	err := s.retry(ctx, "query", func() error {
		var err error
		points, err = s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.remoteName(collection),
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(count)),
			ScoreThreshold: qdrant.PtrOf(float32(threshold)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		return err
	})
	if err != nil {
		if isNotFound(err) {
			s.known.Delete(collection)
			return nil, spanError(span, s.unavailable(op, collection, err))
		}
		return nil, spanError(span, fmt.Errorf("querying %s: %w", s.remoteName(collection), err))
	}

	hits := make([]SearchHit, 0, len(points))
	for _, p := range points {
		hits = append(hits, SearchHit{
			ID:         pointID(p.GetId()),
			Content:    payloadString(p.GetPayload(), payloadContent),
			Similarity: float64(p.GetScore()),
		})
	}
	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// DeleteAll removes every point with an empty (match-all) filter.
func (s *QdrantStore) DeleteAll(ctx context.Context, collection string) (int, error) {
	const op = "vectorstore.DeleteAll"
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.DeleteAll")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection))

	n, err := s.Count(ctx, collection)
	if err != nil {
		return 0, spanError(span, err)
	}
	name := s.remoteName(collection)
	err = s.retry(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: name,
			Wait:           qdrant.PtrOf(true),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: &qdrant.Filter{},
				},
			},
		})
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return 0, spanError(span, s.unavailable(op, collection, err))
		}
		return 0, spanError(span, fmt.Errorf("deleting points from %s: %w", name, err))
	}
	span.SetAttributes(attribute.Int("deleted", n))
	span.SetStatus(codes.Ok, "success")
	return n, nil
}

func (s *QdrantStore) Count(ctx context.Context, collection string) (int, error) {
	const op = "vectorstore.Count"
	if err := s.ensure(ctx, op, collection); err != nil {
		return 0, err
	}
	var n uint64
	err := s.retry(ctx, "count", func() error {
		var err error
		n, err = s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: s.remoteName(collection),
			Exact:          qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		if isNotFound(err) {
			s.known.Delete(collection)
			return 0, s.unavailable(op, collection, err)
		}
		return 0, fmt.Errorf("counting %s: %w", s.remoteName(collection), err)
	}
	return int(n), nil
}

func (s *QdrantStore) Health(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Health")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := s.client.HealthCheck(ctx); err != nil {
		guidance := fmt.Sprintf("qdrant is not reachable at %s:%d; check vectorstore.qdrant.host and port", s.config.Host, s.config.Port)
		return spanError(span, apperr.StoreUnavailable("vectorstore.Health", "", guidance, err))
	}
	span.SetStatus(codes.Ok, "healthy")
	return nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func pointID(id *qdrant.PointId) string {
	switch v := id.GetPointIdOptions().(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	}
	return ""
}

func payloadString(payload map[string]*qdrant.Value, key string) string {
	if v, ok := payload[key].GetKind().(*qdrant.Value_StringValue); ok {
		return v.StringValue
	}
	return ""
}

func payloadInt(payload map[string]*qdrant.Value, key string) int64 {
	if v, ok := payload[key].GetKind().(*qdrant.Value_IntegerValue); ok {
		return v.IntegerValue
	}
	return 0
}

var _ Backend = (*QdrantStore)(nil)
