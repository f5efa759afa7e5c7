package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mediarag/internal/apperr"
)

var pgTracer = otel.Tracer("mediarag.vectorstore.pgvector")

// SQLSTATE codes for a schema that was never set up.
const (
	sqlstateUndefinedTable    = "42P01"
	sqlstateUndefinedFunction = "42883"
	sqlstateUndefinedObject   = "42704"
)

// PostgresConfig configures the pgvector backend.
type PostgresConfig struct {
	DSN      string
	MaxConns int32
	// AutoMigrate creates the extension, tables and match functions for
	// Collections at startup.
	AutoMigrate bool
	Collections []string
}

// PgVectorStore keeps each collection in its own table and searches it
// through a match_<collection> SQL function.
type PgVectorStore struct {
	pool      *pgxpool.Pool
	dimension int
	logger    *zap.Logger
}

// NewPgVectorStore connects the pool and optionally migrates the schema.
func NewPgVectorStore(ctx context.Context, cfg PostgresConfig, dimension int, logger *zap.Logger) (*PgVectorStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("pgvector: dimension must be positive, got %d", dimension)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}

	s := &PgVectorStore{pool: pool, dimension: dimension, logger: logger}
	if err := s.Health(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if cfg.AutoMigrate {
		for _, c := range cfg.Collections {
			if err := s.Migrate(ctx, c); err != nil {
				pool.Close()
				return nil, err
			}
		}
	}
	logger.Info("pgvector store initialized",
		zap.String("host", poolCfg.ConnConfig.Host),
		zap.String("database", poolCfg.ConnConfig.Database),
		zap.Int32("max_conns", poolCfg.MaxConns),
		zap.Bool("auto_migrate", cfg.AutoMigrate),
	)
	return s, nil
}

func (s *PgVectorStore) Name() string { return "pgvector" }

func tableIdent(collection string) string {
	return pgx.Identifier{collection}.Sanitize()
}

func matchIdent(collection string) string {
	return pgx.Identifier{"match_" + collection}.Sanitize()
}

// SetupSQL returns the statements that create collection's table and
// match function for vectors of the given dimension.
func SetupSQL(collection string, dimension int) string {
	t, fn := tableIdent(collection), matchIdent(collection)
	return fmt.Sprintf(`CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS %[1]s (
  id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
  seq bigserial,
  content text NOT NULL,
  embedding vector(%[3]d) NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now()
);
CREATE OR REPLACE FUNCTION %[2]s(query_embedding vector(%[3]d), match_threshold float, match_count int)
RETURNS TABLE (id uuid, content text, similarity float)
LANGUAGE sql STABLE AS $$
  SELECT t.id, t.content, 1 - (t.embedding <=> query_embedding) AS similarity
  FROM %[1]s t
  WHERE 1 - (t.embedding <=> query_embedding) >= match_threshold
  ORDER BY t.embedding <=> query_embedding
  LIMIT match_count;
$$;`, t, fn, dimension)
}

// Migrate creates the schema for collection.
func (s *PgVectorStore) Migrate(ctx context.Context, collection string) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, SetupSQL(collection, s.dimension)); err != nil {
		return fmt.Errorf("migrating collection %s: %w", collection, err)
	}
	s.logger.Info("pgvector schema ready", zap.String("collection", collection), zap.Int("dimension", s.dimension))
	return nil
}

// classify maps missing-schema errors to StoreUnavailable with the SQL
// needed to fix them.
func (s *PgVectorStore) classify(op, collection string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlstateUndefinedTable, sqlstateUndefinedFunction, sqlstateUndefinedObject:
			guidance := fmt.Sprintf("postgres schema for collection %q is missing (%s); set vectorstore.postgres.auto_migrate to true or run:\n%s",
				collection, pgErr.Message, SetupSQL(collection, s.dimension))
			return apperr.StoreUnavailable(op, collection, guidance, err)
		}
	}
	return err
}

// Insert writes docs in one transaction.
func (s *PgVectorStore) Insert(ctx context.Context, collection string, docs []NewDocument) ([]Document, error) {
	const op = "vectorstore.Insert"
	ctx, span := pgTracer.Start(ctx, "PgVectorStore.Insert")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("documents", len(docs)))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("beginning transaction: %w", err))
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	query := fmt.Sprintf(`INSERT INTO %s (content, embedding) VALUES ($1, $2::vector) RETURNING id::text, created_at`, tableIdent(collection))
	out := make([]Document, len(docs))
	for i, d := range docs {
		var id string
		var created time.Time
		if err := tx.QueryRow(ctx, query, d.Content, pgvector.NewVector(d.Embedding)).Scan(&id, &created); err != nil {
			return nil, spanError(span, s.classify(op, collection, fmt.Errorf("inserting into %s: %w", collection, err)))
		}
		out[i] = Document{ID: id, Content: d.Content, Embedding: d.Embedding, CreatedAt: created.UTC()}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, spanError(span, fmt.Errorf("committing insert into %s: %w", collection, err))
	}

	span.SetStatus(codes.Ok, "success")
	return out, nil
}

func (s *PgVectorStore) List(ctx context.Context, collection string, limit, offset int) ([]Document, int, error) {
	const op = "vectorstore.List"
	ctx, span := pgTracer.Start(ctx, "PgVectorStore.List")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("limit", limit), attribute.Int("offset", offset))

	total, err := s.Count(ctx, collection)
	if err != nil {
		return nil, 0, spanError(span, err)
	}

	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT id::text, content, embedding::text, created_at FROM %s ORDER BY created_at DESC, seq DESC LIMIT $1 OFFSET $2`, tableIdent(collection)),
		limit, offset)
	if err != nil {
		return nil, 0, spanError(span, s.classify(op, collection, fmt.Errorf("listing %s: %w", collection, err)))
	}
	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Document, error) {
		var d Document
		var vec pgvector.Vector
		if err := row.Scan(&d.ID, &d.Content, &vec, &d.CreatedAt); err != nil {
			return d, err
		}
		d.Embedding = vec.Slice()
		d.CreatedAt = d.CreatedAt.UTC()
		return d, nil
	})
	if err != nil {
		return nil, 0, spanError(span, fmt.Errorf("reading %s: %w", collection, err))
	}

	span.SetAttributes(attribute.Int("total", total))
	span.SetStatus(codes.Ok, "success")
	return docs, total, nil
}

// Search calls match_<collection>.
func (s *PgVectorStore) Search(ctx context.Context, collection string, vector []float32, threshold float64, count int) ([]SearchHit, error) {
	const op = "vectorstore.Search"
	ctx, span := pgTracer.Start(ctx, "PgVectorStore.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Float64("threshold", threshold),
		attribute.Int("count", count),
	)

	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT id::text, content, similarity FROM %s($1::vector, $2, $3)`, matchIdent(collection)),
		pgvector.NewVector(vector), threshold, count)
	if err != nil {
		return nil, spanError(span, s.classify(op, collection, fmt.Errorf("searching %s: %w", collection, err)))
	}
	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SearchHit, error) {
		var h SearchHit
		err := row.Scan(&h.ID, &h.Content, &h.Similarity)
		return h, err
	})
	if err != nil {
		return nil, spanError(span, s.classify(op, collection, fmt.Errorf("reading hits from %s: %w", collection, err)))
	}

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

func (s *PgVectorStore) DeleteAll(ctx context.Context, collection string) (int, error) {
	const op = "vectorstore.DeleteAll"
	ctx, span := pgTracer.Start(ctx, "PgVectorStore.DeleteAll")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection))

	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, tableIdent(collection)))
	if err != nil {
		return 0, spanError(span, s.classify(op, collection, fmt.Errorf("deleting from %s: %w", collection, err)))
	}
	n := int(tag.RowsAffected())
	span.SetAttributes(attribute.Int("deleted", n))
	span.SetStatus(codes.Ok, "success")
	return n, nil
}

func (s *PgVectorStore) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, tableIdent(collection))).Scan(&n)
	if err != nil {
		return 0, s.classify("vectorstore.Count", collection, fmt.Errorf("counting %s: %w", collection, err))
	}
	return n, nil
}

func (s *PgVectorStore) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return apperr.StoreUnavailable("vectorstore.Health", "", "postgres is not reachable; check vectorstore.postgres.dsn", err)
	}
	return nil
}

func (s *PgVectorStore) Close() error {
	s.pool.Close()
	return nil
}

var _ Backend = (*PgVectorStore)(nil)
