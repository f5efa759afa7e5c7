package vectorstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mediarag/internal/config"
)

// NewFromConfig builds the backend named by cfg.VectorStore.Provider and
// wraps it in a Store restricted to the configured collections:
//   - "chromem" (default): embedded, persisted under vectorstore.chromem.path
//   - "qdrant": remote qdrant over gRPC
//   - "pgvector": Postgres with the pgvector extension
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dimension := cfg.Embeddings.Dimension
	names := make([]string, len(cfg.Collections))
	for i, c := range cfg.Collections {
		names[i] = c.Name
	}

	var backend Backend
	var err error
	switch cfg.VectorStore.Provider {
	case "chromem", "":
		backend, err = NewChromemStore(ChromemConfig{
			Path:     cfg.VectorStore.Chromem.Path,
			Compress: cfg.VectorStore.Chromem.Compress,
		}, dimension, logger)
	case "qdrant":
		q := cfg.VectorStore.Qdrant
		backend, err = NewQdrantStore(ctx, QdrantConfig{
			Host:             q.Host,
			Port:             q.Port,
			UseTLS:           q.UseTLS,
			APIKey:           q.APIKey.Value(),
			CollectionPrefix: q.CollectionPrefix,
			AutoCreate:       q.AutoCreate,
		}, dimension, logger)
	case "pgvector":
		p := cfg.VectorStore.Postgres
		backend, err = NewPgVectorStore(ctx, PostgresConfig{
			DSN:         p.DSN.Value(),
			MaxConns:    p.MaxConns,
			AutoMigrate: p.AutoMigrate,
			Collections: names,
		}, dimension, logger)
	default:
		return nil, fmt.Errorf("unknown vectorstore provider: %s", cfg.VectorStore.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s store: %w", cfg.VectorStore.Provider, err)
	}

	store, err := New(backend, Options{Dimension: dimension, Collections: names, Logger: logger})
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return store, nil
}
