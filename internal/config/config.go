// Package config provides configuration loading for mediarag.
//
// Configuration is read from an optional YAML file and overridden by
// environment variables. See LoadWithFile for precedence and mapping rules.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
)

// Config holds the complete mediarag configuration.
type Config struct {
	Server      ServerConfig       `koanf:"server"`
	Logging     LoggingConfig      `koanf:"logging"`
	Telemetry   TelemetryConfig    `koanf:"telemetry"`
	Provider    ProviderConfig     `koanf:"provider"`
	Embeddings  EmbeddingsConfig   `koanf:"embeddings"`
	VectorStore VectorStoreConfig  `koanf:"vectorstore"`
	Collections []CollectionConfig `koanf:"collections"`
	Retrieval   RetrievalConfig    `koanf:"retrieval"`
	Chunking    ChunkingConfig     `koanf:"chunking"`
	Chat        ChatConfig         `koanf:"chat"`
	Events      EventsConfig       `koanf:"events"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	RequestTimeout  Duration `koanf:"request_timeout"`
	BodyLimit       string   `koanf:"body_limit"`
}

// LoggingConfig selects log level and encoding. The logging package owns the
// full logger configuration; these are the knobs exposed to operators.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// ProviderConfig configures the embedding/completion provider.
type ProviderConfig struct {
	// Name is "openai" or "ollama".
	Name           string   `koanf:"name"`
	APIKey         Secret   `koanf:"api_key"`
	BaseURL        string   `koanf:"base_url"`
	EmbeddingModel string   `koanf:"embedding_model"`
	ChatModel      string   `koanf:"chat_model"`
	Temperature    float64  `koanf:"temperature"`
	MaxTokens      int      `koanf:"max_tokens"`
	Timeout        Duration `koanf:"timeout"`
	// RequestsPerSecond limits outbound provider calls; 0 disables limiting.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

// EmbeddingsConfig selects the embedding backend.
type EmbeddingsConfig struct {
	// Provider is "openai", "ollama" or "fastembed". Empty follows provider.name.
	Provider string `koanf:"provider"`
	// Model is the model embedding requests are sent to.
	Model string `koanf:"model"`
	// BaseURL defaults to provider.base_url when both name the same provider.
	BaseURL   string `koanf:"base_url"`
	Dimension int    `koanf:"dimension"`
	BatchSize int    `koanf:"batch_size"`
	CacheDir  string `koanf:"cache_dir"`
}

// VectorStoreConfig selects and configures the vector datastore.
type VectorStoreConfig struct {
	// Provider is "chromem", "qdrant" or "pgvector".
	Provider string         `koanf:"provider"`
	Chromem  ChromemConfig  `koanf:"chromem"`
	Qdrant   QdrantConfig   `koanf:"qdrant"`
	Postgres PostgresConfig `koanf:"postgres"`
}

// ChromemConfig configures the embedded chromem-go store.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig configures the qdrant gRPC store.
type QdrantConfig struct {
	Host             string `koanf:"host"`
	Port             int    `koanf:"port"`
	UseTLS           bool   `koanf:"use_tls"`
	APIKey           Secret `koanf:"api_key"`
	CollectionPrefix string `koanf:"collection_prefix"`
	AutoCreate       bool   `koanf:"auto_create"`
}

// PostgresConfig configures the pgvector store.
type PostgresConfig struct {
	DSN         Secret `koanf:"dsn"`
	MaxConns    int32  `koanf:"max_conns"`
	AutoMigrate bool   `koanf:"auto_migrate"`
}

// CollectionConfig declares one searchable collection.
type CollectionConfig struct {
	Name string `koanf:"name"`
	// Label names one item of the collection in prompts, e.g. "Podcast".
	Label    string `koanf:"label"`
	SeedFile string `koanf:"seed_file"`
}

// RetrievalConfig holds search defaults.
type RetrievalConfig struct {
	DefaultLimit     int     `koanf:"default_limit"`
	DefaultThreshold float64 `koanf:"default_threshold"`
	MaxQueryLength   int     `koanf:"max_query_length"`
}

// ChunkingConfig holds chunker defaults.
type ChunkingConfig struct {
	Strategy       string `koanf:"strategy"`
	DefaultSize    int    `koanf:"default_size"`
	DefaultOverlap int    `koanf:"default_overlap"`
}

// ChatConfig holds conversational assistant settings.
type ChatConfig struct {
	SystemPrompt string `koanf:"system_prompt"`
	// Autoseed chunks and stores each empty collection's seed file at startup.
	Autoseed bool `koanf:"autoseed"`
}

// EventsConfig configures domain event publishing.
type EventsConfig struct {
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ReservedCollectionNames are keys of the search-all response that a
// collection's hit list would otherwise shadow.
var ReservedCollectionNames = []string{"query", "results", "failures"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch c.Provider.Name {
	case "openai", "ollama":
	default:
		return fmt.Errorf("unknown provider %q (must be openai or ollama)", c.Provider.Name)
	}
	if c.Provider.Temperature < 0 || c.Provider.Temperature > 2 {
		return fmt.Errorf("provider temperature must be between 0 and 2, got %v", c.Provider.Temperature)
	}
	if c.Provider.RequestsPerSecond < 0 {
		return errors.New("provider requests_per_second cannot be negative")
	}

	switch c.Embeddings.Provider {
	case "openai", "ollama", "fastembed":
	default:
		return fmt.Errorf("unknown embeddings provider %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("embeddings dimension must be positive, got %d", c.Embeddings.Dimension)
	}

	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	case "pgvector":
		if !c.VectorStore.Postgres.DSN.IsSet() {
			return errors.New("vectorstore.postgres.dsn is required for the pgvector provider")
		}
	default:
		return fmt.Errorf("unknown vectorstore provider %q", c.VectorStore.Provider)
	}

	if len(c.Collections) == 0 {
		return errors.New("at least one collection must be configured")
	}
	seen := make(map[string]bool, len(c.Collections))
	singulars := make(map[string]string, len(c.Collections))
	for _, col := range c.Collections {
		if !collectionNamePattern.MatchString(col.Name) {
			return fmt.Errorf("invalid collection name %q (must match %s)", col.Name, collectionNamePattern)
		}
		if slices.Contains(ReservedCollectionNames, col.Name) {
			return fmt.Errorf("collection name %q is reserved", col.Name)
		}
		if seen[col.Name] {
			return fmt.Errorf("duplicate collection %q", col.Name)
		}
		seen[col.Name] = true
		// "movie" and "movies" would share the movieCount key.
		singular := strings.TrimSuffix(col.Name, "s")
		if other, ok := singulars[singular]; ok {
			return fmt.Errorf("collections %q and %q differ only by a trailing s", other, col.Name)
		}
		singulars[singular] = col.Name
	}

	if c.Retrieval.DefaultThreshold < 0 || c.Retrieval.DefaultThreshold > 1 {
		return fmt.Errorf("retrieval default_threshold must be between 0 and 1, got %v", c.Retrieval.DefaultThreshold)
	}
	if c.Retrieval.MaxQueryLength <= 0 {
		return errors.New("retrieval max_query_length must be positive")
	}

	if c.Chunking.DefaultOverlap < 0 || c.Chunking.DefaultOverlap >= c.Chunking.DefaultSize {
		return fmt.Errorf("chunking default_overlap must be between 0 and default_size, got %d", c.Chunking.DefaultOverlap)
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry sample_rate must be between 0 and 1, got %v", c.Telemetry.SampleRate)
	}

	return nil
}

// Collection returns the named collection config.
func (c *Config) Collection(name string) (CollectionConfig, bool) {
	for _, col := range c.Collections {
		if col.Name == name {
			return col, true
		}
	}
	return CollectionConfig{}, false
}

// DimensionForModel returns the vector dimension of a known embedding model,
// or 0 when the model is unknown.
func DimensionForModel(model string) int {
	switch model {
	case "BAAI/bge-small-en-v1.5", "sentence-transformers/all-MiniLM-L6-v2", "all-minilm":
		return 384
	case "BAAI/bge-base-en-v1.5", "nomic-embed-text":
		return 768
	case "BAAI/bge-large-en-v1.5", "mxbai-embed-large":
		return 1024
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	case "text-embedding-3-large":
		return 3072
	default:
		return 0
	}
}

func durationOr(d Duration, def time.Duration) Duration {
	if d == 0 {
		return Duration(def)
	}
	return d
}
