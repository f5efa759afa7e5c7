package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	appDir = "mediarag"
)

// envSections lists the top-level sections environment variables may set.
// Other variables in the process environment are ignored.
var envSections = map[string]bool{
	"server":      true,
	"logging":     true,
	"telemetry":   true,
	"provider":    true,
	"embeddings":  true,
	"vectorstore": true,
	"retrieval":   true,
	"chunking":    true,
	"chat":        true,
	"events":      true,
}

// LoadWithFile loads configuration from a YAML file, then overrides it with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (SERVER_HTTP_PORT, PROVIDER_API_KEY, ...)
//  2. YAML config file (~/.config/mediarag/config.yaml)
//  3. Defaults
//
// The file must live in ~/.config/mediarag/ or /etc/mediarag/, be mode 0600
// or 0400, and be at most 1MB. A missing file is not an error.
//
// Environment variables split on the first underscore:
//
//	SERVER_HTTP_PORT          -> server.http_port
//	PROVIDER_API_KEY          -> provider.api_key
//	VECTORSTORE_PROVIDER      -> vectorstore.provider
//
// OPENAI_API_KEY is used when provider.api_key is otherwise unset.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		dir, err := ConfigDir()
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(dir, "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		// Validate through the open descriptor so the checked file is the read file.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if !cfg.Provider.APIKey.IsSet() {
		cfg.Provider.APIKey = Secret(os.Getenv("OPENAI_API_KEY"))
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file or environment is
// present.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// envKey maps SECTION_FIELD_NAME to section.field_name. Variables outside the
// known sections map to "" and are dropped by koanf.
func envKey(s string) string {
	lower := strings.ToLower(s)
	section, field, ok := strings.Cut(lower, "_")
	if !ok || !envSections[section] {
		return ""
	}
	return section + "." + field
}

// ConfigDir returns ~/.config/mediarag.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", appDir), nil
}

// EnsureConfigDir creates the config directory with 0700 permissions.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return nil
}

// validateConfigPath checks the path is inside an allowed directory. It runs
// even when the file does not exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolved = absPath
	}

	userDir, err := ConfigDir()
	if err != nil {
		return err
	}
	for _, dir := range []string{userDir, filepath.Join("/etc", appDir)} {
		if resolved == dir || strings.HasPrefix(resolved, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/%s/ or /etc/%s/", appDir, appDir)
}

// validateConfigFileProperties checks permissions and size of an opened file.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	cfg.Server.ShutdownTimeout = durationOr(cfg.Server.ShutdownTimeout, 10*time.Second)
	cfg.Server.RequestTimeout = durationOr(cfg.Server.RequestTimeout, 60*time.Second)
	if cfg.Server.BodyLimit == "" {
		cfg.Server.BodyLimit = "2M"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = appDir
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}

	if cfg.Provider.Name == "" {
		cfg.Provider.Name = "openai"
	}
	if cfg.Provider.EmbeddingModel == "" {
		if cfg.Provider.Name == "ollama" {
			cfg.Provider.EmbeddingModel = "nomic-embed-text"
		} else {
			cfg.Provider.EmbeddingModel = "text-embedding-ada-002"
		}
	}
	if cfg.Provider.ChatModel == "" {
		if cfg.Provider.Name == "ollama" {
			cfg.Provider.ChatModel = "llama3.2"
		} else {
			cfg.Provider.ChatModel = "gpt-4o-mini"
		}
	}
	if cfg.Provider.Temperature == 0 {
		cfg.Provider.Temperature = 0.7
	}
	if cfg.Provider.MaxTokens == 0 {
		cfg.Provider.MaxTokens = 500
	}
	cfg.Provider.Timeout = durationOr(cfg.Provider.Timeout, 30*time.Second)
	if cfg.Provider.Burst == 0 {
		cfg.Provider.Burst = 5
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = cfg.Provider.Name
	}
	sameProvider := cfg.Embeddings.Provider == cfg.Provider.Name
	if cfg.Embeddings.Model == "" {
		switch {
		case cfg.Embeddings.Provider == "fastembed":
			cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
		case sameProvider:
			cfg.Embeddings.Model = cfg.Provider.EmbeddingModel
		case cfg.Embeddings.Provider == "ollama":
			cfg.Embeddings.Model = "nomic-embed-text"
		default:
			cfg.Embeddings.Model = "text-embedding-ada-002"
		}
	}
	if cfg.Embeddings.BaseURL == "" && sameProvider {
		cfg.Embeddings.BaseURL = cfg.Provider.BaseURL
	}
	if cfg.Embeddings.Dimension == 0 {
		cfg.Embeddings.Dimension = DimensionForModel(cfg.Embeddings.Model)
	}
	if cfg.Embeddings.BatchSize == 0 {
		cfg.Embeddings.BatchSize = 32
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Chromem.Path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.VectorStore.Chromem.Path = filepath.Join(home, ".local", "share", appDir, "vectors")
		}
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = "localhost"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}
	if cfg.VectorStore.Postgres.MaxConns == 0 {
		cfg.VectorStore.Postgres.MaxConns = 10
	}

	if len(cfg.Collections) == 0 {
		cfg.Collections = []CollectionConfig{
			{Name: "podcasts", Label: "Podcast"},
			{Name: "movies", Label: "Movie"},
		}
	}
	for i := range cfg.Collections {
		if cfg.Collections[i].Label == "" {
			cfg.Collections[i].Label = defaultLabel(cfg.Collections[i].Name)
		}
	}

	if cfg.Retrieval.DefaultLimit == 0 {
		cfg.Retrieval.DefaultLimit = 3
	}
	if cfg.Retrieval.DefaultThreshold == 0 {
		cfg.Retrieval.DefaultThreshold = 0.3
	}
	if cfg.Retrieval.MaxQueryLength == 0 {
		cfg.Retrieval.MaxQueryLength = 500
	}

	if cfg.Chunking.Strategy == "" {
		cfg.Chunking.Strategy = "window"
	}
	if cfg.Chunking.DefaultSize == 0 {
		cfg.Chunking.DefaultSize = 500
	}
	if cfg.Chunking.DefaultOverlap == 0 {
		cfg.Chunking.DefaultOverlap = 50
	}

	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = appDir
	}
}

// defaultLabel derives "Podcast" from "podcasts".
func defaultLabel(name string) string {
	label := strings.TrimSuffix(name, "s")
	if label == "" {
		return name
	}
	return strings.ToUpper(label[:1]) + label[1:]
}
