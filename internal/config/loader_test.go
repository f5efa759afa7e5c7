package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the allowed config dir.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("OPENAI_API_KEY", "")

	dir := filepath.Join(home, ".config", "mediarag")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	return path
}

func TestLoadWithFile_Defaults(t *testing.T) {
	setupTestHome(t)

	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "openai", cfg.Provider.Name)
	assert.Equal(t, "text-embedding-ada-002", cfg.Embeddings.Model)
	assert.Equal(t, 1536, cfg.Embeddings.Dimension)
	assert.Equal(t, "gpt-4o-mini", cfg.Provider.ChatModel)
	assert.InDelta(t, 0.7, cfg.Provider.Temperature, 1e-9)
	assert.Equal(t, 500, cfg.Provider.MaxTokens)
	assert.Equal(t, "chromem", cfg.VectorStore.Provider)
	assert.True(t, strings.HasSuffix(cfg.VectorStore.Chromem.Path, filepath.Join(".local", "share", "mediarag", "vectors")))
	require.Len(t, cfg.Collections, 2)
	assert.Equal(t, CollectionConfig{Name: "podcasts", Label: "Podcast"}, cfg.Collections[0])
	assert.Equal(t, CollectionConfig{Name: "movies", Label: "Movie"}, cfg.Collections[1])
	assert.Equal(t, 3, cfg.Retrieval.DefaultLimit)
	assert.InDelta(t, 0.3, cfg.Retrieval.DefaultThreshold, 1e-9)
	assert.Equal(t, 500, cfg.Retrieval.MaxQueryLength)
	assert.Equal(t, "window", cfg.Chunking.Strategy)
	assert.Equal(t, 500, cfg.Chunking.DefaultSize)
	assert.Equal(t, 50, cfg.Chunking.DefaultOverlap)
	assert.False(t, cfg.Provider.APIKey.IsSet())
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `server:
  http_port: 9191
provider:
  name: ollama
  base_url: http://localhost:11434
vectorstore:
  provider: qdrant
  qdrant:
    host: qdrant.internal
    port: 6400
collections:
  - name: podcasts
    label: Episode
    seed_file: /data/podcasts.txt
  - name: books
`, 0600)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "ollama", cfg.Provider.Name)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
	assert.Equal(t, "nomic-embed-text", cfg.Embeddings.Model)
	assert.Equal(t, 768, cfg.Embeddings.Dimension)
	assert.Equal(t, "qdrant.internal", cfg.VectorStore.Qdrant.Host)
	assert.Equal(t, 6400, cfg.VectorStore.Qdrant.Port)
	require.Len(t, cfg.Collections, 2)
	assert.Equal(t, "Episode", cfg.Collections[0].Label)
	assert.Equal(t, "/data/podcasts.txt", cfg.Collections[0].SeedFile)
	assert.Equal(t, "Book", cfg.Collections[1].Label)

	col, ok := cfg.Collection("books")
	require.True(t, ok)
	assert.Equal(t, "books", col.Name)
	_, ok = cfg.Collection("missing")
	assert.False(t, ok)
}

func TestLoadWithFile_EmbeddingProviderDefaults(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `provider:
  name: openai
  base_url: https://llm-gateway.internal/v1
embeddings:
  provider: ollama
`, 0600)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
	assert.Equal(t, "nomic-embed-text", cfg.Embeddings.Model, "model follows the embeddings provider, not provider.embedding_model")
	assert.Equal(t, 768, cfg.Embeddings.Dimension)
	assert.Empty(t, cfg.Embeddings.BaseURL, "another provider's base_url is not inherited")

	path = writeConfig(t, dir, `provider:
  base_url: https://llm-gateway.internal/v1
embeddings:
  model: text-embedding-3-large
`, 0600)
	cfg, err = LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-3-large", cfg.Embeddings.Model)
	assert.Equal(t, 3072, cfg.Embeddings.Dimension)
	assert.Equal(t, "https://llm-gateway.internal/v1", cfg.Embeddings.BaseURL)
}

func TestLoadWithFile_EnvOverridesFile(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: 9191\n", 0600)

	t.Setenv("SERVER_HTTP_PORT", "7070")
	t.Setenv("PROVIDER_API_KEY", "sk-from-env")
	t.Setenv("PROVIDER_CHAT_MODEL", "gpt-4o")
	t.Setenv("RETRIEVAL_DEFAULT_LIMIT", "7")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "sk-from-env", cfg.Provider.APIKey.Value())
	assert.Equal(t, "gpt-4o", cfg.Provider.ChatModel)
	assert.Equal(t, 7, cfg.Retrieval.DefaultLimit)
}

func TestLoadWithFile_OpenAIKeyFallback(t *testing.T) {
	setupTestHome(t)
	t.Setenv("OPENAI_API_KEY", "sk-fallback")

	cfg, err := LoadWithFile("")
	require.NoError(t, err)
	assert.Equal(t, "sk-fallback", cfg.Provider.APIKey.Value())

	t.Setenv("PROVIDER_API_KEY", "sk-explicit")
	cfg, err = LoadWithFile("")
	require.NoError(t, err)
	assert.Equal(t, "sk-explicit", cfg.Provider.APIKey.Value())
}

func TestLoadWithFile_RejectsPathOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)
	other := t.TempDir()
	path := writeConfig(t, other, "server:\n  http_port: 9191\n", 0600)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path validation failed")
}

func TestLoadWithFile_RejectsSiblingPrefix(t *testing.T) {
	dir := setupTestHome(t)
	sibling := dir + "-evil"
	require.NoError(t, os.MkdirAll(sibling, 0700))
	path := writeConfig(t, sibling, "server:\n  http_port: 9191\n", 0600)

	_, err := LoadWithFile(path)
	assert.Error(t, err)
}

func TestLoadWithFile_RejectsInsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: 9191\n", 0644)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_RejectsLargeFile(t *testing.T) {
	dir := setupTestHome(t)
	content := "# " + strings.Repeat("x", maxConfigFileSize) + "\n"
	path := writeConfig(t, dir, content, 0600)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoadWithFile_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad port", "server:\n  http_port: 70000\n", "invalid server port"},
		{"bad provider", "provider:\n  name: anthropic\n", "unknown provider"},
		{"bad store", "vectorstore:\n  provider: milvus\n", "unknown vectorstore provider"},
		{"pgvector without dsn", "vectorstore:\n  provider: pgvector\n", "dsn is required"},
		{"bad collection name", "collections:\n  - name: Podcasts!\n", "invalid collection name"},
		{"duplicate collection", "collections:\n  - name: a\n  - name: a\n", "duplicate collection"},
		{"reserved collection name", "collections:\n  - name: results\n", "is reserved"},
		{"count key collision", "collections:\n  - name: movie\n  - name: movies\n", "trailing s"},
		{"threshold above one", "retrieval:\n  default_threshold: 1.5\n", "default_threshold"},
		{"overlap not below size", "chunking:\n  default_size: 100\n  default_overlap: 100\n", "default_overlap"},
		{"unknown model dimension", "embeddings:\n  model: custom-model\n", "dimension must be positive"},
		{"negative duration", "server:\n  shutdown_timeout: -5s\n", "negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := setupTestHome(t)
			path := writeConfig(t, dir, tt.yaml, 0600)

			_, err := LoadWithFile(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "server.http_port", envKey("SERVER_HTTP_PORT"))
	assert.Equal(t, "provider.api_key", envKey("PROVIDER_API_KEY"))
	assert.Equal(t, "vectorstore.provider", envKey("VECTORSTORE_PROVIDER"))
	assert.Equal(t, "", envKey("PATH"))
	assert.Equal(t, "", envKey("HOME_DIR"))
}

func TestEnsureConfigDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	require.NoError(t, EnsureConfigDir())
	info, err := os.Stat(filepath.Join(home, ".config", "mediarag"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestDefaultValidates(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	assert.NoError(t, Default().Validate())
}
