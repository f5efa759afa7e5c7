// Package seed loads the configured seed text of each collection.
//
// A seed file is either raw text (.txt, .md), stored as one document, or a
// TOML manifest listing several documents:
//
//	[[documents]]
//	content = "Episode 12: ..."
//
// Seed data is read once at startup; later changes to the files are ignored
// until the process restarts.
package seed

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/fyrsmithlabs/mediarag/internal/config"
)

// MaxFileSize bounds a single seed file.
const MaxFileSize = 10 << 20

var (
	// ErrInvalidManifest indicates a TOML manifest that cannot be decoded.
	ErrInvalidManifest = errors.New("invalid seed manifest")
	// ErrUnsupportedFormat indicates a seed file extension we cannot read.
	ErrUnsupportedFormat = errors.New("unsupported seed file format")
)

// Data is the seed content of one collection.
type Data struct {
	Collection string
	Path       string
	Documents  []string
}

// Text joins all documents, separated by blank lines.
func (d Data) Text() string {
	return strings.Join(d.Documents, "\n\n")
}

// Set holds the seed data of every collection that names a seed file.
type Set struct {
	data map[string]Data
}

// Load reads the seed file of every collection. Collections without a seed
// file are skipped; a configured file that cannot be read fails the load.
func Load(collections []config.CollectionConfig) (*Set, error) {
	s := &Set{data: make(map[string]Data)}
	for _, col := range collections {
		if col.SeedFile == "" {
			continue
		}
		docs, err := LoadFile(col.SeedFile)
		if err != nil {
			return nil, fmt.Errorf("seed %s: %w", col.Name, err)
		}
		s.data[col.Name] = Data{Collection: col.Name, Path: col.SeedFile, Documents: docs}
	}
	return s, nil
}

// Get returns the seed data of collection.
func (s *Set) Get(collection string) (Data, bool) {
	if s == nil {
		return Data{}, false
	}
	d, ok := s.data[collection]
	return d, ok
}

// Collections returns the seeded collection names, sorted.
func (s *Set) Collections() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.data))
	for name := range s.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadFile reads one seed file and returns its non-blank documents.
func LoadFile(path string) ([]string, error) {
	path, err := expandPath(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", path, MaxFileSize)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".txt", ".md", ".markdown":
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		text := strings.TrimSpace(string(raw))
		if text == "" {
			return nil, nil
		}
		return []string{text}, nil
	case ".toml":
		return loadManifest(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

func loadManifest(path string) ([]string, error) {
	var manifest struct {
		Documents []struct {
			Content string `toml:"content"`
		} `toml:"documents"`
	}
	md, err := toml.DecodeFile(path, &manifest)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidManifest, path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: %s: unknown key %s", ErrInvalidManifest, path, undecoded[0])
	}

	var docs []string
	for _, d := range manifest.Documents {
		if text := strings.TrimSpace(d.Content); text != "" {
			docs = append(docs, text)
		}
	}
	return docs, nil
}

func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding %s: %w", path, err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}
