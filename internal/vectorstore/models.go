package vectorstore

import (
	"regexp"
	"time"

	"github.com/fyrsmithlabs/mediarag/internal/apperr"
)

// Bounds applied by Store.
const (
	MinSearchCount = 1
	MaxSearchCount = 50
	MinListLimit   = 1
	MaxListLimit   = 1000
)

// NewDocument is a document to insert. The store assigns its ID.
type NewDocument struct {
	Content   string
	Embedding []float32
}

// Document is a stored document.
type Document struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SearchHit is one nearest-neighbour match.
type SearchHit struct {
	ID         string  `json:"id"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
	// Source is the collection the hit came from.
	Source string `json:"source"`
}

// Page is one newest-first slice of a collection.
type Page struct {
	Items   []Document `json:"items"`
	Total   int        `json:"total"`
	Limit   int        `json:"limit"`
	Offset  int        `json:"offset"`
	HasMore bool       `json:"has_more"`
}

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName reports whether name is usable as a collection
// name on every backend.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return apperr.InvalidInput("vectorstore", "invalid collection name %q: must match %s", name, collectionNamePattern.String())
	}
	return nil
}
