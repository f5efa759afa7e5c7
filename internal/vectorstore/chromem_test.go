package vectorstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/mediarag/internal/apperr"
	"github.com/fyrsmithlabs/mediarag/internal/telemetry"
)

func newChromemTestStore(t *testing.T) *Store {
	t.Helper()
	backend, err := NewChromemStore(ChromemConfig{}, 3, nil)
	require.NoError(t, err)
	s, err := New(backend, Options{Dimension: 3, Collections: []string{"podcasts", "movies"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestChromemInsertAndSearch(t *testing.T) {
	s := newChromemTestStore(t)
	ctx := context.Background()

	docs, err := s.Insert(ctx, "podcasts", []NewDocument{
		{Content: "episode about rockets", Embedding: []float32{1, 0, 0}},
		{Content: "episode about cooking", Embedding: []float32{0, 1, 0}},
		{Content: "episode about space food", Embedding: []float32{1, 1, 0}},
	})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	for _, d := range docs {
		assert.NotEmpty(t, d.ID)
		assert.False(t, d.CreatedAt.IsZero())
	}

	hits, err := s.Search(ctx, "podcasts", []float32{1, 0, 0}, 0.5, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "episode about rockets", hits[0].Content)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-5)
	assert.Equal(t, "episode about space food", hits[1].Content)
	assert.InDelta(t, 0.7071, hits[1].Similarity, 1e-3)
	assert.Equal(t, "podcasts", hits[0].Source)

	// Collections are isolated.
	hits, err = s.Search(ctx, "movies", []float32{1, 0, 0}, 0, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestChromemSearchCountLargerThanCollection(t *testing.T) {
	s := newChromemTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "movies", []NewDocument{{Content: "only one", Embedding: []float32{0, 0, 1}}})
	require.NoError(t, err)

	hits, err := s.Search(ctx, "movies", []float32{0, 0, 1}, 0, 50)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestChromemListNewestFirst(t *testing.T) {
	s := newChromemTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, content := range []string{"first", "second", "third"} {
		timeNow = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		_, err := s.Insert(ctx, "movies", []NewDocument{{Content: content, Embedding: []float32{float32(i + 1), 1, 0}}})
		require.NoError(t, err)
	}
	timeNow = time.Now

	page, err := s.List(ctx, "movies", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.True(t, page.HasMore)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "third", page.Items[0].Content)
	assert.Equal(t, "second", page.Items[1].Content)
	assert.Equal(t, base.Add(2*time.Minute), page.Items[0].CreatedAt)
	assert.Len(t, page.Items[0].Embedding, 3)

	page, err = s.List(ctx, "movies", 2, 2)
	require.NoError(t, err)
	assert.False(t, page.HasMore)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "first", page.Items[0].Content)

	page, err = s.List(ctx, "movies", 5, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 3, page.Total)
}

func TestChromemListEmptyCollection(t *testing.T) {
	s := newChromemTestStore(t)

	page, err := s.List(context.Background(), "podcasts", 100, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
	assert.Empty(t, page.Items)
	assert.False(t, page.HasMore)
}

func TestChromemUnconfirmedDeleteLeavesStoreUnchanged(t *testing.T) {
	s := newChromemTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "podcasts", []NewDocument{
		{Content: "a", Embedding: []float32{1, 0, 0}},
		{Content: "b", Embedding: []float32{0, 1, 0}},
	})
	require.NoError(t, err)
	before, err := s.List(ctx, "podcasts", 100, 0)
	require.NoError(t, err)

	_, err = s.DeleteAll(ctx, "podcasts", false)
	assert.ErrorIs(t, err, apperr.ErrConfirmationRequired)

	after, err := s.List(ctx, "podcasts", 100, 0)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestChromemDeleteAll(t *testing.T) {
	s := newChromemTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "podcasts", []NewDocument{
		{Content: "a", Embedding: []float32{1, 0, 0}},
		{Content: "b", Embedding: []float32{0, 1, 0}},
	})
	require.NoError(t, err)
	_, err = s.Insert(ctx, "movies", []NewDocument{{Content: "m", Embedding: []float32{0, 0, 1}}})
	require.NoError(t, err)

	n, err := s.DeleteAll(ctx, "podcasts", true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := s.Count(ctx, "podcasts")
	require.NoError(t, err)
	assert.Zero(t, count)

	// The collection is usable again and the other one is untouched.
	_, err = s.Insert(ctx, "podcasts", []NewDocument{{Content: "c", Embedding: []float32{1, 0, 0}}})
	require.NoError(t, err)
	count, err = s.Count(ctx, "movies")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestChromemPersistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b1, err := NewChromemStore(ChromemConfig{Path: dir}, 3, nil)
	require.NoError(t, err)
	_, err = b1.Insert(ctx, "podcasts", []NewDocument{{Content: "kept", Embedding: []float32{1, 0, 0}}})
	require.NoError(t, err)

	b2, err := NewChromemStore(ChromemConfig{Path: dir}, 3, nil)
	require.NoError(t, err)
	docs, total, err := b2.List(ctx, "podcasts", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, docs, 1)
	assert.Equal(t, "kept", docs[0].Content)
}

func TestChromemSpans(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	backend, err := NewChromemStore(ChromemConfig{}, 3, nil)
	require.NoError(t, err)
	backend.tracer = tel.Tracer("test")

	_, err = backend.Search(context.Background(), "podcasts", []float32{1, 0, 0}, 0.3, 3)
	require.NoError(t, err)

	require.NotNil(t, tel.SpanByName("ChromemStore.Search"))
	tel.AssertSpanAttribute(t, "ChromemStore.Search", "collection", "podcasts")
	tel.AssertSpanAttribute(t, "ChromemStore.Search", "count", int64(3))
}
