package vectorstore

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/mediarag/internal/apperr"
)

// fakeBackend records calls and returns canned results.
type fakeBackend struct {
	calls     []string
	hits      []SearchHit
	err       error
	deleted   int
	gotThresh float64
	gotCount  int
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Insert(_ context.Context, _ string, docs []NewDocument) ([]Document, error) {
	f.calls = append(f.calls, "insert")
	if f.err != nil {
		return nil, f.err
	}
	out := make([]Document, len(docs))
	for i, d := range docs {
		out[i] = Document{ID: string(rune('a' + i)), Content: d.Content, Embedding: d.Embedding}
	}
	return out, nil
}

func (f *fakeBackend) List(_ context.Context, _ string, limit, offset int) ([]Document, int, error) {
	f.calls = append(f.calls, "list")
	return nil, 25, f.err
}

func (f *fakeBackend) Search(_ context.Context, _ string, _ []float32, threshold float64, count int) ([]SearchHit, error) {
	f.calls = append(f.calls, "search")
	f.gotThresh, f.gotCount = threshold, count
	return f.hits, f.err
}

func (f *fakeBackend) DeleteAll(context.Context, string) (int, error) {
	f.calls = append(f.calls, "delete_all")
	return f.deleted, f.err
}

func (f *fakeBackend) Count(context.Context, string) (int, error) {
	f.calls = append(f.calls, "count")
	return 7, f.err
}

func (f *fakeBackend) Health(context.Context) error { return f.err }
func (f *fakeBackend) Close() error                 { return nil }

func newTestStore(t *testing.T, b Backend) *Store {
	t.Helper()
	s, err := New(b, Options{Dimension: 3, Collections: []string{"podcasts", "movies"}})
	require.NoError(t, err)
	return s
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(nil, Options{Dimension: 3})
	assert.Error(t, err)

	_, err = New(&fakeBackend{}, Options{Dimension: 0})
	assert.ErrorIs(t, err, apperr.ErrInvalidParameter)

	_, err = New(&fakeBackend{}, Options{Dimension: 3, Collections: []string{"Bad-Name"}})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	s, err := New(&fakeBackend{}, Options{Dimension: 3, Collections: []string{"podcasts", "movies", "podcasts"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"podcasts", "movies"}, s.Collections())
}

func TestUnknownCollectionRejected(t *testing.T) {
	b := &fakeBackend{}
	s := newTestStore(t, b)

	_, err := s.Search(context.Background(), "books", []float32{1, 0, 0}, 0.5, 5)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = s.Search(context.Background(), "../etc", []float32{1, 0, 0}, 0.5, 5)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	assert.Empty(t, b.calls)
}

func TestSearchClampsParameters(t *testing.T) {
	tests := []struct {
		name       string
		threshold  float64
		count      int
		wantThresh float64
		wantCount  int
	}{
		{"in range", 0.5, 5, 0.5, 5},
		{"negative threshold", -0.3, 5, 0, 5},
		{"threshold above one", 1.7, 5, 1, 5},
		{"NaN threshold", math.NaN(), 5, 0, 5},
		{"zero count", 0.5, 0, 0.5, 1},
		{"negative count", 0.5, -4, 0.5, 1},
		{"count above max", 0.5, 500, 0.5, MaxSearchCount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBackend{}
			s := newTestStore(t, b)
			_, err := s.Search(context.Background(), "podcasts", []float32{1, 0, 0}, tt.threshold, tt.count)
			require.NoError(t, err)
			assert.Equal(t, tt.wantThresh, b.gotThresh)
			assert.Equal(t, tt.wantCount, b.gotCount)
		})
	}
}

func TestSearchFiltersSortsAndTags(t *testing.T) {
	b := &fakeBackend{hits: []SearchHit{
		{ID: "low", Similarity: 0.2},
		{ID: "mid", Similarity: 0.6},
		{ID: "top", Similarity: 0.9},
		{ID: "edge", Similarity: 0.5},
	}}
	s := newTestStore(t, b)

	hits, err := s.Search(context.Background(), "movies", []float32{1, 0, 0}, 0.5, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "top", hits[0].ID)
	assert.Equal(t, "mid", hits[1].ID)
	for _, h := range hits {
		assert.Equal(t, "movies", h.Source)
	}
}

func TestSearchDimensionMismatch(t *testing.T) {
	b := &fakeBackend{}
	s := newTestStore(t, b)

	_, err := s.Search(context.Background(), "podcasts", []float32{1, 0}, 0.5, 5)
	assert.ErrorIs(t, err, apperr.ErrDimensionMismatch)
	assert.Empty(t, b.calls)
}

func TestInsertValidation(t *testing.T) {
	b := &fakeBackend{}
	s := newTestStore(t, b)
	ctx := context.Background()

	_, err := s.Insert(ctx, "podcasts", nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = s.Insert(ctx, "podcasts", []NewDocument{{Content: "  ", Embedding: []float32{1, 0, 0}}})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = s.Insert(ctx, "podcasts", []NewDocument{
		{Content: "ok", Embedding: []float32{1, 0, 0}},
		{Content: "short", Embedding: []float32{1}},
	})
	assert.ErrorIs(t, err, apperr.ErrDimensionMismatch)
	assert.Empty(t, b.calls)

	docs, err := s.Insert(ctx, "podcasts", []NewDocument{{Content: "ok", Embedding: []float32{1, 0, 0}}})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestBackendErrorsBecomeStoreErrors(t *testing.T) {
	b := &fakeBackend{err: errors.New("connection reset")}
	s := newTestStore(t, b)

	_, err := s.Insert(context.Background(), "podcasts", []NewDocument{{Content: "ok", Embedding: []float32{1, 0, 0}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrStore)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "podcasts", e.Collection)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestBackendKindIsPreserved(t *testing.T) {
	b := &fakeBackend{err: apperr.StoreUnavailable("vectorstore.Search", "", "create the function", nil)}
	s := newTestStore(t, b)

	_, err := s.Search(context.Background(), "movies", []float32{1, 0, 0}, 0.5, 5)
	assert.ErrorIs(t, err, apperr.ErrStoreUnavailable)
	e, _ := apperr.As(err)
	assert.Equal(t, "movies", e.Collection)
}

func TestListValidation(t *testing.T) {
	tests := []struct {
		name   string
		limit  int
		offset int
	}{
		{"zero limit", 0, 0},
		{"limit too large", MaxListLimit + 1, 0},
		{"negative offset", 10, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBackend{}
			s := newTestStore(t, b)
			_, err := s.List(context.Background(), "podcasts", tt.limit, tt.offset)
			assert.ErrorIs(t, err, apperr.ErrInvalidParameter)
			assert.Empty(t, b.calls)
		})
	}
}

func TestListHasMore(t *testing.T) {
	s := newTestStore(t, &fakeBackend{})

	page, err := s.List(context.Background(), "podcasts", 10, 10)
	require.NoError(t, err)
	assert.Equal(t, 25, page.Total)
	assert.True(t, page.HasMore)
	assert.NotNil(t, page.Items)

	page, err = s.List(context.Background(), "podcasts", 10, 15)
	require.NoError(t, err)
	assert.False(t, page.HasMore)
}

func TestDeleteAllRequiresConfirmation(t *testing.T) {
	b := &fakeBackend{deleted: 4}
	s := newTestStore(t, b)

	_, err := s.DeleteAll(context.Background(), "movies", false)
	assert.ErrorIs(t, err, apperr.ErrConfirmationRequired)
	assert.Empty(t, b.calls)

	n, err := s.DeleteAll(context.Background(), "movies", true)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"delete_all"}, b.calls)
}

func TestClampHelpers(t *testing.T) {
	assert.Equal(t, 0.0, ClampThreshold(math.Inf(-1)))
	assert.Equal(t, 1.0, ClampThreshold(math.Inf(1)))
	assert.Equal(t, 0.25, ClampThreshold(0.25))
	assert.Equal(t, 1, ClampCount(math.MinInt))
	assert.Equal(t, 50, ClampCount(math.MaxInt))
	assert.Equal(t, 20, ClampCount(20))
}
