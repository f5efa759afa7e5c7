package http

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mediarag/internal/apperr"
	"github.com/fyrsmithlabs/mediarag/internal/llm"
	"github.com/fyrsmithlabs/mediarag/internal/service"
)

// DefaultListLimit is the page size of document listings.
const DefaultListLimit = 100

// EmbeddingsRequest is the body of POST /api/v1/embeddings. Texts selects
// batch mode.
type EmbeddingsRequest struct {
	Text  string   `json:"text"`
	Texts []string `json:"texts"`
}

// CompareRequest is the body of POST /api/v1/embeddings/compare.
type CompareRequest struct {
	Text1 string `json:"text1"`
	Text2 string `json:"text2"`
}

// StoreRequest is the body of POST /collections/:collection/documents.
type StoreRequest struct {
	Texts []string `json:"texts"`
}

// SearchRequest is the body of both search endpoints. Nil fields take the
// endpoint's defaults.
type SearchRequest struct {
	Query     string   `json:"query"`
	Limit     *int     `json:"limit"`
	Threshold *float64 `json:"threshold"`
}

// ProcessRequest is the body of POST /collections/:collection/process.
// Without text the collection's seed data is processed.
type ProcessRequest struct {
	Text         string `json:"text"`
	ChunkSize    *int   `json:"chunkSize"`
	ChunkOverlap *int   `json:"chunkOverlap"`
}

// ChatRequest is the body of POST /api/v1/chat.
type ChatRequest struct {
	Messages []llm.Message `json:"messages"`
	Query    string        `json:"query"`
}

// DeleteResponse is the body of a successful collection clear.
type DeleteResponse struct {
	Collection string `json:"collection"`
	Deleted    int    `json:"deleted"`
}

func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return apperr.InvalidInput("http.bind", "invalid request body")
	}
	return nil
}

func (s *Server) handleHealth(c echo.Context) error {
	report := s.svc.Health(c.Request().Context())
	status := http.StatusOK
	if report.Status != service.StatusOK {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, report)
}

func (s *Server) handleEmbeddings(c echo.Context) error {
	var req EmbeddingsRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()

	if req.Texts != nil {
		res, err := s.svc.EmbedBatch(ctx, req.Texts)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, res)
	}
	res, err := s.svc.Embed(ctx, req.Text)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleCompare(c echo.Context) error {
	var req CompareRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := s.svc.Compare(c.Request().Context(), req.Text1, req.Text2)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleCollections(c echo.Context) error {
	infos, err := s.svc.Collections(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"collections": infos})
}

func (s *Server) handleListDocuments(c echo.Context) error {
	limit, offset := DefaultListLimit, 0
	if err := echo.QueryParamsBinder(c).
		Int("limit", &limit).
		Int("offset", &offset).
		BindError(); err != nil {
		return apperr.InvalidParameter("http.ListDocuments", "limit and offset must be integers")
	}
	page, err := s.svc.ListDocuments(c.Request().Context(), c.Param("collection"), limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

func (s *Server) handleStoreDocuments(c echo.Context) error {
	var req StoreRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := s.svc.StoreDocuments(c.Request().Context(), c.Param("collection"), req.Texts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (s *Server) handleDeleteAll(c echo.Context) error {
	var confirm bool
	if err := echo.QueryParamsBinder(c).Bool("confirm", &confirm).BindError(); err != nil {
		return apperr.InvalidParameter("http.DeleteAll", "confirm must be true or false")
	}
	ctx := c.Request().Context()
	collection := c.Param("collection")
	n, err := s.svc.DeleteAll(ctx, collection, confirm)
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "collection cleared", zap.Int("deleted", n))
	return c.JSON(http.StatusOK, DeleteResponse{Collection: collection, Deleted: n})
}

func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	limit, threshold := service.DefaultSearchLimit, service.DefaultSearchThreshold
	if req.Limit != nil {
		limit = *req.Limit
	}
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	res, err := s.svc.Search(c.Request().Context(), c.Param("collection"), req.Query, limit, threshold)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleProcess(c echo.Context) error {
	var req ProcessRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := s.svc.ChunkAndStore(c.Request().Context(), c.Param("collection"), req.Text, service.ChunkOptions{
		Size:    req.ChunkSize,
		Overlap: req.ChunkOverlap,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

// handleSearchAll returns the merged hits together with each collection's
// own list and count, keyed by collection name and label ("podcasts",
// "podcastCount").
func (s *Server) handleSearchAll(c echo.Context) error {
	var req SearchRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := s.svc.SearchAll(c.Request().Context(), req.Query, req.Limit, req.Threshold)
	if err != nil {
		return err
	}

	body := make(map[string]any, 2*len(res.Collections)+5)
	for _, name := range res.Collections {
		hits := res.BySource[name]
		body[name] = hits
		body[countKey(name)] = len(hits)
	}
	// Written last so a collection can never shadow them.
	body["query"] = strings.TrimSpace(req.Query)
	body["results"] = res.Hits
	body["totalResults"] = len(res.Hits)
	body["maxSimilarity"] = res.MaxSimilarity()
	body["failures"] = res.Failures
	return c.JSON(http.StatusOK, body)
}

func (s *Server) handleChat(c echo.Context) error {
	var req ChatRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := s.svc.Converse(c.Request().Context(), req.Messages, req.Query)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// countKey turns "podcasts" into "podcastCount".
func countKey(collection string) string {
	return strings.TrimSuffix(collection, "s") + "Count"
}
