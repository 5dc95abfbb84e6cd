package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/mnemo/ai/memory/knowledge"
	"github.com/hrygo/mnemo/store"
)

type IndexKnowledgeRequest struct {
	knowledge.IndexRequest
	// Async queues the request on the background indexer and returns 202.
	Async bool `json:"async"`
}

type IndexKnowledgeResponse struct {
	ChunksIndexed int  `json:"chunks_indexed"`
	ChunksSkipped int  `json:"chunks_skipped"`
	Queued        bool `json:"queued,omitempty"`
}

type RetrieveKnowledgeRequest struct {
	Query    string             `json:"query"`
	OwnerID  string             `json:"owner_id"`
	TopK     int                `json:"top_k"`
	MinScore *float64           `json:"min_score,omitempty"`
	Kinds    []store.SourceKind `json:"kinds"`
}

func (s *APIV1Service) IndexKnowledge(c echo.Context) error {
	req, err := bind[IndexKnowledgeRequest](c)
	if err != nil {
		return err
	}
	if err := requireOwnerAccess(c, req.OwnerID); err != nil {
		return err
	}
	if req.Kind != "" && !req.Kind.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid source kind")
	}

	if req.Async {
		if !s.Indexer.Enqueue(req.IndexRequest) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "index queue is full")
		}
		return c.JSON(http.StatusAccepted, IndexKnowledgeResponse{Queued: true})
	}

	result, err := s.Knowledge.Index(c.Request().Context(), req.IndexRequest)
	if err != nil {
		return serviceError(err, "failed to index")
	}
	return c.JSON(http.StatusOK, IndexKnowledgeResponse{
		ChunksIndexed: result.ChunksIndexed,
		ChunksSkipped: result.ChunksSkipped,
	})
}

// RetrieveKnowledge returns an empty result, not an error, when the backends are down.
func (s *APIV1Service) RetrieveKnowledge(c echo.Context) error {
	req, err := bind[RetrieveKnowledgeRequest](c)
	if err != nil {
		return err
	}
	if err := requireOwnerAccess(c, req.OwnerID); err != nil {
		return err
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	if req.TopK < 0 || (req.MinScore != nil && (*req.MinScore < 0 || *req.MinScore > 1)) {
		return echo.NewHTTPError(http.StatusBadRequest, "top_k must be >= 0 and min_score in [0, 1]")
	}

	result := s.Knowledge.Retrieve(c.Request().Context(), req.Query, req.OwnerID, knowledge.RetrieveOptions{
		TopK:     req.TopK,
		MinScore: req.MinScore,
		Kinds:    req.Kinds,
	})
	return c.JSON(http.StatusOK, result)
}
