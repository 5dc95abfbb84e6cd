package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type LookupCacheRequest struct {
	Question string `json:"question"`
	OwnerID  string `json:"owner_id"`
	Scope    string `json:"scope"`
}

type LookupCacheResponse struct {
	Hit        bool    `json:"hit"`
	EntryID    string  `json:"entry_id,omitempty"`
	Response   string  `json:"response,omitempty"`
	Similarity float64 `json:"similarity,omitempty"`
	Source     string  `json:"source,omitempty"`
}

type StoreCacheEntryRequest struct {
	Question   string `json:"question"`
	Response   string `json:"response"`
	OwnerID    string `json:"owner_id"`
	Scope      string `json:"scope"`
	Provenance string `json:"provenance"`
}

type StoreCacheEntryResponse struct {
	ID string `json:"id"`
}

type DeleteResponse struct {
	Deleted int64 `json:"deleted"`
}

type CacheStatsResponse struct {
	FrontHits   int64 `json:"front_hits"`
	DurableHits int64 `json:"durable_hits"`
	Misses      int64 `json:"misses"`
	Degraded    int64 `json:"degraded"`
	FrontSize   int   `json:"front_size"`
}

// LookupCache never fails on backend trouble; a degraded lookup is a miss.
func (s *APIV1Service) LookupCache(c echo.Context) error {
	req, err := bind[LookupCacheRequest](c)
	if err != nil {
		return err
	}
	if err := requireOwnerAccess(c, req.OwnerID); err != nil {
		return err
	}
	if req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question is required")
	}

	result := s.Cache.Lookup(c.Request().Context(), req.Question, req.OwnerID, req.Scope)
	return c.JSON(http.StatusOK, LookupCacheResponse{
		Hit:        result.Hit,
		EntryID:    result.EntryID,
		Response:   result.Response,
		Similarity: result.Similarity,
		Source:     string(result.Source),
	})
}

func (s *APIV1Service) StoreCacheEntry(c echo.Context) error {
	req, err := bind[StoreCacheEntryRequest](c)
	if err != nil {
		return err
	}
	if err := requireOwnerAccess(c, req.OwnerID); err != nil {
		return err
	}

	id, err := s.Cache.Store(c.Request().Context(), req.Question, req.Response, req.OwnerID, req.Scope, req.Provenance)
	if err != nil {
		return serviceError(err, "failed to store cache entry")
	}
	return c.JSON(http.StatusCreated, StoreCacheEntryResponse{ID: id})
}

// InvalidateCacheEntry removes one entry by id. Entries of other owners
// answer 404 like missing ones.
func (s *APIV1Service) InvalidateCacheEntry(c echo.Context) error {
	found, err := s.Cache.Invalidate(c.Request().Context(), c.Param("id"), callerOwnerScope(c))
	if err != nil {
		return serviceError(err, "failed to invalidate cache entry")
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "cache entry not found")
	}
	return c.JSON(http.StatusOK, DeleteResponse{Deleted: 1})
}

// ClearCache removes an owner's entries, or every entry with ?all=true (admin only).
func (s *APIV1Service) ClearCache(c echo.Context) error {
	ownerID := c.QueryParam("owner_id")
	if ownerID == "" && c.QueryParam("all") == "true" {
		if err := requireAdmin(c); err != nil {
			return err
		}
	} else if err := requireOwnerAccess(c, ownerID); err != nil {
		return err
	}

	n, err := s.Cache.Clear(c.Request().Context(), ownerID)
	if err != nil {
		return serviceError(err, "failed to clear cache")
	}
	return c.JSON(http.StatusOK, DeleteResponse{Deleted: n})
}

func (s *APIV1Service) GetCacheStats(c echo.Context) error {
	stats := s.Cache.Stats()
	return c.JSON(http.StatusOK, CacheStatsResponse{
		FrontHits:   stats.FrontHits,
		DurableHits: stats.DurableHits,
		Misses:      stats.Misses,
		Degraded:    stats.Degraded,
		FrontSize:   stats.FrontSize,
	})
}
