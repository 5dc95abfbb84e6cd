package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/hrygo/mnemo/ai/memory"
	"github.com/hrygo/mnemo/ai/memory/degrade"
	"github.com/hrygo/mnemo/ai/memory/knowledge"
	"github.com/hrygo/mnemo/internal/profile"
	"github.com/hrygo/mnemo/server/auth"
)

// Enqueuer accepts background index requests.
type Enqueuer interface {
	Enqueue(req knowledge.IndexRequest) bool
}

// APIV1Service exposes the memory services over JSON/HTTP.
type APIV1Service struct {
	Profile     *profile.Profile
	Cache       memory.CacheService
	Knowledge   memory.KnowledgeService
	Indexer     Enqueuer
	Maintenance memory.Maintainer

	authenticator *auth.Authenticator
}

func NewAPIV1Service(secret string, profile *profile.Profile, rt *memory.Runtime) *APIV1Service {
	return &APIV1Service{
		Profile:       profile,
		Cache:         rt.Cache,
		Knowledge:     rt.Knowledge,
		Indexer:       rt.Indexer,
		Maintenance:   rt.Maintain,
		authenticator: auth.NewAuthenticator(secret),
	}
}

// RegisterRoutes mounts the /api/v1 endpoints on echoServer.
func (s *APIV1Service) RegisterRoutes(echoServer *echo.Echo) {
	group := echoServer.Group("/api/v1", middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOriginFunc: func(_ string) (bool, error) {
			return true, nil
		},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"*"},
	}))
	if s.authenticator != nil {
		group.Use(authMiddleware(s.authenticator))
	}

	group.POST("/cache/lookup", s.LookupCache)
	group.POST("/cache/entries", s.StoreCacheEntry)
	group.DELETE("/cache/entries/:id", s.InvalidateCacheEntry)
	group.DELETE("/cache/entries", s.ClearCache)
	group.GET("/cache/stats", s.GetCacheStats)

	group.POST("/knowledge/index", s.IndexKnowledge)
	group.POST("/knowledge/retrieve", s.RetrieveKnowledge)

	group.POST("/maintenance/prune-expired", s.PruneExpired)
	group.POST("/maintenance/prune", s.PruneOlderThan)
}

// serviceError maps a memory service error onto an HTTP status.
// Errors outside the degradation kinds are validation failures.
func serviceError(err error, message string) error {
	switch degrade.Kind(err) {
	case degrade.KindOther:
		return echo.NewHTTPError(http.StatusBadRequest, errors.Cause(err).Error()).SetInternal(err)
	case degrade.KindDimensionMismatch:
		return echo.NewHTTPError(http.StatusConflict, "embedding dimension mismatch").SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusServiceUnavailable, message).SetInternal(err)
	}
}

func bind[T any](c echo.Context) (*T, error) {
	req := new(T)
	if err := c.Bind(req); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
	}
	return req, nil
}
