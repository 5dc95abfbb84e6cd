package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type PruneRequest struct {
	OwnerID string `json:"owner_id"`
	Days    int    `json:"days"`
}

func (s *APIV1Service) PruneExpired(c echo.Context) error {
	if err := requireAdmin(c); err != nil {
		return err
	}
	n, err := s.Maintenance.PruneExpired(c.Request().Context())
	if err != nil {
		return serviceError(err, "failed to prune expired cache entries")
	}
	return c.JSON(http.StatusOK, DeleteResponse{Deleted: n})
}

func (s *APIV1Service) PruneOlderThan(c echo.Context) error {
	req, err := bind[PruneRequest](c)
	if err != nil {
		return err
	}
	if err := requireOwnerAccess(c, req.OwnerID); err != nil {
		return err
	}
	if req.Days < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "days cannot be negative")
	}

	n, err := s.Maintenance.PruneOlderThan(c.Request().Context(), req.OwnerID, req.Days)
	if err != nil {
		return serviceError(err, "failed to prune knowledge")
	}
	return c.JSON(http.StatusOK, DeleteResponse{Deleted: n})
}
