package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/mnemo/ai/observability/logging"
	"github.com/hrygo/mnemo/server/auth"
)

// authMiddleware rejects requests without a valid bearer token.
// It is only installed when a JWT secret is configured.
func authMiddleware(authenticator *auth.Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, err := authenticator.Authenticate(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required").SetInternal(err)
			}
			req := c.Request()
			ctx := auth.SetClaimsInContext(req.Context(), claims)
			ctx = logging.ToContext(ctx, logging.FromContext(ctx).WithField("caller", claims.OwnerID()))
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}

// requireOwnerAccess ensures the caller may act for ownerID: either the token
// subject is ownerID or the caller is an admin. Without auth every owner is allowed.
func requireOwnerAccess(c echo.Context, ownerID string) error {
	if ownerID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "owner_id is required")
	}
	claims := auth.ClaimsFromContext(c.Request().Context())
	if claims == nil {
		return nil
	}
	if claims.OwnerID() != ownerID && !claims.IsAdmin() {
		return echo.NewHTTPError(http.StatusForbidden, "permission denied")
	}
	return nil
}

// callerOwnerScope returns the owner a non-admin caller is confined to, or
// "" when the caller may touch any owner's records.
func callerOwnerScope(c echo.Context) string {
	claims := auth.ClaimsFromContext(c.Request().Context())
	if claims == nil || claims.IsAdmin() {
		return ""
	}
	return claims.OwnerID()
}

// requireAdmin guards cross-owner operations.
func requireAdmin(c echo.Context) error {
	claims := auth.ClaimsFromContext(c.Request().Context())
	if claims == nil {
		return nil
	}
	if !claims.IsAdmin() {
		return echo.NewHTTPError(http.StatusForbidden, "admin role required")
	}
	return nil
}
