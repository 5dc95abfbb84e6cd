package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/mnemo/ai/memory"
	"github.com/hrygo/mnemo/ai/memory/knowledge"
	"github.com/hrygo/mnemo/internal/profile"
	"github.com/hrygo/mnemo/server/auth"
)

const testSecret = "test-secret"

type apiFixture struct {
	echo *echo.Echo
	rt   *memory.Runtime
}

func newFixture(t *testing.T, secret string) *apiFixture {
	t.Helper()
	p := &profile.Profile{
		Mode:                "dev",
		Driver:              "sqlite",
		Data:                t.TempDir(),
		EmbeddingProvider:   "local",
		EmbeddingDimensions: 256,
		JWTSecret:           secret,
	}
	require.NoError(t, p.Validate())
	rt, err := memory.NewRuntime(context.Background(), p)
	require.NoError(t, err)
	rt.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.Shutdown(ctx)
	})

	e := echo.New()
	NewAPIV1Service(secret, p, rt).RegisterRoutes(e)
	return &apiFixture{echo: e, rt: rt}
}

func (f *apiFixture) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestCacheEndpoints(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodPost, "/api/v1/cache/lookup", `{"question":"what is our refund window","owner_id":"alice"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[LookupCacheResponse](t, rec).Hit)

	rec = f.do(t, http.MethodPost, "/api/v1/cache/entries",
		`{"question":"what is our refund window","response":"30 days","owner_id":"alice","provenance":"faq"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[StoreCacheEntryResponse](t, rec).ID
	require.NotEmpty(t, id)

	rec = f.do(t, http.MethodPost, "/api/v1/cache/lookup", `{"question":"what is our refund window","owner_id":"alice"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	hit := decode[LookupCacheResponse](t, rec)
	assert.True(t, hit.Hit)
	assert.Equal(t, id, hit.EntryID)
	assert.Equal(t, "30 days", hit.Response)
	assert.Equal(t, "front", hit.Source)

	rec = f.do(t, http.MethodPost, "/api/v1/cache/lookup", `{"question":"what is our refund window","owner_id":"bob"}`, "")
	assert.False(t, decode[LookupCacheResponse](t, rec).Hit, "owners are isolated")

	rec = f.do(t, http.MethodGet, "/api/v1/cache/stats", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[CacheStatsResponse](t, rec)
	assert.Equal(t, int64(1), stats.FrontHits)
	assert.Equal(t, int64(2), stats.Misses)

	rec = f.do(t, http.MethodDelete, "/api/v1/cache/entries/"+id, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/v1/cache/entries/"+id, "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.do(t, http.MethodPost, "/api/v1/cache/entries", `{"question":"a","response":"b","owner_id":"alice"}`, "")
	f.do(t, http.MethodPost, "/api/v1/cache/entries", `{"question":"c","response":"d","owner_id":"alice"}`, "")
	rec = f.do(t, http.MethodDelete, "/api/v1/cache/entries?owner_id=alice", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2), decode[DeleteResponse](t, rec).Deleted)
}

func TestCacheEndpoints_Validation(t *testing.T) {
	f := newFixture(t, "")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"lookup without owner", http.MethodPost, "/api/v1/cache/lookup", `{"question":"q"}`, http.StatusBadRequest},
		{"lookup without question", http.MethodPost, "/api/v1/cache/lookup", `{"owner_id":"a"}`, http.StatusBadRequest},
		{"store without question", http.MethodPost, "/api/v1/cache/entries", `{"owner_id":"a","response":"r"}`, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/api/v1/cache/entries", `{"owner_id":`, http.StatusBadRequest},
		{"clear without owner", http.MethodDelete, "/api/v1/cache/entries", "", http.StatusBadRequest},
		{"clear all", http.MethodDelete, "/api/v1/cache/entries?all=true", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.body, "")
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestKnowledgeEndpoints(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodPost, "/api/v1/knowledge/index",
		`{"owner_id":"alice","role":"user","text":"the staging database migrates every sunday night","source_label":"ops"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[IndexKnowledgeResponse](t, rec).ChunksIndexed)

	rec = f.do(t, http.MethodPost, "/api/v1/knowledge/retrieve",
		`{"query":"staging database migrates every sunday night","owner_id":"alice"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[knowledge.RetrieveResult](t, rec)
	require.True(t, result.HasContext)
	assert.Equal(t, "ops", result.Sources[0].SourceLabel)
	assert.Contains(t, result.ContextText, "[ops]")

	rec = f.do(t, http.MethodPost, "/api/v1/knowledge/retrieve",
		`{"query":"staging database migrates every sunday night","owner_id":"bob"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	empty := decode[knowledge.RetrieveResult](t, rec)
	assert.False(t, empty.HasContext)
	assert.NotNil(t, empty.Sources)

	rec = f.do(t, http.MethodPost, "/api/v1/knowledge/index",
		`{"owner_id":"carol","text":"queued note","async":true}`, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, decode[IndexKnowledgeResponse](t, rec).Queued)

	rec = f.do(t, http.MethodPost, "/api/v1/knowledge/index", `{"owner_id":"alice","text":"x","kind":"bogus"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/v1/knowledge/retrieve", `{"query":"x","owner_id":"alice","min_score":2}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/v1/knowledge/retrieve", `{"query":"x","owner_id":"alice","min_score":0}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[knowledge.RetrieveResult](t, rec).HasContext, "explicit zero threshold")
}

func TestMaintenanceEndpoints(t *testing.T) {
	f := newFixture(t, "")

	f.do(t, http.MethodPost, "/api/v1/knowledge/index", `{"owner_id":"alice","text":"note to prune"}`, "")

	rec := f.do(t, http.MethodPost, "/api/v1/maintenance/prune-expired", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), decode[DeleteResponse](t, rec).Deleted)

	rec = f.do(t, http.MethodPost, "/api/v1/maintenance/prune", `{"owner_id":"alice","days":-1}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/maintenance/prune", `{"owner_id":"alice","days":30}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), decode[DeleteResponse](t, rec).Deleted, "recent chunks survive")
}

func TestAuth(t *testing.T) {
	f := newFixture(t, testSecret)
	authenticator := auth.NewAuthenticator(testSecret)
	alice, err := authenticator.IssueToken("alice", "", time.Minute)
	require.NoError(t, err)
	admin, err := authenticator.IssueToken("ops", auth.RoleAdmin, time.Minute)
	require.NoError(t, err)

	lookup := `{"question":"q","owner_id":"alice"}`
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		token  string
		want   int
	}{
		{"no token", http.MethodPost, "/api/v1/cache/lookup", lookup, "", http.StatusUnauthorized},
		{"garbage token", http.MethodPost, "/api/v1/cache/lookup", lookup, "nope", http.StatusUnauthorized},
		{"own data", http.MethodPost, "/api/v1/cache/lookup", lookup, alice, http.StatusOK},
		{"other owner", http.MethodPost, "/api/v1/cache/lookup", `{"question":"q","owner_id":"bob"}`, alice, http.StatusForbidden},
		{"admin on other owner", http.MethodPost, "/api/v1/cache/lookup", `{"question":"q","owner_id":"bob"}`, admin, http.StatusOK},
		{"clear all needs admin", http.MethodDelete, "/api/v1/cache/entries?all=true", "", alice, http.StatusForbidden},
		{"admin clears all", http.MethodDelete, "/api/v1/cache/entries?all=true", "", admin, http.StatusOK},
		{"prune expired needs admin", http.MethodPost, "/api/v1/maintenance/prune-expired", "", alice, http.StatusForbidden},
		{"admin prunes expired", http.MethodPost, "/api/v1/maintenance/prune-expired", "", admin, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.body, tt.token)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestAuth_InvalidateIsOwnerScoped(t *testing.T) {
	f := newFixture(t, testSecret)
	authenticator := auth.NewAuthenticator(testSecret)
	alice, err := authenticator.IssueToken("alice", "", time.Minute)
	require.NoError(t, err)
	bob, err := authenticator.IssueToken("bob", "", time.Minute)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/v1/cache/entries", `{"question":"refund window","response":"30 days","owner_id":"alice"}`, alice)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[StoreCacheEntryResponse](t, rec).ID

	rec = f.do(t, http.MethodDelete, "/api/v1/cache/entries/"+id, "", bob)
	assert.Equal(t, http.StatusNotFound, rec.Code, "another owner's entry looks missing")

	rec = f.do(t, http.MethodPost, "/api/v1/cache/lookup", `{"question":"refund window","owner_id":"alice"}`, alice)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[LookupCacheResponse](t, rec).Hit, "entry survives")

	rec = f.do(t, http.MethodDelete, "/api/v1/cache/entries/"+id, "", alice)
	assert.Equal(t, http.StatusOK, rec.Code)
}
