package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/phemap/phemap/internal/domain/phecode"
	"github.com/phemap/phemap/internal/platform/auth"
	"github.com/phemap/phemap/internal/platform/middleware"
)

const (
	definitionsCSV = "../../internal/domain/phecode/testdata/phecode_definitions.csv"
	mappingsCSV    = "../../internal/domain/phecode/testdata/phecode_icd10_map.csv"
)

// newTestServer assembles the full middleware stack the serve command wires,
// over the memory backend, with rate limits high enough to stay out of the way.
func newTestServer(t *testing.T) *echo.Echo {
	t.Helper()
	return buildServer(t, middleware.RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 1000}, nil)
}

func buildServer(t *testing.T, rl middleware.RateLimitConfig, jwtCfg *auth.JWTConfig) *echo.Echo {
	t.Helper()

	m, err := phecode.LoadMapper(definitionsCSV, mappingsCSV)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	logger := zerolog.New(io.Discard)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RequestTimeout(5 * time.Second))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": "test"})
	})

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(rl))
	if jwtCfg != nil {
		apiV1.Use(auth.JWTMiddleware(*jwtCfg))
	} else {
		apiV1.Use(auth.DevAuthMiddleware())
	}
	apiV1.Use(middleware.ETagMiddleware(middleware.DefaultCacheConfig()))

	h := phecode.NewHandler(phecode.NewService(phecode.NewMemoryRepo(m)))
	h.RegisterRoutes(apiV1)

	return e
}

func get(e *echo.Echo, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

// =========== Plumbing ===========

func TestAPI_Health(t *testing.T) {
	e := newTestServer(t)

	rec := get(e, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected generated request id header")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers on every response")
	}
}

func TestAPI_RequestIDPreserved(t *testing.T) {
	e := newTestServer(t)

	rec := get(e, "/health", map[string]string{"X-Request-ID": "trace-me-123"})
	if got := rec.Header().Get("X-Request-ID"); got != "trace-me-123" {
		t.Errorf("request id = %q, want the incoming value preserved", got)
	}
}

// =========== Lookup Flows ===========

func TestAPI_MappingRoundTrip(t *testing.T) {
	e := newTestServer(t)

	rec := get(e, "/api/v1/icd10/B21.1/phecodes", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var fwd phecode.PhecodeListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &fwd); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(fwd.Phecodes) != 2 || fwd.Phecodes[0] != "071.1" || fwd.Phecodes[1] != "202.2" {
		t.Fatalf("phecodes = %v, want [071.1 202.2]", fwd.Phecodes)
	}

	// Every forward mapping appears in the reverse direction too.
	for _, code := range fwd.Phecodes {
		rec = get(e, "/api/v1/phecodes/"+code+"/icd10", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var rev phecode.ICDListResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &rev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		found := false
		for _, icd := range rev.ICD10 {
			if icd == "B21.1" {
				found = true
			}
		}
		if !found {
			t.Errorf("reverse lookup for %s lost B21.1: %v", code, rev.ICD10)
		}
	}
}

func TestAPI_Exclusions(t *testing.T) {
	e := newTestServer(t)

	rec := get(e, "/api/v1/phecodes/495/exclusions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp phecode.ExclusionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := []string{"490", "495", "495.1", "496", "498"}
	if len(resp.Exclusions) != len(want) {
		t.Fatalf("exclusions = %v, want %v", resp.Exclusions, want)
	}
	for i := range want {
		if resp.Exclusions[i] != want[i] {
			t.Errorf("exclusions[%d] = %q, want %q", i, resp.Exclusions[i], want[i])
		}
	}
}

func TestAPI_NotFound(t *testing.T) {
	e := newTestServer(t)

	rec := get(e, "/api/v1/phecodes/999.99", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "message") {
		t.Errorf("expected error payload, got %s", rec.Body.String())
	}
}

func TestAPI_Pagination(t *testing.T) {
	e := newTestServer(t)

	rec := get(e, "/api/v1/phecodes?limit=5&offset=15", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Data    []phecode.Definition `json:"data"`
		Total   int                  `json:"total"`
		HasMore bool                 `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Total != 19 || len(resp.Data) != 4 || resp.HasMore {
		t.Errorf("page = %d rows of %d (has_more=%v), want 4 of 19 on the last page",
			len(resp.Data), resp.Total, resp.HasMore)
	}
}

// =========== Caching ===========

func TestAPI_ETagRoundTrip(t *testing.T) {
	e := newTestServer(t)

	rec := get(e, "/api/v1/phecodes", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	etag := rec.Header().Get("ETag")
	if etag == "" {
		t.Fatal("expected ETag on a cacheable response")
	}
	if cc := rec.Header().Get("Cache-Control"); !strings.Contains(cc, "max-age") {
		t.Errorf("expected Cache-Control with max-age, got %q", cc)
	}

	rec = get(e, "/api/v1/phecodes", map[string]string{"If-None-Match": etag})
	if rec.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("304 must carry no body, got %d bytes", rec.Body.Len())
	}
}

// =========== Rate Limiting ===========

func TestAPI_RateLimitExhaustion(t *testing.T) {
	e := buildServer(t, middleware.RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2}, nil)

	for i := 0; i < 2; i++ {
		if rec := get(e, "/api/v1/catalog", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}

	rec := get(e, "/api/v1/catalog", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

// =========== Auth ===========

func TestAPI_JWTRequired(t *testing.T) {
	secret := []byte("integration-test-secret-0123456789ab")
	e := buildServer(t, middleware.RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 1000},
		&auth.JWTConfig{Issuer: "phemap", Secret: secret})

	rec := get(e, "/api/v1/catalog", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "analyst-1",
			Issuer:    "phemap",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: []string{"analyst"},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	rec = get(e, "/api/v1/catalog", map[string]string{"Authorization": "Bearer " + token})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"definitions":19`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}
