package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ridehail/internal/auth"
	"ridehail/internal/domain"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubVerifier map[string]domain.Principal

func (s stubVerifier) Verify(_ context.Context, credential string) (domain.Principal, error) {
	p, ok := s[strings.TrimPrefix(credential, "Bearer ")]
	if !ok {
		return domain.Principal{}, auth.ErrInvalidToken
	}
	return p, nil
}

var verifier = stubVerifier{
	"alice": {ID: "passenger-alice", Role: domain.RolePassenger},
	"bob":   {ID: "passenger-bob", Role: domain.RolePassenger},
}

func do(router http.Handler, method, path, token, idemKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if idemKey != "" {
		req.Header.Set(idempotencyHeader, idemKey)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAuthenticate(t *testing.T) {
	router := gin.New()
	router.Use(Authenticate(verifier))
	router.GET("/me", func(c *gin.Context) {
		p, _ := PrincipalFrom(c)
		c.JSON(http.StatusOK, gin.H{"id": p.ID})
	})

	testCases := []struct {
		name       string
		token      string
		wantStatus int
		wantBody   string
	}{
		{"missing token", "", http.StatusUnauthorized, `"code":"unauthorized"`},
		{"forged token", "mallory", http.StatusUnauthorized, `"code":"unauthorized"`},
		{"valid token", "alice", http.StatusOK, `"id":"passenger-alice"`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(router, http.MethodGet, "/me", tc.token, "")
			if rec.Code != tc.wantStatus || !strings.Contains(rec.Body.String(), tc.wantBody) {
				t.Errorf("got %d %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func newIdempotentRouter(t *testing.T, status int) (*gin.Engine, *miniredis.Miniredis, *int) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	calls := 0
	router := gin.New()
	router.Use(Authenticate(verifier), IdempotencyMiddleware(client, zap.NewNop()))
	router.POST("/v1/rides", func(c *gin.Context) {
		calls++
		c.JSON(status, gin.H{"call": calls})
	})
	return router, mr, &calls
}

func TestIdempotency_ReplaysForSameCaller(t *testing.T) {
	router, _, calls := newIdempotentRouter(t, http.StatusCreated)

	first := do(router, http.MethodPost, "/v1/rides", "alice", "key-1")
	second := do(router, http.MethodPost, "/v1/rides", "alice", "key-1")

	if *calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", *calls)
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Errorf("expected replay of %q, got %d %q", first.Body.String(), second.Code, second.Body.String())
	}
	if second.Header().Get("Idempotent-Replay") != "true" {
		t.Error("expected replay header")
	}
}

func TestIdempotency_ScopedPerCaller(t *testing.T) {
	router, _, calls := newIdempotentRouter(t, http.StatusCreated)

	do(router, http.MethodPost, "/v1/rides", "alice", "shared-key")
	rec := do(router, http.MethodPost, "/v1/rides", "bob", "shared-key")

	if *calls != 2 {
		t.Fatalf("expected each caller to be processed, got %d calls", *calls)
	}
	if !strings.Contains(rec.Body.String(), `"call":2`) {
		t.Errorf("bob received someone else's response: %s", rec.Body.String())
	}
}

func TestIdempotency_InFlightDuplicateConflicts(t *testing.T) {
	router, mr, calls := newIdempotentRouter(t, http.StatusCreated)
	mr.Set("idempotency:passenger-alice:POST:/v1/rides:key-1:pending", "1")

	rec := do(router, http.MethodPost, "/v1/rides", "alice", "key-1")
	if rec.Code != http.StatusConflict || *calls != 0 {
		t.Errorf("expected 409 without processing, got %d after %d calls", rec.Code, *calls)
	}
}

func TestIdempotency_ServerErrorsNotStored(t *testing.T) {
	router, _, calls := newIdempotentRouter(t, http.StatusServiceUnavailable)

	do(router, http.MethodPost, "/v1/rides", "alice", "key-1")
	do(router, http.MethodPost, "/v1/rides", "alice", "key-1")

	if *calls != 2 {
		t.Errorf("expected retry after 503 to be processed, got %d calls", *calls)
	}
}

func TestIdempotency_NoKeyPassesThrough(t *testing.T) {
	router, _, calls := newIdempotentRouter(t, http.StatusCreated)

	do(router, http.MethodPost, "/v1/rides", "alice", "")
	do(router, http.MethodPost, "/v1/rides", "alice", "")

	if *calls != 2 {
		t.Errorf("expected both requests processed, got %d", *calls)
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	testCases := []struct {
		name       string
		origins    []string
		origin     string
		wantOrigin string
	}{
		{"listed origin", []string{"https://app.example.com"}, "https://app.example.com", "https://app.example.com"},
		{"unlisted origin", []string{"https://app.example.com"}, "https://evil.example.net", ""},
		{"any origin when unconfigured", nil, "https://evil.example.net", "*"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			called := false
			router := gin.New()
			router.Use(CORSMiddleware(tc.origins))
			router.POST("/v1/rides", func(c *gin.Context) {
				called = true
				c.Status(http.StatusCreated)
			})

			req := httptest.NewRequest(http.MethodOptions, "/v1/rides", nil)
			req.Header.Set("Origin", tc.origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if called {
				t.Error("preflight must not reach the handler")
			}
			got := rec.Header().Get("Access-Control-Allow-Origin")
			if tc.wantOrigin == "*" && got == tc.origin {
				got = "*"
			}
			if got != tc.wantOrigin {
				t.Errorf("expected allowed origin %q, got %q", tc.wantOrigin, got)
			}
			if rec.Header().Get("Access-Control-Allow-Credentials") != "" {
				t.Error("credentialed requests must not be allowed")
			}
		})
	}
}

func TestRequestLogger_SetsRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestLogger(zap.NewNop()))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := do(router, http.MethodGet, "/health", "", "")
	if rec.Header().Get(requestIDHeader) == "" {
		t.Error("expected generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Header().Get(requestIDHeader) != "abc-123" {
		t.Errorf("expected caller request id echoed, got %q", rec.Header().Get(requestIDHeader))
	}
}
