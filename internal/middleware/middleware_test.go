package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/techflow/internal/identity"
)

func TestRateLimiterPerKey(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	l := NewRateLimiter(1, 2)
	l.now = func() time.Time { return now }

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("burst of 2 should be allowed")
	}
	if l.Allow("a") {
		t.Fatal("third request within the same instant should be rejected")
	}
	if !l.Allow("b") {
		t.Fatal("another identity has its own bucket")
	}

	now = now.Add(time.Second)
	if !l.Allow("a") {
		t.Fatal("one token should refill after a second")
	}
}

func TestRateLimiterEvict(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	l := NewRateLimiter(1, 1)
	l.now = func() time.Time { return now }

	l.Allow("old")
	now = now.Add(10 * time.Minute)
	l.Allow("fresh")

	if removed := l.Evict(5 * time.Minute); removed != 1 {
		t.Fatalf("Evict() = %d, want 1", removed)
	}
	if _, ok := l.buckets["fresh"]; !ok {
		t.Fatal("fresh bucket was evicted")
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	t.Parallel()

	l := NewRateLimiter(0.001, 1)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(user string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
		req = req.WithContext(identity.WithUserID(req.Context(), user))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send("anon_a"); code != http.StatusNoContent {
		t.Fatalf("first request = %d", code)
	}
	if code := send("anon_a"); code != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", code)
	}
	if code := send("anon_b"); code != http.StatusNoContent {
		t.Fatalf("other identity = %d", code)
	}
}

func TestCORS(t *testing.T) {
	t.Parallel()

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name        string
		origins     []string
		method      string
		origin      string
		preflight   bool
		wantStatus  int
		wantOrigin  string
		wantCreds   bool
		wantMethods bool
	}{
		{
			name: "named origin preflight", origins: []string{"https://app.example.com"},
			method: http.MethodOptions, origin: "https://app.example.com", preflight: true,
			wantStatus: http.StatusNoContent, wantOrigin: "https://app.example.com", wantCreds: true, wantMethods: true,
		},
		{
			name: "unlisted origin preflight", origins: []string{"https://app.example.com"},
			method: http.MethodOptions, origin: "https://evil.example.com", preflight: true,
			wantStatus: http.StatusForbidden,
		},
		{
			name: "unlisted origin request passes through", origins: []string{"https://app.example.com"},
			method: http.MethodGet, origin: "https://evil.example.com",
			wantStatus: http.StatusTeapot,
		},
		{
			name: "wildcard echoes origin without credentials", origins: []string{"*"},
			method: http.MethodGet, origin: "https://any.example.com",
			wantStatus: http.StatusTeapot, wantOrigin: "https://any.example.com",
		},
		{
			name: "trailing slash in config", origins: []string{"https://app.example.com/"},
			method: http.MethodPost, origin: "https://app.example.com",
			wantStatus: http.StatusTeapot, wantOrigin: "https://app.example.com", wantCreds: true,
		},
		{
			name: "no origin header", origins: []string{"https://app.example.com"},
			method:     http.MethodGet,
			wantStatus: http.StatusTeapot,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := CORS(tt.origins)(next)

			req := httptest.NewRequest(tt.method, "/api/agents", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := rec.Header().Get("Access-Control-Allow-Credentials") == "true"; got != tt.wantCreds {
				t.Errorf("Allow-Credentials = %v, want %v", got, tt.wantCreds)
			}
			methods := rec.Header().Get("Access-Control-Allow-Methods")
			if (methods != "") != tt.wantMethods {
				t.Errorf("Allow-Methods = %q, want present=%v", methods, tt.wantMethods)
			}
			if tt.origin != "" && rec.Header().Get("Vary") == "" {
				t.Error("responses to cross-origin requests must vary by Origin")
			}
		})
	}
}

func TestCORSPreflightAllowsTabHeader(t *testing.T) {
	t.Parallel()

	h := CORS([]string{"https://app.example.com"})(http.NotFoundHandler())
	req := httptest.NewRequest(http.MethodOptions, "/ws/chat", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), identity.TabHeaderName) {
		t.Fatalf("Allow-Headers = %q, want %s", rec.Header().Get("Access-Control-Allow-Headers"), identity.TabHeaderName)
	}
	if rec.Header().Get("Access-Control-Max-Age") == "" {
		t.Fatal("preflight should be cacheable")
	}
}

func TestCORSExposesRetryAfter(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiter(1, 1)
	h := CORS([]string{"*"})(limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	var last *httptest.ResponseRecorder
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
		req.Header.Set("Origin", "https://app.example.com")
		req.RemoteAddr = "10.0.0.1:1234"
		last = httptest.NewRecorder()
		h.ServeHTTP(last, req)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", last.Code)
	}
	if last.Header().Get("Access-Control-Expose-Headers") != "Retry-After" {
		t.Fatalf("Expose-Headers = %q", last.Header().Get("Access-Control-Expose-Headers"))
	}
}
