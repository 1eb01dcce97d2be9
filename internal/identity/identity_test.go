package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddlewareIssuesAndReusesIdentity(t *testing.T) {
	t.Parallel()

	var seen []string
	h := Middleware(true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = append(seen, UserIDFromContext(r.Context()))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != AnonCookieName {
		t.Fatalf("cookies = %v", cookies)
	}
	if !isValidAnonID(cookies[0].Value) {
		t.Fatalf("issued id %q does not match pattern", cookies[0].Value)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	h.ServeHTTP(httptest.NewRecorder(), req)

	if len(seen) != 2 || seen[0] != seen[1] || seen[0] != cookies[0].Value {
		t.Fatalf("identities = %v, want the issued id twice", seen)
	}
}

func TestMiddlewareReplacesForgedCookie(t *testing.T) {
	t.Parallel()

	var got string
	h := Middleware(false)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "someone-else"})
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got == "someone-else" || !isValidAnonID(got) {
		t.Fatalf("identity = %q, want a freshly issued id", got)
	}
}

func TestTabID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{name: "header", header: "tab-1", want: "tab-1"},
		{name: "query", query: "tab-2", want: "tab-2"},
		{name: "missing", want: DefaultTabIDValue},
		{name: "invalid", header: "bad tab/../", want: DefaultTabIDValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got string
			h := Middleware(true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = TabIDFromContext(r.Context())
			}))
			target := "/"
			if tt.query != "" {
				target += "?tab_id=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set(TabHeaderName, tt.header)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Fatalf("tab id = %q, want %q", got, tt.want)
			}
		})
	}
}
