package authmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
})

func serve(h http.Handler, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", http.NoBody)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBearerTokens(t *testing.T) {
	t.Parallel()

	h := BearerTokens(nil, "primary-token", " ", "rotated-token")(okHandler)

	tests := []struct {
		name string
		auth string
		want int
	}{
		{"primary", "Bearer primary-token", http.StatusOK},
		{"rotated", "Bearer rotated-token", http.StatusOK},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"prefix of token", "Bearer primary", http.StatusUnauthorized},
		{"basic auth", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"lowercase bearer", "bearer primary-token", http.StatusUnauthorized},
		{"blank token", "Bearer ", http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := serve(h, tt.auth)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized {
				if got := rec.Header().Get("WWW-Authenticate"); got == "" {
					t.Error("missing WWW-Authenticate header")
				}
				if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
					t.Errorf("Content-Type = %q", ct)
				}
			}
		})
	}
}

func TestBearerTokens_NoneConfiguredPassesThrough(t *testing.T) {
	t.Parallel()

	for _, tokens := range [][]string{nil, {""}, {"  "}} {
		rec := serve(BearerTokens(nil, tokens...)(okHandler), "")
		if rec.Code != http.StatusOK {
			t.Errorf("tokens %q: status = %d, want 200", tokens, rec.Code)
		}
	}
}
