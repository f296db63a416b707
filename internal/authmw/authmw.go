// Package authmw guards the event API with static bearer tokens.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/linnemanlabs/go-core/log"
)

const prefix = "Bearer "

// BearerTokens returns middleware that accepts a request when its
// Authorization header carries any of tokens. Blank tokens are ignored;
// with none left every request is let through, so auth stays optional.
func BearerTokens(logger log.Logger, tokens ...string) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Nop()
	}
	var accepted [][]byte
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			accepted = append(accepted, []byte(t))
		}
	}

	return func(next http.Handler) http.Handler {
		if len(accepted) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, prefix) {
				deny(w, "missing or malformed authorization header")
				return
			}
			if !match(accepted, []byte(auth[len(prefix):])) {
				logger.Warn(r.Context(), "rejected api token", "path", r.URL.Path, "remote", r.RemoteAddr)
				deny(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// match compares against every token so the time taken does not reveal
// which one matched.
func match(accepted [][]byte, got []byte) bool {
	ok := 0
	for _, want := range accepted {
		ok |= subtle.ConstantTimeCompare(got, want)
	}
	return ok == 1
}

func deny(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="ticketflow"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
