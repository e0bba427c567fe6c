package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(1, 1, zerolog.Nop())
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(remote string) int {
		req := httptest.NewRequest("GET", "/api/list", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	t.Run("ThrottlesPerRemoteAddr", func(t *testing.T) {
		if code := send("10.0.0.1:1234"); code != http.StatusOK {
			t.Fatalf("first request: expected 200, got %d", code)
		}
		if code := send("10.0.0.1:1234"); code != http.StatusTooManyRequests {
			t.Fatalf("burst exceeded: expected 429, got %d", code)
		}
	})

	t.Run("IndependentClients", func(t *testing.T) {
		if code := send("10.0.0.2:1234"); code != http.StatusOK {
			t.Fatalf("other client should not be throttled, got %d", code)
		}
	})
}
