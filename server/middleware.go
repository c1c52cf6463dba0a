package server

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"nftreserve/auth"
)

// corsMiddleware answers preflight requests and stamps the allow headers on
// every response. An empty allow list means same-origin only.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	allowAll := false
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			allowAll = true
		}
		if origin != "" {
			allowed[origin] = struct{}{}
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				_, ok := allowed[origin]
				if allowAll || ok {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+auth.SignatureHeader)
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimitMiddleware applies a per-client token bucket keyed by remote
// address. Buckets are never evicted; restarts reset them, which is fine for
// an abuse brake.
func rateLimitMiddleware(rps float64, burst int) func(http.Handler) http.Handler {
	if burst < 1 {
		burst = 1
	}
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)
	limiterFor := func(key string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		limiter, ok := limiters[key]
		if !ok {
			limiter = rate.NewLimiter(rate.Limit(rps), burst)
			limiters[key] = limiter
		}
		return limiter
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiterFor(r.RemoteAddr).Allow() {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// verifyStageSignature checks the detached signature over the canonical stage
// payload. The batch route carries no body, so the stage code itself is what
// gets signed.
func (s *Server) verifyStageSignature(r *http.Request, code string) error {
	if s.verifier == nil {
		return errors.New("signature verification unavailable")
	}
	if s.verifier.DebugIgnore {
		s.logger.Warn("signature verification disabled, accepting unsigned request", "path", r.URL.Path)
		return nil
	}
	payload := []byte(`{"stage":"` + code + `"}`)
	return s.verifier.Verify(payload, r.Header.Get(auth.SignatureHeader))
}

// requireSignature verifies the detached body signature before the handler
// runs. The body is re-buffered so handlers can decode it normally.
func (s *Server) requireSignature() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				s.writeError(w, http.StatusBadRequest, "unreadable body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			if s.verifier == nil {
				s.writeError(w, http.StatusForbidden, "signature verification unavailable")
				return
			}
			if s.verifier.DebugIgnore {
				s.logger.Warn("signature verification disabled, accepting unsigned request", "path", r.URL.Path)
				next.ServeHTTP(w, r)
				return
			}
			if err := s.verifier.Verify(body, r.Header.Get(auth.SignatureHeader)); err != nil {
				s.logger.Info("signature rejected", "path", r.URL.Path, "error", err)
				s.writeError(w, http.StatusForbidden, "invalid signature")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
