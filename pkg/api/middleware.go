package api

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/CodecFlow/codecflow/pkg/jobstore"
)

type contextKey string

const apiKeyContextKey contextKey = "api_key"

// extractCredential pulls the raw key from X-API-Key or a bearer
// Authorization header.
func extractCredential(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// keyFromContext returns the authenticated key; handlers behind the
// auth middleware can rely on it being present.
func keyFromContext(ctx context.Context) *jobstore.APIKey {
	key, _ := ctx.Value(apiKeyContextKey).(*jobstore.APIKey)
	return key
}

// authMiddleware authenticates every request and records key usage.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractCredential(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing api key", "")
			return
		}

		key, err := s.db.AuthenticateAPIKey(r.Context(), raw)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		if err := s.db.TouchAPIKey(r.Context(), key.ID); err != nil {
			s.logger.Warn("failed to record key usage", map[string]interface{}{
				"error": err.Error(),
			})
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), apiKeyContextKey, key)))
	})
}

// adminOnly gates administrative routes.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := keyFromContext(r.Context())
		if key == nil || !key.IsAdmin {
			writeError(w, http.StatusForbidden, codeAccessDenied, "admin access required", "")
			return
		}
		next(w, r)
	}
}

// statusRecorder captures the response code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack keeps websocket upgrades working through the wrapper.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// observeMiddleware logs requests and feeds the request counter.
func (s *Server) observeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		if s.metrics != nil {
			class := fmt.Sprintf("%dxx", rec.status/100)
			s.metrics.HTTPRequests.WithLabelValues(r.Method, route, class).Inc()
		}

		s.logger.Debug("request handled", map[string]interface{}{
			"method":      r.Method,
			"route":       route,
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}
