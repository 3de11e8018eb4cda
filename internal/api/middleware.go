package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"onebreath/internal/auth"
	"onebreath/pkg/domain"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// requestID honours a caller-supplied id and mints a uuid otherwise.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.logger.Error("handler panic", zap.Any("panic", rec), zap.String("path", r.URL.Path), zap.Stack("stack"))
			s.writeError(w, r, domain.Errorf(domain.KindInternal, "serve", "panic: %v", rec))
		}()
		next.ServeHTTP(w, r)
	})
}

// corsOptions allows the configured dashboard origins; "*" allows any.
func (s *Server) corsOptions() cors.Options {
	return cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", HeaderRequestID},
		ExposedHeaders: []string{HeaderRequestID, "Content-Disposition"},
		MaxAge:         600,
	}
}

// observe records Prometheus request metrics and the request log ring.
// Admin and scrape traffic is metered but kept out of the ring.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.clock.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		elapsed := s.clock.Now().Sub(start)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		s.deps.Metrics.HTTPRequest(r.Method, route, status, elapsed)
		if strings.HasPrefix(r.URL.Path, "/admin") || r.URL.Path == "/metrics" || r.URL.Path == "/healthz" || r.Method == http.MethodOptions {
			return
		}
		s.requests.Add(RequestEntry{
			Time:       start.UTC(),
			RequestID:  requestIDFrom(r.Context()),
			Method:     r.Method,
			Path:       r.URL.Path,
			Route:      route,
			Status:     status,
			DurationMS: float64(elapsed.Microseconds()) / 1000,
			IP:         r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		})
		s.logger.Debug("request", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Int("status", status), zap.Duration("dur", elapsed))
	})
}

// nudge hints the monitor to sweep early; the monitor throttles it.
func (s *Server) nudge(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Monitor != nil {
			s.deps.Monitor.Nudge()
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.BearerToken(r)
		if err != nil && websocketRequest(r) {
			// Browsers cannot set headers on websocket handshakes.
			token, err = r.URL.Query().Get("token"), nil
			if token == "" {
				err = auth.ErrNoToken
			}
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		id, err := s.deps.Verifier.Verify(r.Context(), token)
		if err != nil {
			if domain.KindOf(err) != domain.KindUpstreamUnavailable {
				err = domain.Wrap(domain.KindUnauthorized, "authenticate", fmt.Errorf("invalid token: %w", err))
			}
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.FromContext(r.Context())
		if !ok || !id.Admin {
			s.writeError(w, r, domain.Errorf(domain.KindForbidden, "authorize", "admin claim required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func websocketRequest(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func since(now time.Time, days int) time.Time {
	return now.Add(-time.Duration(days) * 24 * time.Hour)
}
