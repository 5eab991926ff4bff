package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/fableseek/fableseek-server/internal/domain"
	"github.com/fableseek/fableseek-server/internal/http/response"
)

// Requester identity arrives as trusted headers set by the reverse proxy.
// Session handling and authentication live outside this service.
const (
	headerRequester      = "X-Requester"
	headerRequesterGroup = "X-Requester-Group"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	contextKeyRequester contextKey = "requester"
	contextKeyGroup     contextKey = "requester_group"
)

// requireRequester validates the trusted identity headers and attaches the
// requester to the request context. An unknown group string degrades to
// untrusted rather than failing.
func (s *Server) requireRequester(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requester := r.Header.Get(headerRequester)
		if requester == "" {
			response.Unauthorized(w, "Missing "+headerRequester+" header", s.logger)
			return
		}

		group := domain.ParseGroup(r.Header.Get(headerRequesterGroup))

		ctx := context.WithValue(r.Context(), contextKeyRequester, requester)
		ctx = context.WithValue(ctx, contextKeyGroup, group)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin ensures the requester belongs to the admin group. Must be used
// after requireRequester.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if getGroup(r.Context()) != domain.GroupAdmin {
			response.Forbidden(w, "Admin access required", s.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limitCreates rate limits request creation per requester.
func (s *Server) limitCreates(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := getRequester(r.Context())
		if !s.createLimiter.Allow(key) {
			s.logger.Warn("request creation rate limit exceeded", "requester", key)
			response.Error(w, http.StatusTooManyRequests, "Too many requests. Please try again later.", s.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs each request with its duration and status.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// getRequester extracts the requester name from the request context.
func getRequester(ctx context.Context) string {
	if requester, ok := ctx.Value(contextKeyRequester).(string); ok {
		return requester
	}
	return ""
}

// getGroup extracts the requester group from the request context.
func getGroup(ctx context.Context) domain.Group {
	if group, ok := ctx.Value(contextKeyGroup).(domain.Group); ok {
		return group
	}
	return domain.GroupUntrusted
}
