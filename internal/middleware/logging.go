// Package middleware holds HTTP middleware shared across routes.
package middleware

import (
	"net/http"
	"time"

	"social-oauth/internal/common/logging"
)

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Logging logs every request with method, path, status and duration.
// Query strings are deliberately omitted: callback URLs carry authorization
// codes and state parameters that must never reach a log line.
func Logging(logger logging.Logger) func(http.Handler) http.Handler {
	logger = logger.WithFields(logging.Field{Key: "component", Value: "http"})
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			fields := []logging.Field{
				{Key: "method", Value: r.Method},
				{Key: "path", Value: r.URL.Path},
				{Key: "status", Value: wrapped.statusCode},
				{Key: "duration_ms", Value: time.Since(start).Milliseconds()},
				{Key: "remote_addr", Value: r.RemoteAddr},
			}
			if service := r.Header.Get("X-Service"); service != "" {
				fields = append(fields, logging.Field{Key: "service", Value: service})
			}

			switch {
			case wrapped.statusCode >= 500:
				logger.Error("request completed", nil, fields...)
			case wrapped.statusCode >= 400:
				logger.Warn("request completed", fields...)
			default:
				logger.Info("request completed", fields...)
			}
		})
	}
}
