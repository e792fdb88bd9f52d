package api

import (
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// LoggingMiddleware logs each request once it completes.
func LoggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(wrapped, r)

			status := wrapped.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("request_id", middleware.GetReqID(r.Context())).
				Int("status", status).
				Dur("duration", time.Since(start)).
				Msg("API request")
		})
	}
}

// CORSMiddleware allows requests from origins matching one of the
// path.Match patterns, such as the extension's own pages. Requests that
// carry any other Origin are refused before they reach a handler, since
// browsers send "simple" cross-origin requests without a preflight.
// Requests without an Origin (the CLI, curl) pass.
func CORSMiddleware(allowedOrigins []string, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" {
				if !originAllowed(allowedOrigins, origin) {
					logger.Warn().
						Str("origin", origin).
						Str("method", r.Method).
						Str("path", r.URL.Path).
						Msg("Request from foreign origin refused")
					WriteError(w, http.StatusForbidden, "Origin not allowed")
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.Header().Add("Vary", "Origin")
			}

			// Handle preflight requests
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(patterns []string, origin string) bool {
	for _, pattern := range patterns {
		if ok, err := path.Match(pattern, origin); err == nil && ok {
			return true
		}
	}
	return false
}
