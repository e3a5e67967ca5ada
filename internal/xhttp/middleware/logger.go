package middleware

import (
	"log/slog"
	"net/http"

	"github.com/garrettladley/hookgate/internal/xcontext"
	"github.com/garrettladley/hookgate/internal/xslog"
)

// Logger injects base, tagged with the request id, into the request context.
// Must run after RequestID.
func Logger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := base
			if id := xcontext.RequestID(r.Context()); id != "" {
				logger = logger.With(xslog.RequestID(id))
			}
			next.ServeHTTP(w, r.WithContext(xslog.WithLogger(r.Context(), logger)))
		})
	}
}
