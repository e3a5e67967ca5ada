package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/garrettladley/hookgate/internal/xcontext"
	"github.com/garrettladley/hookgate/internal/xhttp"
)

type requestIDConfig struct {
	newID        func() string
	trustInbound bool
}

type RequestIDOption func(*requestIDConfig)

// WithIDFunc replaces the uuid generator.
func WithIDFunc(fn func() string) RequestIDOption {
	return func(c *requestIDConfig) { c.newID = fn }
}

// TrustInboundRequestID keeps an X-Request-ID set by the edge proxy when it
// parses as a uuid. Anything else is replaced.
func TrustInboundRequestID() RequestIDOption {
	return func(c *requestIDConfig) { c.trustInbound = true }
}

func RequestID(opts ...RequestIDOption) func(http.Handler) http.Handler {
	cfg := requestIDConfig{newID: uuid.NewString}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if cfg.trustInbound {
				if inbound, err := uuid.Parse(r.Header.Get(xhttp.XRequestID)); err == nil {
					id = inbound.String()
				}
			}
			if id == "" {
				id = cfg.newID()
			}
			xhttp.SetHeaderRequestID(w, id)
			next.ServeHTTP(w, r.WithContext(xcontext.WithRequestID(r.Context(), id)))
		})
	}
}
