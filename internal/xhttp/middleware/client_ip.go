package middleware

import (
	"net/http"
	"net/netip"

	"github.com/garrettladley/hookgate/internal/xcontext"
	"github.com/garrettladley/hookgate/internal/xhttp"
)

// ClientIP resolves the client address once so rate limits, allowlists and
// logs all key on the same value. X-Forwarded-For is only honoured when the
// connection comes from one of trustedProxies.
func ClientIP(trustedProxies []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := xhttp.ResolveClientIP(r, trustedProxies)
			next.ServeHTTP(w, r.WithContext(xcontext.WithClientIP(r.Context(), ip)))
		})
	}
}
