package middleware

import (
	"net/http"

	"github.com/garrettladley/hookgate/internal/xhttp"
)

var securityHeaders = [...][2]string{
	{xhttp.XContentTypeOpts, "nosniff"},
	{xhttp.XFrameOpts, "DENY"},
	{xhttp.XXSSProtection, "1; mode=block"},
	{xhttp.ReferrerPolicy, "strict-origin-when-cross-origin"},
}

func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for _, kv := range securityHeaders {
			h.Set(kv[0], kv[1])
		}
		next.ServeHTTP(w, r)
	})
}
