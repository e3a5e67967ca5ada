package middleware

import (
	"net/http"

	"github.com/garrettladley/hookgate/internal/xhttp"
	"github.com/garrettladley/hookgate/internal/xslog"
)

// Recovery turns a panic into a 500. http.ErrAbortHandler is re-raised so the
// server can drop the connection, which is how the upstream proxy aborts a
// half-copied response.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			xslog.FromContext(r.Context()).ErrorContext(
				r.Context(),
				"panic recovered",
				xslog.RequestGroup(r),
				xslog.ErrorGroupWithStack(v),
			)
			xhttp.Error(w, http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}
