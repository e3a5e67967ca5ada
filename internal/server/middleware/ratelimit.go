package middleware

import (
	"net/http"
	"time"

	"github.com/garrettladley/hookgate/internal/ratelimit"
	"github.com/garrettladley/hookgate/internal/xerrors"
	"github.com/garrettladley/hookgate/internal/xhttp"
	"github.com/garrettladley/hookgate/internal/xslog"
)

const storeRetryAfter = 5 * time.Second

// RateLimit applies the per-IP limits of class before next runs.
func RateLimit(limiter *ratelimit.Limiter, class ratelimit.Class) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger := xslog.FromContext(ctx)
			ip := xhttp.GetRequestIP(r)

			decision, err := limiter.Allow(ctx, ip, class)
			if err != nil {
				logger.ErrorContext(ctx, "rate limit check failed",
					xslog.ErrorGroup(err),
					xslog.IP(ip),
					xslog.RouteClass(class.String()),
				)
				xerrors.WriteError(ctx, w, xerrors.ServiceUnavailable(
					xerrors.WithMessage("rate limit check failed"),
					xerrors.WithRetryAfter(storeRetryAfter),
				))
				return
			}

			if !decision.Allowed {
				logger.WarnContext(ctx, "rate limited",
					xslog.IP(ip),
					xslog.RouteClass(decision.Class.String()),
					xslog.RetryAfter(decision.RetryAfter),
				)
				ratelimit.WriteExceeded(ctx, w, decision)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
