package ratelimit

import (
	"context"
	"net/http"

	"github.com/garrettladley/hookgate/internal/xerrors"
	"github.com/garrettladley/hookgate/internal/xhttp"
)

const statusRateLimited = "rate_limited"

type rateLimitedResponse struct {
	Status string `json:"status"`
}

// WriteExceeded answers a denied request the way its class asks for.
func WriteExceeded(ctx context.Context, w http.ResponseWriter, d Decision) {
	switch d.Exceed {
	case ExceedSuccessShaped:
		xhttp.WriteOK(w, rateLimitedResponse{Status: statusRateLimited})
	case ExceedFriendly:
		xhttp.WriteFriendlyRetry(w)
	default:
		xerrors.WriteError(ctx, w, xerrors.TooManyRequests(
			xerrors.WithRetryAfter(d.RetryAfter),
			xerrors.WithReason(d.Class.String()+"_rate_limit"),
		))
	}
}
