package xerrors

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/garrettladley/hookgate/internal/xcontext"
	"github.com/garrettladley/hookgate/internal/xhttp"
	"github.com/garrettladley/hookgate/internal/xslog"
	go_json "github.com/goccy/go-json"
)

type errorResponse struct {
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteError renders err as JSON. Errors that are not *Error become a 500
// whose cause is logged but never written to the response.
func WriteError(ctx context.Context, w http.ResponseWriter, err error) {
	appErr := As(err)
	if appErr == nil {
		appErr = Internal(WithCause(err))
	}

	logError(ctx, appErr)

	xhttp.SetHeaderContentTypeApplicationJSON(w)
	if rl := appErr.RateLimit; rl != nil {
		if rl.RetryAfter > 0 {
			xhttp.SetHeaderRetryAfter(w, rl.RetryAfter)
		}
		if rl.Reason != "" {
			w.Header().Set(xhttp.XRateLimitReason, rl.Reason)
		}
	}
	w.WriteHeader(appErr.StatusCode)

	_ = go_json.NewEncoder(w).Encode(errorResponse{
		Message:   appErr.Message,
		RequestID: xcontext.RequestID(ctx),
	})
}

func logError(ctx context.Context, err *Error) {
	attrs := []slog.Attr{
		xslog.HTTPStatus(err.StatusCode),
		slog.String("message", err.Message),
	}
	if err.Cause != nil {
		attrs = append(attrs, xslog.Error(err.Cause))
	}
	if rl := err.RateLimit; rl != nil {
		attrs = append(attrs, slog.Group("rate_limit",
			xslog.Duration(rl.RetryAfter),
			slog.String("reason", rl.Reason),
		))
	}

	level, msg := slog.LevelInfo, "error response"
	switch err.StatusCode / 100 {
	case 5:
		level, msg = slog.LevelError, "server error"
	case 4:
		level, msg = slog.LevelWarn, "client error"
	}
	xslog.FromContext(ctx).LogAttrs(ctx, level, msg, attrs...)
}
