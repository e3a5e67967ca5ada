package meta

import (
	"crypto/subtle"
	"net/http"

	"github.com/garrettladley/hookgate/internal/xerrors"
	"github.com/garrettladley/hookgate/internal/xhttp"
	"github.com/garrettladley/hookgate/internal/xslog"
)

const (
	queryMode        = "hub.mode"
	queryVerifyToken = "hub.verify_token"
	queryChallenge   = "hub.challenge"

	modeSubscribe = "subscribe"
)

// Handshake answers the platform's subscription check by echoing
// hub.challenge when hub.verify_token matches. An empty verifyToken rejects
// every check.
func Handshake(verifyToken string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		q := r.URL.Query()

		mode := q.Get(queryMode)
		token := q.Get(queryVerifyToken)
		if verifyToken == "" || mode != modeSubscribe ||
			subtle.ConstantTimeCompare([]byte(token), []byte(verifyToken)) != 1 {
			xslog.FromContext(ctx).WarnContext(ctx, "webhook subscription check failed",
				xslog.Provider(Provider),
				xslog.RequestIP(r),
			)
			xerrors.WriteError(ctx, w, xerrors.Forbidden())
			return
		}

		xslog.FromContext(ctx).InfoContext(ctx, "webhook subscription verified", xslog.Provider(Provider))
		xhttp.WriteText(w, http.StatusOK, q.Get(queryChallenge))
	})
}
