package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/garrettladley/hookgate/internal/xerrors"
	"github.com/garrettladley/hookgate/internal/xhttp"
	"github.com/garrettladley/hookgate/internal/xslog"
)

// NewUpstream proxies human-facing routes to the application at rawURL.
// Without an upstream every such route answers 404.
func NewUpstream(rawURL string) (http.Handler, error) {
	if rawURL == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			xerrors.WriteError(r.Context(), w, xerrors.NotFound())
		}), nil
	}

	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, errors.New("upstream url must be absolute")
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		Transport: xhttp.NewTransport(),
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			ctx := r.Context()
			xslog.FromContext(ctx).ErrorContext(ctx, "upstream request failed",
				xslog.RequestPath(r),
				xslog.Error(err),
			)
			xerrors.WriteError(ctx, w, xerrors.BadGateway(xerrors.WithCause(err)))
		},
	}, nil
}
