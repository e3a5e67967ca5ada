package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garrettladley/hookgate/internal/ratelimit"
	servermw "github.com/garrettladley/hookgate/internal/server/middleware"
	"github.com/garrettladley/hookgate/internal/signature"
	"github.com/garrettladley/hookgate/internal/version"
	"github.com/garrettladley/hookgate/internal/webhook"
	"github.com/garrettladley/hookgate/internal/webhook/custom"
	"github.com/garrettladley/hookgate/internal/webhook/meta"
	"github.com/garrettladley/hookgate/internal/webhook/stripe"
	"github.com/garrettladley/hookgate/internal/xhttp"
	"github.com/garrettladley/hookgate/internal/xhttp/middleware"
	"github.com/garrettladley/hookgate/internal/xslog"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck reports whether one dependency is reachable.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Deps struct {
	Config  Config
	Logger  *slog.Logger
	Limiter *ratelimit.Limiter
	Router  *webhook.Router
	// Stripe, Meta and Custom apply verified, deduplicated events. Custom
	// is only used when Config.Custom is enabled.
	Stripe   webhook.Handler
	Meta     webhook.Handler
	Custom   webhook.Handler
	Upstream http.Handler
	Health   []HealthCheck
}

// NewHandler builds the gateway's route table wrapped in the shared
// middleware stack.
func NewHandler(d Deps) (http.Handler, error) {
	trusted, err := d.Config.Stripe.TrustedNetworks()
	if err != nil {
		return nil, err
	}
	proxies, err := d.Config.TrustedProxyNetworks()
	if err != nil {
		return nil, err
	}

	stripeRoute := webhook.Route{
		Provider: stripe.Provider,
		Class:    ratelimit.ClassPayments,
		Signature: signature.Context{
			HeaderName:   stripe.SignatureHeader,
			Secret:       d.Config.Stripe.WebhookSecret,
			Scheme:       signature.SchemeStripe,
			MaxClockSkew: d.Config.Stripe.MaxClockSkew,
			Policy:       d.Config.Stripe.Enforcement,
		},
		TrustedNetworks: trusted,
		Decoder:         stripe.Decoder{},
		Handler:         d.Stripe,
	}
	metaRoute := webhook.Route{
		Provider: meta.Provider,
		Class:    ratelimit.ClassMessaging,
		Signature: signature.Context{
			HeaderName: meta.SignatureHeader,
			Secret:     d.Config.Meta.AppSecret,
			Scheme:     signature.SchemeMeta,
			Policy:     d.Config.Meta.Enforcement,
		},
		Decoder: meta.Decoder{},
		Handler: d.Meta,
	}

	limit := func(class ratelimit.Class, h http.Handler) http.Handler {
		return middleware.Chain(h, servermw.RateLimit(d.Limiter, class))
	}

	mux := http.NewServeMux()

	mux.Handle("POST /webhook/stripe", d.Router.Handler(stripeRoute))
	mux.Handle("POST /webhook", d.Router.Handler(metaRoute))
	if c := d.Config.Custom; c.Enabled() {
		mux.Handle("POST /webhook/"+c.Name, d.Router.Handler(webhook.Route{
			Provider: c.Name,
			Class:    ratelimit.ClassPayments,
			Signature: signature.Context{
				HeaderName:      c.SignatureHeader,
				TimestampHeader: c.TimestampHeader,
				Secret:          c.Secret,
				Scheme:          c.Scheme,
				MaxClockSkew:    c.MaxClockSkew,
				Policy:          c.Enforcement,
			},
			Decoder: custom.Decoder{Provider: c.Name},
			Handler: d.Custom,
		}))
	}
	mux.Handle("GET /webhook", limit(ratelimit.ClassMessaging, meta.Handshake(d.Config.Meta.VerifyToken)))

	mux.Handle("/auth/instagram/callback", limit(ratelimit.ClassOAuthCallback, d.Upstream))
	mux.Handle("/signup", limit(ratelimit.ClassSignup, d.Upstream))
	mux.Handle("/login", limit(ratelimit.ClassLogin, d.Upstream))
	mux.Handle("/", limit(ratelimit.ClassDefault, d.Upstream))

	mux.Handle("GET /health", handleHealth(d.Health))
	mux.Handle("GET /metrics", promhttp.Handler())

	var idOpts []middleware.RequestIDOption
	if d.Config.TrustRequestID {
		idOpts = append(idOpts, middleware.TrustInboundRequestID())
	}

	return middleware.Chain(mux,
		middleware.ClientIP(proxies),
		middleware.RequestID(idOpts...),
		middleware.Logger(d.Logger),
		middleware.Recovery,
		middleware.Logging,
		middleware.SecurityHeaders,
	), nil
}

type healthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

func handleHealth(checks []HealthCheck) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok", Version: version.Get()}
		status := http.StatusOK
		for _, c := range checks {
			if resp.Checks == nil {
				resp.Checks = make(map[string]string, len(checks))
			}
			if err := c.Check(ctx); err != nil {
				xslog.FromContext(ctx).WarnContext(ctx, "health check failed",
					xslog.Backend(c.Name),
					xslog.Error(err),
				)
				resp.Checks[c.Name] = "unavailable"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[c.Name] = "ok"
		}

		xhttp.WriteJSON(w, status, resp)
	})
}
