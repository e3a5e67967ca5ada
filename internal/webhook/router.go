package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/garrettladley/hookgate/internal/dedup"
	"github.com/garrettladley/hookgate/internal/metrics"
	"github.com/garrettladley/hookgate/internal/ratelimit"
	"github.com/garrettladley/hookgate/internal/rawbody"
	"github.com/garrettladley/hookgate/internal/signature"
	"github.com/garrettladley/hookgate/internal/xerrors"
	"github.com/garrettladley/hookgate/internal/xhttp"
	"github.com/garrettladley/hookgate/internal/xslog"
)

const (
	DefaultTimeout = 10 * time.Second

	// advertised when a backing store is unreachable
	storeRetryAfter = 5 * time.Second
	// advertised when a handler asks for redelivery
	handlerRetryAfter = 30 * time.Second
	// bookkeeping after the request deadline has passed
	cleanupTimeout = 2 * time.Second
)

// Outcome names the terminal state of one delivery.
type Outcome string

const (
	OutcomeRateLimited       Outcome = "rate_limited"
	OutcomeRateStoreError    Outcome = "rate_store_error"
	OutcomeUntrustedSource   Outcome = "untrusted_source"
	OutcomeBodyTooLarge      Outcome = "body_too_large"
	OutcomeBodyUnreadable    Outcome = "body_unreadable"
	OutcomeSignatureRejected Outcome = "signature_rejected"
	OutcomeMalformed         Outcome = "malformed"
	OutcomeEmpty             Outcome = "empty"
	OutcomeDuplicate         Outcome = "duplicate"
	OutcomeDedupStoreError   Outcome = "dedup_store_error"
	OutcomeDispatched        Outcome = "dispatched"
	OutcomeTransientFailure  Outcome = "transient_failure"
	OutcomePermanentFailure  Outcome = "permanent_failure"
	OutcomeTimeout           Outcome = "timeout"
)

const statusSuccess = "success"

type ackResponse struct {
	Status     string `json:"status"`
	Idempotent bool   `json:"idempotent,omitempty"`
}

type Config struct {
	Limiter      *ratelimit.Limiter
	Deduplicator *dedup.Deduplicator
	// DeadLetters is optional; without it dead letters are only logged.
	DeadLetters  DeadLetterRecorder
	Verifier     signature.Verifier
	MaxBodyBytes int64
	Timeout      time.Duration
	// Now stamps captured deliveries; defaults to time.Now.
	Now func() time.Time
}

type Router struct {
	cfg Config
}

func NewRouter(cfg Config) *Router {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = rawbody.DefaultMaxBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Router{cfg: cfg}
}

// Route describes one provider endpoint.
type Route struct {
	Provider  string
	Class     ratelimit.Class
	Signature signature.Context
	// TrustedNetworks, when non-empty, rejects sources outside these networks.
	TrustedNetworks []netip.Prefix
	Decoder         Decoder
	Handler         Handler
}

// Handler serves route. Each request moves through rate check, capture,
// verification, decode, dedup and dispatch, stopping at the first terminal
// state.
func (rt *Router) Handler(route Route) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), rt.cfg.Timeout)
		defer cancel()

		ctx = xslog.WithAttrs(ctx,
			xslog.Provider(route.Provider),
			xslog.RouteClass(route.Class.String()),
		)

		outcome := rt.serve(ctx, w, r.WithContext(ctx), route)
		metrics.WebhookOutcomes.WithLabelValues(route.Provider, string(outcome)).Inc()
		xslog.FromContext(ctx).DebugContext(ctx, "webhook delivery finished", xslog.Outcome(string(outcome)))
	})
}

func (rt *Router) serve(ctx context.Context, w http.ResponseWriter, r *http.Request, route Route) Outcome {
	logger := xslog.FromContext(ctx)
	ip := xhttp.GetRequestIP(r)

	if rt.cfg.Limiter != nil {
		decision, err := rt.cfg.Limiter.Allow(ctx, ip, route.Class)
		if err != nil {
			xerrors.WriteError(ctx, w, xerrors.ServiceUnavailable(
				xerrors.WithCause(err),
				xerrors.WithRetryAfter(storeRetryAfter),
			))
			return OutcomeRateStoreError
		}
		if !decision.Allowed {
			logger.WarnContext(ctx, "webhook rate limited",
				xslog.IP(ip),
				xslog.RetryAfter(decision.RetryAfter),
				slog.String("rule", decision.Rule.String()),
			)
			ratelimit.WriteExceeded(ctx, w, decision)
			return OutcomeRateLimited
		}
	}

	if len(route.TrustedNetworks) > 0 && !trusted(ip, route.TrustedNetworks) {
		logger.WarnContext(ctx, "webhook from untrusted network", xslog.IP(ip))
		xerrors.WriteError(ctx, w, xerrors.Forbidden())
		return OutcomeUntrustedSource
	}

	raw, err := rawbody.CaptureAt(r, rt.cfg.MaxBodyBytes, rt.cfg.Now())
	if errors.Is(err, rawbody.ErrTooLarge) {
		xerrors.WriteError(ctx, w, xerrors.PayloadTooLarge(xerrors.WithCause(err)))
		return OutcomeBodyTooLarge
	}
	if err != nil {
		xerrors.WriteError(ctx, w, xerrors.BadRequest(xerrors.WithCause(err)))
		return OutcomeBodyUnreadable
	}
	metrics.WebhookBodyBytes.WithLabelValues(route.Provider).Add(float64(raw.Len()))

	logger = logger.With(xslog.Fingerprint(raw.Fingerprint()))
	ctx = xslog.WithLogger(ctx, logger)
	if enc := raw.Transformation(); enc != "" {
		logger.WarnContext(ctx, "webhook body declares a content encoding; verifying bytes as received",
			xslog.ContentEncoding(enc))
	}

	out := rt.cfg.Verifier.Verify(raw, route.Signature)
	if out.Rejected() {
		metrics.SignatureFailures.WithLabelValues(route.Provider, out.Reason.String()).Inc()
		logger.WarnContext(ctx, "webhook signature rejected",
			xslog.Reason(out.Reason.String()),
			xslog.IP(raw.SourceIP()),
			slog.Any("signature", out.Diagnostics),
		)
		xerrors.WriteError(ctx, w, xerrors.Forbidden())
		return OutcomeSignatureRejected
	}
	if out.Bypassed {
		metrics.SignatureBypasses.WithLabelValues(route.Provider).Inc()
		logger.WarnContext(ctx, "webhook signature check bypassed",
			xslog.Reason(out.Reason.String()),
			slog.Any("signature", out.Diagnostics),
		)
	}

	events, err := route.Decoder.Decode(raw)
	if err != nil {
		logger.ErrorContext(ctx, "malformed webhook payload", xslog.Error(err))
		rt.deadLetter(ctx, DeadLetter{
			Source:  route.Provider,
			Payload: raw.Body(),
			Reason:  err.Error(),
		})
		xhttp.WriteOK(w, ackResponse{Status: statusSuccess})
		return OutcomeMalformed
	}
	if len(events) == 0 {
		logger.InfoContext(ctx, "webhook carried no dispatchable events")
		xhttp.WriteOK(w, ackResponse{Status: statusSuccess})
		return OutcomeEmpty
	}

	logger.DebugContext(ctx, "webhook decoded", xslog.Count(len(events)))

	return rt.dispatchAll(ctx, w, route, events)
}

func (rt *Router) dispatchAll(ctx context.Context, w http.ResponseWriter, route Route, events []Event) Outcome {
	var dispatched, duplicates, permanent int

	for _, ev := range events {
		logger := xslog.FromContext(ctx).With(xslog.EventID(ev.ID), xslog.EventType(ev.Type))

		admission, err := rt.cfg.Deduplicator.Admit(ctx, ev.Key())
		if err != nil {
			logger.ErrorContext(ctx, "dedup check failed", xslog.Error(err))
			xerrors.WriteError(ctx, w, xerrors.ServiceUnavailable(
				xerrors.WithCause(err),
				xerrors.WithRetryAfter(storeRetryAfter),
			))
			return OutcomeDedupStoreError
		}
		if admission == dedup.Duplicate {
			duplicates++
			metrics.DuplicateDeliveries.WithLabelValues(route.Provider).Inc()
			logger.InfoContext(ctx, "duplicate delivery skipped")
			continue
		}

		err = rt.dispatch(ctx, route, ev)
		switch {
		case err == nil:
			dispatched++
			logger.InfoContext(ctx, "webhook event dispatched")
		case IsPermanent(err):
			permanent++
			logger.ErrorContext(ctx, "webhook handler failed permanently", xslog.Error(err))
			rt.deadLetter(ctx, DeadLetter{
				Source:  route.Provider,
				EventID: ev.ID,
				Payload: ev.Payload,
				Reason:  err.Error(),
			})
		default:
			if !errors.Is(err, errStillRunning) {
				rt.release(ctx, ev)
			}
			xerrors.WriteError(ctx, w, xerrors.ServiceUnavailable(
				xerrors.WithCause(err),
				xerrors.WithRetryAfter(handlerRetryAfter),
			))
			if errors.Is(err, context.DeadlineExceeded) {
				return OutcomeTimeout
			}
			return OutcomeTransientFailure
		}
	}

	switch {
	case dispatched == 0 && permanent == 0:
		xhttp.WriteOK(w, ackResponse{Status: statusSuccess, Idempotent: true})
		return OutcomeDuplicate
	case dispatched == 0:
		xhttp.WriteOK(w, ackResponse{Status: statusSuccess})
		return OutcomePermanentFailure
	default:
		xhttp.WriteOK(w, ackResponse{Status: statusSuccess})
		return OutcomeDispatched
	}
}

// errStillRunning marks a handler that outlived the request deadline. Its
// dedup key stays held until the handler returns.
var errStillRunning = errors.New("handler still running at deadline")

// dispatch runs the handler and waits for it or the request deadline,
// whichever comes first. A panicking handler is a permanent failure.
func (rt *Router) dispatch(ctx context.Context, route Route, ev Event) error {
	start := time.Now()
	done := make(chan error, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- Permanent(fmt.Errorf("handler panic: %v", p))
			}
		}()
		done <- route.Handler.Handle(ctx, ev)
	}()

	select {
	case err := <-done:
		metrics.HandlerDuration.WithLabelValues(route.Provider).Observe(time.Since(start).Seconds())
		return err
	case <-ctx.Done():
		go rt.settleLate(ctx, route, ev, start, done)
		return Transient(fmt.Errorf("%w: %w", errStillRunning, ctx.Err()))
	}
}

// settleLate waits for a handler that missed the deadline. The key is
// released only once the handler has returned a transient failure, so a
// redelivery cannot run alongside it.
func (rt *Router) settleLate(ctx context.Context, route Route, ev Event, start time.Time, done <-chan error) {
	err := <-done
	metrics.HandlerDuration.WithLabelValues(route.Provider).Observe(time.Since(start).Seconds())

	logger := xslog.FromContext(ctx).With(xslog.EventID(ev.ID), xslog.EventType(ev.Type))
	switch {
	case err == nil:
		logger.WarnContext(ctx, "webhook handler finished after deadline")
	case IsPermanent(err):
		logger.ErrorContext(ctx, "webhook handler failed permanently after deadline", xslog.Error(err))
		rt.deadLetter(ctx, DeadLetter{
			Source:  route.Provider,
			EventID: ev.ID,
			Payload: ev.Payload,
			Reason:  err.Error(),
		})
	default:
		logger.WarnContext(ctx, "webhook handler failed after deadline", xslog.Error(err))
		rt.release(ctx, ev)
	}
}

// release forgets ev so the provider's redelivery is admitted.
func (rt *Router) release(ctx context.Context, ev Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := rt.cfg.Deduplicator.Release(ctx, ev.Key()); err != nil {
		xslog.FromContext(ctx).ErrorContext(ctx, "failed to release dedup key",
			xslog.EventID(ev.ID),
			xslog.Error(err),
		)
	}
}

func (rt *Router) deadLetter(ctx context.Context, dl DeadLetter) {
	metrics.DeadLetters.WithLabelValues(dl.Source, deadLetterReason(dl)).Inc()
	if rt.cfg.DeadLetters == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if dl.CreatedAt.IsZero() {
		dl.CreatedAt = time.Now()
	}
	if err := rt.cfg.DeadLetters.RecordDeadLetter(ctx, dl); err != nil {
		xslog.FromContext(ctx).ErrorContext(ctx, "failed to record dead letter",
			xslog.EventID(dl.EventID),
			xslog.Error(err),
		)
	}
}

func deadLetterReason(dl DeadLetter) string {
	if dl.EventID == "" {
		return "malformed"
	}
	return "permanent_failure"
}

func trusted(ip string, networks []netip.Prefix) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, n := range networks {
		if n.Contains(addr) {
			return true
		}
	}
	return false
}
