package stripe

import (
	"context"

	"github.com/garrettladley/hookgate/internal/webhook"
	"github.com/garrettladley/hookgate/internal/xslog"
)

var _ webhook.Handler = (*Mux)(nil)

// Mux routes events by type. Types with no handler are acknowledged without
// side effects.
type Mux struct {
	handlers map[string]webhook.Handler
}

func NewMux() *Mux {
	return &Mux{handlers: make(map[string]webhook.Handler)}
}

// On registers h for each listed event type.
func (m *Mux) On(h webhook.Handler, eventTypes ...string) {
	for _, t := range eventTypes {
		m.handlers[t] = h
	}
}

// SubscribedTypes are the event types the gateway forwards downstream.
func SubscribedTypes() []string {
	return []string{
		TypeCheckoutSessionCompleted,
		TypeSubscriptionCreated,
		TypeSubscriptionUpdated,
		TypeSubscriptionDeleted,
		TypeInvoicePaymentSucceeded,
		TypeInvoicePaymentFailed,
	}
}

func (m *Mux) Handle(ctx context.Context, ev webhook.Event) error {
	h, ok := m.handlers[ev.Type]
	if !ok {
		xslog.FromContext(ctx).DebugContext(ctx, "unhandled stripe event type", xslog.EventType(ev.Type))
		return nil
	}
	return h.Handle(ctx, ev)
}
