// Package stripe decodes payments provider webhook deliveries.
package stripe

import (
	"errors"
	"fmt"

	go_json "github.com/goccy/go-json"

	"github.com/garrettladley/hookgate/internal/rawbody"
	"github.com/garrettladley/hookgate/internal/webhook"
)

const (
	Provider        = "stripe"
	SignatureHeader = "Stripe-Signature"
)

// Event types listed by SubscribedTypes.
const (
	TypeCheckoutSessionCompleted = "checkout.session.completed"
	TypeSubscriptionCreated      = "customer.subscription.created"
	TypeSubscriptionUpdated      = "customer.subscription.updated"
	TypeSubscriptionDeleted      = "customer.subscription.deleted"
	TypeInvoicePaymentSucceeded  = "invoice.payment_succeeded"
	TypeInvoicePaymentFailed     = "invoice.payment_failed"
)

var (
	errMissingID   = errors.New("event has no id")
	errMissingType = errors.New("event has no type")
)

type envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object go_json.RawMessage `json:"object"`
	} `json:"data"`
}

var _ webhook.Decoder = Decoder{}

// Decoder yields exactly one event per delivery, keyed by the event id. The
// payload is the full delivery body.
type Decoder struct{}

func (Decoder) Decode(raw *rawbody.Request) ([]webhook.Event, error) {
	body := raw.Body()

	var env envelope
	if err := go_json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", webhook.ErrPayloadMalformed, err)
	}
	if env.ID == "" {
		return nil, fmt.Errorf("%w: %w", webhook.ErrPayloadMalformed, errMissingID)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: %w", webhook.ErrPayloadMalformed, errMissingType)
	}

	return []webhook.Event{{
		Provider:   Provider,
		ID:         env.ID,
		Type:       env.Type,
		Payload:    body,
		ReceivedAt: raw.ReceivedAt(),
	}}, nil
}
