// Package webhook turns verified provider deliveries into events and hands
// each one to downstream logic at most once.
package webhook

import (
	"context"
	"time"

	"github.com/garrettladley/hookgate/internal/dedup"
	"github.com/garrettladley/hookgate/internal/rawbody"
)

// Event is one unit of work from a delivery. (Provider, ID) is its natural
// key.
type Event struct {
	Provider   string
	ID         string
	Type       string
	Payload    []byte
	ReceivedAt time.Time
}

func (e Event) Key() dedup.Key {
	return dedup.Key{Provider: e.Provider, EventID: e.ID}
}

// Decoder converts verified bytes into zero or more events. A decode error
// is acknowledged and dead lettered, since the provider would only resend
// the same bytes.
type Decoder interface {
	Decode(raw *rawbody.Request) ([]Event, error)
}

type DecoderFunc func(raw *rawbody.Request) ([]Event, error)

func (f DecoderFunc) Decode(raw *rawbody.Request) ([]Event, error) { return f(raw) }

// Handler applies an event. Return Permanent for failures a redelivery
// cannot fix; anything else is retried.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error { return f(ctx, event) }

// DeadLetter is a delivery that was acknowledged without being applied.
type DeadLetter struct {
	Source    string
	EventID   string
	Payload   []byte
	Reason    string
	Retries   int
	CreatedAt time.Time
}

type DeadLetterRecorder interface {
	RecordDeadLetter(ctx context.Context, dl DeadLetter) error
}
