// Package meta decodes messaging platform webhook deliveries and serves the
// subscription handshake.
package meta

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	go_json "github.com/goccy/go-json"

	"github.com/garrettladley/hookgate/internal/rawbody"
	"github.com/garrettladley/hookgate/internal/webhook"
)

const (
	Provider        = "meta"
	SignatureHeader = "X-Hub-Signature-256"

	EventTypeMessage = "message"

	fingerprintPrefix = "fp-"
	fingerprintLen    = 16
)

type payload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID        string               `json:"id"`
		Messaging []go_json.RawMessage `json:"messaging"`
	} `json:"entry"`
}

type messagingItem struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Message *struct {
		Mid    string `json:"mid"`
		Text   string `json:"text"`
		IsEcho bool   `json:"is_echo"`
	} `json:"message"`
}

var _ webhook.Decoder = Decoder{}

// Decoder yields one event per inbound text message. Echoes of the page's own
// messages and items without text are skipped. Each event is keyed by the
// message id, or by a fingerprint of the item when the platform omits it.
type Decoder struct{}

func (Decoder) Decode(raw *rawbody.Request) ([]webhook.Event, error) {
	var p payload
	if err := go_json.Unmarshal(raw.Body(), &p); err != nil {
		return nil, fmt.Errorf("%w: %w", webhook.ErrPayloadMalformed, err)
	}

	var events []webhook.Event
	for _, entry := range p.Entry {
		for _, item := range entry.Messaging {
			var m messagingItem
			if err := go_json.Unmarshal(item, &m); err != nil {
				return nil, fmt.Errorf("%w: entry %s: %w", webhook.ErrPayloadMalformed, entry.ID, err)
			}
			if m.Message == nil || m.Message.IsEcho || m.Message.Text == "" {
				continue
			}

			id := m.Message.Mid
			if id == "" {
				id = itemFingerprint(item)
			}
			events = append(events, webhook.Event{
				Provider:   Provider,
				ID:         id,
				Type:       EventTypeMessage,
				Payload:    []byte(item),
				ReceivedAt: raw.ReceivedAt(),
			})
		}
	}
	return events, nil
}

func itemFingerprint(item []byte) string {
	sum := sha256.Sum256(item)
	return fingerprintPrefix + hex.EncodeToString(sum[:])[:fingerprintLen]
}
