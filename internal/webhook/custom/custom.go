// Package custom decodes deliveries from an operator-configured provider
// that sends a flat JSON envelope with an id and a type.
package custom

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	go_json "github.com/goccy/go-json"

	"github.com/garrettladley/hookgate/internal/rawbody"
	"github.com/garrettladley/hookgate/internal/webhook"
)

var (
	errMissingID   = errors.New("event has no id")
	errMissingType = errors.New("event has no type")
	errInvalidID   = errors.New("event id must be a string or an integer")
)

type envelope struct {
	ID   go_json.RawMessage `json:"id"`
	Type string             `json:"type"`
}

var _ webhook.Decoder = Decoder{}

// Decoder yields one event per delivery for Provider. Numeric ids are kept
// in their decimal form so "42" and 42 share a dedup key.
type Decoder struct {
	Provider string
}

func (d Decoder) Decode(raw *rawbody.Request) ([]webhook.Event, error) {
	body := raw.Body()

	var env envelope
	if err := go_json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", webhook.ErrPayloadMalformed, err)
	}
	id, err := eventID(env.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", webhook.ErrPayloadMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: %w", webhook.ErrPayloadMalformed, errMissingType)
	}

	return []webhook.Event{{
		Provider:   d.Provider,
		ID:         id,
		Type:       env.Type,
		Payload:    body,
		ReceivedAt: raw.ReceivedAt(),
	}}, nil
}

func eventID(raw go_json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", errMissingID
	}
	if raw[0] == '"' {
		var s string
		if err := go_json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		if s == "" {
			return "", errMissingID
		}
		return s, nil
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return "", errInvalidID
	}
	return strconv.FormatInt(n, 10), nil
}
