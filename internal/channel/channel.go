// Package channel provides the durable, at-least-once, topic-based message
// transport between the dispatcher and the sync workers.
//
// Payloads are JSON documents wrapped in a base64 envelope; see Encode and
// Decode. Delivery is at-least-once with no ordering guarantee, so every
// consumer must be idempotent under redelivery.
package channel

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Publisher publishes typed payloads to a named topic.
type Publisher interface {
	// Publish serializes payload and delivers it to topic. An error means
	// the message was not durably accepted and the caller should surface
	// the failure; no local retry state is kept.
	Publish(ctx context.Context, topic string, payload any) error
}

// Handler processes a single decoded message body. Returning an error
// leaves the message uncommitted; the transport redelivers it in place
// until it succeeds.
type Handler func(ctx context.Context, body []byte) error

// Subscriber invokes a handler per message on a topic until ctx is canceled.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, h Handler) error
}

// envelope is the wire format carried on every topic: the JSON payload,
// base64-encoded, inside a small JSON wrapper.
type envelope struct {
	Data string `json:"data"`
}

// Encode wraps a payload in the channel's base64 envelope.
func Encode(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("channel: marshal payload: %w", err)
	}
	return json.Marshal(envelope{Data: base64.StdEncoding.EncodeToString(raw)})
}

// Decode unwraps an envelope into dst. Messages without a valid envelope are
// rejected rather than passed through, so malformed producers fail loudly.
func Decode(body []byte, dst any) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("channel: unwrap envelope: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return fmt.Errorf("channel: decode envelope data: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("channel: unmarshal payload: %w", err)
	}
	return nil
}
