package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DriverTimeout bounds every blocking broker operation.
const DriverTimeout = 60 * time.Second

// Broker moves envelopes between peer-facing send loops and the flows
// waiting on correlated responses. Envelopes are opaque JSON; the only
// field the broker reads is metadata.messageId when keying responses.
type Broker interface {
	// Publish enqueues a frame for the send loop serving nodeID.
	// Publishing never blocks on a slow consumer.
	Publish(ctx context.Context, nodeID string, frame json.RawMessage) error

	// Get returns the next frame queued for nodeID, blocking up to
	// DriverTimeout. A broker_timeout error means no frame arrived.
	Get(ctx context.Context, nodeID string) (json.RawMessage, error)

	// AddResponse enqueues an envelope on the response queue keyed by
	// the envelope's metadata.messageId.
	AddResponse(ctx context.Context, envelope json.RawMessage) error

	// ResponseStream drains up to count envelopes correlated with
	// messageID. The envelope channel closes once count envelopes have
	// been delivered. If the stream stalls longer than DriverTimeout,
	// or the context ends, the error is delivered on the second channel
	// and the envelope channel closes with whatever was drained.
	ResponseStream(ctx context.Context, messageID string, count int) (<-chan json.RawMessage, <-chan error)

	// Close releases driver resources.
	Close() error
}

// responseKey extracts the correlation key from an envelope.
func responseKey(envelope json.RawMessage) (string, error) {
	var probe struct {
		Metadata struct {
			MessageID string `json:"messageId"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(envelope, &probe); err != nil {
		return "", fmt.Errorf("failed to parse envelope metadata: %w", err)
	}
	if probe.Metadata.MessageID == "" {
		return "", fmt.Errorf("envelope carries no message ID")
	}
	return probe.Metadata.MessageID, nil
}
