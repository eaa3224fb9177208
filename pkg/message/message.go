package message

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type tags the protocol envelope. Custom messages use their
// fully-qualified catalog id as the tag.
type Type string

const (
	TypeAuthRequest         Type = "authRequest"
	TypeAuthInvite          Type = "authInvite"
	TypeAuthRequestResponse Type = "authRequestResponse"
	TypeAuthInviteResponse  Type = "authInviteResponse"
	TypeAuthConnect         Type = "authConnect"
	TypeSyncNode            Type = "syncNode"
	TypeSyncIndex           Type = "syncIndex"
	TypeSyncRequest         Type = "syncRequest"
	TypeRouteRequest        Type = "routeRequest"
	TypeRouteResponse       Type = "routeResponse"
	TypeRouteNotification   Type = "routeNotification"
	TypeProxy               Type = "proxy"
)

// Metadata identifies a message within a network. Responses reuse the
// originator's message ID as the correlation key.
type Metadata struct {
	NetworkID string  `json:"networkId"`
	NodeID    string  `json:"nodeId"`
	MessageID string  `json:"messageId"`
	Timestamp float64 `json:"timestamp"`
}

// NewMetadata stamps fresh metadata for an outgoing message. The
// timestamp is seconds since the epoch with sub-second precision.
func NewMetadata(networkID, nodeID string) Metadata {
	return Metadata{
		NetworkID: networkID,
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
	}
}

// ResponseMetadata stamps metadata for a reply, reusing the request's
// message ID so the originator can correlate it.
func ResponseMetadata(request Metadata, nodeID string) Metadata {
	return Metadata{
		NetworkID: request.NetworkID,
		NodeID:    nodeID,
		MessageID: request.MessageID,
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
	}
}

// Message is one protocol envelope. Concrete variants live in this
// package; unknown tags decode as Custom.
type Message interface {
	Type() Type
	Meta() Metadata
}

// Encode serialises a message to its wire JSON.
func Encode(m Message) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding %s message: %w", m.Type(), err)
	}
	return raw, nil
}

// Decode parses a wire envelope into its concrete variant. Tags outside
// the core protocol decode as Custom, which covers catalog-defined
// message types.
func Decode(data []byte) (Message, error) {
	var probe struct {
		MessageType Type `json:"messageType"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decoding message envelope: %w", err)
	}
	if probe.MessageType == "" {
		return nil, fmt.Errorf("message envelope missing messageType")
	}

	var m Message
	switch probe.MessageType {
	case TypeAuthRequest:
		m = &AuthRequest{}
	case TypeAuthInvite:
		m = &AuthInvite{}
	case TypeAuthRequestResponse:
		m = &AuthRequestResponse{}
	case TypeAuthInviteResponse:
		m = &AuthInviteResponse{}
	case TypeAuthConnect:
		m = &AuthConnect{}
	case TypeSyncNode:
		m = &SyncNode{}
	case TypeSyncIndex:
		m = &SyncIndex{}
	case TypeSyncRequest:
		m = &SyncRequest{}
	case TypeRouteRequest:
		m = &RouteRequest{}
	case TypeRouteResponse:
		m = &RouteResponse{}
	case TypeRouteNotification:
		m = &RouteNotification{}
	case TypeProxy:
		m = &Proxy{}
	default:
		m = &Custom{}
	}

	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decoding %s message: %w", probe.MessageType, err)
	}
	return m, nil
}

// Signer produces a detached signature over a payload with a network's
// node key. The KMS satisfies this interface.
type Signer interface {
	SignPayload(ctx context.Context, payload []byte, networkID string) (string, error)
}

// Signed is the authenticated wire frame: the exact envelope bytes that
// were signed plus the detached base64 signature. Verification must run
// over Message as received, never over a re-serialisation.
type Signed struct {
	Message   json.RawMessage `json:"message"`
	Signature string          `json:"signature"`
}

// Seal encodes a message and signs the resulting bytes with the sender's
// network key.
func Seal(ctx context.Context, m Message, signer Signer) (*Signed, error) {
	raw, err := Encode(m)
	if err != nil {
		return nil, err
	}

	sig, err := signer.SignPayload(ctx, raw, m.Meta().NetworkID)
	if err != nil {
		return nil, fmt.Errorf("signing %s message: %w", m.Type(), err)
	}

	return &Signed{Message: raw, Signature: sig}, nil
}

// DecodeSigned parses a {message, signature} frame.
func DecodeSigned(data []byte) (*Signed, error) {
	var s Signed
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding signed frame: %w", err)
	}
	if len(s.Message) == 0 {
		return nil, fmt.Errorf("signed frame missing message")
	}
	return &s, nil
}

// Encode serialises the signed frame for transmission.
func (s *Signed) Encode() ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding signed frame: %w", err)
	}
	return raw, nil
}

// Decode parses the embedded envelope into its concrete variant.
func (s *Signed) Decode() (Message, error) {
	return Decode(s.Message)
}
