package connection

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Firefox2100/dedi-gateway/pkg/errdefs"
	"github.com/Firefox2100/dedi-gateway/pkg/kms"
	"github.com/Firefox2100/dedi-gateway/pkg/message"
)

// Authenticate verifies a signed frame and decodes the envelope it
// carries. Admission requests and invites are verified against the
// public key embedded in the message itself, since the sender is by
// definition not yet known. Every other type must come from a known,
// approved node and verify against the key on record.
func (m *Manager) Authenticate(ctx context.Context, frame *message.Signed) (message.Message, error) {
	if frame.Signature == "" {
		return nil, errdefs.MessageSignature("message carries no signature")
	}

	msg, err := message.Decode(frame.Message)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.MessageSignature("message envelope is malformed"), err)
	}

	var publicKey string
	switch v := msg.(type) {
	case *message.AuthRequest:
		if v.Node == nil || v.Node.PublicKey == "" {
			return nil, errdefs.MessageSignature("admission request carries no public key")
		}
		publicKey = v.Node.PublicKey
	case *message.AuthInvite:
		if v.Node == nil || v.Node.PublicKey == "" {
			return nil, errdefs.MessageSignature("admission invite carries no public key")
		}
		publicKey = v.Node.PublicKey
	default:
		node, err := m.db.Nodes().Get(msg.Meta().NodeID)
		if err != nil {
			return nil, errdefs.NodeNotApproved(fmt.Sprintf("message from unknown node %s", msg.Meta().NodeID))
		}
		if !node.Approved {
			return nil, errdefs.NodeNotApproved("")
		}
		publicKey = node.PublicKey
	}

	if !kms.VerifySignature(frame.Message, publicKey, frame.Signature) {
		return nil, errdefs.MessageSignature("")
	}
	return msg, nil
}

// HandleFrame authenticates an envelope that arrived outside a live
// socket, such as an HTTP message post, and hands it to the processor.
func (m *Manager) HandleFrame(ctx context.Context, envelope json.RawMessage, signature string) error {
	msg, err := m.Authenticate(ctx, &message.Signed{Message: envelope, Signature: signature})
	if err != nil {
		return err
	}
	return m.process(ctx, msg)
}
