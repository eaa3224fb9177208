package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Firefox2100/dedi-gateway/pkg/errdefs"
	"github.com/Firefox2100/dedi-gateway/pkg/message"
	"github.com/Firefox2100/dedi-gateway/pkg/metrics"
)

// Process is the connection manager's processing callback: every
// verified inbound message lands here and fans out by type. Correlated
// responses are admitted to the broker only while a collector is
// waiting for them; stale ones are dropped so response queues cannot
// build up behind collectors that already gave up.
func (e *Engine) Process(ctx context.Context, msg message.Message) error {
	metrics.MessagesReceived.WithLabelValues(string(msg.Type())).Inc()

	switch m := msg.(type) {
	case *message.AuthConnect:
		// Channel identification is consumed during transport setup;
		// one arriving mid-stream is a keepalive.
		return nil

	case *message.AuthRequest:
		// Admission over an already-authenticated channel: the frame
		// signature was verified by the transport, so registration
		// skips the header check and stores the re-encoded envelope.
		raw, err := message.Encode(m)
		if err != nil {
			return err
		}
		_, err = e.registerAuthRequest(ctx, raw, m)
		return err

	case *message.AuthInvite:
		raw, err := message.Encode(m)
		if err != nil {
			return err
		}
		_, err = e.registerAuthInvite(ctx, raw, m)
		return err

	case *message.AuthRequestResponse:
		return e.applyRequestResponse(ctx, m)

	case *message.AuthInviteResponse:
		return e.applyInviteResponse(ctx, m)

	case *message.RouteRequest:
		return e.processRouteRequest(ctx, m)

	case *message.RouteResponse:
		if !e.awaited(m.Metadata.MessageID) {
			e.logger.Debug().
				Str("message_id", m.Metadata.MessageID).
				Msg("Dropping route response no collector waits for")
			return nil
		}
		raw, err := message.Encode(m)
		if err != nil {
			return err
		}
		return e.broker.AddResponse(ctx, raw)

	case *message.RouteNotification:
		return e.processRouteNotification(ctx, m)

	case *message.SyncNode:
		// A SyncNode is both unsolicited gossip and the reply shape of
		// a SyncRequest; only the correlation set tells them apart.
		if e.awaited(m.Metadata.MessageID) {
			raw, err := message.Encode(m)
			if err != nil {
				return err
			}
			return e.broker.AddResponse(ctx, raw)
		}
		return e.processSyncNode(ctx, m)

	case *message.SyncRequest:
		return e.processSyncRequest(ctx, m)

	case *message.SyncIndex:
		return e.processSyncIndex(ctx, m)

	case *message.Proxy:
		return e.processProxy(ctx, m)

	case *message.Custom:
		return e.processCustom(ctx, m)

	default:
		return errdefs.MessageConfigParsing(fmt.Sprintf(
			"no processor for message type %s", msg.Type()))
	}
}

// processCustom forwards a catalog-defined message to its configured
// backend destination, translating the sender's user ID into a local
// principal. A message configured as the answer to another correlates
// back to the local initiator instead of being forwarded.
func (e *Engine) processCustom(ctx context.Context, m *message.Custom) error {
	cfg, err := e.registry.Get(string(m.MessageType))
	if err != nil {
		return err
	}

	if cfg.Preceding != "" {
		if !e.awaited(m.Metadata.MessageID) {
			e.logger.Debug().
				Str("message_type", string(m.MessageType)).
				Str("message_id", m.Metadata.MessageID).
				Msg("Dropping response no collector waits for")
			return nil
		}
		raw, err := message.Encode(m)
		if err != nil {
			return err
		}
		return e.broker.AddResponse(ctx, raw)
	}

	if cfg.Destination == "" {
		return errdefs.MessageConfigNotFound(fmt.Sprintf(
			"message %s has no destination configured", m.MessageType))
	}

	headers := make(map[string]string, len(m.Headers)+1)
	for k, v := range m.Headers {
		headers[k] = v
	}
	if m.UserID != "" {
		mapping, err := e.db.Users().GetMapping()
		if err != nil {
			return err
		}
		localID, err := mapping.Map(m.UserID)
		if err != nil {
			return errdefs.UserNotFound(err.Error())
		}
		headers["X-User-Id"] = localID
	}

	var result map[string]any
	if err := e.driver.PostWithHeaders(ctx, cfg.Destination, m.Data, headers, &result); err != nil {
		return err
	}

	if cfg.Async || cfg.Response == "" {
		return nil
	}

	network, err := e.db.Networks().Get(m.Metadata.NetworkID)
	if err != nil {
		return err
	}
	sender, err := e.db.Nodes().Get(m.Metadata.NodeID)
	if err != nil {
		return err
	}

	response := message.NewCustom(
		message.ResponseMetadata(m.Metadata, network.InstanceID), cfg.Response, result)
	return e.conn.Send(ctx, response, sender)
}

// SendOptions name the target of a management-initiated message.
// NodeID empty broadcasts to every approved peer of the network.
type SendOptions struct {
	NetworkID string
	NodeID    string
	MessageID string
	Data      map[string]any
	UserID    string
}

// SendResult reports a management send: how many peers took delivery,
// and the correlated responses that came back when the catalog defines
// a synchronous answer.
type SendResult struct {
	Delivered int               `json:"deliveredCount"`
	Responses []json.RawMessage `json:"responses,omitempty"`
}

// SendMessage dispatches a catalog-defined message on behalf of an
// operator or backend service. Direct sends with no live route trigger
// one connection attempt before giving up.
func (e *Engine) SendMessage(ctx context.Context, opts SendOptions) (*SendResult, error) {
	cfg, err := e.registry.Get(opts.MessageID)
	if err != nil {
		return nil, err
	}
	if cfg.Preceding != "" {
		return nil, errdefs.MessageConfigParsing(fmt.Sprintf(
			"message %s answers %s and cannot be initiated", opts.MessageID, cfg.Preceding))
	}

	network, err := e.db.Networks().Get(opts.NetworkID)
	if err != nil {
		return nil, err
	}

	msg := message.NewCustom(
		message.NewMetadata(network.ID, network.InstanceID), opts.MessageID, opts.Data)
	msg.UserID = opts.UserID

	expectResponses := cfg.Response != "" && !cfg.Async
	if expectResponses {
		release := e.await(msg.Metadata.MessageID)
		defer release()
	}

	result := &SendResult{}
	if opts.NodeID == "" {
		delivered, err := e.conn.Broadcast(ctx, msg)
		if err != nil {
			return nil, err
		}
		result.Delivered = delivered
	} else {
		node, err := e.db.Nodes().Get(opts.NodeID)
		if err != nil {
			return nil, err
		}

		err = e.conn.Send(ctx, msg, node)
		if errdefs.IsKind(err, errdefs.KindNodeNotConnected) {
			if err = e.conn.Establish(ctx, network, node); err == nil {
				err = e.conn.Send(ctx, msg, node)
			}
		}
		if err != nil {
			metrics.DeliveryFailures.Inc()
			return nil, err
		}
		result.Delivered = 1
	}

	metrics.MessagesSent.WithLabelValues(opts.MessageID).Inc()

	if expectResponses && result.Delivered > 0 {
		result.Responses = e.collectResponses(ctx, msg.Metadata.MessageID, result.Delivered)
	}
	return result, nil
}
