package connection

import (
	"context"
	"fmt"
	"strings"

	"github.com/Firefox2100/dedi-gateway/pkg/errdefs"
	"github.com/Firefox2100/dedi-gateway/pkg/message"
	"github.com/Firefox2100/dedi-gateway/pkg/types"
)

// Send delivers a message to a node over its live route. There is no
// implicit dial; callers establish a route first.
func (m *Manager) Send(ctx context.Context, msg message.Message, node *types.Node) error {
	route, err := m.cache.GetRoute(ctx, node.ID)
	if err != nil {
		return err
	}
	if route == nil {
		return errdefs.NodeNotConnected(fmt.Sprintf("no route to node %s", node.ID))
	}

	switch route.Connectivity {
	case types.ConnectivityDirect:
		return m.sendDirect(ctx, msg, node, route)
	case types.ConnectivityProxy:
		return m.sendProxied(ctx, msg, node, route)
	default:
		return errdefs.NodeNotConnected(fmt.Sprintf("no usable route to node %s", node.ID))
	}
}

// sendDirect signs the message and hands it to the transport serving
// the peer. Websocket and inbound stream peers are fed through their
// broker queue; a peer whose stream we consume is reached with a plain
// HTTP post instead.
func (m *Manager) sendDirect(ctx context.Context, msg message.Message, node *types.Node, route *types.Route) error {
	if route.Transport == types.TransportSSE && route.Outbound {
		_, err := m.driver.PostMessage(ctx, msg, messageURL(node.URL), m.kms)
		return err
	}

	sealed, err := message.Seal(ctx, msg, m.kms)
	if err != nil {
		return err
	}
	frame, err := sealed.Encode()
	if err != nil {
		return err
	}
	return m.broker.Publish(ctx, node.ID, frame)
}

// sendProxied wraps the sealed message once with the remaining hop
// chain and hands it to the first hop over its direct route. Each hop
// pops the head of the chain; the last entry names the destination, so
// the node adjacent to it can deliver the inner frame untouched and
// the origin signature stays verifiable end to end.
func (m *Manager) sendProxied(ctx context.Context, msg message.Message, node *types.Node, route *types.Route) error {
	if len(route.ProxyNodes) == 0 {
		return errdefs.NodeNotConnected(fmt.Sprintf("proxy route to node %s has no hops", node.ID))
	}

	sealed, err := message.Seal(ctx, msg, m.kms)
	if err != nil {
		return err
	}

	chain := append(append([]string(nil), route.ProxyNodes[1:]...), node.ID)
	meta := message.NewMetadata(msg.Meta().NetworkID, msg.Meta().NodeID)
	wrapped, err := message.NewProxy(meta, sealed, chain)
	if err != nil {
		return err
	}

	firstHop, err := m.db.Nodes().Get(route.ProxyNodes[0])
	if err != nil {
		return err
	}
	hopRoute, err := m.cache.GetRoute(ctx, firstHop.ID)
	if err != nil {
		return err
	}
	if hopRoute == nil || hopRoute.Connectivity != types.ConnectivityDirect {
		return errdefs.NodeNotConnected(fmt.Sprintf("proxy hop %s has no direct route", firstHop.ID))
	}

	return m.sendDirect(ctx, wrapped, firstHop, hopRoute)
}

// SendFrame delivers an already-sealed frame over a node's direct
// route without re-signing it. Proxied messages are forwarded this way
// so the destination can still verify the origin signature.
func (m *Manager) SendFrame(ctx context.Context, frame *message.Signed, node *types.Node) error {
	route, err := m.cache.GetRoute(ctx, node.ID)
	if err != nil {
		return err
	}
	if route == nil || route.Connectivity != types.ConnectivityDirect {
		return errdefs.NodeNotConnected(fmt.Sprintf("no direct route to node %s", node.ID))
	}

	if route.Transport == types.TransportSSE && route.Outbound {
		_, err := m.driver.PostFrame(ctx, frame, messageURL(node.URL))
		return err
	}

	raw, err := frame.Encode()
	if err != nil {
		return err
	}
	return m.broker.Publish(ctx, node.ID, raw)
}

// Broadcast sends a message to every approved peer of its network and
// returns how many deliveries succeeded. Per-peer failures feed the
// node's delivery score but never abort the broadcast.
func (m *Manager) Broadcast(ctx context.Context, msg message.Message) (int, error) {
	nodes, err := m.db.Networks().GetNodes(msg.Meta().NetworkID)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, node := range nodes {
		if !node.Approved {
			continue
		}

		err := m.Send(ctx, msg, node)
		node.ObserveDelivery(err == nil, m.emaFactor)
		if updateErr := m.db.Nodes().Update(node); updateErr != nil {
			m.logger.Warn().Err(updateErr).Str("node_id", node.ID).Msg("Failed to record delivery score")
		}

		if err != nil {
			m.logger.Debug().Err(err).Str("node_id", node.ID).Msg("Broadcast delivery failed")
			continue
		}
		delivered++
	}
	return delivered, nil
}

// messageURL is the peer endpoint that accepts signed envelopes over
// HTTP.
func messageURL(nodeURL string) string {
	return strings.TrimRight(nodeURL, "/") + "/service/message"
}
