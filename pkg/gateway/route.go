package gateway

import (
	"context"

	"github.com/Firefox2100/dedi-gateway/pkg/message"
	"github.com/Firefox2100/dedi-gateway/pkg/metrics"
	"github.com/Firefox2100/dedi-gateway/pkg/types"
)

// RequestRoute looks for a relay path to a peer no transport reaches
// directly. Every approved peer is asked; the shortest usable answer
// wins and is cached as a proxy route. Returns whether a route is now
// available.
func (e *Engine) RequestRoute(ctx context.Context, networkID, nodeID string) (bool, error) {
	cached, err := e.cache.GetRoute(ctx, nodeID)
	if err != nil {
		return false, err
	}
	if cached != nil {
		metrics.RouteLookups.WithLabelValues("hit").Inc()
		return true, nil
	}

	network, err := e.db.Networks().Get(networkID)
	if err != nil {
		return false, err
	}

	request := message.NewRouteRequest(message.NewMetadata(networkID, network.InstanceID), nodeID)
	release := e.await(request.Metadata.MessageID)
	defer release()

	delivered, err := e.conn.Broadcast(ctx, request)
	if err != nil {
		return false, err
	}
	if delivered == 0 {
		metrics.RouteLookups.WithLabelValues("miss").Inc()
		return false, nil
	}

	responses := e.collectResponses(ctx, request.Metadata.MessageID, delivered)

	var best []string
	for _, envelope := range responses {
		reply, err := message.Decode(envelope)
		if err != nil {
			continue
		}
		rr, ok := reply.(*message.RouteResponse)
		if !ok || rr.TargetNode != nodeID || len(rr.Route) == 0 {
			continue
		}
		if routeLoops(rr.Route, nodeID, network.InstanceID) {
			continue
		}
		if best == nil || len(rr.Route) < len(best) {
			best = rr.Route
		}
	}

	if best == nil {
		metrics.RouteLookups.WithLabelValues("miss").Inc()
		return false, nil
	}

	if err := e.cache.SaveRoute(ctx, &types.Route{
		NetworkID:    networkID,
		NodeID:       nodeID,
		Connectivity: types.ConnectivityProxy,
		ProxyNodes:   best,
	}); err != nil {
		return false, err
	}

	metrics.RouteLookups.WithLabelValues("found").Inc()
	e.logger.Info().
		Str("network_id", networkID).
		Str("node_id", nodeID).
		Int("hops", len(best)).
		Msg("Relay route discovered")
	return true, nil
}

// routeLoops reports whether a hop chain passes through the target or
// through this gateway itself.
func routeLoops(route []string, targetID, selfID string) bool {
	for _, hop := range route {
		if hop == targetID || hop == selfID {
			return true
		}
	}
	return false
}

// processRouteRequest answers a peer's search for a relay path. The
// reply names this gateway as the first hop, followed by its own proxy
// chain when the target is itself only reachable by relay. An empty
// route means no usable path; it is sent anyway so the asker's
// collector completes without waiting out its timeout.
func (e *Engine) processRouteRequest(ctx context.Context, m *message.RouteRequest) error {
	network, err := e.db.Networks().Get(m.Metadata.NetworkID)
	if err != nil {
		return err
	}

	var route []string
	cached, err := e.cache.GetRoute(ctx, m.TargetNode)
	if err != nil {
		return err
	}
	if cached != nil {
		switch cached.Connectivity {
		case types.ConnectivityDirect:
			route = []string{network.InstanceID}
		case types.ConnectivityProxy:
			route = append([]string{network.InstanceID}, cached.ProxyNodes...)
		}
		// A path through the asker is no path at all.
		for _, hop := range route {
			if hop == m.Metadata.NodeID {
				route = nil
				break
			}
		}
	}

	sender, err := e.db.Nodes().Get(m.Metadata.NodeID)
	if err != nil {
		return err
	}

	response := message.NewRouteResponse(
		message.ResponseMetadata(m.Metadata, network.InstanceID), m.TargetNode, route)
	return e.conn.Send(ctx, response, sender)
}

// NotifyRouteBroken tells the network this gateway can no longer relay
// to a peer, so routes through it get evicted before they black-hole
// traffic.
func (e *Engine) NotifyRouteBroken(ctx context.Context, networkID, nodeID string) error {
	network, err := e.db.Networks().Get(networkID)
	if err != nil {
		return err
	}

	notification := message.NewRouteNotification(
		message.NewMetadata(networkID, network.InstanceID), nodeID)
	_, err = e.conn.Broadcast(ctx, notification)
	return err
}

// processRouteNotification evicts a cached proxy route that relied on
// the announcing peer. Direct transports to the target are unaffected
// by someone else losing theirs.
func (e *Engine) processRouteNotification(ctx context.Context, m *message.RouteNotification) error {
	cached, err := e.cache.GetRoute(ctx, m.TargetNode)
	if err != nil {
		return err
	}
	if cached == nil || cached.Connectivity != types.ConnectivityProxy {
		return nil
	}

	for _, hop := range cached.ProxyNodes {
		if hop == m.Metadata.NodeID {
			_, err = e.cache.DeleteRoute(ctx, m.TargetNode)
			return err
		}
	}
	return nil
}

// processProxy relays a wrapped frame one hop further. The head of the
// chain is the next recipient: with more hops behind it the frame is
// re-wrapped for them, while a single remaining entry is the
// destination itself, which receives the origin frame untouched so the
// end-to-end signature still verifies.
func (e *Engine) processProxy(ctx context.Context, m *message.Proxy) error {
	inner, err := m.Inner()
	if err != nil {
		return err
	}

	if len(m.ProxyChain) == 0 {
		return e.conn.HandleFrame(ctx, inner.Message, inner.Signature)
	}

	next, err := e.db.Nodes().Get(m.ProxyChain[0])
	if err != nil {
		return err
	}

	metrics.ProxyForwards.Inc()

	if len(m.ProxyChain) == 1 {
		return e.conn.SendFrame(ctx, inner, next)
	}

	network, err := e.db.Networks().Get(m.Metadata.NetworkID)
	if err != nil {
		return err
	}
	wrapped, err := message.NewProxy(
		message.NewMetadata(m.Metadata.NetworkID, network.InstanceID), inner, m.ProxyChain[1:])
	if err != nil {
		return err
	}
	return e.conn.Send(ctx, wrapped, next)
}
