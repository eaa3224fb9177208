package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Firefox2100/dedi-gateway/pkg/errdefs"
	"github.com/Firefox2100/dedi-gateway/pkg/message"
	"github.com/Firefox2100/dedi-gateway/pkg/types"
)

// StreamWriter adapts an HTTP response into an event sink for
// ServeSSE.
type StreamWriter interface {
	// WriteEvent pushes one data event and flushes it.
	WriteEvent(data []byte) error

	// WritePing pushes a keepalive comment event.
	WritePing() error
}

// sseRoute is the route record for an event stream this gateway
// consumes.
func sseRoute(network *types.Network, node *types.Node) *types.Route {
	return &types.Route{
		NetworkID:    network.ID,
		NodeID:       node.ID,
		Connectivity: types.ConnectivityDirect,
		Transport:    types.TransportSSE,
		Outbound:     true,
	}
}

// openEventStream subscribes to the peer's event stream, introducing
// this gateway with a signed connect envelope in the request body.
func (m *Manager) openEventStream(ctx context.Context, network *types.Network, node *types.Node) (<-chan string, <-chan error, error) {
	hello := message.NewAuthConnect(message.NewMetadata(network.ID, network.InstanceID))
	raw, err := message.Encode(hello)
	if err != nil {
		return nil, nil, err
	}
	sig, err := m.kms.SignPayload(ctx, raw, network.ID)
	if err != nil {
		return nil, nil, err
	}

	url := strings.TrimRight(node.URL, "/") + "/service/event"
	events, errs := m.driver.Stream(ctx, url, json.RawMessage(raw), map[string]string{
		"Message-Signature": sig,
	})
	return events, errs, nil
}

// establishSSE opens the peer's event stream and registers an
// outbound stream route. The peer pushes its frames over the stream;
// traffic towards the peer travels as HTTP posts instead.
func (m *Manager) establishSSE(ctx context.Context, network *types.Network, node *types.Node) error {
	// The stream must outlive this call, so it is opened on the loop
	// context rather than the establish context.
	loopCtx, cancel := context.WithCancel(m.runCtx)

	events, errs, err := m.openEventStream(loopCtx, network, node)
	if err != nil {
		cancel()
		return err
	}

	// Watch briefly for an immediate transport failure before
	// declaring the stream up.
	select {
	case err := <-errs:
		cancel()
		if err == nil {
			err = errdefs.NetworkRequestFailed("event stream closed during setup", 0)
		}
		return err
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	case <-time.After(streamGrace):
	}

	if err := m.cache.SaveRoute(ctx, sseRoute(network, node)); err != nil {
		cancel()
		return err
	}

	h := &loopHandle{cancel: cancel}
	m.registerLoop(node.ID, h)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.releaseLoop(node.ID, h)
		m.superviseSSE(loopCtx, network, node, events, errs, h)
	}()

	return nil
}

// superviseSSE consumes the peer's event stream and reopens it within
// the retry budget when it ends. Stream exhaustion falls back to a
// relayed route.
func (m *Manager) superviseSSE(ctx context.Context, network *types.Network, node *types.Node, events <-chan string, errs <-chan error, h *loopHandle) {
	logger := m.logger.With().
		Str("network_id", network.ID).
		Str("node_id", node.ID).
		Logger()

	for {
		err := m.consumeSSE(ctx, node.ID, events, errs)
		m.dropRouteOwned(node.ID, h)
		if ctx.Err() != nil {
			return
		}
		logger.Info().Err(err).Msg("Event stream lost, reopening")

		events, errs = m.redialSSE(ctx, network, node)
		if events == nil {
			break
		}
		if ctx.Err() != nil {
			return
		}
		if err := m.cache.SaveRoute(ctx, sseRoute(network, node)); err != nil {
			logger.Warn().Err(err).Msg("Failed to restore route")
			return
		}
		logger.Info().Msg("Event stream restored")
	}

	if ctx.Err() != nil {
		return
	}

	logger.Info().Msg("Event stream retry budget exhausted, falling back")
	if err := m.establishRelay(ctx, network, node); err == nil {
		return
	}
	m.peerLost(ctx, network.ID, node.ID)
}

// consumeSSE authenticates and processes frames from the peer's event
// stream until it ends.
func (m *Manager) consumeSSE(ctx context.Context, nodeID string, events <-chan string, errs <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-events:
			if !ok {
				// The transport error, if any, is queued before the
				// event channel closes.
				select {
				case err := <-errs:
					if err != nil {
						return err
					}
				default:
				}
				return fmt.Errorf("event stream ended")
			}
			m.handleStreamFrame(ctx, nodeID, data)
		}
	}
}

// handleStreamFrame authenticates one stream frame and hands it to the
// processor. Stream frames carry no reply path, so failures are only
// logged.
func (m *Manager) handleStreamFrame(ctx context.Context, nodeID, data string) {
	logger := m.logger.With().Str("node_id", nodeID).Logger()

	frame, err := message.DecodeSigned([]byte(data))
	if err != nil {
		logger.Warn().Err(err).Msg("Malformed stream frame")
		return
	}
	msg, err := m.Authenticate(ctx, frame)
	if err != nil {
		logger.Warn().Err(err).Msg("Rejected stream frame")
		return
	}
	if err := m.process(ctx, msg); err != nil {
		logger.Warn().Err(err).Str("message_type", string(msg.Type())).Msg("Failed to process message")
	}
}

// redialSSE attempts to reopen a dropped stream within the retry
// budget. It returns nil channels when the budget is exhausted.
func (m *Manager) redialSSE(ctx context.Context, network *types.Network, node *types.Node) (<-chan string, <-chan error) {
	deadline := time.Now().Add(retryBudget)
	for time.Now().Before(deadline) {
		events, errs, err := m.openEventStream(ctx, network, node)
		if err == nil {
			select {
			case <-errs:
				// Stream failed immediately; treat as a missed attempt.
			case <-ctx.Done():
				return nil, nil
			case <-time.After(streamGrace):
				return events, errs
			}
		}

		select {
		case <-ctx.Done():
			return nil, nil
		case <-time.After(retryInterval):
		}
	}
	return nil, nil
}

// ServeSSE registers an inbound stream route for an authenticated peer
// and pushes its queued frames through w until the peer disconnects or
// the manager shuts down.
func (m *Manager) ServeSSE(ctx context.Context, networkID, nodeID string, w StreamWriter) error {
	route := &types.Route{
		NetworkID:    networkID,
		NodeID:       nodeID,
		Connectivity: types.ConnectivityDirect,
		Transport:    types.TransportSSE,
		Outbound:     false,
	}
	if err := m.cache.SaveRoute(ctx, route); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-m.runCtx.Done():
			cancel()
		case <-loopCtx.Done():
		}
	}()

	h := &loopHandle{cancel: cancel}
	m.registerLoop(nodeID, h)
	defer m.releaseLoop(nodeID, h)
	defer m.dropRouteOwned(nodeID, h)
	defer cancel()

	m.logger.Info().
		Str("network_id", networkID).
		Str("node_id", nodeID).
		Msg("Serving event stream to node")

	for {
		frame, err := m.broker.Get(loopCtx, nodeID)
		if err != nil {
			if errdefs.IsKind(err, errdefs.KindBrokerTimeout) {
				if err := w.WritePing(); err != nil {
					return nil
				}
				continue
			}
			if loopCtx.Err() != nil {
				return nil
			}
			return err
		}

		if err := w.WriteEvent(frame); err != nil {
			return nil
		}
	}
}
