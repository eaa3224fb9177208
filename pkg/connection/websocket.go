package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Firefox2100/dedi-gateway/pkg/errdefs"
	"github.com/Firefox2100/dedi-gateway/pkg/message"
	"github.com/Firefox2100/dedi-gateway/pkg/types"
)

// controlFrame is the in-band keepalive and error vocabulary shared by
// both ends of a websocket. Anything that is not a control frame is a
// signed envelope.
type controlFrame struct {
	Ping  bool   `json:"ping,omitempty"`
	Pong  bool   `json:"pong,omitempty"`
	Error string `json:"error,omitempty"`
}

// peerConn serialises writes to a websocket that is shared by the send
// loop, pong replies and close frames.
type peerConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newPeerConn(conn *websocket.Conn) *peerConn {
	return &peerConn{conn: conn}
}

func (c *peerConn) writeRaw(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *peerConn) writeControl(frame controlFrame) error {
	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return c.writeRaw(raw)
}

func (c *peerConn) writeClose(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}

// wsRoute is the route record for a websocket this gateway dialled.
func wsRoute(network *types.Network, node *types.Node) *types.Route {
	return &types.Route{
		NetworkID:    network.ID,
		NodeID:       node.ID,
		Connectivity: types.ConnectivityDirect,
		Transport:    types.TransportWebsocket,
		Outbound:     true,
	}
}

// connectWebsocket dials the peer's websocket endpoint and introduces
// this gateway with a signed connect frame.
func (m *Manager) connectWebsocket(ctx context.Context, network *types.Network, node *types.Node) (*websocket.Conn, error) {
	conn, err := m.driver.DialWebsocket(ctx, node.URL)
	if err != nil {
		return nil, err
	}

	hello := message.NewAuthConnect(message.NewMetadata(network.ID, network.InstanceID))
	sealed, err := message.Seal(ctx, hello, m.kms)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	raw, err := sealed.Encode()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetWriteDeadline(time.Time{})

	return conn, nil
}

// establishWebsocket dials the peer, publishes the route, and hands
// the socket to a supervisor that keeps it alive.
func (m *Manager) establishWebsocket(ctx context.Context, network *types.Network, node *types.Node) error {
	conn, err := m.connectWebsocket(ctx, network, node)
	if err != nil {
		return err
	}

	if err := m.cache.SaveRoute(ctx, wsRoute(network, node)); err != nil {
		_ = conn.Close()
		return err
	}

	loopCtx, cancel := context.WithCancel(m.runCtx)
	h := &loopHandle{cancel: cancel}
	m.registerLoop(node.ID, h)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.releaseLoop(node.ID, h)
		m.superviseWebsocket(loopCtx, network, node, conn, h)
	}()

	return nil
}

// superviseWebsocket serves the socket and redials it within the retry
// budget when it drops. When the budget runs out the peer is walked
// down the transport ladder, and reported lost if nothing on the
// ladder works.
func (m *Manager) superviseWebsocket(ctx context.Context, network *types.Network, node *types.Node, conn *websocket.Conn, h *loopHandle) {
	logger := m.logger.With().
		Str("network_id", network.ID).
		Str("node_id", node.ID).
		Logger()

	for {
		err := m.serveConn(ctx, conn, node.ID)
		m.dropRouteOwned(node.ID, h)
		if ctx.Err() != nil {
			return
		}
		logger.Info().Err(err).Msg("Websocket connection lost, redialling")

		conn = m.redialWebsocket(ctx, network, node)
		if conn == nil {
			break
		}
		if ctx.Err() != nil {
			_ = conn.Close()
			return
		}
		if err := m.cache.SaveRoute(ctx, wsRoute(network, node)); err != nil {
			logger.Warn().Err(err).Msg("Failed to restore route")
			_ = conn.Close()
			return
		}
		logger.Info().Msg("Websocket connection restored")
	}

	if ctx.Err() != nil {
		return
	}

	logger.Info().Msg("Websocket retry budget exhausted, falling back")
	if err := m.establishSSE(ctx, network, node); err == nil {
		return
	}
	if err := m.establishRelay(ctx, network, node); err == nil {
		return
	}
	m.peerLost(ctx, network.ID, node.ID)
}

// redialWebsocket attempts to reconnect a dropped socket within the
// retry budget. It returns nil when the budget is exhausted.
func (m *Manager) redialWebsocket(ctx context.Context, network *types.Network, node *types.Node) *websocket.Conn {
	deadline := time.Now().Add(retryBudget)
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithTimeout(ctx, retryInterval)
		conn, err := m.connectWebsocket(attemptCtx, network, node)
		cancel()
		if err == nil {
			return conn
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(retryInterval):
		}
	}
	return nil
}

// serveConn runs the symmetric send and receive loops until either
// fails, then closes the socket so the sibling unblocks.
func (m *Manager) serveConn(ctx context.Context, conn *websocket.Conn, nodeID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pc := newPeerConn(conn)
	pongCh := make(chan struct{}, 1)
	errCh := make(chan error, 2)

	go func() { errCh <- m.sendLoop(ctx, pc, nodeID, pongCh) }()
	go func() { errCh <- m.receiveLoop(ctx, pc, nodeID, pongCh) }()

	// Unblock the read loop when the context ends.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	err := <-errCh
	cancel()
	_ = conn.Close()
	<-errCh
	return err
}

// sendLoop drains the node's broker queue onto the socket. A broker
// timeout means the link has been idle for a full polling interval, so
// an application-level ping checks the peer is still there.
func (m *Manager) sendLoop(ctx context.Context, pc *peerConn, nodeID string, pongCh <-chan struct{}) error {
	for {
		frame, err := m.broker.Get(ctx, nodeID)
		if err != nil {
			if !errdefs.IsKind(err, errdefs.KindBrokerTimeout) {
				return err
			}

			if err := pc.writeControl(controlFrame{Ping: true}); err != nil {
				return err
			}
			select {
			case <-pongCh:
				continue
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pongTimeout):
				pc.writeClose(closePongTimeout, "pong timeout")
				return fmt.Errorf("node %s did not answer ping", nodeID)
			}
		}

		if err := pc.writeRaw(frame); err != nil {
			return err
		}
	}
}

// receiveLoop reads frames off the socket, answers pings, and routes
// authenticated envelopes to the processor. A frame that fails
// verification is answered with an error frame rather than dropping
// the whole link.
func (m *Manager) receiveLoop(ctx context.Context, pc *peerConn, nodeID string, pongCh chan<- struct{}) error {
	logger := m.logger.With().Str("node_id", nodeID).Logger()

	for {
		_, data, err := pc.conn.ReadMessage()
		if err != nil {
			return err
		}

		var ctrl controlFrame
		if err := json.Unmarshal(data, &ctrl); err == nil && (ctrl.Ping || ctrl.Pong) {
			if ctrl.Ping {
				if err := pc.writeControl(controlFrame{Pong: true}); err != nil {
					return err
				}
			} else {
				select {
				case pongCh <- struct{}{}:
				default:
				}
			}
			continue
		}

		frame, err := message.DecodeSigned(data)
		if err != nil {
			logger.Warn().Err(err).Msg("Malformed frame from peer")
			_ = pc.writeControl(controlFrame{Error: "malformed frame"})
			continue
		}

		msg, err := m.Authenticate(ctx, frame)
		if err != nil {
			logger.Warn().Err(err).Msg("Rejected frame from peer")
			_ = pc.writeControl(controlFrame{Error: err.Error()})
			continue
		}

		if err := m.process(ctx, msg); err != nil {
			logger.Warn().Err(err).Str("message_type", string(msg.Type())).Msg("Failed to process message")
		}
	}
}

// closeRejected tells the peer why its handshake failed with a close
// code of 4000 plus the error's HTTP status, before the socket drops.
func closeRejected(conn *websocket.Conn, err error, reason string) {
	newPeerConn(conn).writeClose(closeStatusBase+errdefs.StatusOf(err), reason)
}

// HandleInboundWebsocket serves a websocket accepted from a peer. The
// first frame must be a signed connect envelope naming the caller; the
// socket is dropped when it does not arrive in time or fails
// verification. The dialling side owns reconnection, so the handler
// returns once the socket dies.
func (m *Manager) HandleInboundWebsocket(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(authTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("reading connect frame: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	frame, err := message.DecodeSigned(data)
	if err != nil {
		wrapped := errdefs.Wrap(errdefs.MessageSignature("connect frame is malformed"), err)
		closeRejected(conn, wrapped, "malformed connect frame")
		return wrapped
	}
	msg, err := m.Authenticate(ctx, frame)
	if err != nil {
		closeRejected(conn, err, "authentication failed")
		return err
	}
	hello, ok := msg.(*message.AuthConnect)
	if !ok {
		err := errdefs.MessageSignature(fmt.Sprintf("expected a connect frame, got %s", msg.Type()))
		closeRejected(conn, err, "expected a connect frame")
		return err
	}

	meta := hello.Meta()
	route := &types.Route{
		NetworkID:    meta.NetworkID,
		NodeID:       meta.NodeID,
		Connectivity: types.ConnectivityDirect,
		Transport:    types.TransportWebsocket,
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
	m.registerLoop(meta.NodeID, h)
	defer m.releaseLoop(meta.NodeID, h)
	defer m.dropRouteOwned(meta.NodeID, h)
	defer cancel()

	m.logger.Info().
		Str("network_id", meta.NetworkID).
		Str("node_id", meta.NodeID).
		Msg("Accepted websocket from node")

	return m.serveConn(loopCtx, conn, meta.NodeID)
}
