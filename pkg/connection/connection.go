package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Firefox2100/dedi-gateway/pkg/broker"
	"github.com/Firefox2100/dedi-gateway/pkg/cache"
	"github.com/Firefox2100/dedi-gateway/pkg/errdefs"
	"github.com/Firefox2100/dedi-gateway/pkg/kms"
	"github.com/Firefox2100/dedi-gateway/pkg/log"
	"github.com/Firefox2100/dedi-gateway/pkg/message"
	"github.com/Firefox2100/dedi-gateway/pkg/netdriver"
	"github.com/Firefox2100/dedi-gateway/pkg/storage"
	"github.com/Firefox2100/dedi-gateway/pkg/types"
)

const (
	// retryBudget bounds how long a lost transport is redialled before
	// the connection falls down to the next transport.
	retryBudget = 60 * time.Second

	// retryInterval spaces redial attempts within a retry budget.
	retryInterval = 5 * time.Second

	// pongTimeout bounds the wait for an application pong after an
	// idle-probe ping.
	pongTimeout = 10 * time.Second

	// writeTimeout bounds individual websocket writes.
	writeTimeout = 10 * time.Second

	// authTimeout bounds the wait for the opening frame on an inbound
	// websocket.
	authTimeout = 10 * time.Second

	// streamGrace is how long a freshly opened event stream is watched
	// for an immediate transport failure before it counts as up.
	streamGrace = 2 * time.Second

	// defaultEMAFactor weights the newest delivery observation in a
	// node's score.
	defaultEMAFactor = 0.3
)

// closeStatusBase maps gateway errors onto the websocket close
// vocabulary: the close code is 4000 plus the error's HTTP status.
const closeStatusBase = 4000

// closePongTimeout is the close code sent when a peer stops answering
// pings.
const closePongTimeout = 4408

// Callbacks connect the transport layer to message processing and
// routing logic without an import cycle.
type Callbacks struct {
	// Process handles an authenticated inbound message.
	Process func(ctx context.Context, msg message.Message) error

	// RequestRoute asks the federation for a relayed route to a node
	// and reports whether one was found and cached.
	RequestRoute func(ctx context.Context, networkID, nodeID string) (bool, error)

	// PeerLost is invoked after every transport to a node has failed
	// and its route has been evicted.
	PeerLost func(ctx context.Context, networkID, nodeID string)
}

// Config carries the collaborators a Manager needs.
type Config struct {
	Database storage.Database
	Cache    cache.Cache
	Broker   broker.Broker
	KMS      kms.Service
	Driver   *netdriver.Driver

	// EMAFactor weights new observations when scoring delivery
	// reliability. Zero selects the default.
	EMAFactor float64
}

// loopHandle identifies one connection loop so a replacement can tear
// down its predecessor without racing an unrelated loop for the same
// node.
type loopHandle struct {
	cancel context.CancelFunc
}

// Manager owns the live transport to every connected peer: websocket
// loops, event streams, the route table entries that describe them,
// and the fallback ladder that keeps a peer reachable when a transport
// dies.
type Manager struct {
	db        storage.Database
	cache     cache.Cache
	broker    broker.Broker
	kms       kms.Service
	driver    *netdriver.Driver
	emaFactor float64

	callbacks Callbacks

	// establishing collapses concurrent establish calls for the same
	// node into one attempt.
	establishing singleflight.Group

	mu    sync.Mutex
	loops map[string]*loopHandle
	wg    sync.WaitGroup

	runCtx context.Context
	stop   context.CancelFunc

	logger zerolog.Logger
}

// NewManager creates a connection manager. SetCallbacks must be called
// before it accepts or establishes connections.
func NewManager(cfg Config) *Manager {
	factor := cfg.EMAFactor
	if factor <= 0 || factor > 1 {
		factor = defaultEMAFactor
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		db:        cfg.Database,
		cache:     cfg.Cache,
		broker:    cfg.Broker,
		kms:       cfg.KMS,
		driver:    cfg.Driver,
		emaFactor: factor,
		loops:     make(map[string]*loopHandle),
		runCtx:    ctx,
		stop:      cancel,
		logger:    log.WithComponent("connection"),
	}
}

// SetCallbacks wires the processing and routing hooks.
func (m *Manager) SetCallbacks(cb Callbacks) {
	m.callbacks = cb
}

// ActiveLinks reports how many transport loops are currently open.
func (m *Manager) ActiveLinks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.loops)
}

// Close tears down every connection loop and waits for them to exit.
func (m *Manager) Close() error {
	m.stop()
	m.wg.Wait()
	return nil
}

// Establish brings up a route to node, preferring websocket, then an
// event stream, then a relayed path through other federation members.
// It returns nil immediately when a live route already exists, and
// collapses concurrent attempts for the same node into one.
func (m *Manager) Establish(ctx context.Context, network *types.Network, node *types.Node) error {
	if route, err := m.cache.GetRoute(ctx, node.ID); err != nil {
		return err
	} else if route != nil {
		return nil
	}

	_, err, _ := m.establishing.Do(node.ID, func() (any, error) {
		return nil, m.establish(ctx, network, node)
	})
	return err
}

func (m *Manager) establish(ctx context.Context, network *types.Network, node *types.Node) error {
	// A concurrent caller may have won the route while we waited on
	// the singleflight lock.
	if route, err := m.cache.GetRoute(ctx, node.ID); err != nil {
		return err
	} else if route != nil {
		return nil
	}

	logger := m.logger.With().
		Str("network_id", network.ID).
		Str("node_id", node.ID).
		Logger()

	if m.driver.CheckNodeConnectivity(ctx, node.URL) {
		err := m.establishWebsocket(ctx, network, node)
		if err == nil {
			logger.Info().Msg("Connected to node over websocket")
			return nil
		}
		logger.Debug().Err(err).Msg("Websocket transport unavailable")

		err = m.establishSSE(ctx, network, node)
		if err == nil {
			logger.Info().Msg("Connected to node over event stream")
			return nil
		}
		logger.Debug().Err(err).Msg("Event stream transport unavailable")
	} else {
		logger.Debug().Msg("Node is not directly reachable")
	}

	return m.establishRelay(ctx, network, node)
}

// establishRelay asks the routing layer for a proxied path through
// peers that are already connected.
func (m *Manager) establishRelay(ctx context.Context, network *types.Network, node *types.Node) error {
	if m.callbacks.RequestRoute == nil {
		return errdefs.NodeNotConnected(fmt.Sprintf("no transport available for node %s", node.ID))
	}

	found, err := m.callbacks.RequestRoute(ctx, network.ID, node.ID)
	if err != nil {
		return err
	}
	if !found {
		return errdefs.NodeNotConnected(fmt.Sprintf("node %s is unreachable over any transport", node.ID))
	}
	return nil
}

// Disconnect tears down the connection loop and cached route for a
// node, if any.
func (m *Manager) Disconnect(ctx context.Context, nodeID string) error {
	m.mu.Lock()
	h := m.loops[nodeID]
	delete(m.loops, nodeID)
	m.mu.Unlock()

	if h != nil {
		h.cancel()
	}
	_, err := m.cache.DeleteRoute(ctx, nodeID)
	return err
}

// registerLoop records the handle of a node's connection loop, tearing
// down any predecessor. A node has at most one live transport.
func (m *Manager) registerLoop(nodeID string, h *loopHandle) {
	m.mu.Lock()
	prev := m.loops[nodeID]
	m.loops[nodeID] = h
	m.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
}

// releaseLoop clears the registration, but only while it still belongs
// to the caller.
func (m *Manager) releaseLoop(nodeID string, h *loopHandle) {
	m.mu.Lock()
	if m.loops[nodeID] == h {
		delete(m.loops, nodeID)
	}
	m.mu.Unlock()
}

// dropRoute evicts the cached route for a node. It uses its own
// context so eviction still happens while a loop context is tearing
// down.
func (m *Manager) dropRoute(nodeID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := m.cache.DeleteRoute(ctx, nodeID); err != nil {
		m.logger.Warn().Err(err).Str("node_id", nodeID).Msg("Failed to evict route")
	}
}

// dropRouteOwned evicts the route only while the loop still owns the
// node registration. A loop torn down by its replacement must not
// evict the route the replacement just published.
func (m *Manager) dropRouteOwned(nodeID string, h *loopHandle) {
	m.mu.Lock()
	owned := m.loops[nodeID] == h
	m.mu.Unlock()

	if owned {
		m.dropRoute(nodeID)
	}
}

// peerLost runs after the whole transport ladder has failed: the route
// is already evicted, so tell the routing layer to notify peers that
// relay through this gateway.
func (m *Manager) peerLost(ctx context.Context, networkID, nodeID string) {
	m.logger.Warn().
		Str("network_id", networkID).
		Str("node_id", nodeID).
		Msg("Node lost on every transport")

	if m.callbacks.PeerLost != nil {
		m.callbacks.PeerLost(ctx, networkID, nodeID)
	}
}

func (m *Manager) process(ctx context.Context, msg message.Message) error {
	if m.callbacks.Process == nil {
		return fmt.Errorf("no message processor registered")
	}
	return m.callbacks.Process(ctx, msg)
}
