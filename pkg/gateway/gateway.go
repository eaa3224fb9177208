package gateway

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Firefox2100/dedi-gateway/pkg/broker"
	"github.com/Firefox2100/dedi-gateway/pkg/cache"
	"github.com/Firefox2100/dedi-gateway/pkg/connection"
	"github.com/Firefox2100/dedi-gateway/pkg/errdefs"
	"github.com/Firefox2100/dedi-gateway/pkg/kms"
	"github.com/Firefox2100/dedi-gateway/pkg/log"
	"github.com/Firefox2100/dedi-gateway/pkg/message"
	"github.com/Firefox2100/dedi-gateway/pkg/metrics"
	"github.com/Firefox2100/dedi-gateway/pkg/netdriver"
	"github.com/Firefox2100/dedi-gateway/pkg/storage"
	"github.com/Firefox2100/dedi-gateway/pkg/types"
)

// defaultDifficulty is the leading-zero-bit count demanded from
// admission challenges when the configuration does not set one.
const defaultDifficulty = 22

// Config carries the collaborators and identity of an Engine.
type Config struct {
	Database    storage.Database
	Cache       cache.Cache
	Broker      broker.Broker
	KMS         kms.Service
	Driver      *netdriver.Driver
	Connections *connection.Manager
	Registry    *message.Registry

	// ServiceName, ServiceDescription and AccessURL describe this
	// gateway to the networks it joins.
	ServiceName        string
	ServiceDescription string
	AccessURL          string

	// ChallengeDifficulty is demanded from peers solving challenges this
	// gateway issues. Zero selects the default.
	ChallengeDifficulty int
}

// Engine implements the federation protocol on top of the transport
// layer: admission handshakes, relayed route discovery, membership and
// index gossip, and catalog-defined application messages. It registers
// itself as the connection manager's processing callback.
type Engine struct {
	db       storage.Database
	cache    cache.Cache
	broker   broker.Broker
	kms      kms.Service
	driver   *netdriver.Driver
	conn     *connection.Manager
	registry *message.Registry

	serviceName        string
	serviceDescription string
	accessURL          string
	difficulty         int

	// awaiting tracks correlation IDs with a live response collector.
	// A sync reply reuses the gossip envelope type, so receipt has to
	// consult this set to route it to the broker instead of the gossip
	// processor.
	mu       sync.Mutex
	awaiting map[string]struct{}

	runCtx context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup

	logger zerolog.Logger
}

// New creates an engine and wires it into the connection manager's
// callbacks.
func New(cfg Config) *Engine {
	difficulty := cfg.ChallengeDifficulty
	if difficulty <= 0 {
		difficulty = defaultDifficulty
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		db:                 cfg.Database,
		cache:              cfg.Cache,
		broker:             cfg.Broker,
		kms:                cfg.KMS,
		driver:             cfg.Driver,
		conn:               cfg.Connections,
		registry:           cfg.Registry,
		serviceName:        cfg.ServiceName,
		serviceDescription: cfg.ServiceDescription,
		accessURL:          cfg.AccessURL,
		difficulty:         difficulty,
		awaiting:           make(map[string]struct{}),
		runCtx:             ctx,
		stop:               cancel,
		logger:             log.WithComponent("gateway"),
	}

	e.conn.SetCallbacks(connection.Callbacks{
		Process:      e.Process,
		RequestRoute: e.RequestRoute,
		PeerLost:     e.handlePeerLost,
	})

	return e
}

// Close stops background work started by the engine and waits for it
// to finish. The connection manager is owned by the caller and closed
// separately.
func (e *Engine) Close() error {
	e.stop()
	e.wg.Wait()
	return nil
}

// Connections exposes the transport layer for the API surface.
func (e *Engine) Connections() *connection.Manager {
	return e.conn
}

// Database exposes the persistence layer for the API surface.
func (e *Engine) Database() storage.Database {
	return e.db
}

// EstablishConnection brings up a route to a member of networkID.
func (e *Engine) EstablishConnection(ctx context.Context, networkID, nodeID string) error {
	network, err := e.db.Networks().Get(networkID)
	if err != nil {
		return err
	}
	node, err := e.db.Nodes().Get(nodeID)
	if err != nil {
		return err
	}
	return e.conn.Establish(ctx, network, node)
}

// ConnectAll establishes routes to every approved member of every
// registered network. Individual failures are logged and skipped, so a
// single unreachable peer does not hold up startup.
func (e *Engine) ConnectAll(ctx context.Context) {
	registered := true
	networks, err := e.db.Networks().Filter(storage.NetworkFilter{Registered: &registered})
	if err != nil {
		e.logger.Error().Err(err).Msg("Failed to list networks for connection")
		return
	}

	for _, network := range networks {
		nodes, err := e.db.Networks().GetNodes(network.ID)
		if err != nil {
			e.logger.Error().Err(err).Str("network_id", network.ID).Msg("Failed to list network members")
			continue
		}

		for _, node := range nodes {
			if !node.Approved {
				continue
			}
			if err := e.conn.Establish(ctx, network, node); err != nil {
				e.logger.Warn().Err(err).
					Str("network_id", network.ID).
					Str("node_id", node.ID).
					Msg("Failed to establish connection")
			}
		}
	}
}

// background runs fn on the engine's own lifetime, detached from the
// request that triggered it.
func (e *Engine) background(fn func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(e.runCtx)
	}()
}

// handlePeerLost reacts to the transport layer giving up on a peer:
// the rest of the network is told so relayed routes through this
// gateway are not handed out for a node it cannot reach.
func (e *Engine) handlePeerLost(ctx context.Context, networkID, nodeID string) {
	metrics.PeersLost.Inc()
	e.logger.Warn().
		Str("network_id", networkID).
		Str("node_id", nodeID).
		Msg("Peer lost on every transport")

	if err := e.NotifyRouteBroken(ctx, networkID, nodeID); err != nil {
		e.logger.Error().Err(err).
			Str("node_id", nodeID).
			Msg("Failed to announce broken route")
	}
}

// selfNode builds this gateway's own member record for a network,
// carrying the current node public key and the shareable data index.
func (e *Engine) selfNode(ctx context.Context, network *types.Network) (*types.Node, error) {
	publicKey, err := e.kms.GetNetworkNodePublicKey(ctx, network.ID, false)
	if err != nil {
		return nil, err
	}

	index, err := e.db.GetDataIndex()
	if err != nil {
		return nil, err
	}

	return &types.Node{
		ID:          network.InstanceID,
		Name:        e.serviceName,
		URL:         e.accessURL,
		Description: e.serviceDescription,
		PublicKey:   publicKey,
		DataIndex:   index,
	}, nil
}

// await marks a correlation ID as actively collected and returns the
// release function.
func (e *Engine) await(messageID string) func() {
	e.mu.Lock()
	e.awaiting[messageID] = struct{}{}
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.awaiting, messageID)
		e.mu.Unlock()
	}
}

func (e *Engine) awaited(messageID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.awaiting[messageID]
	return ok
}

// collectResponses drains up to count correlated envelopes, returning
// whatever arrived once the stream completes, stalls, or the context
// ends.
func (e *Engine) collectResponses(ctx context.Context, messageID string, count int) []json.RawMessage {
	envelopes, errs := e.broker.ResponseStream(ctx, messageID, count)

	var collected []json.RawMessage
	for envelope := range envelopes {
		collected = append(collected, envelope)
	}

	select {
	case err := <-errs:
		if err != nil && !errdefs.IsKind(err, errdefs.KindBrokerTimeout) {
			e.logger.Debug().Err(err).
				Str("message_id", messageID).
				Msg("Response stream ended early")
		}
	default:
	}

	return collected
}
