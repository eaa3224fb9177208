package framework

import (
	"context"
	"net/http/httptest"

	"github.com/Firefox2100/dedi-gateway/pkg/broker"
	"github.com/Firefox2100/dedi-gateway/pkg/cache"
	"github.com/Firefox2100/dedi-gateway/pkg/client"
	"github.com/Firefox2100/dedi-gateway/pkg/connection"
	"github.com/Firefox2100/dedi-gateway/pkg/gateway"
	"github.com/Firefox2100/dedi-gateway/pkg/kms"
	"github.com/Firefox2100/dedi-gateway/pkg/netdriver"
	"github.com/Firefox2100/dedi-gateway/pkg/storage"
)

// FederationConfig defines the configuration for a test federation
type FederationConfig struct {
	// ChallengeDifficulty is the proof-of-work difficulty every gateway
	// issues. Kept low so admission handshakes resolve in microseconds.
	ChallengeDifficulty int
	// EMAFactor is the delivery score smoothing factor
	EMAFactor float64
	// Catalog is the message catalog JSON every gateway loads. Empty
	// uses DefaultCatalog.
	Catalog string
}

// Federation is a set of fully wired gateways running in one process,
// reaching each other over real loopback HTTP
type Federation struct {
	// Config is the federation configuration
	Config *FederationConfig
	// Gateways contains every gateway in creation order
	Gateways []*Gateway

	ctx    context.Context
	cancel context.CancelFunc
}

// Gateway is one federation member: engine, transports and management
// surface mounted on a live test server
type Gateway struct {
	// ID is the unique identifier and service name for this gateway
	ID string
	// URL is the address peers dial; usually the test server, but a
	// NAT gateway advertises a dead address instead
	URL string

	// Engine drives admission, sync, routing and message dispatch
	Engine *gateway.Engine
	// Connections is the transport layer
	Connections *connection.Manager
	// Database is the in-memory persistent store
	Database storage.Database
	// Cache holds routes and challenge nonces
	Cache cache.Cache
	// Broker carries frame queues and correlated responses
	Broker broker.Broker
	// KMS holds this gateway's signing keys
	KMS *kms.MemoryService
	// Driver performs outbound traffic, with private peers allowed
	Driver *netdriver.Driver
	// Client is a management API client bound to this gateway
	Client *client.Client
	// Backend receives catalog message forwards, standing in for the
	// local service behind the gateway
	Backend *Backend

	srv  *httptest.Server
	shim *handlerShim
	dir  string
}

// TestingT is an interface matching testing.T
type TestingT interface {
	Logf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	FailNow()
	Failed() bool
	Name() string
	Helper()
}

// DefaultCatalog is the message catalog loaded when the federation
// config does not supply one: a synchronous query pair and a
// fire-and-forget notification under one base package.
const DefaultCatalog = `{
	"basePackage": "org.example.archive",
	"messages": [
		{"id": "fetch", "response": "fetchResult"},
		{"id": "fetchResult", "precedence": "fetch"},
		{"id": "notify", "async": true}
	]
}`
