package framework

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/Firefox2100/dedi-gateway/pkg/api"
	"github.com/Firefox2100/dedi-gateway/pkg/broker"
	"github.com/Firefox2100/dedi-gateway/pkg/cache"
	"github.com/Firefox2100/dedi-gateway/pkg/client"
	"github.com/Firefox2100/dedi-gateway/pkg/connection"
	"github.com/Firefox2100/dedi-gateway/pkg/gateway"
	"github.com/Firefox2100/dedi-gateway/pkg/kms"
	"github.com/Firefox2100/dedi-gateway/pkg/message"
	"github.com/Firefox2100/dedi-gateway/pkg/netdriver"
	"github.com/Firefox2100/dedi-gateway/pkg/storage"
)

// unreachableURL fails instantly on dial, standing in for a gateway
// behind NAT whose advertised address nobody can reach.
const unreachableURL = "http://127.0.0.1:9/"

// DefaultFederationConfig returns a default federation configuration
func DefaultFederationConfig() *FederationConfig {
	return &FederationConfig{
		ChallengeDifficulty: 8,
		EMAFactor:           0.3,
		Catalog:             DefaultCatalog,
	}
}

// NewFederation creates an empty federation with the given
// configuration
func NewFederation(config *FederationConfig) *Federation {
	if config == nil {
		config = DefaultFederationConfig()
	}
	if config.Catalog == "" {
		config.Catalog = DefaultCatalog
	}
	if config.ChallengeDifficulty == 0 {
		config.ChallengeDifficulty = 8
	}
	if config.EMAFactor == 0 {
		config.EMAFactor = 0.3
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Federation{
		Config: config,
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddGateway starts a gateway whose advertised URL is its live test
// server, so peers can probe, dial and push to it.
func (f *Federation) AddGateway(id string) (*Gateway, error) {
	return f.addGateway(id, "")
}

// AddNATGateway starts a gateway advertising an unreachable URL. It
// can dial out, but nothing can push to it, the way a node behind NAT
// behaves.
func (f *Federation) AddNATGateway(id string) (*Gateway, error) {
	return f.addGateway(id, unreachableURL)
}

func (f *Federation) addGateway(id, accessURL string) (*Gateway, error) {
	dir, err := os.MkdirTemp("", "dedi-gateway-"+id+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway dir: %w", err)
	}

	backend := newBackend(id)

	registry, err := f.loadCatalog(dir, backend.URL())
	if err != nil {
		backend.Close()
		_ = os.RemoveAll(dir)
		return nil, err
	}

	db := storage.NewMemoryDatabase()
	routeCache := cache.NewMemoryCache()
	msgBroker := broker.NewMemoryBroker()
	keyService := kms.NewMemoryService()
	driver := netdriver.NewPrivateDriver()

	conn := connection.NewManager(connection.Config{
		Database:  db,
		Cache:     routeCache,
		Broker:    msgBroker,
		KMS:       keyService,
		Driver:    driver,
		EMAFactor: f.Config.EMAFactor,
	})

	shim := &handlerShim{}
	srv := httptest.NewServer(shim)

	url := accessURL
	if url == "" {
		url = srv.URL
	}

	engine := gateway.New(gateway.Config{
		Database:            db,
		Cache:               routeCache,
		Broker:              msgBroker,
		KMS:                 keyService,
		Driver:              driver,
		Connections:         conn,
		Registry:            registry,
		ServiceName:         id,
		ServiceDescription:  "federation test gateway " + id,
		AccessURL:           url,
		ChallengeDifficulty: f.Config.ChallengeDifficulty,
	})

	apiServer := api.NewServer(api.Config{
		Engine:      engine,
		Connections: conn,
	})
	shim.Set(apiServer.Handler())

	g := &Gateway{
		ID:          id,
		URL:         url,
		Engine:      engine,
		Connections: conn,
		Database:    db,
		Cache:       routeCache,
		Broker:      msgBroker,
		KMS:         keyService,
		Driver:      driver,
		Client:      client.NewClient(srv.URL),
		Backend:     backend,
		srv:         srv,
		shim:        shim,
		dir:         dir,
	}

	f.Gateways = append(f.Gateways, g)
	return g, nil
}

// loadCatalog materialises the federation catalog for one gateway and
// points every message at that gateway's backend.
func (f *Federation) loadCatalog(dir, backendURL string) (*message.Registry, error) {
	catalogPath := filepath.Join(dir, "catalog.json")
	if err := os.WriteFile(catalogPath, []byte(f.Config.Catalog), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write catalog: %w", err)
	}

	var header struct {
		BasePackage string `json:"basePackage"`
	}
	if err := json.Unmarshal([]byte(f.Config.Catalog), &header); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	overlayPath := filepath.Join(dir, "proxy.yaml")
	overlay := fmt.Sprintf("- messageId: %s\n  destination: %s/archive\n", header.BasePackage, backendURL)
	if err := os.WriteFile(overlayPath, []byte(overlay), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write proxy overlay: %w", err)
	}

	registry := message.NewRegistry()
	if err := registry.LoadPackage(catalogPath); err != nil {
		return nil, err
	}
	if err := registry.ApplyProxyOverlay(overlayPath); err != nil {
		return nil, err
	}
	return registry, nil
}

// Stop tears down every gateway in reverse creation order
func (f *Federation) Stop() {
	for i := len(f.Gateways) - 1; i >= 0; i-- {
		f.Gateways[i].Stop()
	}
	f.cancel()
}

// Stop shuts this gateway down and removes its working directory.
// Safe to call more than once.
func (g *Gateway) Stop() {
	if g.srv == nil {
		return
	}

	_ = g.Engine.Close()
	_ = g.Connections.Close()
	g.srv.Close()
	g.Backend.Close()
	_ = g.Database.Close()
	_ = os.RemoveAll(g.dir)

	g.srv = nil
}

// BlockWebsocket makes the gateway's front answer every websocket
// upgrade with 502, the way a load balancer that cannot carry upgrades
// does. Other endpoints are unaffected.
func (g *Gateway) BlockWebsocket(blocked bool) {
	g.shim.blockWebsocket.Store(blocked)
}

// handlerShim fronts a gateway's handler so the engine can be built
// with the server's URL before the handler exists, and lets tests
// inject upgrade failures.
type handlerShim struct {
	mu             sync.RWMutex
	handler        http.Handler
	blockWebsocket atomic.Bool
}

func (s *handlerShim) Set(h http.Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *handlerShim) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.blockWebsocket.Load() && r.URL.Path == "/service/websocket" {
		http.Error(w, "websocket upgrades are not supported", http.StatusBadGateway)
		return
	}

	s.mu.RLock()
	h := s.handler
	s.mu.RUnlock()

	if h == nil {
		http.Error(w, "gateway is still starting", http.StatusServiceUnavailable)
		return
	}
	h.ServeHTTP(w, r)
}
