package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Firefox2100/dedi-gateway/pkg/broker"
	"github.com/Firefox2100/dedi-gateway/pkg/cache"
	"github.com/Firefox2100/dedi-gateway/pkg/connection"
	"github.com/Firefox2100/dedi-gateway/pkg/gateway"
	"github.com/Firefox2100/dedi-gateway/pkg/kms"
	"github.com/Firefox2100/dedi-gateway/pkg/message"
	"github.com/Firefox2100/dedi-gateway/pkg/metrics"
	"github.com/Firefox2100/dedi-gateway/pkg/netdriver"
	"github.com/Firefox2100/dedi-gateway/pkg/storage"
	"github.com/Firefox2100/dedi-gateway/pkg/types"
)

// testCatalog is the message catalog the fixture registry serves. A
// synchronous query pair plus a fire-and-forget notification.
const testCatalog = `{
	"basePackage": "org.example.archive",
	"messages": [
		{"id": "fetch", "response": "fetchResult"},
		{"id": "fetchResult", "precedence": "fetch"},
		{"id": "notify", "async": true}
	]
}`

// fixture is a full gateway mounted on an httptest server, exercised
// through its HTTP surface the way operators and peers would.
type fixture struct {
	srv     *httptest.Server
	engine  *gateway.Engine
	conn    *connection.Manager
	db      storage.Database
	cache   cache.Cache
	broker  broker.Broker
	kms     *kms.MemoryService
	network *types.Network
	ownPub  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := storage.NewMemoryDatabase()
	routeCache := cache.NewMemoryCache()
	msgBroker := broker.NewMemoryBroker()
	keyService := kms.NewMemoryService()
	driver := netdriver.NewDriver()

	conn := connection.NewManager(connection.Config{
		Database: db,
		Cache:    routeCache,
		Broker:   msgBroker,
		KMS:      keyService,
		Driver:   driver,
	})

	registry := message.NewRegistry()
	catalogPath := filepath.Join(t.TempDir(), "archive.json")
	require.NoError(t, os.WriteFile(catalogPath, []byte(testCatalog), 0o644))
	require.NoError(t, registry.LoadPackage(catalogPath))

	network := &types.Network{
		ID:         "net-1",
		Name:       "test federation",
		InstanceID: "self-instance",
		Visible:    true,
		Registered: true,
	}
	require.NoError(t, db.Networks().Save(network))

	ownPub, err := keyService.GenerateNetworkNodeKey(context.Background(), network.ID)
	require.NoError(t, err)
	_, _, err = keyService.GenerateNetworkManagementKey(context.Background(), network.ID)
	require.NoError(t, err)

	engine := gateway.New(gateway.Config{
		Database:            db,
		Cache:               routeCache,
		Broker:              msgBroker,
		KMS:                 keyService,
		Driver:              driver,
		Connections:         conn,
		Registry:            registry,
		ServiceName:         "gateway under test",
		ServiceDescription:  "archival mirror",
		AccessURL:           "https://self.example.com",
		ChallengeDifficulty: 8,
	})

	server := NewServer(Config{Engine: engine, Connections: conn})
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = engine.Close()
		_ = conn.Close()
	})

	return &fixture{
		srv:     srv,
		engine:  engine,
		conn:    conn,
		db:      db,
		cache:   routeCache,
		broker:  msgBroker,
		kms:     keyService,
		network: network,
		ownPub:  ownPub,
	}
}

// doJSON drives an endpoint with an optional JSON body and decodes the
// response into out when out is non-nil. Returns the response status.
func (f *fixture) doJSON(t *testing.T, method, path string, body any, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, f.srv.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode
}

// postEnvelope posts a message body the way a peer gateway would: raw
// JSON as the body with the signature in the Message-Signature header.
// An empty signature leaves the header off entirely.
func (f *fixture) postEnvelope(t *testing.T, path string, body []byte, signature string, out any) (int, http.Header) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, f.srv.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("Message-Signature", signature)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, resp.Header
}

// peer models a remote gateway with its own signing key, registered as
// a member of the fixture network.
type peer struct {
	node *types.Node
	kms  *kms.MemoryService
}

func newPeer(t *testing.T, f *fixture, id string, approved bool) *peer {
	t.Helper()

	keyService := kms.NewMemoryService()
	pub, err := keyService.GenerateNetworkNodeKey(context.Background(), f.network.ID)
	require.NoError(t, err)

	node := &types.Node{
		ID:        id,
		Name:      "peer " + id,
		URL:       "https://" + id + ".example.com",
		PublicKey: pub,
		Approved:  approved,
		Score:     0.5,
	}
	require.NoError(t, f.db.Networks().AddNode(f.network.ID, node))

	return &peer{node: node, kms: keyService}
}

// connect gives the peer a live websocket route, so frames sent to it
// land in its broker queue.
func (p *peer) connect(t *testing.T, f *fixture) {
	t.Helper()
	require.NoError(t, f.cache.SaveRoute(context.Background(), &types.Route{
		NetworkID:    f.network.ID,
		NodeID:       p.node.ID,
		Connectivity: types.ConnectivityDirect,
		Transport:    types.TransportWebsocket,
		Outbound:     true,
	}))
}

// nextFrame pops the next frame queued for the peer, checks the fixture
// signature on it and returns the decoded message.
func (p *peer) nextFrame(t *testing.T, f *fixture) message.Message {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	frame, err := f.broker.Get(ctx, p.node.ID)
	require.NoError(t, err)

	sealed, err := message.DecodeSigned(frame)
	require.NoError(t, err)
	require.True(t, kms.VerifySignature(sealed.Message, f.ownPub, sealed.Signature))

	decoded, err := message.Decode(sealed.Message)
	require.NoError(t, err)
	return decoded
}

func (p *peer) seal(t *testing.T, msg message.Message) *message.Signed {
	t.Helper()
	sealed, err := message.Seal(context.Background(), msg, p.kms)
	require.NoError(t, err)
	return sealed
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)

	var body metrics.Health
	status := f.doJSON(t, http.MethodGet, "/health", nil, &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body.Status)
	assert.False(t, body.Timestamp.IsZero())
	assert.NotEmpty(t, body.Uptime)
}

func TestReadyEndpoint(t *testing.T) {
	f := newFixture(t)

	var body readyResponse
	status := f.doJSON(t, http.MethodGet, "/ready", nil, &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ready", body.Status)
	assert.Equal(t, "ok", body.Checks["storage"])
	assert.Equal(t, "0", body.Checks["peer_links"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)

	// Serve one observed request first so the API counters have samples.
	require.Equal(t, http.StatusOK, f.doJSON(t, http.MethodGet, "/health", nil, nil))

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "dedi_gateway_api_requests_total")
}

func TestErrorsUseJSONEnvelope(t *testing.T) {
	f := newFixture(t)

	var body struct {
		Error string `json:"error"`
	}
	status := f.doJSON(t, http.MethodGet, "/manage/networks/net-ghost", nil, &body)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, body.Error, "net-ghost")
}
