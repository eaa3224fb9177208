package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Firefox2100/dedi-gateway/pkg/errdefs"
	"github.com/Firefox2100/dedi-gateway/pkg/message"
	"github.com/Firefox2100/dedi-gateway/pkg/types"
)

func TestRequestRouteReturnsCachedRoute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.cache.SaveRoute(ctx, &types.Route{
		NetworkID:    f.network.ID,
		NodeID:       "far-node",
		Connectivity: types.ConnectivityProxy,
		ProxyNodes:   []string{"peer-1"},
	}))

	found, err := f.e.RequestRoute(ctx, f.network.ID, "far-node")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestRequestRouteWithoutPeers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	found, err := f.e.RequestRoute(ctx, f.network.ID, "far-node")
	require.NoError(t, err)
	assert.False(t, found)

	route, err := f.cache.GetRoute(ctx, "far-node")
	require.NoError(t, err)
	assert.Nil(t, route)
}

func TestRequestRouteSelectsShortestPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := newPeer(t, f, "peer-1", true)
	p1.connect(t, f)
	p2 := newPeer(t, f, "peer-2", true)
	p2.connect(t, f)

	type outcome struct {
		found bool
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		found, err := f.e.RequestRoute(context.Background(), f.network.ID, "far-node")
		done <- outcome{found: found, err: err}
	}()

	// Both peers receive the same probe.
	request1, ok := p1.nextFrame(t, f).(*message.RouteRequest)
	require.True(t, ok)
	assert.Equal(t, "far-node", request1.TargetNode)
	request2, ok := p2.nextFrame(t, f).(*message.RouteRequest)
	require.True(t, ok)
	assert.Equal(t, request1.Metadata.MessageID, request2.Metadata.MessageID)

	// One peer offers a two-hop detour, the other a direct relay.
	require.NoError(t, f.e.Process(ctx, message.NewRouteResponse(
		message.ResponseMetadata(request2.Metadata, p2.node.ID),
		"far-node", []string{p2.node.ID, "mid-hop"})))
	require.NoError(t, f.e.Process(ctx, message.NewRouteResponse(
		message.ResponseMetadata(request1.Metadata, p1.node.ID),
		"far-node", []string{p1.node.ID})))

	select {
	case result := <-done:
		require.NoError(t, result.err)
		assert.True(t, result.found)
	case <-time.After(5 * time.Second):
		t.Fatal("route discovery did not finish")
	}

	route, err := f.cache.GetRoute(ctx, "far-node")
	require.NoError(t, err)
	require.NotNil(t, route)
	assert.Equal(t, types.ConnectivityProxy, route.Connectivity)
	assert.Equal(t, []string{p1.node.ID}, route.ProxyNodes)
	assert.Equal(t, f.network.ID, route.NetworkID)
}

func TestRequestRouteIgnoresLoopingAnswers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := newPeer(t, f, "peer-1", true)
	p1.connect(t, f)
	p2 := newPeer(t, f, "peer-2", true)
	p2.connect(t, f)

	type outcome struct {
		found bool
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		found, err := f.e.RequestRoute(context.Background(), f.network.ID, "far-node")
		done <- outcome{found: found, err: err}
	}()

	request1, ok := p1.nextFrame(t, f).(*message.RouteRequest)
	require.True(t, ok)
	request2, ok := p2.nextFrame(t, f).(*message.RouteRequest)
	require.True(t, ok)

	// A path back through this gateway, and one through the target
	// itself. Neither is usable.
	require.NoError(t, f.e.Process(ctx, message.NewRouteResponse(
		message.ResponseMetadata(request1.Metadata, p1.node.ID),
		"far-node", []string{p1.node.ID, f.network.InstanceID})))
	require.NoError(t, f.e.Process(ctx, message.NewRouteResponse(
		message.ResponseMetadata(request2.Metadata, p2.node.ID),
		"far-node", []string{p2.node.ID, "far-node"})))

	select {
	case result := <-done:
		require.NoError(t, result.err)
		assert.False(t, result.found)
	case <-time.After(5 * time.Second):
		t.Fatal("route discovery did not finish")
	}

	route, err := f.cache.GetRoute(ctx, "far-node")
	require.NoError(t, err)
	assert.Nil(t, route)
}

func TestProcessRouteRequestAnswersWithDirectPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	asker := newPeer(t, f, "peer-1", true)
	asker.connect(t, f)

	require.NoError(t, f.cache.SaveRoute(ctx, &types.Route{
		NetworkID:    f.network.ID,
		NodeID:       "target-x",
		Connectivity: types.ConnectivityDirect,
		Transport:    types.TransportWebsocket,
	}))

	request := message.NewRouteRequest(
		message.NewMetadata(f.network.ID, asker.node.ID), "target-x")
	require.NoError(t, f.e.processRouteRequest(ctx, request))

	response, ok := asker.nextFrame(t, f).(*message.RouteResponse)
	require.True(t, ok)
	assert.Equal(t, request.Metadata.MessageID, response.Metadata.MessageID)
	assert.Equal(t, "target-x", response.TargetNode)
	assert.Equal(t, []string{f.network.InstanceID}, response.Route)
}

func TestProcessRouteRequestExtendsProxyChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	asker := newPeer(t, f, "peer-1", true)
	asker.connect(t, f)

	require.NoError(t, f.cache.SaveRoute(ctx, &types.Route{
		NetworkID:    f.network.ID,
		NodeID:       "target-x",
		Connectivity: types.ConnectivityProxy,
		ProxyNodes:   []string{"mid-1", "mid-2"},
	}))

	request := message.NewRouteRequest(
		message.NewMetadata(f.network.ID, asker.node.ID), "target-x")
	require.NoError(t, f.e.processRouteRequest(ctx, request))

	response, ok := asker.nextFrame(t, f).(*message.RouteResponse)
	require.True(t, ok)
	assert.Equal(t, []string{f.network.InstanceID, "mid-1", "mid-2"}, response.Route)
}

func TestProcessRouteRequestWithholdsPathThroughAsker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	asker := newPeer(t, f, "peer-1", true)
	asker.connect(t, f)

	require.NoError(t, f.cache.SaveRoute(ctx, &types.Route{
		NetworkID:    f.network.ID,
		NodeID:       "target-x",
		Connectivity: types.ConnectivityProxy,
		ProxyNodes:   []string{asker.node.ID, "mid-2"},
	}))

	request := message.NewRouteRequest(
		message.NewMetadata(f.network.ID, asker.node.ID), "target-x")
	require.NoError(t, f.e.processRouteRequest(ctx, request))

	// The empty reply still arrives, so the asker's collector finishes
	// without waiting out its timeout.
	response, ok := asker.nextFrame(t, f).(*message.RouteResponse)
	require.True(t, ok)
	assert.Empty(t, response.Route)
}

func TestProcessRouteRequestWithoutKnownPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	asker := newPeer(t, f, "peer-1", true)
	asker.connect(t, f)

	request := message.NewRouteRequest(
		message.NewMetadata(f.network.ID, asker.node.ID), "target-x")
	require.NoError(t, f.e.processRouteRequest(ctx, request))

	response, ok := asker.nextFrame(t, f).(*message.RouteResponse)
	require.True(t, ok)
	assert.Empty(t, response.Route)
}

func TestProcessRouteNotificationEvictsDependentRoute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.cache.SaveRoute(ctx, &types.Route{
		NetworkID:    f.network.ID,
		NodeID:       "target-x",
		Connectivity: types.ConnectivityProxy,
		ProxyNodes:   []string{"peer-1", "mid-2"},
	}))

	notification := message.NewRouteNotification(
		message.NewMetadata(f.network.ID, "peer-1"), "target-x")
	require.NoError(t, f.e.processRouteNotification(ctx, notification))

	route, err := f.cache.GetRoute(ctx, "target-x")
	require.NoError(t, err)
	assert.Nil(t, route)
}

func TestProcessRouteNotificationKeepsIndependentRoutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A proxy route that does not pass through the announcer.
	require.NoError(t, f.cache.SaveRoute(ctx, &types.Route{
		NetworkID:    f.network.ID,
		NodeID:       "target-x",
		Connectivity: types.ConnectivityProxy,
		ProxyNodes:   []string{"mid-1"},
	}))
	// A live transport to the announcer's lost peer.
	require.NoError(t, f.cache.SaveRoute(ctx, &types.Route{
		NetworkID:    f.network.ID,
		NodeID:       "target-y",
		Connectivity: types.ConnectivityDirect,
		Transport:    types.TransportWebsocket,
	}))

	notification := message.NewRouteNotification(
		message.NewMetadata(f.network.ID, "peer-1"), "target-x")
	require.NoError(t, f.e.processRouteNotification(ctx, notification))
	notification = message.NewRouteNotification(
		message.NewMetadata(f.network.ID, "peer-1"), "target-y")
	require.NoError(t, f.e.processRouteNotification(ctx, notification))

	route, err := f.cache.GetRoute(ctx, "target-x")
	require.NoError(t, err)
	assert.NotNil(t, route)
	route, err = f.cache.GetRoute(ctx, "target-y")
	require.NoError(t, err)
	assert.NotNil(t, route)
}

func TestProcessProxyDeliversAtChainEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	origin := newPeer(t, f, "origin-peer", true)

	// Eviction by the inner notification proves the frame was
	// unwrapped, verified against the origin key and dispatched.
	require.NoError(t, f.cache.SaveRoute(ctx, &types.Route{
		NetworkID:    f.network.ID,
		NodeID:       "target-x",
		Connectivity: types.ConnectivityProxy,
		ProxyNodes:   []string{origin.node.ID},
	}))

	inner := origin.seal(t, message.NewRouteNotification(
		message.NewMetadata(f.network.ID, origin.node.ID), "target-x"))
	wrapped, err := message.NewProxy(
		message.NewMetadata(f.network.ID, origin.node.ID), inner, nil)
	require.NoError(t, err)

	require.NoError(t, f.e.processProxy(ctx, wrapped))

	route, err := f.cache.GetRoute(ctx, "target-x")
	require.NoError(t, err)
	assert.Nil(t, route)
}

func TestProcessProxyForwardsFinalHop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	origin := newPeer(t, f, "origin-peer", true)
	next := newPeer(t, f, "peer-1", true)
	next.connect(t, f)

	inner := origin.seal(t, message.NewRouteNotification(
		message.NewMetadata(f.network.ID, origin.node.ID), "lost-node"))
	wrapped, err := message.NewProxy(
		message.NewMetadata(f.network.ID, origin.node.ID), inner, []string{next.node.ID})
	require.NoError(t, err)

	require.NoError(t, f.e.processProxy(ctx, wrapped))

	// The destination gets the origin frame untouched, signature and
	// all, not one re-signed by the relay.
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	frame, err := f.broker.Get(ctx2, next.node.ID)
	require.NoError(t, err)

	sealed, err := message.DecodeSigned(frame)
	require.NoError(t, err)
	assert.JSONEq(t, string(inner.Message), string(sealed.Message))
	assert.Equal(t, inner.Signature, sealed.Signature)
}

func TestProcessProxyRewrapsForRemainingHops(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	origin := newPeer(t, f, "origin-peer", true)
	next := newPeer(t, f, "peer-1", true)
	next.connect(t, f)

	inner := origin.seal(t, message.NewRouteNotification(
		message.NewMetadata(f.network.ID, origin.node.ID), "lost-node"))
	wrapped, err := message.NewProxy(
		message.NewMetadata(f.network.ID, origin.node.ID), inner,
		[]string{next.node.ID, "far-hop"})
	require.NoError(t, err)

	require.NoError(t, f.e.processProxy(ctx, wrapped))

	forwarded, ok := next.nextFrame(t, f).(*message.Proxy)
	require.True(t, ok)
	assert.Equal(t, f.network.InstanceID, forwarded.Metadata.NodeID)
	assert.Equal(t, []string{"far-hop"}, forwarded.ProxyChain)

	relayed, err := forwarded.Inner()
	require.NoError(t, err)
	assert.JSONEq(t, string(inner.Message), string(relayed.Message))
	assert.Equal(t, inner.Signature, relayed.Signature)
}

func TestProcessProxyUnknownNextHop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	origin := newPeer(t, f, "origin-peer", true)

	inner := origin.seal(t, message.NewRouteNotification(
		message.NewMetadata(f.network.ID, origin.node.ID), "lost-node"))
	wrapped, err := message.NewProxy(
		message.NewMetadata(f.network.ID, origin.node.ID), inner, []string{"ghost"})
	require.NoError(t, err)

	err = f.e.processProxy(ctx, wrapped)
	assert.True(t, errdefs.IsKind(err, errdefs.KindNodeNotFound))
}

func TestNotifyRouteBroken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := newPeer(t, f, "peer-1", true)
	p1.connect(t, f)
	p2 := newPeer(t, f, "peer-2", true)
	p2.connect(t, f)

	require.NoError(t, f.e.NotifyRouteBroken(ctx, f.network.ID, "lost-node"))

	for _, p := range []*peer{p1, p2} {
		notification, ok := p.nextFrame(t, f).(*message.RouteNotification)
		require.True(t, ok)
		assert.Equal(t, "lost-node", notification.TargetNode)
		assert.Equal(t, f.network.InstanceID, notification.Metadata.NodeID)
	}
}
