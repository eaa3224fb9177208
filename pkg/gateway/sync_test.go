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

func TestSyncKnownNodesGossipsMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := newPeer(t, f, "peer-1", true)
	p1.connect(t, f)
	p2 := newPeer(t, f, "peer-2", true)
	p2.connect(t, f)
	newPeer(t, f, "peer-3", false)

	require.NoError(t, f.db.SaveDataIndex(map[string]any{"records": "v1"}))
	require.NoError(t, f.e.SyncKnownNodes(ctx, f.network))

	for _, p := range []*peer{p1, p2} {
		gossip, ok := p.nextFrame(t, f).(*message.SyncNode)
		require.True(t, ok)
		assert.Equal(t, f.network.InstanceID, gossip.Metadata.NodeID)
		require.Len(t, gossip.Nodes, 3)

		byID := make(map[string]*types.Node, len(gossip.Nodes))
		for _, node := range gossip.Nodes {
			byID[node.ID] = node
		}
		// Unapproved members are not gossiped.
		assert.NotContains(t, byID, "peer-3")

		// Peer records travel sanitised.
		require.Contains(t, byID, p1.node.ID)
		assert.False(t, byID[p1.node.ID].Approved)
		assert.Nil(t, byID[p1.node.ID].DataIndex)

		// Only the sender's own record carries its index.
		self, ok := byID[f.network.InstanceID]
		require.True(t, ok)
		assert.Equal(t, map[string]any{"records": "v1"}, self.DataIndex)
		assert.Equal(t, f.ownPub, self.PublicKey)
	}
}

func TestProcessSyncNodeLearnsUnknownNodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := newPeer(t, f, "peer-1", true)

	gossip := message.NewSyncNode(
		message.NewMetadata(f.network.ID, p1.node.ID),
		[]*types.Node{
			{ID: "new-node", Name: "newcomer", URL: "https://new.example.com", PublicKey: "pem"},
			{ID: f.network.InstanceID, Name: "own echo"},
		})
	require.NoError(t, f.e.processSyncNode(ctx, gossip))

	learned, err := f.db.Nodes().Get("new-node")
	require.NoError(t, err)
	assert.Equal(t, "newcomer", learned.Name)
	assert.False(t, learned.Approved)
	assert.InDelta(t, 0.5, learned.Score, 1e-9)
	assert.NotNil(t, learned.DataIndex)

	// Gossip about this gateway itself is discarded.
	_, err = f.db.Nodes().Get(f.network.InstanceID)
	assert.True(t, errdefs.IsKind(err, errdefs.KindNodeNotFound))
}

func TestProcessSyncNodeSelfReportIsAuthoritative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := newPeer(t, f, "peer-1", true)

	gossip := message.NewSyncNode(
		message.NewMetadata(f.network.ID, p1.node.ID),
		[]*types.Node{{
			ID:        p1.node.ID,
			Name:      "renamed peer",
			URL:       "https://moved.example.com",
			PublicKey: p1.node.PublicKey,
		}})
	require.NoError(t, f.e.processSyncNode(ctx, gossip))

	stored, err := f.db.Nodes().Get(p1.node.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed peer", stored.Name)
	assert.Equal(t, "https://moved.example.com", stored.URL)
	// Local bookkeeping survives the identity update.
	assert.True(t, stored.Approved)
	assert.InDelta(t, 0.5, stored.Score, 1e-9)

	// A report without a key keeps the pinned one.
	gossip = message.NewSyncNode(
		message.NewMetadata(f.network.ID, p1.node.ID),
		[]*types.Node{{ID: p1.node.ID, Name: "renamed again", URL: "https://moved.example.com"}})
	require.NoError(t, f.e.processSyncNode(ctx, gossip))

	stored, err = f.db.Nodes().Get(p1.node.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed again", stored.Name)
	assert.Equal(t, p1.node.PublicKey, stored.PublicKey)
}

func TestProcessSyncNodeIgnoresEquivalentGossip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := newPeer(t, f, "peer-1", true)
	p2 := newPeer(t, f, "peer-2", true)
	p2.connect(t, f)

	gossip := message.NewSyncNode(
		message.NewMetadata(f.network.ID, p1.node.ID),
		[]*types.Node{p2.node.Sanitised()})
	require.NoError(t, f.e.processSyncNode(ctx, gossip))

	// Nothing to confirm, so no traffic towards the reported node.
	p2.queueEmpty(t, f)
}

func TestProcessSyncNodeConfirmsHearsay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := newPeer(t, f, "peer-1", true)
	p2 := newPeer(t, f, "peer-2", true)
	p2.connect(t, f)

	hearsay := *p2.node.Sanitised()
	hearsay.URL = "https://rumoured.example.com"
	gossip := message.NewSyncNode(
		message.NewMetadata(f.network.ID, p1.node.ID),
		[]*types.Node{&hearsay})
	require.NoError(t, f.e.processSyncNode(ctx, gossip))

	// The reported node is asked for its own record.
	request, ok := p2.nextFrame(t, f).(*message.SyncRequest)
	require.True(t, ok)
	assert.Equal(t, message.SyncTargetInstance, request.Target)

	// It confirms the move, and only then is the record updated.
	confirmation := message.NewSyncNode(
		message.ResponseMetadata(request.Metadata, p2.node.ID),
		[]*types.Node{{
			ID:        p2.node.ID,
			Name:      p2.node.Name,
			URL:       "https://rumoured.example.com",
			PublicKey: p2.node.PublicKey,
		}})
	require.NoError(t, f.e.Process(ctx, confirmation))

	require.Eventually(t, func() bool {
		stored, err := f.db.Nodes().Get(p2.node.ID)
		return err == nil && stored.URL == "https://rumoured.example.com"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestProcessSyncNodeKeepsRecordWhenUnconfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := newPeer(t, f, "peer-1", true)
	p2 := newPeer(t, f, "peer-2", true)
	// p2 has no transport, so the confirmation cannot be delivered.

	hearsay := *p2.node.Sanitised()
	hearsay.URL = "https://rumoured.example.com"
	gossip := message.NewSyncNode(
		message.NewMetadata(f.network.ID, p1.node.ID),
		[]*types.Node{&hearsay})
	require.NoError(t, f.e.processSyncNode(ctx, gossip))

	time.Sleep(100 * time.Millisecond)
	stored, err := f.db.Nodes().Get(p2.node.ID)
	require.NoError(t, err)
	assert.Equal(t, p2.node.URL, stored.URL)
}

func TestProcessSyncRequestReportsInstance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	asker := newPeer(t, f, "peer-1", true)
	asker.connect(t, f)

	require.NoError(t, f.db.SaveDataIndex(map[string]any{"records": "v1"}))

	request := message.NewSyncRequest(
		message.NewMetadata(f.network.ID, asker.node.ID), message.SyncTargetInstance)
	require.NoError(t, f.e.processSyncRequest(ctx, request))

	report, ok := asker.nextFrame(t, f).(*message.SyncNode)
	require.True(t, ok)
	assert.Equal(t, request.Metadata.MessageID, report.Metadata.MessageID)
	require.Len(t, report.Nodes, 1)
	assert.Equal(t, f.network.InstanceID, report.Nodes[0].ID)
	assert.Equal(t, map[string]any{"records": "v1"}, report.Nodes[0].DataIndex)
}

func TestProcessSyncRequestReportsNetwork(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	asker := newPeer(t, f, "peer-1", true)
	asker.connect(t, f)
	newPeer(t, f, "peer-2", true)
	newPeer(t, f, "peer-3", false)

	request := message.NewSyncRequest(
		message.NewMetadata(f.network.ID, asker.node.ID), message.SyncTargetNetwork)
	require.NoError(t, f.e.processSyncRequest(ctx, request))

	report, ok := asker.nextFrame(t, f).(*message.SyncNode)
	require.True(t, ok)
	require.Len(t, report.Nodes, 3)

	byID := make(map[string]*types.Node, len(report.Nodes))
	for _, node := range report.Nodes {
		byID[node.ID] = node
	}
	assert.Contains(t, byID, "peer-1")
	assert.Contains(t, byID, "peer-2")
	assert.Contains(t, byID, f.network.InstanceID)
	assert.NotContains(t, byID, "peer-3")
}

func TestProcessSyncRequestUnknownTarget(t *testing.T) {
	f := newFixture(t)
	asker := newPeer(t, f, "peer-1", true)

	request := message.NewSyncRequest(
		message.NewMetadata(f.network.ID, asker.node.ID), message.SyncTarget("bogus"))
	err := f.e.processSyncRequest(context.Background(), request)
	assert.True(t, errdefs.IsKind(err, errdefs.KindMessageConfigParsing))
}

func TestSyncDataIndexBroadcasts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := newPeer(t, f, "peer-1", true)
	p1.connect(t, f)

	require.NoError(t, f.db.SaveDataIndex(map[string]any{"records": "v2"}))
	require.NoError(t, f.e.SyncDataIndex(ctx, f.network))

	gossip, ok := p1.nextFrame(t, f).(*message.SyncIndex)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"records": "v2"}, gossip.DataIndex)
}

func TestProcessSyncIndexUpdatesSenderIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := newPeer(t, f, "peer-1", true)

	gossip := message.NewSyncIndex(
		message.NewMetadata(f.network.ID, p1.node.ID),
		map[string]any{"records": "their-v3"})
	require.NoError(t, f.e.processSyncIndex(ctx, gossip))

	stored, err := f.db.Nodes().Get(p1.node.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"records": "their-v3"}, stored.DataIndex)

	// A nil index clears to empty rather than null.
	gossip = message.NewSyncIndex(message.NewMetadata(f.network.ID, p1.node.ID), nil)
	require.NoError(t, f.e.processSyncIndex(ctx, gossip))

	stored, err = f.db.Nodes().Get(p1.node.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.DataIndex)
	assert.Empty(t, stored.DataIndex)
}

func TestSyncAllCoversEveryRegisteredNetwork(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := newPeer(t, f, "peer-1", true)
	p1.connect(t, f)

	// Pending placeholders are not synced.
	require.NoError(t, f.db.Networks().Save(&types.Network{
		ID:         types.PendingNetworkPrefix + "net-j",
		InstanceID: "i",
	}))

	require.NoError(t, f.e.SyncAll(ctx))

	_, ok := p1.nextFrame(t, f).(*message.SyncNode)
	require.True(t, ok)
	_, ok = p1.nextFrame(t, f).(*message.SyncIndex)
	require.True(t, ok)
	p1.queueEmpty(t, f)
}
