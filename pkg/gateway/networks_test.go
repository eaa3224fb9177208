package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Firefox2100/dedi-gateway/pkg/errdefs"
	"github.com/Firefox2100/dedi-gateway/pkg/types"
)

func TestCreateNetwork(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	network, err := f.e.CreateNetwork(ctx, CreateNetworkOptions{
		Name:        "fresh federation",
		Description: "regional mirrors",
		Visible:     true,
	})
	require.NoError(t, err)
	assert.True(t, network.Registered)
	assert.True(t, network.Visible)
	assert.NotEmpty(t, network.InstanceID)
	assert.False(t, network.Centralised())

	stored, err := f.db.Networks().Get(network.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh federation", stored.Name)

	// Both keypairs exist from the start.
	_, err = f.kms.GetNetworkNodePublicKey(ctx, network.ID, false)
	assert.NoError(t, err)
	_, err = f.kms.GetNetworkManagementPublicKey(ctx, network.ID, false)
	assert.NoError(t, err)
}

func TestCreateNetworkCentralised(t *testing.T) {
	f := newFixture(t)

	network, err := f.e.CreateNetwork(context.Background(), CreateNetworkOptions{
		Name:        "managed federation",
		Centralised: true,
	})
	require.NoError(t, err)
	assert.True(t, network.Centralised())
	assert.Equal(t, network.InstanceID, network.CentralNode)
}

func TestCreateNetworkRequiresName(t *testing.T) {
	f := newFixture(t)

	_, err := f.e.CreateNetwork(context.Background(), CreateNetworkOptions{})
	assert.True(t, errdefs.IsKind(err, errdefs.KindConfigurationParsing))
}

func TestUpdateNetworkAppliesPatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	name := "renamed federation"
	updated, err := f.e.UpdateNetwork(ctx, f.network.ID, NetworkPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "renamed federation", updated.Name)
	// Unset fields stay as they were.
	assert.True(t, updated.Visible)
	assert.Equal(t, f.network.InstanceID, updated.InstanceID)

	stored, err := f.db.Networks().Get(f.network.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed federation", stored.Name)

	_, err = f.e.UpdateNetwork(ctx, "net-ghost", NetworkPatch{})
	assert.True(t, errdefs.IsKind(err, errdefs.KindNetworkNotFound))
}

func TestDeleteNetworkTearsDownMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := newPeer(t, f, "peer-1", true)
	p1.connect(t, f)

	require.NoError(t, f.e.DeleteNetwork(ctx, f.network.ID))

	_, err := f.db.Networks().Get(f.network.ID)
	assert.True(t, errdefs.IsKind(err, errdefs.KindNetworkNotFound))
	_, err = f.db.Nodes().Get(p1.node.ID)
	assert.True(t, errdefs.IsKind(err, errdefs.KindNodeNotFound))

	route, err := f.cache.GetRoute(ctx, p1.node.ID)
	require.NoError(t, err)
	assert.Nil(t, route)

	_, err = f.kms.GetNetworkNodePublicKey(ctx, f.network.ID, false)
	assert.Error(t, err)
}

func TestListNetworksIncludesPlaceholders(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.db.Networks().Save(&types.Network{
		ID:         types.PendingNetworkPrefix + "net-j",
		Name:       "joinable",
		InstanceID: "i",
	}))

	networks, err := f.e.ListNetworks(context.Background())
	require.NoError(t, err)
	require.Len(t, networks, 2)

	ids := []string{networks[0].ID, networks[1].ID}
	assert.Contains(t, ids, f.network.ID)
	assert.Contains(t, ids, types.PendingNetworkPrefix+"net-j")
}

func TestVisibleNetworks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Hidden and unregistered networks are not advertised.
	require.NoError(t, f.db.Networks().Save(&types.Network{
		ID:         "net-hidden",
		Name:       "private",
		InstanceID: "i1",
		Registered: true,
	}))
	require.NoError(t, f.db.Networks().Save(&types.Network{
		ID:         types.PendingNetworkPrefix + "net-j",
		Name:       "still joining",
		InstanceID: "i2",
		Visible:    true,
	}))

	// Centralised, admitted here.
	require.NoError(t, f.db.Networks().Save(&types.Network{
		ID:          "net-central-self",
		Name:        "managed here",
		InstanceID:  "self-c",
		CentralNode: "self-c",
		Visible:     true,
		Registered:  true,
	}))

	// Centralised, admitted by a known member elsewhere.
	require.NoError(t, f.db.Networks().Save(&types.Network{
		ID:          "net-central-remote",
		Name:        "managed elsewhere",
		InstanceID:  "self-d",
		CentralNode: "admin-node",
		Visible:     true,
		Registered:  true,
	}))
	require.NoError(t, f.db.Networks().AddNode("net-central-remote", &types.Node{
		ID:       "admin-node",
		Name:     "admin",
		URL:      "https://admin.example.com/",
		Approved: true,
	}))

	// Centralised, but the central node is unknown; unadvertisable.
	require.NoError(t, f.db.Networks().Save(&types.Network{
		ID:          "net-central-lost",
		Name:        "orphaned",
		InstanceID:  "self-e",
		CentralNode: "gone-node",
		Visible:     true,
		Registered:  true,
	}))

	summaries, err := f.e.VisibleNetworks(ctx)
	require.NoError(t, err)

	byID := make(map[string]NetworkSummary, len(summaries))
	for _, summary := range summaries {
		byID[summary.ID] = summary
	}
	require.Len(t, byID, 3)

	assert.Empty(t, byID[f.network.ID].CentralURL)
	assert.Equal(t, "https://self.example.com", byID["net-central-self"].CentralURL)
	assert.Equal(t, "https://admin.example.com", byID["net-central-remote"].CentralURL)
	assert.NotContains(t, byID, "net-hidden")
	assert.NotContains(t, byID, "net-central-lost")
	assert.NotContains(t, byID, types.PendingNetworkPrefix+"net-j")
}

func TestGetNetwork(t *testing.T) {
	f := newFixture(t)

	network, err := f.e.GetNetwork(context.Background(), f.network.ID)
	require.NoError(t, err)
	assert.Equal(t, f.network.Name, network.Name)

	_, err = f.e.GetNetwork(context.Background(), "net-ghost")
	assert.True(t, errdefs.IsKind(err, errdefs.KindNetworkNotFound))
}
