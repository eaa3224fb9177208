package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Firefox2100/dedi-gateway/pkg/errdefs"
	"github.com/Firefox2100/dedi-gateway/pkg/storage"
	"github.com/Firefox2100/dedi-gateway/pkg/types"
)

// NetworkSummary is the public projection of a network shown to
// prospective members on the service surface. CentralURL points at the
// node that admits members when the network is centrally managed.
type NetworkSummary struct {
	ID          string `json:"networkId"`
	Name        string `json:"networkName"`
	Description string `json:"description"`
	Registered  bool   `json:"registered"`
	CentralURL  string `json:"centralUrl,omitempty"`
}

// CreateNetworkOptions describe a network to be created with this
// gateway as its first member.
type CreateNetworkOptions struct {
	Name        string `json:"networkName"`
	Description string `json:"description"`
	Visible     bool   `json:"visible"`
	Centralised bool   `json:"centralised"`
}

// NetworkPatch carries the operator-mutable fields of a network. Nil
// fields stay unchanged.
type NetworkPatch struct {
	Name        *string `json:"networkName"`
	Description *string `json:"description"`
	Visible     *bool   `json:"visible"`
}

// CreateNetwork creates a network with this gateway as its first
// member, generating the management keypair and this member's signing
// key. A centralised network pins this gateway as its central node.
func (e *Engine) CreateNetwork(ctx context.Context, opts CreateNetworkOptions) (*types.Network, error) {
	if opts.Name == "" {
		return nil, errdefs.ConfigurationParsing("network name is required")
	}

	network := &types.Network{
		ID:          uuid.NewString(),
		Name:        opts.Name,
		Description: opts.Description,
		Visible:     opts.Visible,
		Registered:  true,
		InstanceID:  uuid.NewString(),
	}
	if opts.Centralised {
		network.CentralNode = network.InstanceID
	}

	if _, _, err := e.kms.GenerateNetworkManagementKey(ctx, network.ID); err != nil {
		return nil, err
	}
	if _, err := e.kms.GenerateNetworkNodeKey(ctx, network.ID); err != nil {
		return nil, err
	}

	if err := e.db.Networks().Save(network); err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("network_id", network.ID).
		Str("network_name", network.Name).
		Bool("centralised", opts.Centralised).
		Msg("Network created")
	return network, nil
}

// UpdateNetwork applies an operator patch. Identity and membership
// fields are not patchable; they belong to the admission protocol.
func (e *Engine) UpdateNetwork(ctx context.Context, networkID string, patch NetworkPatch) (*types.Network, error) {
	network, err := e.db.Networks().Get(networkID)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		network.Name = *patch.Name
	}
	if patch.Description != nil {
		network.Description = *patch.Description
	}
	if patch.Visible != nil {
		network.Visible = *patch.Visible
	}

	if err := e.db.Networks().Update(network); err != nil {
		return nil, err
	}
	return network, nil
}

// DeleteNetwork leaves a network: live transports to its members are
// torn down, member records and cached routes dropped, and all key
// material for the network destroyed. Nothing is announced; peers
// notice through transport loss and sync.
func (e *Engine) DeleteNetwork(ctx context.Context, networkID string) error {
	network, err := e.db.Networks().Get(networkID)
	if err != nil {
		return err
	}

	members, err := e.db.Networks().GetNodes(network.ID)
	if err != nil {
		return err
	}
	for _, member := range members {
		if err := e.conn.Disconnect(ctx, member.ID); err != nil {
			e.logger.Debug().Err(err).Str("node_id", member.ID).Msg("Failed to disconnect member")
		}
		if err := e.db.Nodes().Delete(member.ID); err != nil {
			e.logger.Warn().Err(err).Str("node_id", member.ID).Msg("Failed to delete member record")
		}
	}

	if err := e.db.Networks().Delete(network.ID); err != nil {
		return err
	}
	if err := e.kms.DeleteNetworkKeys(ctx, network.ID); err != nil {
		return err
	}

	e.logger.Info().Str("network_id", network.ID).Msg("Network deleted")
	return nil
}

// ListNetworks returns every network this gateway knows, including
// placeholders for unanswered join requests.
func (e *Engine) ListNetworks(ctx context.Context) ([]*types.Network, error) {
	return e.db.Networks().Filter(storage.NetworkFilter{})
}

// GetNetwork returns one network by ID.
func (e *Engine) GetNetwork(ctx context.Context, networkID string) (*types.Network, error) {
	return e.db.Networks().Get(networkID)
}

// VisibleNetworks projects the networks this gateway advertises to
// prospective members. For a centralised network the summary carries
// the URL of the node that can actually admit, so a joiner contacting
// the wrong member is redirected before solving a challenge.
func (e *Engine) VisibleNetworks(ctx context.Context) ([]NetworkSummary, error) {
	visible := true
	registered := true
	networks, err := e.db.Networks().Filter(storage.NetworkFilter{
		Visible:    &visible,
		Registered: &registered,
	})
	if err != nil {
		return nil, err
	}

	summaries := make([]NetworkSummary, 0, len(networks))
	for _, network := range networks {
		summary := NetworkSummary{
			ID:          network.ID,
			Name:        network.Name,
			Description: network.Description,
			Registered:  network.Registered,
		}
		if network.Centralised() {
			url, err := e.centralURL(network)
			if err != nil {
				e.logger.Warn().Err(err).
					Str("network_id", network.ID).
					Msg("Cannot resolve central node URL")
				continue
			}
			summary.CentralURL = url
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// centralURL resolves where a centralised network admits members: this
// gateway's own access URL when it is the central node, otherwise the
// central node's recorded URL.
func (e *Engine) centralURL(network *types.Network) (string, error) {
	if network.CentralNode == network.InstanceID {
		return strings.TrimRight(e.accessURL, "/"), nil
	}
	central, err := e.db.Nodes().Get(network.CentralNode)
	if err != nil {
		return "", fmt.Errorf("central node of network %s: %w", network.ID, err)
	}
	return strings.TrimRight(central.URL, "/"), nil
}
