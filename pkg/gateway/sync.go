package gateway

import (
	"context"
	"fmt"

	"github.com/Firefox2100/dedi-gateway/pkg/errdefs"
	"github.com/Firefox2100/dedi-gateway/pkg/message"
	"github.com/Firefox2100/dedi-gateway/pkg/metrics"
	"github.com/Firefox2100/dedi-gateway/pkg/storage"
	"github.com/Firefox2100/dedi-gateway/pkg/types"
)

// SyncKnownNodes gossips this gateway's view of a network's membership
// to every approved peer. Peer records are sanitised first; only this
// gateway's own record carries its data index.
func (e *Engine) SyncKnownNodes(ctx context.Context, network *types.Network) error {
	members, err := e.db.Networks().GetNodes(network.ID)
	if err != nil {
		return err
	}

	nodes := make([]*types.Node, 0, len(members)+1)
	for _, member := range members {
		if !member.Approved {
			continue
		}
		nodes = append(nodes, member.Sanitised())
	}

	self, err := e.selfNode(ctx, network)
	if err != nil {
		return err
	}
	nodes = append(nodes, self)

	gossip := message.NewSyncNode(message.NewMetadata(network.ID, network.InstanceID), nodes)
	_, err = e.conn.Broadcast(ctx, gossip)
	return err
}

// processSyncNode folds received membership gossip into the local
// node table. A node reporting itself is authoritative for its own
// identity fields; hearsay about a third party that disagrees with the
// stored record is confirmed with that node directly before anything
// is overwritten. Unknown nodes are recorded unapproved, for an
// operator to vet.
func (e *Engine) processSyncNode(ctx context.Context, m *message.SyncNode) error {
	network, err := e.db.Networks().Get(m.Metadata.NetworkID)
	if err != nil {
		return err
	}

	for _, node := range m.Nodes {
		if node.ID == network.InstanceID {
			continue
		}

		existing, err := e.db.Nodes().Get(node.ID)
		if err != nil {
			if !errdefs.IsKind(err, errdefs.KindNodeNotFound) {
				return err
			}

			incoming := *node
			incoming.Approved = false
			incoming.Score = initialScore
			if incoming.DataIndex == nil {
				incoming.DataIndex = map[string]any{}
			}
			if err := e.db.Networks().AddNode(network.ID, &incoming); err != nil {
				return err
			}
			e.logger.Info().
				Str("network_id", network.ID).
				Str("node_id", incoming.ID).
				Str("node_name", incoming.Name).
				Msg("New node learned from gossip, awaiting approval")
			continue
		}

		if existing.EquivalentTo(node) {
			continue
		}

		if node.ID == m.Metadata.NodeID {
			adoptNodeRecord(existing, node)
			if err := e.db.Nodes().Update(existing); err != nil {
				return err
			}
			continue
		}

		reported := node
		e.background(func(ctx context.Context) {
			e.confirmNode(ctx, network, reported)
		})
	}
	return nil
}

// confirmNode asks a node to report its own record when gossip about
// it disagrees with the stored one. No answer keeps the stored record
// untouched.
func (e *Engine) confirmNode(ctx context.Context, network *types.Network, reported *types.Node) {
	stored, err := e.db.Nodes().Get(reported.ID)
	if err != nil {
		return
	}

	request := message.NewSyncRequest(
		message.NewMetadata(network.ID, network.InstanceID), message.SyncTargetInstance)
	release := e.await(request.Metadata.MessageID)
	defer release()

	if err := e.conn.Send(ctx, request, stored); err != nil {
		e.logger.Debug().Err(err).
			Str("node_id", stored.ID).
			Msg("Cannot reach node to confirm gossip about it")
		return
	}

	responses := e.collectResponses(ctx, request.Metadata.MessageID, 1)
	if len(responses) == 0 {
		e.logger.Debug().
			Str("node_id", stored.ID).
			Msg("Node did not confirm its record, keeping the stored one")
		return
	}

	reply, err := message.Decode(responses[0])
	if err != nil {
		return
	}
	sn, ok := reply.(*message.SyncNode)
	if !ok {
		return
	}

	for _, candidate := range sn.Nodes {
		if candidate.ID != reported.ID {
			continue
		}
		adoptNodeRecord(stored, candidate)
		if err := e.db.Nodes().Update(stored); err != nil {
			e.logger.Warn().Err(err).
				Str("node_id", stored.ID).
				Msg("Failed to store confirmed node record")
		}
		return
	}
}

// adoptNodeRecord copies the identity fields of src over dst, keeping
// local bookkeeping (approval, score, data index) intact.
func adoptNodeRecord(dst, src *types.Node) {
	dst.Name = src.Name
	dst.URL = src.URL
	dst.Description = src.Description
	if src.PublicKey != "" {
		dst.PublicKey = src.PublicKey
	}
}

// processSyncRequest reports this gateway's own record, or its whole
// view of the network, back to the asker as a correlated SyncNode.
func (e *Engine) processSyncRequest(ctx context.Context, m *message.SyncRequest) error {
	network, err := e.db.Networks().Get(m.Metadata.NetworkID)
	if err != nil {
		return err
	}

	var nodes []*types.Node
	switch m.Target {
	case message.SyncTargetInstance:
		self, err := e.selfNode(ctx, network)
		if err != nil {
			return err
		}
		nodes = []*types.Node{self}
	case message.SyncTargetNetwork:
		members, err := e.db.Networks().GetNodes(network.ID)
		if err != nil {
			return err
		}
		for _, member := range members {
			if !member.Approved {
				continue
			}
			nodes = append(nodes, member.Sanitised())
		}
		self, err := e.selfNode(ctx, network)
		if err != nil {
			return err
		}
		nodes = append(nodes, self)
	default:
		return errdefs.MessageConfigParsing(fmt.Sprintf("unknown sync target %s", m.Target))
	}

	sender, err := e.db.Nodes().Get(m.Metadata.NodeID)
	if err != nil {
		return err
	}

	response := message.NewSyncNode(message.ResponseMetadata(m.Metadata, network.InstanceID), nodes)
	return e.conn.Send(ctx, response, sender)
}

// SyncDataIndex gossips this gateway's shareable data index to every
// approved peer of a network.
func (e *Engine) SyncDataIndex(ctx context.Context, network *types.Network) error {
	index, err := e.db.GetDataIndex()
	if err != nil {
		return err
	}

	gossip := message.NewSyncIndex(message.NewMetadata(network.ID, network.InstanceID), index)
	_, err = e.conn.Broadcast(ctx, gossip)
	return err
}

// processSyncIndex replaces the stored data index of the sender.
func (e *Engine) processSyncIndex(ctx context.Context, m *message.SyncIndex) error {
	sender, err := e.db.Nodes().Get(m.Metadata.NodeID)
	if err != nil {
		return err
	}

	sender.DataIndex = m.DataIndex
	if sender.DataIndex == nil {
		sender.DataIndex = map[string]any{}
	}
	return e.db.Nodes().Update(sender)
}

// SyncAll gossips membership and data index on every registered
// network. Runs on the periodic sync schedule; per-network failures
// are logged and counted without aborting the cycle.
func (e *Engine) SyncAll(ctx context.Context) error {
	registered := true
	networks, err := e.db.Networks().Filter(storage.NetworkFilter{Registered: &registered})
	if err != nil {
		return err
	}

	var failed bool
	for _, network := range networks {
		if err := e.SyncKnownNodes(ctx, network); err != nil {
			failed = true
			e.logger.Warn().Err(err).Str("network_id", network.ID).Msg("Membership sync failed")
		}
		if err := e.SyncDataIndex(ctx, network); err != nil {
			failed = true
			e.logger.Warn().Err(err).Str("network_id", network.ID).Msg("Index sync failed")
		}
	}

	metrics.SyncCycles.Inc()
	if failed {
		metrics.SyncFailures.Inc()
	}
	return nil
}
