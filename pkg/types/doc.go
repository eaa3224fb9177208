/*
Package types defines the core data structures used throughout the gateway.

This package contains the fundamental types that represent the gateway's domain
model, including networks, nodes, routes, admission records, users, and user
mappings. All other packages depend on these types for their data contracts,
and the JSON tags on each struct define the wire format exchanged between
gateway instances.

# Architecture

The type system is organised in layers, from federation membership down to
per-message bookkeeping:

	┌─────────────────────────────────────────────┐
	│                  Network                     │
	│  (one federation this gateway belongs to)    │
	└──────────────────┬──────────────────────────┘
	                   │ node_ids
	┌──────────────────▼──────────────────────────┐
	│                   Node                       │
	│  (another member, keyed by its instance ID)  │
	└──────────────────┬──────────────────────────┘
	                   │ reachability
	┌──────────────────▼──────────────────────────┐
	│                  Route                       │
	│  (live transport or negotiated proxy chain)  │
	└─────────────────────────────────────────────┘

	AdmissionRecord — audit trail of join requests and invitations
	User / UserMapping — principals behind custom messages

# Core Types

Network:
  - One membership of this gateway in a federation
  - InstanceID is this node's identity within that network
  - CentralNode, when set, names the member holding the management key
  - Placeholder networks use the "pending-" ID prefix until accepted

Node:
  - Another member of a network; ID equals that member's instance ID
  - PublicKey verifies message signatures from the node
  - Score is an exponential moving average of delivery outcomes
  - Approved gates all routed traffic to and from the node

Route:
  - Records how a node is currently reachable
  - Connectivity: direct (live channel) or proxy (negotiated chain)
  - Transport: websocket or sse for direct routes
  - Outbound distinguishes dialled channels from accepted ones
  - At most one live route exists per node

AdmissionRecord:
  - Retains a sent or received admission message
  - Status is terminal once it leaves pending
  - RequiresPolling marks requests whose reply must be polled for
  - Received records carry the decision response for pollers

UserMapping:
  - Translates foreign user IDs into the local ID space
  - noMapping passes IDs through, static pins one ID, dynamic uses a table

# Usage

Creating a network:

	network := &types.Network{
		ID:          uuid.NewString(),
		Name:        "research-consortium",
		Description: "Shared catalogue of research datasets",
		Visible:     true,
		InstanceID:  uuid.NewString(),
	}

Tracking a peer:

	node := &types.Node{
		ID:        "instance-abc",
		Name:      "partner-gateway",
		URL:       "https://partner.example.com",
		PublicKey: publicPEM,
		Approved:  true,
	}

	// Fold in a delivery outcome.
	node.ObserveDelivery(true, 0.3)

	// Share with other members without local bookkeeping.
	payload := node.Sanitised()

Recording a route:

	route := &types.Route{
		NetworkID:    network.ID,
		NodeID:       node.ID,
		Connectivity: types.ConnectivityDirect,
		Transport:    types.TransportWebsocket,
		Outbound:     true,
	}

Mapping a foreign user:

	mapping := types.UserMapping{
		Type:           types.UserMappingDynamic,
		DynamicMapping: map[string]string{"remote-user": "local-user"},
	}
	localID, err := mapping.Map("remote-user")

# State Machine

Admission records move through a terminal status machine:

	pending ──► accepted
	   │
	   └──────► rejected

Once a record leaves pending, its status never changes again; later
decisions against the same record are refused.

# Design Patterns

Wire-Format Tags:
  - Every exported struct carries camelCase JSON tags
  - The same structs serve storage and the network protocol
  - omitempty strips local bookkeeping from shared payloads

Value Semantics for Sharing:
  - Sanitised() returns a copy, never mutates the receiver
  - Callers can embed the copy in outbound payloads safely

String Enums:
  - ConnectivityType, TransportType, MessageStatus, UserMappingType
  - Stable string values survive JSON round-trips and storage

# Integration Points

This package is imported by:

  - pkg/storage: persists networks, nodes, records, and users
  - pkg/cache: stores live routes keyed by node ID
  - pkg/message: embeds nodes and networks in protocol payloads
  - pkg/connection: consults routes for message dispatch
  - pkg/gateway: drives admission, routing, and synchronisation
  - pkg/api: serialises entities for management endpoints

# Validation

Types perform no I/O and minimal validation; invariants are enforced at
the boundaries:

  - UserMapping.Validate() checks type-specific required fields
  - Network central node membership is checked on creation
  - Route uniqueness is enforced by the cache layer
  - Admission status transitions are enforced by the gateway engine

# Thread Safety

All types in this package are plain data structures with no internal
synchronisation. Callers must not share a mutable instance across
goroutines without external locking; the storage and cache layers copy
on read to keep handed-out instances private.

# See Also

  - pkg/message for the protocol envelope wrapping these types
  - pkg/storage for persistence of the domain model
  - pkg/gateway for the operations that manipulate these entities
*/
package types
