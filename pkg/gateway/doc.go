/*
Package gateway implements the federation protocol on top of the
transport layer: admission of new members, relayed route discovery,
membership and data index gossip, and catalog-defined application
messages.

The Engine owns no sockets and no persistence of its own. It reads and
mutates state through the storage, cache, kms and broker interfaces,
sends through the connection manager, and registers itself as the
manager's processing callback so every verified inbound message fans
out through Process.

# Architecture

	┌────────────────────── GATEWAY ENGINE ─────────────────────┐
	│                                                            │
	│   Management API          Service surface                  │
	│   ──────────────          ───────────────                  │
	│   CreateNetwork           IssueChallenge                   │
	│   JoinNetwork   ────┐     RegisterAdmission ◄── POST       │
	│   InviteNode        │     HandleAdmissionResponse          │
	│   DecideRequest     │     HandlePollRequest                │
	│   SendMessage       │                                      │
	│                     ▼                                      │
	│              ┌─────────────┐     ┌──────────────────┐      │
	│              │   Engine    │────►│ connection.      │      │
	│              │             │◄────│ Manager          │      │
	│              └─────────────┘ cb  └──────────────────┘      │
	│                     │                                      │
	│         ┌───────────┼───────────┬───────────┐              │
	│         ▼           ▼           ▼           ▼              │
	│      storage      cache        kms       broker            │
	│     (members,   (routes,    (signing   (response           │
	│      records)  challenges)    keys)     streams)           │
	└────────────────────────────────────────────────────────────┘

# Admission

Joining is a four-step handshake. The joiner fetches a proof of work
challenge, solves it, and posts a signed AuthRequest carrying its node
record and public key. The receiver verifies the signature against that
embedded key (trust on first use), burns the challenge nonce, and
stores the request for an operator to decide. The decision is sealed
with the receiver's network key and either pushed back to the joiner or
held for polling when the joiner was unreachable at registration time.

Invites run the same shape in reverse: the inviter solves the invitee's
challenge and includes the network definition plus the management key
material the invitee will need.

A join in flight is represented by a placeholder network under a
pending- prefix. Approval replaces it with the real network record,
keeping the instance ID pinned when the request was made; rejection
discards the placeholder and the keys generated for it.

# Route discovery

When no transport reaches a peer directly, RequestRoute broadcasts a
RouteRequest to every approved peer. Each answers with itself as first
hop plus its own relay chain, or an empty route when it has no path.
The shortest loop-free answer is cached as a proxy route. Relayed
frames keep the origin signature intact: intermediate hops re-wrap the
sealed frame, and the hop adjacent to the destination delivers it
untouched.

# Synchronisation

SyncAll runs on a schedule and gossips two things per registered
network: the sanitised membership view (SyncNode) and this gateway's
data index (SyncIndex). Received gossip never overwrites a stored node
record on hearsay; a disagreement about a third party is confirmed with
that node directly (SyncRequest) before anything is adopted, and a node
reporting itself is taken as authoritative. Unknown nodes are recorded
unapproved for an operator to vet.

# Custom messages

Message semantics beyond the protocol vocabulary live in the catalog
registry. An inbound Custom message is forwarded to its configured
backend destination with the sender's user ID translated through the
instance's user mapping; a synchronous catalog response is sent back
correlated to the original metadata. SendMessage is the outbound
counterpart for operators and backend services, collecting correlated
replies through the broker when the catalog defines an answer.

# Integration Points

This package integrates with:

  - pkg/connection: transport establishment, sends, and the processing
    callback that delivers every verified inbound message
  - pkg/storage: networks, nodes, admission records, users
  - pkg/cache: challenge nonces and live routes
  - pkg/kms: network and management key material, payload signing
  - pkg/broker: response streams for correlated replies
  - pkg/api: the HTTP surface is a thin shell over Engine methods

# Thread Safety

Engine methods are safe for concurrent use. Shared mutable state is
limited to the correlation set guarding response collectors; everything
else lives behind the storage and cache interfaces. Background work
(post-approval dials, gossip confirmation) runs on the engine's own
lifetime and is waited out by Close.
*/
package gateway
