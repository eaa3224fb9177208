/*
Package storage provides persistent state for networks, nodes, admission
requests, and users.

The storage package defines repository interfaces for every entity the
gateway tracks and ships two implementations: an in-memory database for
tests and single-process development, and a BoltDB-backed database for
durable deployments. All data is serialized as JSON and stored in
separate buckets for efficient querying and isolation.

# Architecture

The gateway uses BoltDB (bbolt) for embedded, transactional storage with
zero external dependencies:

	┌──────────────────── STORAGE LAYER ───────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Database interface               │          │
	│  │  - Networks() / Nodes() / Messages()        │          │
	│  │  - Users() / data index accessors           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│         ┌───────────┴────────────┐                        │
	│         ▼                        ▼                        │
	│  ┌──────────────┐       ┌──────────────────┐             │
	│  │ MemoryDatabase│       │  BoltDatabase    │             │
	│  │  - maps + mutex│      │  - <dataDir>/    │             │
	│  │  - test driver │      │    gateway.db    │             │
	│  └──────────────┘       └────────┬─────────┘             │
	│                                   │                        │
	│  ┌────────────────────────────────▼───────────┐          │
	│  │              Bucket Structure                │          │
	│  │  ┌────────────────────────────┐             │          │
	│  │  │ networks        (Network ID)│            │          │
	│  │  │ nodes           (Node ID)   │            │          │
	│  │  │ sent_requests   (Message ID)│            │          │
	│  │  │ received_requests (Msg ID)  │            │          │
	│  │  │ users           (User ID)   │            │          │
	│  │  │ meta            (fixed keys)│            │          │
	│  │  └────────────────────────────┘             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │             Transactions                     │          │
	│  │  - View for reads, any number at once       │          │
	│  │  - Update for writes, strictly one          │          │
	│  │  - success commits and syncs, errors roll   │          │
	│  │    every put in the transaction back        │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Database:
  - Entry point returning one repository per entity family
  - Single database file per gateway instance (bolt driver)
  - Buckets are created the first time the file is opened
  - Close releases the underlying file handle

NetworkRepository:
  - Full CRUD plus membership management
  - Save fails when the network already exists
  - Update fails when the network is missing
  - AddNode persists the node and records membership atomically
  - Filter supports visibility, registration, and topology predicates

NodeRepository:
  - Full CRUD keyed by node ID
  - BatchGet skips unknown IDs instead of failing the batch
  - Filter narrows by approval state

MessageRepository:
  - Tracks admission requests in both directions
  - Sent requests keep the remote URL for later polling
  - Received requests never store a target URL
  - Status always starts at pending regardless of caller input
  - SetReceivedResponse records the decision envelope for pollers

UserRepository:
  - Full CRUD for known users and their public keys
  - GetMapping falls back to the identity mapping when unset
  - SaveMapping replaces the instance-wide mapping policy

Buckets (bolt driver):
  - networks: Federation definitions and membership lists
  - nodes: Known peer nodes across all networks
  - sent_requests: Outbound admission requests awaiting decisions
  - received_requests: Inbound admission requests awaiting decisions
  - users: Registered users and their public keys
  - meta: Data index and user mapping under fixed keys

# Admission Record Lifecycle

Admission records move through a fixed state machine:

	pending ──► accepted
	   │
	   └──────► rejected

Both accepted and rejected are terminal. SaveSentRequest and
SaveReceivedRequest force the stored status to pending so a record can
never be created in a decided state. UpdateRequestStatus looks in the
received bucket first and falls back to the sent bucket, returning a
message_not_found error when neither holds the ID.

# Usage

Opening a database:

	db, err := storage.NewBoltDatabase("/var/lib/dedi-gateway")
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

Network operations:

	network := &types.Network{
		ID:         "net-abc123",
		Name:       "research-federation",
		Visible:    true,
		Registered: true,
		InstanceID: "inst-def456",
	}
	err := db.Networks().Save(network)

	// Fetch a single network
	network, err := db.Networks().Get("net-abc123")

	// Visible networks only
	visible := true
	networks, err := db.Networks().Filter(storage.NetworkFilter{Visible: &visible})

	// Register a newly admitted peer
	err = db.Networks().AddNode("net-abc123", &types.Node{
		ID:       "node-xyz789",
		Name:     "peer-01",
		URL:      "https://peer-01.example.com",
		Approved: true,
	})

Admission records:

	record := &types.AdmissionRecord{
		MessageID:       messageID,
		TargetURL:       "https://peer.example.com",
		Request:         rawEnvelope,
		RequiresPolling: true,
	}
	err := db.Messages().SaveSentRequest(record)

	// Operator lists everything still waiting for a decision
	pending, err := db.Messages().GetRequests(nil,
		[]types.MessageStatus{types.MessageStatusPending})

	// Decision made
	err = db.Messages().UpdateRequestStatus(messageID, types.MessageStatusAccepted)

Users and mapping:

	err := db.Users().Save(&types.User{UserID: "alice", PublicKey: pem})

	mapping, err := db.Users().GetMapping()
	localID, err := mapping.Map(remoteUserID)

# Integration Points

Consumers of this package:

  - pkg/gateway: admission, routing, and sync flows read and mutate state
  - pkg/connection: peer lookup during authentication
  - pkg/api: management endpoints expose CRUD over HTTP
  - pkg/types: defines every entity stored here

# Design Patterns

Repository Pattern:
  - One interface per entity family, returned by the Database
  - Callers never touch buckets or maps directly
  - Memory and bolt drivers are interchangeable in tests

Create/Update Split:
  - Save fails on existing IDs, Update fails on missing IDs
  - Makes admission race conditions visible instead of silent
  - Contrast with upsert stores where both paths merge

Idempotent Deletes:
  - Delete of an absent key reports nothing
  - Cleanup paths can re-run without existence checks

Defensive Copies (memory driver):
  - Entities are copied on the way in and out
  - Callers cannot mutate stored state through aliases
  - Matches the isolation the bolt driver gets from JSON round-trips

Filter Pattern:
  - List everything, apply predicates in memory
  - A gateway tracks at most a few thousand peers, so scans stay cheap

# Thread Safety

The bolt driver inherits BoltDB's transaction model: any number of
concurrent readers, one writer at a time. The memory driver guards all
state with a single RWMutex shared across repositories so AddNode can
update the node table and the membership list under one lock.

# Performance Characteristics

Point reads resolve through the B+tree in well under a millisecond;
filters scan the whole bucket and apply predicates in memory. Writes
pay one fsync per transaction, so AddNode batches its two puts into a
single commit. bbolt serialises writers, which a single gateway
process never notices.

A fresh database file starts at a few tens of kilobytes. A small
federation stays well under a megabyte; admission records are what
grows on a busy gateway, since every request keeps its signed envelope.

# Troubleshooting

A "timeout" or lock error on startup means another process has the
database file open: bbolt takes an exclusive file lock, so two
gateways cannot share a data directory.

A corrupt file (checksum or "invalid database" failures) follows an
unclean shutdown or disk fault; restore from a copy, or re-join the
federation and let sync rebuild membership.

Pending admission records that never resolve belong to peers that went
away before deciding. They are harmless, and an operator can reject
them through the management API to clear the list.

# Data Integrity

Every mutation runs inside one bbolt transaction: it commits fully and
durably or not at all, and readers only ever observe committed
snapshots. Records are serialised as JSON, which makes schema change
undramatic: new optional fields unmarshal as zero values from old
records, and fields that no longer exist are ignored.

The database is one file. Copy it while the gateway is stopped for a
backup; put a copy back to restore.

# Security

The file carries 0600 permissions but no encryption; deployments that
need encryption at rest should put the data directory on an encrypted
volume. Nothing in this layer is a secret in itself: private keys live
with pkg/kms, never in the database.

# See Also

  - pkg/gateway for the flows that drive reads and writes
  - pkg/types for the entities stored here
  - pkg/kms for key material
  - bbolt: https://go.etcd.io/bbolt
*/
package storage
