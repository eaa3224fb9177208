/*
Package cache stores proof of work challenges and live peer routes.

Both kinds of entry are ephemeral. Challenges expire 300 seconds after
issuance whether or not they were solved. Routes live until the
connection manager tears them down or replaces them; the route table is
what the rest of the gateway consults to answer "can I talk to this
peer right now, and how".

# Architecture

	┌───────────────────── HOT STATE CACHE ────────────────────┐
	│                                                            │
	│  challenge:<nonce> ──► difficulty        (TTL 300 s)       │
	│  route:<nodeId>    ──► Route JSON        (explicit delete) │
	│                                                            │
	│  Drivers:                                                  │
	│    MemoryCache  maps + RWMutex, lazy expiry                │
	│    RedisCache   shared keyspace, server-side TTL           │
	└────────────────────────────────────────────────────────┘

# Core Components

Challenge entries:
  - Written when /service/challenge issues a nonce
  - Read back when an admission request presents its solution
  - A miss means the challenge never existed or has expired; both
    cases reject the solution

Route entries:
  - One entry per peer node ID, covering every network
  - Writes replace the previous entry unconditionally
  - DeleteRoute reports whether an entry existed so callers can tell
    a teardown from a no-op

# Usage

	c := cache.NewMemoryCache()

	// Challenge issuance and verification
	err := c.SaveChallenge(ctx, nonce, difficulty)
	difficulty, ok, err := c.GetChallenge(ctx, nonce)
	if !ok {
		// unknown or expired; reject the admission request
	}

	// Route bookkeeping
	err = c.SaveRoute(ctx, &types.Route{
		NetworkID:    networkID,
		NodeID:       peerID,
		Connectivity: types.ConnectivityDirect,
		Transport:    types.TransportWebsocket,
		Outbound:     true,
	})
	route, err := c.GetRoute(ctx, peerID)
	if route == nil {
		// peer unreachable; trigger establishment
	}

# Integration Points

This package integrates with:

  - pkg/api: issues challenges and validates admission solutions
  - pkg/connection: owns the route table lifecycle
  - pkg/gateway: consults routes during message dispatch and route
    discovery

# Design Patterns

Nil Miss for Routes:
  - GetRoute returns (nil, nil) when no entry exists
  - Absence is an expected state, not an error

Defensive Copies:
  - The memory driver copies routes on write and read
  - Cached state cannot be mutated through retained pointers

Lazy Expiry:
  - The memory driver drops expired challenges during reads and
    sweeps the table on writes
  - Redis enforces expiry server-side via SET EX

# Thread Safety

All operations are safe for concurrent use. The memory driver guards
its maps with an RWMutex; the Redis driver relies on Redis's
single-threaded command execution.

# See Also

  - pkg/pow for solving and verifying challenges
  - pkg/connection for route lifecycle management
  - pkg/types for the Route structure
*/
package cache
