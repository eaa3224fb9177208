/*
Package broker provides per-node outbound mailboxes and per-message
response mailboxes.

The broker sits between the flows that produce messages (admission,
routing, sync, custom traffic) and the peer-facing send loops that
consume them. Producers enqueue without blocking; consumers block until
a message arrives or the driver timeout elapses. Response mailboxes let
a flow that broadcast a request collect the correlated replies without
holding a connection open.

# Architecture

	┌──────────────────── MESSAGE BROKER ──────────────────────┐
	│                                                            │
	│   Producers                          Consumers             │
	│   ─────────                          ─────────             │
	│   gateway flows ──Publish──► ┌──────────────┐              │
	│   custom replies             │ node queues  │ ──Get──► WS/ │
	│                              │ (per peer)   │     SSE send │
	│                              └──────────────┘     loops    │
	│                                                            │
	│   peer replies ──AddResponse─► ┌──────────────┐            │
	│                                │ response     │ ──Response │
	│                                │ queues       │   Stream──►│
	│                                │ (per msg id) │   waiting  │
	│                                └──────────────┘   flows    │
	│                                                            │
	│   Drivers: memory (slices + wake channels)                 │
	│            redis  (RPUSH / BLPOP lists)                    │
	└────────────────────────────────────────────────────────┘

# Core Components

Broker interface:
  - Publish: non-blocking enqueue onto a peer's mailbox
  - Get: blocking dequeue with a 60 second ceiling
  - AddResponse: enqueue keyed by the envelope's metadata.messageId
  - ResponseStream: finite drain of an expected number of replies

MemoryBroker:
  - Queues are unbounded slices guarded by a mutex
  - A one-slot wake channel parks and resumes blocked consumers
  - Response queues are dropped once their stream completes

RedisBroker:
  - Lists under message:node:<id> and message:response:<id>
  - RPUSH preserves publish order, BLPOP blocks with the driver timeout
  - Response lists expire so abandoned streams do not leak keys
  - Multiple gateway replicas can share one Redis

# Ordering and Timeouts

Messages published to the same key are delivered in publish order.
There is no ordering relationship between different keys.

Every blocking operation observes DriverTimeout (60 seconds). A Get or
ResponseStream that stalls past the timeout surfaces a broker_timeout
error; the caller decides whether partial results are usable. Context
cancellation interrupts any blocked operation immediately.

# Usage

Feeding a peer's send loop:

	err := brk.Publish(ctx, peerID, signedFrame)

	// In the send loop serving that peer:
	for {
		frame, err := brk.Get(ctx, peerID)
		if errdefs.IsKind(err, errdefs.KindBrokerTimeout) {
			continue // idle; poll again
		}
		if err != nil {
			return err
		}
		conn.WriteMessage(websocket.TextMessage, frame)
	}

Collecting broadcast replies:

	envelopes, errs := brk.ResponseStream(ctx, requestID, sentCount)
	var replies []json.RawMessage
	for env := range envelopes {
		replies = append(replies, env)
	}
	select {
	case err := <-errs:
		// stalled; use the replies that arrived
	default:
	}

# Integration Points

This package integrates with:

  - pkg/connection: send loops drain node queues; inbound handlers
    publish frames for peers reached over inbound-only transports
  - pkg/gateway: route discovery and custom broadcasts collect replies
    through response streams
  - pkg/api: the management message endpoint waits on response streams

# Design Patterns

Two-Channel Streams:
  - ResponseStream returns an envelope channel plus an error channel
  - The envelope channel closing marks the end of the stream
  - Mirrors the event-stream client APIs common in infra tooling

Opaque Payloads:
  - The broker moves raw JSON and never decodes full envelopes
  - The single exception is the metadata.messageId probe for keying
  - Keeps the broker independent of the message vocabulary

Queue-Per-Key:
  - Queues materialise on first use, producers and consumers in any order
  - A consumer can park on a mailbox before the peer ever sends

# Thread Safety

All operations are safe for concurrent use. In the memory driver a
single mutex per queue orders push and pop; the broker-level mutex only
guards queue creation. In the Redis driver concurrency control is
delegated to Redis itself.

# See Also

  - pkg/connection for the send loops that consume node queues
  - pkg/gateway for the flows that wait on response streams
  - pkg/errdefs for the broker_timeout error kind
*/
package broker
