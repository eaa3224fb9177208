/*
Package message defines the wire protocol envelopes exchanged between
gateway instances, the signed frame wrapping them, and the registry of
catalog-defined custom message types.

Every payload crossing the federation is a JSON envelope tagged with a
messageType, carrying metadata (network, sender, message ID, timestamp)
and a variant-specific body. Envelopes travel inside a signed frame so
receivers can verify the sender without trusting the transport.

# Architecture

	┌──────────────────── WIRE PROTOCOL ───────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Signed Frame                   │          │
	│  │  {                                          │          │
	│  │    "message":   { ...envelope bytes... },   │          │
	│  │    "signature": "base64 RSA-PSS"            │          │
	│  │  }                                          │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │               Envelope                      │          │
	│  │  {                                          │          │
	│  │    "messageType": "authRequest",            │          │
	│  │    "metadata": {                            │          │
	│  │      "networkId":  "...",                    │          │
	│  │      "nodeId":     "...",                    │          │
	│  │      "messageId":  "...",                    │          │
	│  │      "timestamp":  1756000000.123           │          │
	│  │    },                                       │          │
	│  │    ...variant body...                       │          │
	│  │  }                                          │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Decode() factory                   │          │
	│  │  dispatches on messageType:                 │          │
	│  │    core tags  → typed variants              │          │
	│  │    other tags → Custom (catalog types)      │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Message Variants

Admission:
  - AuthRequest: ask to join a discovered network
  - AuthInvite: offer membership to another node
  - AuthRequestResponse / AuthInviteResponse: the decisions
  - AuthConnect: identify a node opening a persistent channel

Synchronisation:
  - SyncNode: gossip the sender's membership view
  - SyncIndex: gossip the sender's data index
  - SyncRequest: ask for a node's record or whole view

Routing:
  - RouteRequest: ask members for a relay path to a target
  - RouteResponse: report a path (empty means unreachable)
  - RouteNotification: announce a broken path
  - Proxy: wrap a sealed frame for multi-hop relay

Application:
  - Custom: catalog-defined types, tagged by fully-qualified ID

# Signing

Signatures are computed over the exact envelope bytes placed on the
wire. Seal() serialises once and signs those bytes; the Signed frame
carries them as raw JSON so no re-serialisation can change key order or
float formatting between signing and verification:

	sealed, err := message.Seal(ctx, envelope, kms)
	frame, err := sealed.Encode() // {"message": ..., "signature": ...}

On receipt the frame is parsed with DecodeSigned() and the signature is
checked against the received Message bytes before the envelope is
decoded. Proxy relays never unwrap the inner frame, so the origin
signature survives any number of hops.

# Usage

Building and sealing an envelope:

	meta := message.NewMetadata(network.ID, network.InstanceID)
	request := message.NewAuthRequest(meta, self, message.Challenge{
		Nonce:    nonce,
		Solution: solution,
	}, "research collaboration")

	sealed, err := message.Seal(ctx, request, kms)

Replying with the originator's correlation key:

	reply := message.NewRouteResponse(
		message.ResponseMetadata(request.Meta(), network.InstanceID),
		request.TargetNode,
		route,
	)

Decoding an incoming frame:

	frame, err := message.DecodeSigned(raw)
	if err != nil { ... }
	// verify frame.Signature over frame.Message first
	envelope, err := frame.Decode()
	switch m := envelope.(type) {
	case *message.AuthRequest:
		...
	case *message.Custom:
		...
	}

# Message Registry

Custom message behaviour is declared in JSON catalog packages:

	{
	  "basePackage": "com.example.catalogue",
	  "messages": [
	    {"id": "query",       "response": "queryResult"},
	    {"id": "queryResult", "precedence": "query"},
	    {"id": "notify",      "async": true}
	  ]
	}

Lookup is by fully-qualified ID (basePackage.id). A message with
precedence set is response-only: it answers another message and must
never be originated by the management surface. Local forwarding
destinations are overlaid from a YAML file, matching configs by ID
prefix:

	- messageId: com.example.catalogue
	  destination: http://localhost:8080/inbox

	registry := message.NewRegistry()
	err := registry.LoadDir(cfg.MessageCatalogDir)
	err = registry.ApplyProxyOverlay(cfg.ProxyConfig)

	config, err := registry.Get("com.example.catalogue.query")

# Design Patterns

Tagged Union:
  - One interface (Message), one concrete struct per variant
  - Decode() dispatches on the messageType tag
  - Unknown tags fall through to Custom rather than failing

Raw-Bytes Signing:
  - Signed.Message is json.RawMessage, never re-marshalled
  - Signature validity is independent of the local JSON encoder

Correlation by Message ID:
  - Responses reuse the request's message ID via ResponseMetadata
  - The broker keys response queues by that ID

# Integration Points

This package is imported by:

  - pkg/kms: satisfies the Signer interface
  - pkg/broker: queues Signed frames and response envelopes
  - pkg/netdriver: posts envelopes with detached header signatures
  - pkg/connection: seals outbound traffic, decodes inbound frames
  - pkg/gateway: constructs and dispatches every variant
  - pkg/api: parses signed frames on the service surface

# Thread Safety

Envelopes are plain data and safe to share once constructed. The
Registry is safe for concurrent use; catalog loading and overlay
application take the write lock, lookups take the read lock and return
copies.

# See Also

  - pkg/kms for signature generation and verification
  - pkg/connection for how frames travel between nodes
  - pkg/gateway for the processing rules behind each variant
*/
package message
