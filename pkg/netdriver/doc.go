/*
Package netdriver performs all outbound HTTP, SSE and websocket traffic
to peer gateways.

Every request a gateway makes to another gateway flows through the
Driver: admission requests, connectivity probes, signed message
delivery, event stream subscriptions and websocket dials. Keeping the
traffic in one place keeps the anti-SSRF policy in one place.

# Architecture

	┌───────────────────── NETWORK DRIVER ─────────────────────┐
	│                                                            │
	│  CheckConnectivity ── resolve ── guard ── 2 s GET ── 200?  │
	│                          │                                 │
	│                          └── refuse loopback / private /   │
	│                              link-local / reserved hosts   │
	│                                                            │
	│  GetJSON / PostJSON ──── shared client, 30 s timeout       │
	│  PostMessage ─────────── sign exact bytes, attach          │
	│                          Message-Signature header          │
	│  Stream ──────────────── SSE client, data: lines           │
	│  DialWebsocket ───────── http(s) → ws(s) + handshake       │
	└────────────────────────────────────────────────────────┘

# Dial-Back Safety

CheckConnectivity exists so a gateway can verify that a peer's claimed
URL actually reaches that peer. The URL comes from an untrusted
admission request, so the probe:

  - accepts only http and https schemes
  - resolves the host and refuses loopback, private, link-local,
    multicast, unspecified and reserved addresses before connecting
  - uses a fresh client with a 2 second ceiling on every stage
  - never follows redirects
  - requests identity encoding so intermediaries cannot transform
    the exchange
  - treats only HTTP 200 as reachable

CheckNodeConnectivity wraps the probe for peer gateways by targeting
their /service/status endpoint.

NewPrivateDriver turns the address guard off for deployments whose
whole federation lives on a LAN or inside a lab. Everything else about
the probe stays the same.

# Message Delivery

PostMessage serialises the envelope once, signs those exact bytes with
the network's node key, and sends them unchanged with the signature in
the Message-Signature header. The receiver verifies over the bytes it
read from the wire, so any re-serialisation between signing and sending
would break authentication.

# Error Mapping

Non-2xx responses become network_request_failed errors that keep the
remote status code, so a peer answering 403 surfaces as 403 to the
operator rather than a generic 500. Transport failures carry status 502.

# Usage

	d := netdriver.NewDriver()

	// Probe before trusting a claimed URL
	if !d.CheckNodeConnectivity(ctx, node.URL) {
		// peer must poll for its answer instead
	}

	// Plain JSON exchange
	var networks []types.Network
	err := d.GetJSON(ctx, peerURL+"/service/networks", &networks)

	// Signed envelope delivery
	resp, err := d.PostMessage(ctx, joinRequest, peerURL+"/service/requests", kmsService)

	// Event stream consumption
	lines, errs := d.Stream(ctx, peerURL+"/service/event", connectBody, headers)
	for line := range lines {
		// each line is one event payload, prefix stripped
	}

# Integration Points

This package integrates with:

  - pkg/gateway: admission, sync and route flows exchange envelopes
  - pkg/connection: websocket dials and SSE subscriptions during
    connection establishment
  - pkg/kms: signature creation through the message.Signer contract

# Design Patterns

Two Clients:
  - The request client enforces a 30 second ceiling
  - The stream client has no overall timeout so SSE connections can
    live for hours; cancellation comes from the context

Opaque Decode Targets:
  - GetJSON and PostJSON decode into caller-supplied structures
  - The driver stays free of the message vocabulary except for
    PostMessage, which needs metadata for signing

# See Also

  - pkg/connection for how dials fit the establishment ladder
  - pkg/message for envelope encoding and the Signer contract
  - pkg/errdefs for the network_request_failed error kind
*/
package netdriver
