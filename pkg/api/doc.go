/*
Package api exposes the gateway over HTTP.

Two surfaces share one listener. The management surface is consumed by
operators and the services sitting behind the gateway: network CRUD,
joining and inviting, admission decisions, message dispatch, the data
index and the user subsystem. The service surface is what other
gateways talk to: discovery, the admission handshake, and the three
peer transports.

# Architecture

	┌─────────────────────── API SERVER ────────────────────────┐
	│                                                            │
	│   /manage (operator)          /service (peers)             │
	│   ─────────────────           ────────────────             │
	│   networks CRUD               status, challenge            │
	│   networks/join|invite        networks (visible)           │
	│   requests + decide           requests (+poll)             │
	│   messages                    responses                    │
	│   index, users, mapping       message (HTTP push)          │
	│                               websocket (upgrade)          │
	│   /health /ready /metrics     event (SSE)                  │
	│                                                            │
	│   middleware: request log + prometheus per route template  │
	└────────────────────────────────────────────────────────────┘

Handlers stay thin: they parse, call one engine or connection manager
operation, and write the result. Protocol behaviour lives below this
package.

# Error Envelope

Failures are reported as `{"error": "..."}` with the status code of
the error's kind; unknown errors become 500. A 401 adds
`WWW-Authenticate: Signature realm="dedi-link"` naming the signature
scheme peers must use. Missing signatures are 401; signatures that
fail verification are 400, matching the admission protocol's view that
a forged envelope is a malformed request rather than a login failure.

# Signed Envelopes Over HTTP

Peer-to-peer posts carry the raw message JSON as the request body and
its signature in the Message-Signature header, so the exact signed
bytes travel unmodified. The same convention covers /service/requests,
/service/requests/{id}, /service/responses, /service/message and the
connect envelope opening /service/event.

Endpoints on the delivery path always answer with a JSON body, never a
bare 204: the sending driver decodes every response.

# Transports

GET /service/websocket upgrades and hands the socket to the connection
manager, which reads the signed connect frame itself; a failed
handshake surfaces as close code 4000 plus the error's HTTP status.
POST /service/event authenticates the connect envelope here, then
streams the peer's queued frames as `data:` events with comment pings
during idle gaps.

# See Also

  - pkg/gateway for the operations behind the handlers
  - pkg/connection for websocket and stream serving
  - pkg/errdefs for the status taxonomy
*/
package api
