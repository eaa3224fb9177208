/*
Package client provides a typed HTTP client for the gateway's
management API.

The CLI management commands are built on this package, and operators
embedding gateway control into their own tooling can use it directly.
It talks to the /manage surface of a running gateway, which is expected
to stay on a trusted interface; peer-facing traffic goes through
pkg/netdriver instead.

# Architecture

	┌──────────────── MANAGEMENT CLIENT ────────────────┐
	│                                                   │
	│  NewClient(addr) ── base URL + 10 s timeout       │
	│        │                                          │
	│        └── call(method, path, payload, out)       │
	│              │                                    │
	│              ├── 2xx ──── decode into out         │
	│              └── else ─── decode {"error": ...}   │
	│                           and surface the text    │
	└───────────────────────────────────────────────────┘

Every operation is one method on Client: network lifecycle, admission
requests and decisions, message sending, the data index, users and the
user mapping. Methods return the same structures the gateway stores,
so CLI output and API responses never drift apart.

# Error Handling

The management API wraps every failure in a JSON envelope with an
"error" field. call decodes that envelope and returns a
network_request_failed error carrying the remote status code and the
gateway's own wording, so an operator running a command sees the exact
reason the gateway refused it. Transport failures keep status 502.

# Usage

	c := client.NewClient("http://127.0.0.1:5321")

	networks, err := c.ListNetworks()
	if err != nil {
		return err
	}

	record, err := c.JoinNetwork("https://peer.example.com", "net-1", "trusted archive")
	if err != nil {
		return err
	}

	err = c.DecideRequest(record.MessageID, true, "known operator")

# See Also

  - pkg/api for the server side of every endpoint this client calls
  - pkg/types for the shared structures in requests and responses
  - pkg/errdefs for the network_request_failed error kind
*/
package client
