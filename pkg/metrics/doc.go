/*
Package metrics provides Prometheus metrics collection and exposition for
the gateway.

All metrics are defined as package-level variables and registered with the
default registry at init, so any package can instrument its hot path
without wiring. Gauges that describe stored state are sampled by the
Collector on a fixed interval; counters and histograms are updated inline
at the call sites they describe.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                          │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry               │          │
	│  │  - Global DefaultRegistry                  │          │
	│  │  - MustRegister at package init            │          │
	│  │  - Automatic Go runtime metrics            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                    │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                │          │
	│  │                                            │          │
	│  │  Federation: networks, nodes, peer links   │          │
	│  │  Admission: pending and processed requests │          │
	│  │  Messages: sent/received, failures, proxy  │          │
	│  │  Routing: lookups, lost peers              │          │
	│  │  Sync: gossip cycles and failures          │          │
	│  │  API: request count and duration           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                    │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint             │          │
	│  │  - Path: /metrics                          │          │
	│  │  - Format: Prometheus text exposition      │          │
	│  │  - Handler: promhttp.Handler()             │          │
	│  └────────────────────────────────────────────┘          │
	└──────────────────────────────────────────────────────────┘

# Metrics Catalog

Federation state, sampled every 15s by the Collector:

  - dedi_gateway_networks_total: registered networks
  - dedi_gateway_nodes_total{approved}: known peers by approval
  - dedi_gateway_peer_links: live transport loops
  - dedi_gateway_admission_pending{direction}: undecided admission requests

Counters updated inline:

  - dedi_gateway_admission_requests_total{direction}
  - dedi_gateway_messages_sent_total{type}
  - dedi_gateway_messages_received_total{type}
  - dedi_gateway_delivery_failures_total
  - dedi_gateway_proxy_forwards_total
  - dedi_gateway_route_lookups_total{outcome}: hit, found, miss
  - dedi_gateway_peers_lost_total
  - dedi_gateway_sync_cycles_total / dedi_gateway_sync_failures_total
  - dedi_gateway_api_requests_total{method, route, status}

Histograms:

  - dedi_gateway_api_request_duration_seconds{route}

# Usage

Updating metrics:

	import "github.com/Firefox2100/dedi-gateway/pkg/metrics"

	metrics.MessagesSent.WithLabelValues("syncNode").Inc()
	metrics.DeliveryFailures.Inc()

Timing an operation:

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.Observe(metrics.APIRequestDuration, "/manage/networks")

Exposing the endpoint:

	http.Handle("/metrics", metrics.Handler())

# Health Checking

The same package tracks component health. Subsystems report their
condition as it changes and Snapshot renders the aggregate for the
health endpoint:

	metrics.SetComponent("database", true, "")
	metrics.SetComponent("broker", false, "redis connection lost")

	report := metrics.Snapshot() // status, uptime, per-component detail

The serve command reports each subsystem as it comes up, and the
readiness probe refreshes the database condition on every poll.

# Label Discipline

Labels stay cardinality-bounded: message types come from a fixed catalog,
routes are mux path templates, and statuses are HTTP codes. Node and
network IDs never appear as label values.
*/
package metrics
