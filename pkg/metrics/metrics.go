package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Federation metrics
	NetworksTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dedi_gateway_networks_total",
			Help: "Total number of networks this gateway is registered with",
		},
	)

	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dedi_gateway_nodes_total",
			Help: "Total number of known peer nodes by approval status",
		},
		[]string{"approved"},
	)

	PeerLinks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dedi_gateway_peer_links",
			Help: "Number of live transport loops to peers",
		},
	)

	// Admission metrics
	AdmissionPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dedi_gateway_admission_pending",
			Help: "Admission requests awaiting a decision by direction",
		},
		[]string{"direction"},
	)

	AdmissionRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedi_gateway_admission_requests_total",
			Help: "Total admission requests by direction",
		},
		[]string{"direction"},
	)

	// Message metrics
	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedi_gateway_messages_sent_total",
			Help: "Total messages sent to peers by type",
		},
		[]string{"type"},
	)

	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedi_gateway_messages_received_total",
			Help: "Total messages received from peers by type",
		},
		[]string{"type"},
	)

	DeliveryFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dedi_gateway_delivery_failures_total",
			Help: "Total message deliveries that failed",
		},
	)

	ProxyForwards = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dedi_gateway_proxy_forwards_total",
			Help: "Total proxied frames relayed on behalf of other nodes",
		},
	)

	// Routing metrics
	RouteLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedi_gateway_route_lookups_total",
			Help: "Total relayed route discoveries by outcome",
		},
		[]string{"outcome"},
	)

	PeersLost = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dedi_gateway_peers_lost_total",
			Help: "Total peers whose every transport failed",
		},
	)

	// Sync metrics
	SyncCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dedi_gateway_sync_cycles_total",
			Help: "Total gossip sync cycles completed",
		},
	)

	SyncFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dedi_gateway_sync_failures_total",
			Help: "Total gossip sync cycles that failed",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedi_gateway_api_requests_total",
			Help: "Total API requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dedi_gateway_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(NetworksTotal)
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(PeerLinks)
	prometheus.MustRegister(AdmissionPending)
	prometheus.MustRegister(AdmissionRequests)
	prometheus.MustRegister(MessagesSent)
	prometheus.MustRegister(MessagesReceived)
	prometheus.MustRegister(DeliveryFailures)
	prometheus.MustRegister(ProxyForwards)
	prometheus.MustRegister(RouteLookups)
	prometheus.MustRegister(PeersLost)
	prometheus.MustRegister(SyncCycles)
	prometheus.MustRegister(SyncFailures)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
