package types

import (
	"encoding/json"
	"strings"
)

// ConnectivityType describes how a peer can currently be reached
type ConnectivityType string

const (
	ConnectivityOffline ConnectivityType = "offline"
	ConnectivityDirect  ConnectivityType = "direct"
	ConnectivityProxy   ConnectivityType = "proxy"
)

// TransportType identifies the live channel carrying messages to a peer
type TransportType string

const (
	TransportWebsocket TransportType = "websocket"
	TransportSSE       TransportType = "sse"
)

// MessageStatus tracks the lifecycle of an admission message.
// A status is terminal once it leaves pending.
type MessageStatus string

const (
	MessageStatusPending  MessageStatus = "pending"
	MessageStatusAccepted MessageStatus = "accepted"
	MessageStatusRejected MessageStatus = "rejected"
)

// PendingNetworkPrefix marks placeholder networks created while a join
// request awaits a decision. The placeholder is replaced atomically with
// the real network on acceptance.
const PendingNetworkPrefix = "pending-"

// Network represents one federation this gateway belongs to
type Network struct {
	ID          string   `json:"networkId"`
	Name        string   `json:"networkName"`
	Description string   `json:"description"`
	NodeIDs     []string `json:"nodeIds"`
	Visible     bool     `json:"visible"`
	Registered  bool     `json:"registered"`
	InstanceID  string   `json:"instanceId"`
	CentralNode string   `json:"centralNode,omitempty"`
}

// Centralised reports whether one dedicated member holds the network
// management private key.
func (n *Network) Centralised() bool {
	return n.CentralNode != ""
}

// Pending reports whether this is a placeholder created during an
// unanswered join request.
func (n *Network) Pending() bool {
	return strings.HasPrefix(n.ID, PendingNetworkPrefix)
}

// Node represents another member of a network. NodeID equals that
// member's instance ID within the network.
type Node struct {
	ID          string         `json:"nodeId"`
	Name        string         `json:"nodeName"`
	URL         string         `json:"nodeUrl"`
	Description string         `json:"description"`
	PublicKey   string         `json:"publicKey,omitempty"`
	DataIndex   map[string]any `json:"dataIndex,omitempty"`
	Score       float64        `json:"score,omitempty"`
	Approved    bool           `json:"approved,omitempty"`
}

// EquivalentTo reports whether two records describe the same node with
// the same identity fields. Volatile fields (score, data index,
// approval) are excluded so membership sync can detect real divergence.
func (n *Node) EquivalentTo(other *Node) bool {
	if other == nil {
		return false
	}
	return n.ID == other.ID &&
		n.Name == other.Name &&
		n.URL == other.URL &&
		n.Description == other.Description &&
		n.PublicKey == other.PublicKey
}

// ObserveDelivery folds a delivery outcome into the node's reliability
// score as an exponential moving average. factor is the weight of the
// newest observation.
func (n *Node) ObserveDelivery(success bool, factor float64) {
	obs := 0.0
	if success {
		obs = 1.0
	}
	n.Score = factor*obs + (1-factor)*n.Score
}

// Sanitised returns a copy safe to share with other network members:
// local bookkeeping (data index, approval) is stripped.
func (n *Node) Sanitised() *Node {
	c := *n
	c.DataIndex = nil
	c.Approved = false
	return &c
}

// Route records how a peer is currently reachable. At most one live
// route exists per node.
type Route struct {
	NetworkID    string           `json:"networkId"`
	NodeID       string           `json:"nodeId"`
	Connectivity ConnectivityType `json:"connectivityType"`
	Transport    TransportType    `json:"transportType,omitempty"`
	Outbound     bool             `json:"outbound"`
	ProxyNodes   []string         `json:"proxyNodes,omitempty"`
}

// AdmissionRecord retains an admission message for later inspection and
// out-of-band polling. Sent records carry the target URL; received
// records carry the decision response once made.
type AdmissionRecord struct {
	MessageID       string          `json:"messageId"`
	TargetURL       string          `json:"targetUrl,omitempty"`
	Request         json.RawMessage `json:"request"`
	Response        json.RawMessage `json:"response,omitempty"`
	RequiresPolling bool            `json:"requiresPolling,omitempty"`
	Status          MessageStatus   `json:"status"`
}

// User is a principal on whose behalf custom messages may be signed
type User struct {
	UserID    string `json:"userId"`
	PublicKey string `json:"publicKey,omitempty"`
}
