package message

import (
	"encoding/json"

	"github.com/Firefox2100/dedi-gateway/pkg/types"
)

// Challenge is a proof-of-work statement and its claimed solution.
type Challenge struct {
	Nonce    string `json:"nonce"`
	Solution uint64 `json:"solution"`
}

// ManagementKey carries a network management public key, plus the
// private half when the network is decentralised and every member holds
// it.
type ManagementKey struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey,omitempty"`
}

// SyncTarget selects what a SyncRequest asks for.
type SyncTarget string

const (
	// SyncTargetInstance asks a node for its own record only
	SyncTargetInstance SyncTarget = "instance"
	// SyncTargetNetwork asks a node for every member it knows
	SyncTargetNetwork SyncTarget = "network"
)

// AuthRequest asks to join a network the requester discovered.
type AuthRequest struct {
	MessageType   Type        `json:"messageType"`
	Metadata      Metadata    `json:"metadata"`
	Node          *types.Node `json:"node"`
	Challenge     Challenge   `json:"challenge"`
	Justification string      `json:"justification"`
}

func NewAuthRequest(meta Metadata, node *types.Node, challenge Challenge, justification string) *AuthRequest {
	return &AuthRequest{
		MessageType:   TypeAuthRequest,
		Metadata:      meta,
		Node:          node,
		Challenge:     challenge,
		Justification: justification,
	}
}

func (m *AuthRequest) Type() Type     { return m.MessageType }
func (m *AuthRequest) Meta() Metadata { return m.Metadata }

// AuthInvite offers membership of an existing network to another node.
type AuthInvite struct {
	MessageType   Type           `json:"messageType"`
	Metadata      Metadata       `json:"metadata"`
	Node          *types.Node    `json:"node"`
	Network       *types.Network `json:"network"`
	Challenge     Challenge      `json:"challenge"`
	Justification string         `json:"justification"`
	ManagementKey *ManagementKey `json:"managementKey,omitempty"`
}

func NewAuthInvite(meta Metadata, node *types.Node, network *types.Network, challenge Challenge, justification string, key *ManagementKey) *AuthInvite {
	return &AuthInvite{
		MessageType:   TypeAuthInvite,
		Metadata:      meta,
		Node:          node,
		Network:       network,
		Challenge:     challenge,
		Justification: justification,
		ManagementKey: key,
	}
}

func (m *AuthInvite) Type() Type     { return m.MessageType }
func (m *AuthInvite) Meta() Metadata { return m.Metadata }

// AuthRequestResponse answers an AuthRequest. Approved responses carry
// the full network record and the management key material.
type AuthRequestResponse struct {
	MessageType   Type           `json:"messageType"`
	Metadata      Metadata       `json:"metadata"`
	Approved      bool           `json:"approved"`
	Node          *types.Node    `json:"node,omitempty"`
	Network       *types.Network `json:"network,omitempty"`
	Justification string         `json:"justification,omitempty"`
	ManagementKey *ManagementKey `json:"managementKey,omitempty"`
}

func NewAuthRequestResponse(meta Metadata, approved bool, node *types.Node, network *types.Network, justification string, key *ManagementKey) *AuthRequestResponse {
	return &AuthRequestResponse{
		MessageType:   TypeAuthRequestResponse,
		Metadata:      meta,
		Approved:      approved,
		Node:          node,
		Network:       network,
		Justification: justification,
		ManagementKey: key,
	}
}

func (m *AuthRequestResponse) Type() Type     { return m.MessageType }
func (m *AuthRequestResponse) Meta() Metadata { return m.Metadata }

// AuthInviteResponse answers an AuthInvite.
type AuthInviteResponse struct {
	MessageType   Type        `json:"messageType"`
	Metadata      Metadata    `json:"metadata"`
	Approved      bool        `json:"approved"`
	Node          *types.Node `json:"node,omitempty"`
	Justification string      `json:"justification,omitempty"`
}

func NewAuthInviteResponse(meta Metadata, approved bool, node *types.Node, justification string) *AuthInviteResponse {
	return &AuthInviteResponse{
		MessageType:   TypeAuthInviteResponse,
		Metadata:      meta,
		Approved:      approved,
		Node:          node,
		Justification: justification,
	}
}

func (m *AuthInviteResponse) Type() Type     { return m.MessageType }
func (m *AuthInviteResponse) Meta() Metadata { return m.Metadata }

// AuthConnect identifies a node opening a persistent channel. The
// metadata alone names the connecting instance.
type AuthConnect struct {
	MessageType Type     `json:"messageType"`
	Metadata    Metadata `json:"metadata"`
}

func NewAuthConnect(meta Metadata) *AuthConnect {
	return &AuthConnect{MessageType: TypeAuthConnect, Metadata: meta}
}

func (m *AuthConnect) Type() Type     { return m.MessageType }
func (m *AuthConnect) Meta() Metadata { return m.Metadata }

// SyncNode gossips the sender's view of network membership.
type SyncNode struct {
	MessageType Type          `json:"messageType"`
	Metadata    Metadata      `json:"metadata"`
	Nodes       []*types.Node `json:"nodes"`
}

func NewSyncNode(meta Metadata, nodes []*types.Node) *SyncNode {
	return &SyncNode{MessageType: TypeSyncNode, Metadata: meta, Nodes: nodes}
}

func (m *SyncNode) Type() Type     { return m.MessageType }
func (m *SyncNode) Meta() Metadata { return m.Metadata }

// SyncIndex gossips the sender's data index.
type SyncIndex struct {
	MessageType Type           `json:"messageType"`
	Metadata    Metadata       `json:"metadata"`
	DataIndex   map[string]any `json:"dataIndex"`
}

func NewSyncIndex(meta Metadata, dataIndex map[string]any) *SyncIndex {
	return &SyncIndex{MessageType: TypeSyncIndex, Metadata: meta, DataIndex: dataIndex}
}

func (m *SyncIndex) Type() Type     { return m.MessageType }
func (m *SyncIndex) Meta() Metadata { return m.Metadata }

// SyncRequest asks a node to report either its own record or its whole
// membership view; the reply is a SyncNode correlated by message ID.
type SyncRequest struct {
	MessageType Type       `json:"messageType"`
	Metadata    Metadata   `json:"metadata"`
	Target      SyncTarget `json:"target"`
}

func NewSyncRequest(meta Metadata, target SyncTarget) *SyncRequest {
	return &SyncRequest{MessageType: TypeSyncRequest, Metadata: meta, Target: target}
}

func (m *SyncRequest) Type() Type     { return m.MessageType }
func (m *SyncRequest) Meta() Metadata { return m.Metadata }

// RouteRequest asks network members for a relay path to a target node.
type RouteRequest struct {
	MessageType Type     `json:"messageType"`
	Metadata    Metadata `json:"metadata"`
	TargetNode  string   `json:"targetNode"`
}

func NewRouteRequest(meta Metadata, targetNode string) *RouteRequest {
	return &RouteRequest{MessageType: TypeRouteRequest, Metadata: meta, TargetNode: targetNode}
}

func (m *RouteRequest) Type() Type     { return m.MessageType }
func (m *RouteRequest) Meta() Metadata { return m.Metadata }

// RouteResponse reports a relay path. An empty route means the
// responder cannot reach the target either.
type RouteResponse struct {
	MessageType Type     `json:"messageType"`
	Metadata    Metadata `json:"metadata"`
	TargetNode  string   `json:"targetNode"`
	Route       []string `json:"route"`
}

func NewRouteResponse(meta Metadata, targetNode string, route []string) *RouteResponse {
	return &RouteResponse{MessageType: TypeRouteResponse, Metadata: meta, TargetNode: targetNode, Route: route}
}

func (m *RouteResponse) Type() Type     { return m.MessageType }
func (m *RouteResponse) Meta() Metadata { return m.Metadata }

// RouteNotification announces that a previously working path through
// the sender towards the target no longer works.
type RouteNotification struct {
	MessageType Type     `json:"messageType"`
	Metadata    Metadata `json:"metadata"`
	TargetNode  string   `json:"targetNode"`
}

func NewRouteNotification(meta Metadata, targetNode string) *RouteNotification {
	return &RouteNotification{MessageType: TypeRouteNotification, Metadata: meta, TargetNode: targetNode}
}

func (m *RouteNotification) Type() Type     { return m.MessageType }
func (m *RouteNotification) Meta() Metadata { return m.Metadata }

// Proxy wraps a sealed frame for relaying. Hops pop themselves off the
// chain and forward; the inner frame is never re-serialised so the
// terminal node can verify the origin signature bit for bit.
type Proxy struct {
	MessageType Type            `json:"messageType"`
	Metadata    Metadata        `json:"metadata"`
	Message     json.RawMessage `json:"message"`
	ProxyChain  []string        `json:"proxyChain"`
}

func NewProxy(meta Metadata, sealed *Signed, chain []string) (*Proxy, error) {
	raw, err := sealed.Encode()
	if err != nil {
		return nil, err
	}
	return &Proxy{
		MessageType: TypeProxy,
		Metadata:    meta,
		Message:     raw,
		ProxyChain:  chain,
	}, nil
}

func (m *Proxy) Type() Type     { return m.MessageType }
func (m *Proxy) Meta() Metadata { return m.Metadata }

// Inner returns the wrapped signed frame.
func (m *Proxy) Inner() (*Signed, error) {
	return DecodeSigned(m.Message)
}

// Custom is a catalog-defined application message. The tag is the
// fully-qualified catalog id; the body and headers are opaque to the
// protocol layer.
type Custom struct {
	MessageType Type              `json:"messageType"`
	Metadata    Metadata          `json:"metadata"`
	Data        map[string]any    `json:"messageData,omitempty"`
	Headers     map[string]string `json:"messageHeader,omitempty"`
	UserID      string            `json:"userId,omitempty"`
}

func NewCustom(meta Metadata, messageType string, data map[string]any) *Custom {
	return &Custom{
		MessageType: Type(messageType),
		Metadata:    meta,
		Data:        data,
	}
}

func (m *Custom) Type() Type     { return m.MessageType }
func (m *Custom) Meta() Metadata { return m.Metadata }
