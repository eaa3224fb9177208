package framework

import (
	"context"

	"github.com/Firefox2100/dedi-gateway/pkg/types"
)

// Assertions provides test assertion helpers
type Assertions struct {
	t TestingT
}

// NewAssertions creates a new Assertions instance
func NewAssertions(t TestingT) *Assertions {
	return &Assertions{t: t}
}

// NetworkRegistered asserts that a gateway is an effective member of a
// network, with no pending placeholder left behind
func (a *Assertions) NetworkRegistered(g *Gateway, networkID string) {
	a.t.Helper()

	network, err := g.Database.Networks().Get(networkID)
	if err != nil {
		a.t.Fatalf("Gateway %s has no network %s: %v", g.ID, networkID, err)
	}
	if !network.Registered {
		a.t.Fatalf("Gateway %s holds network %s unregistered", g.ID, networkID)
	}

	if _, err := g.Database.Networks().Get(types.PendingNetworkPrefix + networkID); err == nil {
		a.t.Fatalf("Gateway %s still holds the pending placeholder for %s", g.ID, networkID)
	}
}

// NodeApproved asserts that a gateway knows a node as an approved
// member
func (a *Assertions) NodeApproved(g *Gateway, nodeID string) {
	a.t.Helper()

	node, err := g.Database.Nodes().Get(nodeID)
	if err != nil {
		a.t.Fatalf("Gateway %s does not know node %s: %v", g.ID, nodeID, err)
	}
	if !node.Approved {
		a.t.Fatalf("Gateway %s holds node %s unapproved", g.ID, nodeID)
	}
}

// RouteExists asserts that a gateway holds a live route to a node
func (a *Assertions) RouteExists(g *Gateway, nodeID string) *types.Route {
	a.t.Helper()

	route, err := g.Cache.GetRoute(context.Background(), nodeID)
	if err != nil {
		a.t.Fatalf("Failed to read route to %s on %s: %v", nodeID, g.ID, err)
	}
	if route == nil {
		a.t.Fatalf("Gateway %s has no route to %s", g.ID, nodeID)
	}
	return route
}

// RouteAbsent asserts that a gateway holds no route to a node
func (a *Assertions) RouteAbsent(g *Gateway, nodeID string) {
	a.t.Helper()

	route, err := g.Cache.GetRoute(context.Background(), nodeID)
	if err != nil {
		a.t.Fatalf("Failed to read route to %s on %s: %v", nodeID, g.ID, err)
	}
	if route != nil {
		a.t.Fatalf("Gateway %s still routes to %s over %s", g.ID, nodeID, route.Transport)
	}
}

// RouteTransport asserts a route exists and runs over the expected
// transport
func (a *Assertions) RouteTransport(g *Gateway, nodeID string, transport types.TransportType) {
	a.t.Helper()

	route := a.RouteExists(g, nodeID)
	if route.Transport != transport {
		a.t.Fatalf("Route from %s to %s runs over %s, expected %s",
			g.ID, nodeID, route.Transport, transport)
	}
}

// SentRecordStatus asserts the status of a sent admission record
func (a *Assertions) SentRecordStatus(g *Gateway, messageID string, status types.MessageStatus) {
	a.t.Helper()

	record, err := g.Database.Messages().GetSentRequest(messageID)
	if err != nil {
		a.t.Fatalf("Gateway %s has no sent record %s: %v", g.ID, messageID, err)
	}
	if record.Status != status {
		a.t.Fatalf("Sent record %s on %s is %s, expected %s", messageID, g.ID, record.Status, status)
	}
}

// ReceivedRecordStatus asserts the status of a received admission
// record
func (a *Assertions) ReceivedRecordStatus(g *Gateway, messageID string, status types.MessageStatus) {
	a.t.Helper()

	record, err := g.Database.Messages().GetReceivedRequest(messageID)
	if err != nil {
		a.t.Fatalf("Gateway %s has no received record %s: %v", g.ID, messageID, err)
	}
	if record.Status != status {
		a.t.Fatalf("Received record %s on %s is %s, expected %s", messageID, g.ID, record.Status, status)
	}
}

// NoReceivedRecords asserts that a gateway holds no received admission
// records at all
func (a *Assertions) NoReceivedRecords(g *Gateway) {
	a.t.Helper()

	sent := false
	records, err := g.Database.Messages().GetRequests(&sent, nil)
	if err != nil {
		a.t.Fatalf("Failed to list received records on %s: %v", g.ID, err)
	}
	if len(records) != 0 {
		a.t.Fatalf("Gateway %s holds %d received records, expected none", g.ID, len(records))
	}
}
