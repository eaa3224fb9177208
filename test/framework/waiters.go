package framework

import (
	"context"
	"fmt"
	"time"

	"github.com/Firefox2100/dedi-gateway/pkg/types"
)

// Waiter polls gateway state until a condition holds or a deadline
// passes. The default tuning suits in-process federations, where state
// settles in milliseconds rather than seconds.
type Waiter struct {
	Timeout  time.Duration
	Interval time.Duration
}

// DefaultWaiter returns a waiter tuned for in-process federations.
func DefaultWaiter() *Waiter {
	return &Waiter{
		Timeout:  10 * time.Second,
		Interval: 25 * time.Millisecond,
	}
}

// WaitFor polls condition until it holds. The failure message names
// what was being waited on, since the caller's t.Fatalf only sees this
// error.
func (w *Waiter) WaitFor(ctx context.Context, condition func() bool, what string) error {
	deadline := time.Now().Add(w.Timeout)
	for {
		if condition() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("gave up after %v waiting for %s", w.Timeout, what)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("cancelled waiting for %s: %w", what, ctx.Err())
		case <-time.After(w.Interval):
		}
	}
}

// WaitForRoute waits for a gateway to hold a live route to a node.
func (w *Waiter) WaitForRoute(ctx context.Context, g *Gateway, nodeID string) error {
	return w.WaitFor(ctx, func() bool {
		route, err := g.Cache.GetRoute(ctx, nodeID)
		return err == nil && route != nil
	}, fmt.Sprintf("gateway %s to hold a route to %s", g.ID, nodeID))
}

// WaitForRouteGone waits for a gateway's route to a node to be evicted.
func (w *Waiter) WaitForRouteGone(ctx context.Context, g *Gateway, nodeID string) error {
	return w.WaitFor(ctx, func() bool {
		route, err := g.Cache.GetRoute(ctx, nodeID)
		return err == nil && route == nil
	}, fmt.Sprintf("gateway %s to drop its route to %s", g.ID, nodeID))
}

// WaitForApprovedNode waits for a gateway to know a node as an approved
// member.
func (w *Waiter) WaitForApprovedNode(ctx context.Context, g *Gateway, nodeID string) error {
	return w.WaitFor(ctx, func() bool {
		node, err := g.Database.Nodes().Get(nodeID)
		return err == nil && node.Approved
	}, fmt.Sprintf("gateway %s to approve node %s", g.ID, nodeID))
}

// WaitForNetworkRegistered waits for a gateway's membership of a
// network to be effective.
func (w *Waiter) WaitForNetworkRegistered(ctx context.Context, g *Gateway, networkID string) error {
	return w.WaitFor(ctx, func() bool {
		network, err := g.Database.Networks().Get(networkID)
		return err == nil && network.Registered
	}, fmt.Sprintf("gateway %s to register network %s", g.ID, networkID))
}

// WaitForSentRecordStatus waits for a sent admission record to reach a
// status.
func (w *Waiter) WaitForSentRecordStatus(ctx context.Context, g *Gateway, messageID string, status types.MessageStatus) error {
	return w.WaitFor(ctx, func() bool {
		record, err := g.Database.Messages().GetSentRequest(messageID)
		return err == nil && record.Status == status
	}, fmt.Sprintf("sent record %s on %s to be %s", messageID, g.ID, status))
}

// WaitForReceivedRecordStatus waits for a received admission record to
// reach a status.
func (w *Waiter) WaitForReceivedRecordStatus(ctx context.Context, g *Gateway, messageID string, status types.MessageStatus) error {
	return w.WaitFor(ctx, func() bool {
		record, err := g.Database.Messages().GetReceivedRequest(messageID)
		return err == nil && record.Status == status
	}, fmt.Sprintf("received record %s on %s to be %s", messageID, g.ID, status))
}

// WaitForBackendRequests waits for a gateway's backend to have received
// a number of forwarded messages.
func (w *Waiter) WaitForBackendRequests(ctx context.Context, g *Gateway, count int) error {
	return w.WaitFor(ctx, func() bool {
		return g.Backend.Count() >= count
	}, fmt.Sprintf("backend of %s to receive %d requests", g.ID, count))
}

// WaitForDataIndexKey waits for a node's advertised data index, as
// stored on this gateway, to carry a key with the given value.
func (w *Waiter) WaitForDataIndexKey(ctx context.Context, g *Gateway, nodeID, key string, value any) error {
	return w.WaitFor(ctx, func() bool {
		node, err := g.Database.Nodes().Get(nodeID)
		if err != nil || node.DataIndex == nil {
			return false
		}
		return node.DataIndex[key] == value
	}, fmt.Sprintf("gateway %s to hold index key %s of node %s", g.ID, key, nodeID))
}
