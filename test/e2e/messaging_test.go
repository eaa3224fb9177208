package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/Firefox2100/dedi-gateway/pkg/client"
	"github.com/Firefox2100/dedi-gateway/pkg/errdefs"
	"github.com/Firefox2100/dedi-gateway/pkg/types"
	"github.com/Firefox2100/dedi-gateway/test/framework"
)

// servedBy pulls the answering backend's name out of a correlated
// response envelope.
func servedBy(t *testing.T, envelope json.RawMessage) string {
	t.Helper()

	var payload struct {
		Data map[string]any `json:"messageData"`
	}
	if err := json.Unmarshal(envelope, &payload); err != nil {
		t.Fatalf("Failed to decode response envelope: %v", err)
	}
	name, _ := payload.Data["servedBy"].(string)
	return name
}

// TestEventStreamFallback blocks websocket upgrades on both gateway
// fronts, the way a load balancer that cannot carry upgrades does, and
// checks the connection ladder lands on an event stream that carries
// catalog messages both ways.
func TestEventStreamFallback(t *testing.T) {
	fed := framework.NewFederation(nil)
	defer fed.Stop()

	host, err := fed.AddGateway("museum")
	if err != nil {
		t.Fatalf("Failed to start host gateway: %v", err)
	}
	applicant, err := fed.AddGateway("annex")
	if err != nil {
		t.Fatalf("Failed to start applicant gateway: %v", err)
	}

	host.BlockWebsocket(true)
	applicant.BlockWebsocket(true)

	assert := framework.NewAssertions(t)
	waiter := framework.DefaultWaiter()
	ctx := context.Background()

	network, err := framework.CreateNetwork(host, "exhibits")
	if err != nil {
		t.Fatalf("Failed to create network: %v", err)
	}
	if _, err := framework.JoinAndApprove(ctx, applicant, host, network.ID); err != nil {
		t.Fatalf("Admission failed: %v", err)
	}

	hostID, err := host.InstanceID(network.ID)
	if err != nil {
		t.Fatalf("Failed to read host instance ID: %v", err)
	}
	applicantID, err := applicant.InstanceID(network.ID)
	if err != nil {
		t.Fatalf("Failed to read applicant instance ID: %v", err)
	}

	t.Run("StreamRouteEstablished", func(t *testing.T) {
		if err := waiter.WaitForRoute(ctx, applicant, hostID); err != nil {
			t.Fatalf("Applicant never reached the host: %v", err)
		}
		if err := waiter.WaitForRoute(ctx, host, applicantID); err != nil {
			t.Fatalf("Host never saw the applicant: %v", err)
		}
		assert.RouteTransport(applicant, hostID, types.TransportSSE)
		assert.RouteTransport(host, applicantID, types.TransportSSE)
	})

	t.Run("QueryDownTheStream", func(t *testing.T) {
		// Foreign curators resolve to one local service account on the
		// applicant's side.
		mapping := types.UserMapping{Type: types.UserMappingStatic, StaticID: "svc-archive"}
		if err := applicant.Client.SetUserMapping(mapping); err != nil {
			t.Fatalf("Failed to set user mapping: %v", err)
		}

		result, err := host.Client.SendMessage(client.SendOptions{
			NetworkID:  network.ID,
			Message:    "org.example.archive.fetch",
			TargetNode: applicantID,
			Data:       map[string]any{"specimen": "orchid-17"},
			UserID:     "curator@museum",
		})
		if err != nil {
			t.Fatalf("Send over event stream failed: %v", err)
		}
		if result.Delivered != 1 {
			t.Errorf("Expected 1 delivery, got %d", result.Delivered)
		}
		if len(result.Responses) != 1 {
			t.Fatalf("Expected 1 response, got %d", len(result.Responses))
		}
		if name := servedBy(t, result.Responses[0]); name != "annex" {
			t.Errorf("Expected the annex backend to answer, got %q", name)
		}

		requests := applicant.Backend.Requests()
		if len(requests) != 1 {
			t.Fatalf("Expected 1 forwarded request, got %d", len(requests))
		}
		if requests[0].UserID != "svc-archive" {
			t.Errorf("Expected the mapped principal svc-archive, got %q", requests[0].UserID)
		}
		if requests[0].Body["specimen"] != "orchid-17" {
			t.Errorf("Forwarded body lost the query payload: %v", requests[0].Body)
		}
	})

	t.Run("QueryUpThePost", func(t *testing.T) {
		// The applicant's route is outbound, so its traffic towards the
		// host travels as HTTP posts rather than stream events.
		result, err := applicant.Client.SendMessage(client.SendOptions{
			NetworkID:  network.ID,
			Message:    "org.example.archive.fetch",
			TargetNode: hostID,
			Data:       map[string]any{"specimen": "fern-3"},
		})
		if err != nil {
			t.Fatalf("Send towards the host failed: %v", err)
		}
		if result.Delivered != 1 {
			t.Errorf("Expected 1 delivery, got %d", result.Delivered)
		}
		if len(result.Responses) != 1 {
			t.Fatalf("Expected 1 response, got %d", len(result.Responses))
		}
		if name := servedBy(t, result.Responses[0]); name != "museum" {
			t.Errorf("Expected the museum backend to answer, got %q", name)
		}
	})
}

// TestBroadcastPartialDelivery broadcasts to a network where one
// approved member never came online, and checks the live members
// answer while the absent one only costs its delivery score.
func TestBroadcastPartialDelivery(t *testing.T) {
	fed := framework.NewFederation(nil)
	defer fed.Stop()

	host, err := fed.AddGateway("harbour")
	if err != nil {
		t.Fatalf("Failed to start host gateway: %v", err)
	}
	first, err := fed.AddGateway("vessel-a")
	if err != nil {
		t.Fatalf("Failed to start first peer: %v", err)
	}
	second, err := fed.AddGateway("vessel-b")
	if err != nil {
		t.Fatalf("Failed to start second peer: %v", err)
	}
	straggler, err := fed.AddNATGateway("vessel-c")
	if err != nil {
		t.Fatalf("Failed to start straggler: %v", err)
	}

	waiter := framework.DefaultWaiter()
	ctx := context.Background()

	network, err := framework.CreateNetwork(host, "manifest")
	if err != nil {
		t.Fatalf("Failed to create network: %v", err)
	}
	if _, err := framework.JoinAndApprove(ctx, first, host, network.ID); err != nil {
		t.Fatalf("First peer admission failed: %v", err)
	}
	if _, err := framework.JoinAndApprove(ctx, second, host, network.ID); err != nil {
		t.Fatalf("Second peer admission failed: %v", err)
	}

	// The straggler is approved but never collects the decision, so it
	// is a member on paper with no transport.
	record, err := framework.Join(straggler, host, network.ID, "late joiner")
	if err != nil {
		t.Fatalf("Straggler join failed: %v", err)
	}
	if err := host.Client.DecideRequest(record.MessageID, true, "welcome aboard"); err != nil {
		t.Fatalf("Failed to approve straggler: %v", err)
	}

	firstID, err := first.InstanceID(network.ID)
	if err != nil {
		t.Fatalf("Failed to read first peer instance ID: %v", err)
	}
	secondID, err := second.InstanceID(network.ID)
	if err != nil {
		t.Fatalf("Failed to read second peer instance ID: %v", err)
	}
	placeholder, err := straggler.Database.Networks().Get(types.PendingNetworkPrefix + network.ID)
	if err != nil {
		t.Fatalf("Straggler has no pending placeholder: %v", err)
	}
	stragglerID := placeholder.InstanceID

	if err := waiter.WaitForRoute(ctx, host, firstID); err != nil {
		t.Fatalf("First peer never connected: %v", err)
	}
	if err := waiter.WaitForRoute(ctx, host, secondID); err != nil {
		t.Fatalf("Second peer never connected: %v", err)
	}

	result, err := host.Client.SendMessage(client.SendOptions{
		NetworkID: network.ID,
		Message:   "org.example.archive.fetch",
		Broadcast: true,
		Data:      map[string]any{"query": "cargo"},
	})
	if err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	if result.Delivered != 2 {
		t.Errorf("Expected 2 deliveries, got %d", result.Delivered)
	}
	if len(result.Responses) != 2 {
		t.Fatalf("Expected 2 responses, got %d", len(result.Responses))
	}

	answered := map[string]bool{}
	for _, envelope := range result.Responses {
		answered[servedBy(t, envelope)] = true
	}
	if !answered["vessel-a"] || !answered["vessel-b"] {
		t.Errorf("Expected answers from both live peers, got %v", answered)
	}

	if count := straggler.Backend.Count(); count != 0 {
		t.Errorf("Straggler backend should see nothing, got %d requests", count)
	}

	// The failed delivery drags the straggler's reliability below the
	// peers that took the message.
	stragglerNode, err := host.Database.Nodes().Get(stragglerID)
	if err != nil {
		t.Fatalf("Host lost the straggler's record: %v", err)
	}
	firstNode, err := host.Database.Nodes().Get(firstID)
	if err != nil {
		t.Fatalf("Host lost the first peer's record: %v", err)
	}
	if stragglerNode.Score >= firstNode.Score {
		t.Errorf("Expected straggler score %.2f below peer score %.2f",
			stragglerNode.Score, firstNode.Score)
	}
}

// TestRelayRouteEviction seeds a proxy route through a relay, has the
// relay announce the path broken, and checks the route is evicted and
// later sends surface the disconnection instead of black-holing.
func TestRelayRouteEviction(t *testing.T) {
	fed := framework.NewFederation(nil)
	defer fed.Stop()

	lookout, err := fed.AddGateway("lookout")
	if err != nil {
		t.Fatalf("Failed to start lookout gateway: %v", err)
	}
	relay, err := fed.AddGateway("relay")
	if err != nil {
		t.Fatalf("Failed to start relay gateway: %v", err)
	}

	assert := framework.NewAssertions(t)
	waiter := framework.DefaultWaiter()
	ctx := context.Background()

	network, err := framework.CreateNetwork(lookout, "watchline")
	if err != nil {
		t.Fatalf("Failed to create network: %v", err)
	}
	if _, err := framework.JoinAndApprove(ctx, relay, lookout, network.ID); err != nil {
		t.Fatalf("Relay admission failed: %v", err)
	}

	relayID, err := relay.InstanceID(network.ID)
	if err != nil {
		t.Fatalf("Failed to read relay instance ID: %v", err)
	}
	if err := waiter.WaitForRoute(ctx, lookout, relayID); err != nil {
		t.Fatalf("Relay never connected: %v", err)
	}

	// A third member known only on paper, notionally reachable through
	// the relay.
	ghostID := uuid.NewString()
	ghost := &types.Node{
		ID:       ghostID,
		Name:     "outpost",
		URL:      "http://127.0.0.1:9/",
		Approved: true,
	}
	if err := lookout.Database.Networks().AddNode(network.ID, ghost); err != nil {
		t.Fatalf("Failed to seed the outpost record: %v", err)
	}
	if err := lookout.Cache.SaveRoute(ctx, &types.Route{
		NetworkID:    network.ID,
		NodeID:       ghostID,
		Connectivity: types.ConnectivityProxy,
		ProxyNodes:   []string{relayID},
	}); err != nil {
		t.Fatalf("Failed to seed the proxy route: %v", err)
	}
	assert.RouteExists(lookout, ghostID)

	t.Run("NotificationEvictsRoute", func(t *testing.T) {
		if err := relay.Engine.NotifyRouteBroken(ctx, network.ID, ghostID); err != nil {
			t.Fatalf("Route notification failed: %v", err)
		}
		if err := waiter.WaitForRouteGone(ctx, lookout, ghostID); err != nil {
			t.Fatalf("Proxy route survived the notification: %v", err)
		}
	})

	t.Run("SendFindsNoPath", func(t *testing.T) {
		_, err := lookout.Client.SendMessage(client.SendOptions{
			NetworkID:  network.ID,
			Message:    "org.example.archive.fetch",
			TargetNode: ghostID,
			Data:       map[string]any{"query": "status"},
		})
		if err == nil {
			t.Fatalf("Send to an unrouteable node should fail")
		}
		if status := errdefs.StatusOf(err); status != http.StatusServiceUnavailable {
			t.Errorf("Expected status 503, got %d: %v", status, err)
		}
		if !strings.Contains(err.Error(), ghostID) {
			t.Errorf("Expected the error to name the unreachable node: %v", err)
		}
	})
}
