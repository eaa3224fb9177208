package framework

import (
	"context"
	"fmt"

	"github.com/Firefox2100/dedi-gateway/pkg/client"
	"github.com/Firefox2100/dedi-gateway/pkg/types"
)

// ServerURL is the address the gateway actually listens on. It differs
// from URL for NAT gateways, whose advertised address is a black hole.
func (g *Gateway) ServerURL() string {
	return g.srv.URL
}

// InstanceID returns this gateway's member identity on a network. Every
// network membership carries its own instance ID.
func (g *Gateway) InstanceID(networkID string) (string, error) {
	network, err := g.Database.Networks().Get(networkID)
	if err != nil {
		return "", fmt.Errorf("gateway %s has no network %s: %w", g.ID, networkID, err)
	}
	return network.InstanceID, nil
}

// CreateNetwork provisions a visible decentralised network on the host
// gateway through its management API.
func CreateNetwork(host *Gateway, name string) (*types.Network, error) {
	network, err := host.Client.CreateNetwork(client.NetworkOptions{
		Name:        name,
		Description: "federation test network",
		Visible:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create network on %s: %w", host.ID, err)
	}
	return network, nil
}

// Join submits an admission request from applicant to host and returns
// the applicant's sent record.
func Join(applicant, host *Gateway, networkID, justification string) (*types.AdmissionRecord, error) {
	record, err := applicant.Client.JoinNetwork(host.ServerURL(), networkID, justification)
	if err != nil {
		return nil, fmt.Errorf("join from %s to %s failed: %w", applicant.ID, host.ID, err)
	}
	return record, nil
}

// JoinAndApprove drives a complete admission: the applicant requests,
// the host's operator approves, and when the host could not push the
// decision back the applicant collects it with one poll. On return the
// applicant is an approved member and connection establishment is under
// way in the background.
func JoinAndApprove(ctx context.Context, applicant, host *Gateway, networkID string) (*types.AdmissionRecord, error) {
	record, err := Join(applicant, host, networkID, "federation test join")
	if err != nil {
		return nil, err
	}

	if err := host.Client.DecideRequest(record.MessageID, true, "known test operator"); err != nil {
		return nil, fmt.Errorf("approval on %s failed: %w", host.ID, err)
	}

	if record.RequiresPolling {
		if err := applicant.Engine.PollPendingRequests(ctx); err != nil {
			return nil, fmt.Errorf("decision poll from %s failed: %w", applicant.ID, err)
		}
	}

	return record, nil
}
