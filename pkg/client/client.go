package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Firefox2100/dedi-gateway/pkg/errdefs"
	"github.com/Firefox2100/dedi-gateway/pkg/types"
)

// requestTimeout bounds every management call.
const requestTimeout = 10 * time.Second

// Client wraps the gateway management API for CLI usage.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the gateway listening at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// call performs one management request. Error responses carry a JSON
// `{error}` envelope; its text is surfaced so the operator sees the
// gateway's own wording.
func (c *Client) call(method, path string, payload any, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errdefs.Wrap(errdefs.NetworkRequestFailed(
			fmt.Sprintf("%s %s", method, path), 0), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var envelope struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error != "" {
			return errdefs.NetworkRequestFailed(envelope.Error, resp.StatusCode)
		}
		return errdefs.NetworkRequestFailed(
			fmt.Sprintf("%s %s failed with status %d", method, path, resp.StatusCode),
			resp.StatusCode)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %v", err)
	}
	return nil
}

// Ready reports the gateway's readiness probe.
type Ready struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Ready fetches the readiness state of the gateway.
func (c *Client) Ready() (*Ready, error) {
	var ready Ready
	if err := c.call(http.MethodGet, "/ready", nil, &ready); err != nil {
		return nil, err
	}
	return &ready, nil
}

// NetworkOptions describe a network to create.
type NetworkOptions struct {
	Name        string `json:"networkName"`
	Description string `json:"description"`
	Visible     bool   `json:"visible"`
	Centralised bool   `json:"centralised"`
}

// NetworkPatch carries the operator-mutable network fields; nil fields
// stay unchanged.
type NetworkPatch struct {
	Name        *string `json:"networkName,omitempty"`
	Description *string `json:"description,omitempty"`
	Visible     *bool   `json:"visible,omitempty"`
}

// ListNetworks lists every network the gateway knows about.
func (c *Client) ListNetworks() ([]*types.Network, error) {
	var networks []*types.Network
	if err := c.call(http.MethodGet, "/manage/networks", nil, &networks); err != nil {
		return nil, err
	}
	return networks, nil
}

// GetNetwork fetches one network by id.
func (c *Client) GetNetwork(id string) (*types.Network, error) {
	var network types.Network
	if err := c.call(http.MethodGet, "/manage/networks/"+id, nil, &network); err != nil {
		return nil, err
	}
	return &network, nil
}

// CreateNetwork creates a network with this gateway as its first member.
func (c *Client) CreateNetwork(opts NetworkOptions) (*types.Network, error) {
	var network types.Network
	if err := c.call(http.MethodPost, "/manage/networks", opts, &network); err != nil {
		return nil, err
	}
	return &network, nil
}

// UpdateNetwork applies a patch to a network.
func (c *Client) UpdateNetwork(id string, patch NetworkPatch) (*types.Network, error) {
	var network types.Network
	if err := c.call(http.MethodPatch, "/manage/networks/"+id, patch, &network); err != nil {
		return nil, err
	}
	return &network, nil
}

// DeleteNetwork leaves a network and tears down its membership state.
func (c *Client) DeleteNetwork(id string) error {
	return c.call(http.MethodDelete, "/manage/networks/"+id, nil, nil)
}

type admissionOptions struct {
	TargetURL     string `json:"targetUrl"`
	NetworkID     string `json:"networkId"`
	Justification string `json:"justification"`
}

// JoinNetwork asks the gateway at targetURL for admission to one of its
// networks.
func (c *Client) JoinNetwork(targetURL, networkID, justification string) (*types.AdmissionRecord, error) {
	var record types.AdmissionRecord
	opts := admissionOptions{TargetURL: targetURL, NetworkID: networkID, Justification: justification}
	if err := c.call(http.MethodPost, "/manage/networks/join", opts, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// InviteNode invites the gateway at targetURL into a network this
// gateway is a member of.
func (c *Client) InviteNode(targetURL, networkID, justification string) (*types.AdmissionRecord, error) {
	var record types.AdmissionRecord
	opts := admissionOptions{TargetURL: targetURL, NetworkID: networkID, Justification: justification}
	if err := c.call(http.MethodPost, "/manage/networks/invite", opts, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// ListRequests lists admission requests. sent filters by direction when
// non-nil; statuses filters by state when non-empty.
func (c *Client) ListRequests(sent *bool, statuses []string) ([]*types.AdmissionRecord, error) {
	query := url.Values{}
	if sent != nil {
		query.Set("sent", fmt.Sprintf("%t", *sent))
	}
	if len(statuses) > 0 {
		query.Set("status", strings.Join(statuses, ","))
	}

	path := "/manage/requests"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var records []*types.AdmissionRecord
	if err := c.call(http.MethodGet, path, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// DecideRequest approves or rejects a pending admission request.
func (c *Client) DecideRequest(id string, approve bool, justification string) error {
	payload := map[string]any{"approve": approve, "justification": justification}
	return c.call(http.MethodPatch, "/manage/requests/"+id, payload, nil)
}

// SendOptions describe a message dispatch.
type SendOptions struct {
	NetworkID  string         `json:"networkId"`
	Message    string         `json:"message"`
	TargetNode string         `json:"targetNode,omitempty"`
	Broadcast  bool           `json:"broadcast,omitempty"`
	Data       map[string]any `json:"data"`
	UserID     string         `json:"userId,omitempty"`
}

// SendResult reports how a dispatch went.
type SendResult struct {
	Delivered int               `json:"deliveredCount"`
	Responses []json.RawMessage `json:"responses,omitempty"`
}

// SendMessage dispatches a catalog-defined message to one peer or to
// every connected member of the network.
func (c *Client) SendMessage(opts SendOptions) (*SendResult, error) {
	var result SendResult
	if err := c.call(http.MethodPost, "/manage/messages", opts, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DataIndex fetches the gateway's advertised data index.
func (c *Client) DataIndex() (map[string]any, error) {
	var index map[string]any
	if err := c.call(http.MethodGet, "/manage/index", nil, &index); err != nil {
		return nil, err
	}
	return index, nil
}

// SetDataIndex replaces the gateway's advertised data index.
func (c *Client) SetDataIndex(index map[string]any) error {
	return c.call(http.MethodPut, "/manage/index", index, nil)
}

// ListUsers lists the registered users.
func (c *Client) ListUsers() ([]*types.User, error) {
	var users []*types.User
	if err := c.call(http.MethodGet, "/manage/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// CreateUser registers a user and returns it with the generated public
// key.
func (c *Client) CreateUser(userID string) (*types.User, error) {
	var user types.User
	payload := map[string]string{"userId": userID}
	if err := c.call(http.MethodPost, "/manage/users", payload, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// DeleteUser removes a user record.
func (c *Client) DeleteUser(userID string) error {
	return c.call(http.MethodDelete, "/manage/users/"+userID, nil, nil)
}

// UserMapping fetches the configured user id mapping.
func (c *Client) UserMapping() (*types.UserMapping, error) {
	var mapping types.UserMapping
	if err := c.call(http.MethodGet, "/manage/users/mapping", nil, &mapping); err != nil {
		return nil, err
	}
	return &mapping, nil
}

// SetUserMapping replaces the user id mapping.
func (c *Client) SetUserMapping(mapping types.UserMapping) error {
	return c.call(http.MethodPut, "/manage/users/mapping", mapping, nil)
}
