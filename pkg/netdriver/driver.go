package netdriver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Firefox2100/dedi-gateway/pkg/errdefs"
	"github.com/Firefox2100/dedi-gateway/pkg/message"
)

const (
	// probeTimeout bounds every stage of a connectivity probe.
	probeTimeout = 2 * time.Second

	// requestTimeout bounds ordinary request/response exchanges.
	requestTimeout = 30 * time.Second
)

// Driver performs all outbound HTTP traffic to peer gateways.
type Driver struct {
	client *http.Client

	// streamClient has no overall timeout so long-lived SSE streams
	// are not cut off mid-connection.
	streamClient *http.Client

	// allowPrivate disables the address guard on connectivity probes
	// so peers on loopback and RFC 1918 ranges count as reachable.
	allowPrivate bool
}

// NewDriver creates a driver with shared clients for request and
// streaming traffic.
func NewDriver() *Driver {
	return &Driver{
		client: &http.Client{
			Timeout: requestTimeout,
		},
		streamClient: &http.Client{},
	}
}

// NewPrivateDriver creates a driver that treats loopback and private
// addresses as reachable peers. Federations confined to a LAN or a lab
// need this; facing the open internet the guard should stay on.
func NewPrivateDriver() *Driver {
	d := NewDriver()
	d.allowPrivate = true
	return d
}

// isForbiddenAddress reports whether dialling ip would reach a
// loopback, private, link-local or reserved destination.
func isForbiddenAddress(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() {
		return true
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() {
		return true
	}
	// 240.0.0.0/4 is reserved for future use
	if ip4 := ip.To4(); ip4 != nil && ip4[0] >= 240 {
		return true
	}
	return false
}

// CheckConnectivity probes rawURL with a short GET. The host must
// resolve to a public address unless the driver allows private peers;
// loopback, private, link-local and reserved destinations are refused
// without issuing a request. Only an HTTP 200 counts as reachable.
func (d *Driver) CheckConnectivity(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}

	host := parsed.Hostname()
	if host == "" {
		return false
	}

	resolveCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	addrs, err := net.DefaultResolver.LookupIPAddr(resolveCtx, host)
	if err != nil || len(addrs) == 0 {
		return false
	}
	if !d.allowPrivate {
		for _, addr := range addrs {
			if isForbiddenAddress(addr.IP) {
				return false
			}
		}
	}

	// Fresh client so a malicious endpoint cannot poison the shared
	// connection pool, no redirects so the probe cannot be bounced
	// somewhere else.
	probe := &http.Client{
		Timeout: probeTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
		Transport: &http.Transport{
			DisableKeepAlives:  true,
			DisableCompression: true,
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := probe.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

// CheckNodeConnectivity probes a peer gateway through its status
// endpoint.
func (d *Driver) CheckNodeConnectivity(ctx context.Context, nodeURL string) bool {
	target := fmt.Sprintf("%s/service/status", strings.TrimRight(nodeURL, "/"))
	return d.CheckConnectivity(ctx, target)
}

// GetJSON issues a GET and decodes the JSON response into out.
func (d *Driver) GetJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return errdefs.Wrap(errdefs.NetworkRequestFailed(
			fmt.Sprintf("failed to build GET request to %s", rawURL), 0), err)
	}
	req.Header.Set("Accept", "application/json")

	return d.do(req, rawURL, out)
}

// PostJSON issues a POST with a JSON body and decodes the JSON
// response into out. A nil payload sends an empty object.
func (d *Driver) PostJSON(ctx context.Context, rawURL string, payload any, out any) error {
	return d.post(ctx, rawURL, payload, nil, out)
}

// PostWithHeaders is PostJSON with additional request headers, used
// when forwarding custom message bodies to their local destinations.
func (d *Driver) PostWithHeaders(ctx context.Context, rawURL string, payload any, headers map[string]string, out any) error {
	return d.post(ctx, rawURL, payload, headers, out)
}

func (d *Driver) post(ctx context.Context, rawURL string, payload any, headers map[string]string, out any) error {
	if payload == nil {
		payload = struct{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return errdefs.Wrap(errdefs.NetworkRequestFailed(
			fmt.Sprintf("failed to encode POST payload for %s", rawURL), 0), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return errdefs.Wrap(errdefs.NetworkRequestFailed(
			fmt.Sprintf("failed to build POST request to %s", rawURL), 0), err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return d.do(req, rawURL, out)
}

// PostMessage signs and delivers an envelope. The signature covers the
// exact bytes sent on the wire and travels in the Message-Signature
// header. The decoded JSON response is returned.
func (d *Driver) PostMessage(ctx context.Context, msg message.Message, rawURL string, signer message.Signer) (json.RawMessage, error) {
	payload, err := message.Encode(msg)
	if err != nil {
		return nil, err
	}

	signature, err := signer.SignPayload(ctx, payload, msg.Meta().NetworkID)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(payload))
	if err != nil {
		return nil, errdefs.Wrap(errdefs.NetworkRequestFailed(
			fmt.Sprintf("failed to build POST request to %s", rawURL), 0), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Message-Signature", signature)

	var out json.RawMessage
	if err := d.do(req, rawURL, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PostFrame delivers an already-signed envelope without re-serialising
// it, preserving the exact bytes the original signature covers.
func (d *Driver) PostFrame(ctx context.Context, frame *message.Signed, rawURL string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(frame.Message))
	if err != nil {
		return nil, errdefs.Wrap(errdefs.NetworkRequestFailed(
			fmt.Sprintf("failed to build POST request to %s", rawURL), 0), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Message-Signature", frame.Signature)

	var out json.RawMessage
	if err := d.do(req, rawURL, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// do executes the request, maps non-2xx responses to
// network_request_failed, and decodes the body into out when non-nil.
func (d *Driver) do(req *http.Request, rawURL string, out any) error {
	resp, err := d.client.Do(req)
	if err != nil {
		return errdefs.Wrap(errdefs.NetworkRequestFailed(
			fmt.Sprintf("%s request to %s failed", req.Method, rawURL), 0), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return errdefs.NetworkRequestFailed(
			fmt.Sprintf("%s request to %s failed with status code %d",
				req.Method, rawURL, resp.StatusCode),
			resp.StatusCode)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errdefs.Wrap(errdefs.NetworkRequestFailed(
			fmt.Sprintf("failed to decode response from %s", rawURL), 0), err)
	}
	return nil
}
