package netdriver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Firefox2100/dedi-gateway/pkg/errdefs"
)

const handshakeTimeout = 10 * time.Second

// maxEventSize caps a single SSE line; envelopes carrying data index
// payloads can run long.
const maxEventSize = 1024 * 1024

// Stream opens a server-sent event stream by POSTing payload to rawURL
// and yields the data of each event with the "data:" prefix stripped.
// The line channel closes when the stream ends; a transport failure is
// delivered on the error channel first.
func (d *Driver) Stream(ctx context.Context, rawURL string, payload any, headers map[string]string) (<-chan string, <-chan error) {
	lines := make(chan string)
	errs := make(chan error, 1)

	body, err := json.Marshal(payload)
	if err != nil {
		errs <- err
		close(lines)
		return lines, errs
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		errs <- err
		close(lines)
		return lines, errs
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	go func() {
		defer close(lines)

		resp, err := d.streamClient.Do(req)
		if err != nil {
			errs <- errdefs.Wrap(errdefs.NetworkRequestFailed(
				fmt.Sprintf("failed to open event stream to %s", rawURL), 0), err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_, _ = io.Copy(io.Discard, resp.Body)
			errs <- errdefs.NetworkRequestFailed(
				fmt.Sprintf("event stream to %s failed with status code %d",
					rawURL, resp.StatusCode),
				resp.StatusCode)
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" {
				continue
			}

			select {
			case lines <- data:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			errs <- err
		}
	}()

	return lines, errs
}

// WebsocketURL derives the websocket endpoint from a peer's base URL.
func WebsocketURL(nodeURL string) (string, error) {
	parsed, err := url.Parse(nodeURL)
	if err != nil {
		return "", fmt.Errorf("invalid node URL %s: %w", nodeURL, err)
	}

	switch parsed.Scheme {
	case "http", "ws":
		parsed.Scheme = "ws"
	case "https", "wss":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid node URL scheme: %s", parsed.Scheme)
	}

	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/service/websocket"
	return parsed.String(), nil
}

// DialWebsocket connects to a peer's websocket endpoint.
func (d *Driver) DialWebsocket(ctx context.Context, nodeURL string) (*websocket.Conn, error) {
	wsURL, err := WebsocketURL(nodeURL)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
			_ = resp.Body.Close()
		}
		return nil, errdefs.Wrap(errdefs.NetworkRequestFailed(
			fmt.Sprintf("websocket dial to %s failed", wsURL), status), err)
	}

	return conn, nil
}
