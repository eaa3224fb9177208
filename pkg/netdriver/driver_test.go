package netdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Firefox2100/dedi-gateway/pkg/errdefs"
	"github.com/Firefox2100/dedi-gateway/pkg/message"
)

func TestIsForbiddenAddress(t *testing.T) {
	tests := []struct {
		addr      string
		forbidden bool
	}{
		{"127.0.0.1", true},
		{"::1", true},
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"192.168.1.1", true},
		{"169.254.1.1", true},
		{"224.0.0.1", true},
		{"240.0.0.1", true},
		{"0.0.0.0", true},
		{"fc00::1", true},
		{"fe80::1", true},
		{"8.8.8.8", false},
		{"93.184.216.34", false},
		{"2001:4860:4860::8888", false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			ip := net.ParseIP(tt.addr)
			require.NotNil(t, ip)
			assert.Equal(t, tt.forbidden, isForbiddenAddress(ip))
		})
	}
}

func TestCheckConnectivityRefusesLoopback(t *testing.T) {
	requested := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = true
	}))
	defer srv.Close()

	d := NewDriver()
	assert.False(t, d.CheckConnectivity(context.Background(), srv.URL))
	// The guard must trip before any request is issued
	assert.False(t, requested)
}

func TestPrivateDriverProbesLoopback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewPrivateDriver()
	assert.True(t, d.CheckConnectivity(context.Background(), srv.URL))
}

func TestCheckConnectivityRejectsBadURLs(t *testing.T) {
	d := NewDriver()
	ctx := context.Background()

	assert.False(t, d.CheckConnectivity(ctx, "ftp://example.com/file"))
	assert.False(t, d.CheckConnectivity(ctx, "://not-a-url"))
	assert.False(t, d.CheckConnectivity(ctx, "https://"))
}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"running"}`)
	}))
	defer srv.Close()

	d := NewDriver()

	var out struct {
		Status string `json:"status"`
	}
	require.NoError(t, d.GetJSON(context.Background(), srv.URL, &out))
	assert.Equal(t, "running", out.Status)
}

func TestGetJSONFailureKeepsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewDriver()

	err := d.GetJSON(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindNetworkRequestFailed))
	assert.Equal(t, http.StatusNotFound, errdefs.StatusOf(err))
}

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "value", in["key"])

		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	d := NewDriver()

	var out struct {
		OK bool `json:"ok"`
	}
	err := d.PostJSON(context.Background(), srv.URL, map[string]string{"key": "value"}, &out)
	require.NoError(t, err)
	assert.True(t, out.OK)
}

func TestPostWithHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	d := NewDriver()

	err := d.PostWithHeaders(context.Background(), srv.URL, nil,
		map[string]string{"Authorization": "Bearer token-123"}, nil)
	require.NoError(t, err)
}

type stubSigner struct {
	payload   []byte
	networkID string
}

func (s *stubSigner) SignPayload(_ context.Context, payload []byte, networkID string) (string, error) {
	s.payload = append([]byte(nil), payload...)
	s.networkID = networkID
	return "stub-signature", nil
}

func TestPostMessageSignsWireBytes(t *testing.T) {
	var receivedBody []byte
	var receivedSignature string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedSignature = r.Header.Get("Message-Signature")
		body, _ := io.ReadAll(r.Body)
		receivedBody = body
		fmt.Fprint(w, `{"status":"success","reachable":true}`)
	}))
	defer srv.Close()

	d := NewDriver()
	signer := &stubSigner{}

	meta := message.NewMetadata("net-1", "inst-1")
	msg := message.NewAuthConnect(meta)

	resp, err := d.PostMessage(context.Background(), msg, srv.URL, signer)
	require.NoError(t, err)

	assert.Equal(t, "stub-signature", receivedSignature)
	assert.Equal(t, "net-1", signer.networkID)
	// The signed bytes and the transmitted bytes must be identical
	assert.Equal(t, signer.payload, receivedBody)

	var decoded struct {
		Reachable bool `json:"reachable"`
	}
	require.NoError(t, json.Unmarshal(resp, &decoded))
	assert.True(t, decoded.Reachable)
}

func TestStreamStripsDataPrefix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		fmt.Fprint(w, "data: {\"first\":1}\n\n")
		fmt.Fprint(w, "event: ping\n\n")
		fmt.Fprint(w, "data: {\"second\":2}\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	d := NewDriver()

	lines, errs := d.Stream(context.Background(), srv.URL, map[string]string{}, nil)

	var got []string
	for line := range lines {
		got = append(got, line)
	}

	select {
	case err := <-errs:
		t.Fatalf("unexpected stream error: %v", err)
	default:
	}
	assert.Equal(t, []string{`{"first":1}`, `{"second":2}`}, got)
}

func TestStreamReportsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusForbidden)
	}))
	defer srv.Close()

	d := NewDriver()

	lines, errs := d.Stream(context.Background(), srv.URL, nil, nil)

	for range lines {
		t.Fatal("no lines expected from a failed stream")
	}

	select {
	case err := <-errs:
		assert.True(t, errdefs.IsKind(err, errdefs.KindNetworkRequestFailed))
		assert.Equal(t, http.StatusForbidden, errdefs.StatusOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("stream never reported the failure")
	}
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "http://peer.example.com", want: "ws://peer.example.com/service/websocket"},
		{in: "https://peer.example.com", want: "wss://peer.example.com/service/websocket"},
		{in: "https://peer.example.com/", want: "wss://peer.example.com/service/websocket"},
		{in: "https://peer.example.com:8443/gateway", want: "wss://peer.example.com:8443/gateway/service/websocket"},
		{in: "ftp://peer.example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := WebsocketURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDialWebsocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/service/websocket", r.URL.Path)

		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.WriteMessage(mt, data)
	}))
	defer srv.Close()

	d := NewDriver()

	conn, err := d.DialWebsocket(context.Background(), srv.URL)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"ping":true}`)))

	_, echoed, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"ping":true}`, string(echoed))
}
