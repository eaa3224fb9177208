package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Firefox2100/dedi-gateway/pkg/errdefs"
	"github.com/Firefox2100/dedi-gateway/pkg/message"
	"github.com/Firefox2100/dedi-gateway/pkg/types"
)

// overlayDestination points a catalog message at a local backend URL.
func overlayDestination(t *testing.T, f *fixture, messageID, destination string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proxy.yaml")
	rule := fmt.Sprintf("- messageId: %s\n  destination: %s\n", messageID, destination)
	require.NoError(t, os.WriteFile(path, []byte(rule), 0o644))
	require.NoError(t, f.registry.ApplyProxyOverlay(path))
}

// countResponses drains the response queue for a correlation ID and
// reports how many envelopes were waiting.
func countResponses(f *fixture, messageID string) int {
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	envelopes, _ := f.broker.ResponseStream(ctx, messageID, 1)
	n := 0
	for range envelopes {
		n++
	}
	return n
}

func TestProcessCustomForwardsAndReplies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sender := newPeer(t, f, "peer-1", true)
	sender.connect(t, f)

	type post struct {
		body   []byte
		header http.Header
	}
	posts := make(chan post, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		posts <- post{body: body, header: r.Header.Clone()}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"rows": ["a", "b"]}`)
	}))
	defer srv.Close()
	overlayDestination(t, f, "org.example.archive.fetch", srv.URL+"/backend/fetch")

	msg := message.NewCustom(
		message.NewMetadata(f.network.ID, sender.node.ID),
		"org.example.archive.fetch", map[string]any{"query": "alpha"})
	msg.Headers = map[string]string{"X-Trace-Id": "trace-1"}
	require.NoError(t, f.e.processCustom(ctx, msg))

	captured := <-posts
	assert.JSONEq(t, `{"query": "alpha"}`, string(captured.body))
	assert.Equal(t, "trace-1", captured.header.Get("X-Trace-Id"))
	assert.Empty(t, captured.header.Get("X-User-Id"))

	reply, ok := sender.nextFrame(t, f).(*message.Custom)
	require.True(t, ok)
	assert.Equal(t, message.Type("org.example.archive.fetchResult"), reply.MessageType)
	assert.Equal(t, msg.Metadata.MessageID, reply.Metadata.MessageID)
	assert.Equal(t, f.network.InstanceID, reply.Metadata.NodeID)
	assert.Equal(t, map[string]any{"rows": []any{"a", "b"}}, reply.Data)
}

func TestProcessCustomAsyncSkipsReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sender := newPeer(t, f, "peer-1", true)
	sender.connect(t, f)

	require.NoError(t, f.db.Users().SaveMapping(&types.UserMapping{
		Type:     types.UserMappingStatic,
		StaticID: "svc-archive",
	}))

	headers := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "{}")
	}))
	defer srv.Close()
	overlayDestination(t, f, "org.example.archive.notify", srv.URL+"/backend/notify")

	msg := message.NewCustom(
		message.NewMetadata(f.network.ID, sender.node.ID),
		"org.example.archive.notify", map[string]any{"event": "rebuilt"})
	msg.UserID = "alice@their-idp"
	require.NoError(t, f.e.processCustom(ctx, msg))

	// The foreign principal is translated before the backend sees it.
	captured := <-headers
	assert.Equal(t, "svc-archive", captured.Get("X-User-Id"))

	sender.queueEmpty(t, f)
}

func TestProcessCustomUnknownUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sender := newPeer(t, f, "peer-1", true)

	require.NoError(t, f.db.Users().SaveMapping(&types.UserMapping{
		Type:           types.UserMappingDynamic,
		DynamicMapping: map[string]string{"bob": "local-bob"},
	}))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend must not be called for an unmappable user")
	}))
	defer srv.Close()
	overlayDestination(t, f, "org.example.archive.notify", srv.URL+"/backend/notify")

	msg := message.NewCustom(
		message.NewMetadata(f.network.ID, sender.node.ID),
		"org.example.archive.notify", nil)
	msg.UserID = "alice"
	err := f.e.processCustom(ctx, msg)
	assert.True(t, errdefs.IsKind(err, errdefs.KindUserNotFound))
}

func TestProcessCustomWithoutDestination(t *testing.T) {
	f := newFixture(t)
	sender := newPeer(t, f, "peer-1", true)

	msg := message.NewCustom(
		message.NewMetadata(f.network.ID, sender.node.ID),
		"org.example.archive.fetch", nil)
	err := f.e.processCustom(context.Background(), msg)
	assert.True(t, errdefs.IsKind(err, errdefs.KindMessageConfigNotFound))
}

func TestProcessCustomUnknownType(t *testing.T) {
	f := newFixture(t)
	sender := newPeer(t, f, "peer-1", true)

	msg := message.NewCustom(
		message.NewMetadata(f.network.ID, sender.node.ID),
		"org.example.archive.bogus", nil)
	err := f.e.processCustom(context.Background(), msg)
	assert.True(t, errdefs.IsKind(err, errdefs.KindMessageConfigNotFound))
}

func TestProcessAdmitsOnlyAwaitedResponses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sender := newPeer(t, f, "peer-1", true)

	// A catalog response nobody asked for is dropped without error.
	stale := message.NewCustom(
		message.NewMetadata(f.network.ID, sender.node.ID),
		"org.example.archive.fetchResult", map[string]any{"rows": []any{}})
	require.NoError(t, f.e.Process(ctx, stale))
	assert.Equal(t, 0, countResponses(f, stale.Metadata.MessageID))

	// The same envelope is admitted while a collector waits.
	expected := message.NewCustom(
		message.NewMetadata(f.network.ID, sender.node.ID),
		"org.example.archive.fetchResult", map[string]any{"rows": []any{}})
	release := f.e.await(expected.Metadata.MessageID)
	defer release()
	require.NoError(t, f.e.Process(ctx, expected))
	assert.Equal(t, 1, countResponses(f, expected.Metadata.MessageID))

	// Route responses follow the same gate.
	strayRoute := message.NewRouteResponse(
		message.NewMetadata(f.network.ID, sender.node.ID), "far-node", []string{sender.node.ID})
	require.NoError(t, f.e.Process(ctx, strayRoute))
	assert.Equal(t, 0, countResponses(f, strayRoute.Metadata.MessageID))
}

func TestProcessAuthConnectKeepalive(t *testing.T) {
	f := newFixture(t)
	sender := newPeer(t, f, "peer-1", true)

	keepalive := message.NewAuthConnect(message.NewMetadata(f.network.ID, sender.node.ID))
	assert.NoError(t, f.e.Process(context.Background(), keepalive))
}

func TestSendMessageDirect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := newPeer(t, f, "peer-1", true)
	target.connect(t, f)

	result, err := f.e.SendMessage(ctx, SendOptions{
		NetworkID: f.network.ID,
		NodeID:    target.node.ID,
		MessageID: "org.example.archive.notify",
		Data:      map[string]any{"event": "rebuilt"},
		UserID:    "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Delivered)
	assert.Empty(t, result.Responses)

	sent, ok := target.nextFrame(t, f).(*message.Custom)
	require.True(t, ok)
	assert.Equal(t, message.Type("org.example.archive.notify"), sent.MessageType)
	assert.Equal(t, f.network.InstanceID, sent.Metadata.NodeID)
	assert.Equal(t, map[string]any{"event": "rebuilt"}, sent.Data)
	assert.Equal(t, "alice", sent.UserID)
}

func TestSendMessageBroadcastCollectsResponses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := newPeer(t, f, "peer-1", true)
	p1.connect(t, f)
	p2 := newPeer(t, f, "peer-2", true)
	p2.connect(t, f)

	type outcome struct {
		result *SendResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := f.e.SendMessage(context.Background(), SendOptions{
			NetworkID: f.network.ID,
			MessageID: "org.example.archive.fetch",
			Data:      map[string]any{"query": "beta"},
		})
		done <- outcome{result: result, err: err}
	}()

	request1, ok := p1.nextFrame(t, f).(*message.Custom)
	require.True(t, ok)
	request2, ok := p2.nextFrame(t, f).(*message.Custom)
	require.True(t, ok)
	assert.Equal(t, request1.Metadata.MessageID, request2.Metadata.MessageID)

	require.NoError(t, f.e.Process(ctx, message.NewCustom(
		message.ResponseMetadata(request1.Metadata, p1.node.ID),
		"org.example.archive.fetchResult", map[string]any{"rows": []any{"r1"}})))
	require.NoError(t, f.e.Process(ctx, message.NewCustom(
		message.ResponseMetadata(request2.Metadata, p2.node.ID),
		"org.example.archive.fetchResult", map[string]any{"rows": []any{"r2"}})))

	select {
	case result := <-done:
		require.NoError(t, result.err)
		assert.Equal(t, 2, result.result.Delivered)
		require.Len(t, result.result.Responses, 2)
		for _, raw := range result.result.Responses {
			reply, err := message.Decode(raw)
			require.NoError(t, err)
			custom, ok := reply.(*message.Custom)
			require.True(t, ok)
			assert.Equal(t, message.Type("org.example.archive.fetchResult"), custom.MessageType)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("broadcast send did not finish")
	}
}

func TestSendMessageRejectsAnswerInitiation(t *testing.T) {
	f := newFixture(t)

	_, err := f.e.SendMessage(context.Background(), SendOptions{
		NetworkID: f.network.ID,
		MessageID: "org.example.archive.fetchResult",
	})
	assert.True(t, errdefs.IsKind(err, errdefs.KindMessageConfigParsing))
}

func TestSendMessageUnknownNode(t *testing.T) {
	f := newFixture(t)

	_, err := f.e.SendMessage(context.Background(), SendOptions{
		NetworkID: f.network.ID,
		NodeID:    "ghost",
		MessageID: "org.example.archive.notify",
	})
	assert.True(t, errdefs.IsKind(err, errdefs.KindNodeNotFound))
}

func TestSendMessageUnconnectableNode(t *testing.T) {
	f := newFixture(t)
	target := newPeer(t, f, "peer-1", true)
	target.node.URL = "http://127.0.0.1:9/"
	require.NoError(t, f.db.Nodes().Update(target.node))

	// No transport, and the one connection attempt finds no relay
	// either.
	_, err := f.e.SendMessage(context.Background(), SendOptions{
		NetworkID: f.network.ID,
		NodeID:    target.node.ID,
		MessageID: "org.example.archive.notify",
	})
	assert.True(t, errdefs.IsKind(err, errdefs.KindNodeNotConnected))
}
