package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/Firefox2100/dedi-gateway/pkg/errdefs"
	"github.com/Firefox2100/dedi-gateway/pkg/message"
)

// eventWriter adapts the HTTP response into the transport layer's
// stream sink, flushing after every event so frames are not held in a
// buffer while the peer waits.
type eventWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (e *eventWriter) WriteEvent(data []byte) error {
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", data); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}

func (e *eventWriter) WritePing() error {
	if _, err := io.WriteString(e.w, ": ping\n\n"); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}

// serveEventStream answers a peer that cannot accept connections with
// a one-way event stream. The signed connect envelope rides in the
// request body; once it verifies, every frame queued for the peer is
// pushed down the stream until either side goes away.
func (s *Server) serveEventStream(w http.ResponseWriter, r *http.Request) {
	raw, signature, err := postedEnvelope(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	msg, err := s.conn.Authenticate(r.Context(), &message.Signed{
		Message:   raw,
		Signature: signature,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	hello, ok := msg.(*message.AuthConnect)
	if !ok {
		s.writeError(w, r, errdefs.MessageSignature(fmt.Sprintf(
			"expected a connect envelope, got %s", msg.Type())))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, fmt.Errorf("response writer does not support streaming"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	meta := hello.Meta()
	err = s.conn.ServeSSE(r.Context(), meta.NetworkID, meta.NodeID, &eventWriter{
		w:       w,
		flusher: flusher,
	})
	if err != nil {
		s.logger.Debug().Err(err).Str("node_id", meta.NodeID).Msg("Event stream closed with error")
	}
}
