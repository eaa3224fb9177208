package api

import (
	"net/http"
)

// serveWebsocket upgrades the connection and hands it to the transport
// layer. The manager reads the signed connect frame, registers the
// peer's route and serves the socket until it dies; handshake failures
// are reported in the close frame, so nothing is written here.
func (s *Server) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its own error response.
		s.logger.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}

	if err := s.conn.HandleInboundWebsocket(r.Context(), conn); err != nil {
		s.logger.Debug().Err(err).Msg("Inbound websocket closed with error")
	}
}
