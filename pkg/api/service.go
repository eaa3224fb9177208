package api

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"
)

// postedEnvelope reads a signed envelope delivered as an HTTP post:
// the raw message is the body and the signature travels in the
// Message-Signature header.
func postedEnvelope(r *http.Request) ([]byte, string, error) {
	signature := r.Header.Get("Message-Signature")
	if signature == "" {
		return nil, "", unauthenticated("request carries no message signature")
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", err
	}
	return raw, signature, nil
}

func (s *Server) serviceStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (s *Server) issueChallenge(w http.ResponseWriter, r *http.Request) {
	challenge, err := s.engine.IssueChallenge(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, challenge)
}

func (s *Server) visibleNetworks(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.engine.VisibleNetworks(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) registerAdmission(w http.ResponseWriter, r *http.Request) {
	raw, signature, err := postedEnvelope(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ack, err := s.engine.RegisterAdmission(r.Context(), raw, signature)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (s *Server) pollAdmission(w http.ResponseWriter, r *http.Request) {
	raw, signature, err := postedEnvelope(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.engine.HandlePollRequest(r.Context(), mux.Vars(r)["id"], raw, signature)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) admissionResponse(w http.ResponseWriter, r *http.Request) {
	raw, signature, err := postedEnvelope(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.engine.HandleAdmissionResponse(r.Context(), raw, signature); err != nil {
		s.writeError(w, r, err)
		return
	}
	// The delivering side decodes the response body, so an empty 204
	// is not an option here.
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) inboundMessage(w http.ResponseWriter, r *http.Request) {
	raw, signature, err := postedEnvelope(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.conn.HandleFrame(r.Context(), raw, signature); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
