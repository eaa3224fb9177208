package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/Firefox2100/dedi-gateway/pkg/errdefs"
	"github.com/Firefox2100/dedi-gateway/pkg/gateway"
	"github.com/Firefox2100/dedi-gateway/pkg/metrics"
	"github.com/Firefox2100/dedi-gateway/pkg/storage"
	"github.com/Firefox2100/dedi-gateway/pkg/types"
)

// readyResponse answers the readiness probe with per-dependency detail.
type readyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	report := metrics.Snapshot()
	status := http.StatusOK
	if report.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := http.StatusOK

	if _, err := s.engine.Database().Networks().Filter(storage.NetworkFilter{}); err != nil {
		metrics.SetComponent("database", false, err.Error())
		checks["storage"] = fmt.Sprintf("error: %v", err)
		status = http.StatusServiceUnavailable
	} else {
		metrics.SetComponent("database", true, "")
		checks["storage"] = "ok"
	}
	checks["peer_links"] = strconv.Itoa(s.conn.ActiveLinks())

	state := "ready"
	if status != http.StatusOK {
		state = "not ready"
	}
	writeJSON(w, status, readyResponse{
		Status:    state,
		Timestamp: time.Now(),
		Checks:    checks,
	})
}

// boolParam parses an optional boolean query parameter, nil when
// absent.
func boolParam(r *http.Request, name string) (*bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, errdefs.ConfigurationParsing(fmt.Sprintf("invalid %s parameter: %s", name, raw))
	}
	return &value, nil
}

func (s *Server) listNetworks(w http.ResponseWriter, r *http.Request) {
	var filter storage.NetworkFilter
	var err error
	if filter.Visible, err = boolParam(r, "visible"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if filter.Centralised, err = boolParam(r, "centralised"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if filter.Registered, err = boolParam(r, "registered"); err != nil {
		s.writeError(w, r, err)
		return
	}

	networks, err := s.engine.Database().Networks().Filter(filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if networks == nil {
		networks = []*types.Network{}
	}
	writeJSON(w, http.StatusOK, networks)
}

func (s *Server) createNetwork(w http.ResponseWriter, r *http.Request) {
	var opts gateway.CreateNetworkOptions
	if err := decodeJSON(r, &opts); err != nil {
		s.writeError(w, r, err)
		return
	}

	network, err := s.engine.CreateNetwork(r.Context(), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, network)
}

func (s *Server) getNetwork(w http.ResponseWriter, r *http.Request) {
	network, err := s.engine.GetNetwork(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, network)
}

func (s *Server) patchNetwork(w http.ResponseWriter, r *http.Request) {
	var patch gateway.NetworkPatch
	if err := decodeJSON(r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}

	network, err := s.engine.UpdateNetwork(r.Context(), mux.Vars(r)["id"], patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, network)
}

func (s *Server) deleteNetwork(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteNetwork(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// admissionOptions is the body of a join or invite request.
type admissionOptions struct {
	TargetURL     string `json:"targetUrl"`
	NetworkID     string `json:"networkId"`
	Justification string `json:"justification"`
}

func (s *Server) joinNetwork(w http.ResponseWriter, r *http.Request) {
	var opts admissionOptions
	if err := decodeJSON(r, &opts); err != nil {
		s.writeError(w, r, err)
		return
	}

	record, err := s.engine.JoinNetwork(r.Context(), opts.TargetURL, opts.NetworkID, opts.Justification)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, record)
}

func (s *Server) inviteNode(w http.ResponseWriter, r *http.Request) {
	var opts admissionOptions
	if err := decodeJSON(r, &opts); err != nil {
		s.writeError(w, r, err)
		return
	}

	record, err := s.engine.InviteNode(r.Context(), opts.TargetURL, opts.NetworkID, opts.Justification)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, record)
}

func (s *Server) listRequests(w http.ResponseWriter, r *http.Request) {
	sent, err := boolParam(r, "sent")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var statuses []types.MessageStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, value := range strings.Split(raw, ",") {
			statuses = append(statuses, types.MessageStatus(strings.TrimSpace(value)))
		}
	}

	records, err := s.engine.Database().Messages().GetRequests(sent, statuses)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []*types.AdmissionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// decision is the body of an admission decision.
type decision struct {
	Approve       bool   `json:"approve"`
	Justification string `json:"justification"`
}

func (s *Server) decideRequest(w http.ResponseWriter, r *http.Request) {
	var body decision
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	err := s.engine.DecideRequest(r.Context(), mux.Vars(r)["id"], body.Approve, body.Justification)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// outboundMessage is the body of a management-initiated send.
type outboundMessage struct {
	NetworkID  string         `json:"networkId"`
	Message    string         `json:"message"`
	TargetNode string         `json:"targetNode,omitempty"`
	Broadcast  bool           `json:"broadcast,omitempty"`
	Data       map[string]any `json:"data"`
	UserID     string         `json:"userId,omitempty"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var body outboundMessage
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !body.Broadcast && body.TargetNode == "" {
		s.writeError(w, r, errdefs.ConfigurationParsing(
			"a target node is required unless broadcasting"))
		return
	}

	opts := gateway.SendOptions{
		NetworkID: body.NetworkID,
		MessageID: body.Message,
		Data:      body.Data,
		UserID:    body.UserID,
	}
	if !body.Broadcast {
		opts.NodeID = body.TargetNode
	}

	result, err := s.engine.SendMessage(r.Context(), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) getDataIndex(w http.ResponseWriter, r *http.Request) {
	index, err := s.engine.Database().GetDataIndex()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, index)
}

func (s *Server) putDataIndex(w http.ResponseWriter, r *http.Request) {
	var index map[string]any
	if err := decodeJSON(r, &index); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.Database().SaveDataIndex(index); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.engine.ListUsers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if users == nil {
		users = []*types.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"userId"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	user, err := s.engine.CreateUser(r.Context(), body.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteUser(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getUserMapping(w http.ResponseWriter, r *http.Request) {
	mapping, err := s.engine.UserMapping(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapping)
}

func (s *Server) putUserMapping(w http.ResponseWriter, r *http.Request) {
	var mapping types.UserMapping
	if err := decodeJSON(r, &mapping); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.SetUserMapping(r.Context(), &mapping); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
