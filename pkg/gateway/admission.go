package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Firefox2100/dedi-gateway/pkg/errdefs"
	"github.com/Firefox2100/dedi-gateway/pkg/kms"
	"github.com/Firefox2100/dedi-gateway/pkg/message"
	"github.com/Firefox2100/dedi-gateway/pkg/metrics"
	"github.com/Firefox2100/dedi-gateway/pkg/pow"
	"github.com/Firefox2100/dedi-gateway/pkg/types"
)

// initialScore is the reliability score a node starts with when it is
// admitted. The delivery moving average converges from here.
const initialScore = 0.5

// establishDelay is how long an admitting node waits after pushing an
// approval before dialling the new member, so the member has stored its
// keys and membership first.
const establishDelay = time.Second

// AdmissionAck is returned to the sender of an admission request.
// Reachable tells the sender whether the decision can be pushed back,
// or has to be collected by polling.
type AdmissionAck struct {
	MessageID string `json:"messageId"`
	Reachable bool   `json:"reachable"`
}

// PollResult reports the state of a received admission request to the
// node that sent it. The sealed decision envelope is attached once one
// has been made.
type PollResult struct {
	Status   types.MessageStatus `json:"status"`
	Response json.RawMessage     `json:"response,omitempty"`
}

// pollRequest is the signed body of a decision poll.
type pollRequest struct {
	MessageID string            `json:"messageId"`
	Challenge message.Challenge `json:"challenge"`
}

// solveChallengeAt fetches a proof of work challenge from a peer's
// service surface and solves it at the demanded difficulty.
func (e *Engine) solveChallengeAt(ctx context.Context, baseURL string) (*message.Challenge, error) {
	var issued Challenge
	if err := e.driver.GetJSON(ctx, fmt.Sprintf("%s/service/challenge", baseURL), &issued); err != nil {
		return nil, err
	}

	solution, err := pow.Solve(ctx, issued.Nonce, issued.Difficulty)
	if err != nil {
		return nil, err
	}

	return &message.Challenge{Nonce: issued.Nonce, Solution: solution}, nil
}

// JoinNetwork asks the node at targetURL to admit this gateway into
// one of its visible networks. A placeholder network and a fresh node
// key are created up front; both are replaced or discarded when the
// decision arrives.
func (e *Engine) JoinNetwork(ctx context.Context, targetURL, networkID, justification string) (*types.AdmissionRecord, error) {
	base := strings.TrimRight(targetURL, "/")

	var summaries []NetworkSummary
	if err := e.driver.GetJSON(ctx, fmt.Sprintf("%s/service/networks", base), &summaries); err != nil {
		return nil, err
	}

	var summary *NetworkSummary
	for i := range summaries {
		if summaries[i].ID == networkID {
			summary = &summaries[i]
			break
		}
	}
	if summary == nil {
		return nil, errdefs.NetworkNotFound(fmt.Sprintf("network %s is not visible on %s", networkID, targetURL))
	}
	if summary.CentralURL != "" && strings.TrimRight(summary.CentralURL, "/") != base {
		return nil, errdefs.JoiningNetwork(fmt.Sprintf(
			"network %s is centrally managed, join via %s", networkID, summary.CentralURL))
	}

	challenge, err := e.solveChallengeAt(ctx, base)
	if err != nil {
		return nil, err
	}

	// The placeholder keeps the network ID free until the decision
	// arrives, and pins the instance ID this gateway will use as its
	// member identity if admitted.
	placeholder := &types.Network{
		ID:          types.PendingNetworkPrefix + networkID,
		Name:        summary.Name,
		Description: summary.Description,
		InstanceID:  uuid.NewString(),
	}
	if err := e.db.Networks().Save(placeholder); err != nil {
		return nil, err
	}

	publicKey, err := e.kms.GenerateNetworkNodeKey(ctx, networkID)
	if err != nil {
		_ = e.db.Networks().Delete(placeholder.ID)
		return nil, err
	}

	index, err := e.db.GetDataIndex()
	if err != nil {
		return nil, err
	}

	node := &types.Node{
		ID:          placeholder.InstanceID,
		Name:        e.serviceName,
		URL:         e.accessURL,
		Description: e.serviceDescription,
		PublicKey:   publicKey,
		DataIndex:   index,
	}

	request := message.NewAuthRequest(
		message.NewMetadata(networkID, placeholder.InstanceID),
		node, *challenge, justification,
	)

	raw, err := e.driver.PostMessage(ctx, request, fmt.Sprintf("%s/service/requests", base), e.kms)
	if err != nil {
		_ = e.db.Networks().Delete(placeholder.ID)
		_ = e.kms.DeleteNetworkKeys(ctx, networkID)
		return nil, err
	}

	var ack AdmissionAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return nil, errdefs.JoiningNetwork(fmt.Sprintf(
			"node at %s returned an unreadable acknowledgement", targetURL))
	}

	encoded, err := message.Encode(request)
	if err != nil {
		return nil, err
	}
	record := &types.AdmissionRecord{
		MessageID:       request.Metadata.MessageID,
		TargetURL:       base,
		Request:         encoded,
		RequiresPolling: !ack.Reachable,
		Status:          types.MessageStatusPending,
	}
	if err := e.db.Messages().SaveSentRequest(record); err != nil {
		return nil, err
	}

	metrics.AdmissionRequests.WithLabelValues("sent").Inc()
	e.logger.Info().
		Str("network_id", networkID).
		Str("target_url", base).
		Bool("requires_polling", record.RequiresPolling).
		Msg("Join request sent")

	return record, nil
}

// InviteNode offers the node at targetURL membership of a network this
// gateway already belongs to. In a centralised network only the central
// node may extend invites; the invitee must also be reachable, since an
// unreachable node could never take part in the network anyway.
func (e *Engine) InviteNode(ctx context.Context, targetURL, networkID, justification string) (*types.AdmissionRecord, error) {
	network, err := e.db.Networks().Get(networkID)
	if err != nil {
		return nil, err
	}
	if network.Pending() || !network.Registered {
		return nil, errdefs.InvitingNode(fmt.Sprintf("not a registered member of network %s", networkID))
	}
	if network.Centralised() && network.CentralNode != network.InstanceID {
		return nil, errdefs.InvitingNode("only the central node can invite members")
	}

	base := strings.TrimRight(targetURL, "/")
	if !e.driver.CheckNodeConnectivity(ctx, base) {
		return nil, errdefs.InvitingNode(fmt.Sprintf("node at %s is not reachable", targetURL))
	}

	challenge, err := e.solveChallengeAt(ctx, base)
	if err != nil {
		return nil, err
	}

	self, err := e.selfNode(ctx, network)
	if err != nil {
		return nil, err
	}

	shared := *network
	shared.NodeIDs = nil

	key := &message.ManagementKey{}
	key.PublicKey, err = e.kms.GetNetworkManagementPublicKey(ctx, networkID, false)
	if err != nil {
		return nil, err
	}
	if !network.Centralised() {
		key.PrivateKey, err = e.kms.GetNetworkManagementPrivateKey(ctx, networkID)
		if err != nil {
			return nil, err
		}
	}

	invite := message.NewAuthInvite(
		message.NewMetadata(networkID, network.InstanceID),
		self, &shared, *challenge, justification, key,
	)

	raw, err := e.driver.PostMessage(ctx, invite, fmt.Sprintf("%s/service/requests", base), e.kms)
	if err != nil {
		return nil, err
	}

	var ack AdmissionAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return nil, errdefs.InvitingNode(fmt.Sprintf(
			"node at %s returned an unreadable acknowledgement", targetURL))
	}

	encoded, err := message.Encode(invite)
	if err != nil {
		return nil, err
	}
	record := &types.AdmissionRecord{
		MessageID:       invite.Metadata.MessageID,
		TargetURL:       base,
		Request:         encoded,
		RequiresPolling: !ack.Reachable,
		Status:          types.MessageStatusPending,
	}
	if err := e.db.Messages().SaveSentRequest(record); err != nil {
		return nil, err
	}

	metrics.AdmissionRequests.WithLabelValues("sent").Inc()
	e.logger.Info().
		Str("network_id", networkID).
		Str("target_url", base).
		Msg("Invite sent")

	return record, nil
}

// verifyEmbedded checks an admission signature against the public key
// the message itself carries. Admission is the trust-on-first-use step:
// the embedded key becomes the peer's pinned key if it is approved.
func verifyEmbedded(raw []byte, signature string, node *types.Node) error {
	if node == nil || node.PublicKey == "" {
		return errdefs.MessageSignature("admission message carries no public key")
	}
	if !kms.VerifySignature(raw, node.PublicKey, signature) {
		return errdefs.MessageSignature("admission message signature does not verify")
	}
	return nil
}

// RegisterAdmission ingests a signed admission message posted to the
// service surface. The stored record keeps the envelope bytes exactly
// as received so later verification works against the original
// signature.
func (e *Engine) RegisterAdmission(ctx context.Context, raw []byte, signature string) (*AdmissionAck, error) {
	msg, err := message.Decode(raw)
	if err != nil {
		return nil, err
	}

	switch m := msg.(type) {
	case *message.AuthRequest:
		if err := verifyEmbedded(raw, signature, m.Node); err != nil {
			return nil, err
		}
		return e.registerAuthRequest(ctx, raw, m)
	case *message.AuthInvite:
		if err := verifyEmbedded(raw, signature, m.Node); err != nil {
			return nil, err
		}
		return e.registerAuthInvite(ctx, raw, m)
	default:
		return nil, errdefs.MessageConfigParsing(fmt.Sprintf(
			"message type %s is not an admission request", msg.Type()))
	}
}

func (e *Engine) registerAuthRequest(ctx context.Context, raw []byte, m *message.AuthRequest) (*AdmissionAck, error) {
	network, err := e.db.Networks().Get(m.Metadata.NetworkID)
	if err != nil {
		return nil, err
	}
	if network.Pending() || !network.Registered {
		return nil, errdefs.NetworkNotFound(fmt.Sprintf(
			"not a registered member of network %s", m.Metadata.NetworkID))
	}
	if network.Centralised() && network.CentralNode != network.InstanceID {
		return nil, errdefs.NodeNotApproved("only the central node can admit members")
	}

	if err := e.consumeChallenge(ctx, m.Challenge); err != nil {
		return nil, err
	}

	reachable := e.driver.CheckNodeConnectivity(ctx, m.Node.URL)

	record := &types.AdmissionRecord{
		MessageID:       m.Metadata.MessageID,
		Request:         json.RawMessage(raw),
		RequiresPolling: !reachable,
		Status:          types.MessageStatusPending,
	}
	if err := e.db.Messages().SaveReceivedRequest(record); err != nil {
		return nil, err
	}

	metrics.AdmissionRequests.WithLabelValues("received").Inc()
	e.logger.Info().
		Str("message_id", record.MessageID).
		Str("network_id", m.Metadata.NetworkID).
		Str("node_name", m.Node.Name).
		Bool("reachable", reachable).
		Msg("Join request received")

	return &AdmissionAck{MessageID: record.MessageID, Reachable: reachable}, nil
}

func (e *Engine) registerAuthInvite(ctx context.Context, raw []byte, m *message.AuthInvite) (*AdmissionAck, error) {
	if m.Network == nil || m.ManagementKey == nil {
		return nil, errdefs.InvitingNode("invite carries no network or management key")
	}
	if existing, err := e.db.Networks().Get(m.Network.ID); err == nil && existing.Registered {
		return nil, errdefs.InvitingNode(fmt.Sprintf("already a member of network %s", m.Network.ID))
	}
	if m.Network.Centralised() && m.Network.CentralNode != m.Node.ID {
		return nil, errdefs.InvitingNode("invite to a centralised network must come from its central node")
	}

	if err := e.consumeChallenge(ctx, m.Challenge); err != nil {
		return nil, err
	}

	reachable := e.driver.CheckNodeConnectivity(ctx, m.Node.URL)

	record := &types.AdmissionRecord{
		MessageID:       m.Metadata.MessageID,
		Request:         json.RawMessage(raw),
		RequiresPolling: !reachable,
		Status:          types.MessageStatusPending,
	}
	if err := e.db.Messages().SaveReceivedRequest(record); err != nil {
		return nil, err
	}

	metrics.AdmissionRequests.WithLabelValues("received").Inc()
	e.logger.Info().
		Str("message_id", record.MessageID).
		Str("network_id", m.Network.ID).
		Str("node_name", m.Node.Name).
		Msg("Invite received")

	return &AdmissionAck{MessageID: record.MessageID, Reachable: reachable}, nil
}

// DecideRequest resolves a received admission request. The status flips
// before anything else so a second decision on the same request fails,
// then the decision response is built, sealed, stored for polling and
// pushed to the peer when it is reachable.
func (e *Engine) DecideRequest(ctx context.Context, messageID string, approve bool, justification string) error {
	record, err := e.db.Messages().GetReceivedRequest(messageID)
	if err != nil {
		return err
	}
	if record.Status != types.MessageStatusPending {
		return errdefs.MessageNotFound(fmt.Sprintf(
			"request %s is already %s", messageID, record.Status))
	}

	msg, err := message.Decode(record.Request)
	if err != nil {
		return err
	}

	status := types.MessageStatusRejected
	if approve {
		status = types.MessageStatusAccepted
	}
	if err := e.db.Messages().UpdateRequestStatus(messageID, status); err != nil {
		return err
	}

	switch m := msg.(type) {
	case *message.AuthRequest:
		return e.decideJoin(ctx, record, m, approve, justification)
	case *message.AuthInvite:
		return e.decideInvite(ctx, record, m, approve, justification)
	default:
		return errdefs.MessageConfigParsing(fmt.Sprintf(
			"stored request %s is not an admission request", messageID))
	}
}

func (e *Engine) decideJoin(ctx context.Context, record *types.AdmissionRecord, m *message.AuthRequest, approve bool, justification string) error {
	network, err := e.db.Networks().Get(m.Metadata.NetworkID)
	if err != nil {
		return err
	}
	meta := message.ResponseMetadata(m.Metadata, network.InstanceID)

	self, err := e.selfNode(ctx, network)
	if err != nil {
		return err
	}

	var response message.Message
	if approve {
		member := *m.Node
		member.Approved = true
		member.Score = initialScore
		if member.DataIndex == nil {
			member.DataIndex = map[string]any{}
		}
		if err := e.db.Networks().AddNode(network.ID, &member); err != nil {
			return err
		}

		shared := *network
		shared.NodeIDs = nil

		key := &message.ManagementKey{}
		key.PublicKey, err = e.kms.GetNetworkManagementPublicKey(ctx, network.ID, false)
		if err != nil {
			return err
		}
		if !network.Centralised() {
			key.PrivateKey, err = e.kms.GetNetworkManagementPrivateKey(ctx, network.ID)
			if err != nil {
				return err
			}
		}

		response = message.NewAuthRequestResponse(meta, true, self, &shared, justification, key)
	} else {
		response = message.NewAuthRequestResponse(meta, false, self, nil, justification, nil)
	}

	return e.deliverDecision(ctx, record, network.ID, m.Node, response, approve)
}

func (e *Engine) decideInvite(ctx context.Context, record *types.AdmissionRecord, m *message.AuthInvite, approve bool, justification string) error {
	networkID := m.Network.ID
	instanceID := uuid.NewString()

	// Either way the response has to be signed with a node key for this
	// network, so one is created even for a rejection and discarded
	// afterwards.
	publicKey, err := e.kms.GenerateNetworkNodeKey(ctx, networkID)
	if err != nil {
		return err
	}

	meta := message.ResponseMetadata(m.Metadata, instanceID)
	self := &types.Node{
		ID:          instanceID,
		Name:        e.serviceName,
		URL:         e.accessURL,
		Description: e.serviceDescription,
		PublicKey:   publicKey,
	}

	if !approve {
		response := message.NewAuthInviteResponse(meta, false, self, justification)
		err := e.deliverDecision(ctx, record, networkID, m.Node, response, false)
		_ = e.kms.DeleteNetworkKeys(ctx, networkID)
		return err
	}

	network := *m.Network
	network.InstanceID = instanceID
	network.Registered = true
	network.NodeIDs = nil
	if err := e.db.Networks().Save(&network); err != nil {
		return err
	}

	if err := e.kms.StoreNetworkManagementKey(ctx, networkID,
		m.ManagementKey.PublicKey, m.ManagementKey.PrivateKey); err != nil {
		return err
	}

	inviter := *m.Node
	inviter.Approved = true
	inviter.Score = initialScore
	if inviter.DataIndex == nil {
		inviter.DataIndex = map[string]any{}
	}
	if err := e.db.Networks().AddNode(networkID, &inviter); err != nil {
		return err
	}

	index, err := e.db.GetDataIndex()
	if err != nil {
		return err
	}
	self.DataIndex = index

	response := message.NewAuthInviteResponse(meta, true, self, justification)
	return e.deliverDecision(ctx, record, networkID, m.Node, response, true)
}

// deliverDecision seals the decision, attaches it to the stored record
// for polling, and pushes it to the peer unless the peer was flagged as
// unreachable at registration time. A failed push is not an error: the
// stored response stays collectable by polling.
func (e *Engine) deliverDecision(ctx context.Context, record *types.AdmissionRecord, networkID string, peer *types.Node, response message.Message, approved bool) error {
	sealed, err := message.Seal(ctx, response, e.kms)
	if err != nil {
		return err
	}
	encoded, err := sealed.Encode()
	if err != nil {
		return err
	}
	if err := e.db.Messages().SetReceivedResponse(record.MessageID, encoded); err != nil {
		return err
	}

	if record.RequiresPolling {
		e.logger.Info().
			Str("message_id", record.MessageID).
			Bool("approved", approved).
			Msg("Decision stored for polling")
		return nil
	}

	base := strings.TrimRight(peer.URL, "/")
	if _, err := e.driver.PostFrame(ctx, sealed, fmt.Sprintf("%s/service/responses", base)); err != nil {
		e.logger.Warn().Err(err).
			Str("message_id", record.MessageID).
			Str("node_url", peer.URL).
			Msg("Failed to push decision, leaving it for polling")
		return nil
	}

	e.logger.Info().
		Str("message_id", record.MessageID).
		Bool("approved", approved).
		Msg("Decision pushed")

	if approved {
		peerID := peer.ID
		e.background(func(ctx context.Context) {
			select {
			case <-time.After(establishDelay):
			case <-ctx.Done():
				return
			}
			e.establishAdmitted(ctx, networkID, peerID)
		})
	}
	return nil
}

// establishAdmitted dials a peer that just became a member.
func (e *Engine) establishAdmitted(ctx context.Context, networkID, nodeID string) {
	network, err := e.db.Networks().Get(networkID)
	if err != nil {
		e.logger.Error().Err(err).Str("network_id", networkID).Msg("Failed to load network for connection")
		return
	}
	node, err := e.db.Nodes().Get(nodeID)
	if err != nil {
		e.logger.Error().Err(err).Str("node_id", nodeID).Msg("Failed to load node for connection")
		return
	}
	if err := e.conn.Establish(ctx, network, node); err != nil {
		e.logger.Warn().Err(err).
			Str("network_id", networkID).
			Str("node_id", nodeID).
			Msg("Failed to establish connection to admitted node")
	}
}

// HandleAdmissionResponse ingests a pushed decision envelope, verified
// trust-on-first-use against the responder key it embeds. The same
// path applies decisions collected by polling.
func (e *Engine) HandleAdmissionResponse(ctx context.Context, raw []byte, signature string) error {
	msg, err := message.Decode(raw)
	if err != nil {
		return err
	}

	switch m := msg.(type) {
	case *message.AuthRequestResponse:
		if err := verifyEmbedded(raw, signature, m.Node); err != nil {
			return err
		}
		return e.applyRequestResponse(ctx, m)
	case *message.AuthInviteResponse:
		if err := verifyEmbedded(raw, signature, m.Node); err != nil {
			return err
		}
		return e.applyInviteResponse(ctx, m)
	default:
		return errdefs.MessageConfigParsing(fmt.Sprintf(
			"message type %s is not an admission response", msg.Type()))
	}
}

// applyRequestResponse resolves a join this gateway initiated. On
// approval the placeholder network is replaced with the real record,
// keeping the instance ID pinned at request time, and the responder
// becomes the first approved peer.
func (e *Engine) applyRequestResponse(ctx context.Context, m *message.AuthRequestResponse) error {
	record, err := e.db.Messages().GetSentRequest(m.Metadata.MessageID)
	if err != nil {
		return err
	}
	if record.Status != types.MessageStatusPending {
		return errdefs.MessageNotFound(fmt.Sprintf(
			"request %s is already %s", record.MessageID, record.Status))
	}

	networkID := m.Metadata.NetworkID
	placeholder, err := e.db.Networks().Get(types.PendingNetworkPrefix + networkID)
	if err != nil {
		return err
	}

	if !m.Approved {
		if err := e.db.Messages().UpdateRequestStatus(record.MessageID, types.MessageStatusRejected); err != nil {
			return err
		}
		_ = e.db.Networks().Delete(placeholder.ID)
		_ = e.kms.DeleteNetworkKeys(ctx, networkID)

		e.logger.Info().
			Str("network_id", networkID).
			Str("justification", m.Justification).
			Msg("Join request rejected")
		return nil
	}

	if m.Network == nil || m.ManagementKey == nil {
		return errdefs.JoiningNetwork("approved response carries no network or management key")
	}

	network := *m.Network
	network.ID = networkID
	network.InstanceID = placeholder.InstanceID
	network.Registered = true
	network.NodeIDs = nil
	if err := e.db.Networks().Save(&network); err != nil {
		return err
	}
	_ = e.db.Networks().Delete(placeholder.ID)

	if err := e.kms.StoreNetworkManagementKey(ctx, networkID,
		m.ManagementKey.PublicKey, m.ManagementKey.PrivateKey); err != nil {
		return err
	}

	responder := *m.Node
	responder.Approved = true
	responder.Score = initialScore
	if responder.DataIndex == nil {
		responder.DataIndex = map[string]any{}
	}
	if err := e.db.Networks().AddNode(networkID, &responder); err != nil {
		return err
	}

	if err := e.db.Messages().UpdateRequestStatus(record.MessageID, types.MessageStatusAccepted); err != nil {
		return err
	}

	e.logger.Info().
		Str("network_id", networkID).
		Str("node_name", m.Node.Name).
		Msg("Join request approved")

	nodeID := responder.ID
	e.background(func(ctx context.Context) {
		e.establishAdmitted(ctx, networkID, nodeID)
	})
	return nil
}

// applyInviteResponse resolves an invite this gateway extended. The
// network already exists locally, so approval only registers the new
// member.
func (e *Engine) applyInviteResponse(ctx context.Context, m *message.AuthInviteResponse) error {
	record, err := e.db.Messages().GetSentRequest(m.Metadata.MessageID)
	if err != nil {
		return err
	}
	if record.Status != types.MessageStatusPending {
		return errdefs.MessageNotFound(fmt.Sprintf(
			"invite %s is already %s", record.MessageID, record.Status))
	}

	if !m.Approved {
		if err := e.db.Messages().UpdateRequestStatus(record.MessageID, types.MessageStatusRejected); err != nil {
			return err
		}
		e.logger.Info().
			Str("network_id", m.Metadata.NetworkID).
			Str("justification", m.Justification).
			Msg("Invite declined")
		return nil
	}

	networkID := m.Metadata.NetworkID
	member := *m.Node
	member.Approved = true
	member.Score = initialScore
	if member.DataIndex == nil {
		member.DataIndex = map[string]any{}
	}
	if err := e.db.Networks().AddNode(networkID, &member); err != nil {
		return err
	}

	if err := e.db.Messages().UpdateRequestStatus(record.MessageID, types.MessageStatusAccepted); err != nil {
		return err
	}

	e.logger.Info().
		Str("network_id", networkID).
		Str("node_name", m.Node.Name).
		Msg("Invite accepted")

	nodeID := member.ID
	e.background(func(ctx context.Context) {
		e.establishAdmitted(ctx, networkID, nodeID)
	})
	return nil
}

// PollPendingRequests walks sent admission requests whose decision
// cannot be pushed to this gateway and asks their targets for one.
// Intended to run on a schedule; individual failures are logged and
// the rest of the batch continues.
func (e *Engine) PollPendingRequests(ctx context.Context) error {
	sent := true
	records, err := e.db.Messages().GetRequests(&sent, []types.MessageStatus{types.MessageStatusPending})
	if err != nil {
		return err
	}

	for _, record := range records {
		if !record.RequiresPolling {
			continue
		}
		if err := e.pollRequest(ctx, record); err != nil {
			e.logger.Warn().Err(err).
				Str("message_id", record.MessageID).
				Msg("Admission poll failed")
		}
	}
	return nil
}

// pollRequest asks one target for its decision. The poll body is
// signed with the network node key created at request time, and carries
// a freshly solved challenge so polls cost the same work as requests.
func (e *Engine) pollRequest(ctx context.Context, record *types.AdmissionRecord) error {
	msg, err := message.Decode(record.Request)
	if err != nil {
		return err
	}
	meta := msg.Meta()

	base := strings.TrimRight(record.TargetURL, "/")
	challenge, err := e.solveChallengeAt(ctx, base)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(pollRequest{MessageID: record.MessageID, Challenge: *challenge})
	if err != nil {
		return err
	}
	signature, err := e.kms.SignPayload(ctx, payload, meta.NetworkID)
	if err != nil {
		return err
	}

	var result PollResult
	url := fmt.Sprintf("%s/service/requests/%s", base, record.MessageID)
	headers := map[string]string{"Message-Signature": signature}
	if err := e.driver.PostWithHeaders(ctx, url, json.RawMessage(payload), headers, &result); err != nil {
		return err
	}

	switch result.Status {
	case types.MessageStatusPending:
		return nil
	case types.MessageStatusAccepted:
		if len(result.Response) == 0 {
			return errdefs.MessageNotFound(fmt.Sprintf(
				"request %s accepted but no response attached", record.MessageID))
		}
		sealed, err := message.DecodeSigned(result.Response)
		if err != nil {
			return err
		}
		return e.HandleAdmissionResponse(ctx, sealed.Message, sealed.Signature)
	case types.MessageStatusRejected:
		if len(result.Response) > 0 {
			sealed, err := message.DecodeSigned(result.Response)
			if err != nil {
				return err
			}
			return e.HandleAdmissionResponse(ctx, sealed.Message, sealed.Signature)
		}
		return e.db.Messages().UpdateRequestStatus(record.MessageID, types.MessageStatusRejected)
	default:
		return errdefs.MessageNotFound(fmt.Sprintf(
			"request %s has unknown status %s", record.MessageID, result.Status))
	}
}

// HandlePollRequest answers a decision poll on a received admission
// request. The body signature is verified against the public key pinned
// from the original request, and the poll burns a challenge just like
// the request did.
func (e *Engine) HandlePollRequest(ctx context.Context, messageID string, raw []byte, signature string) (*PollResult, error) {
	record, err := e.db.Messages().GetReceivedRequest(messageID)
	if err != nil {
		return nil, err
	}

	var body pollRequest
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, errdefs.MessageSignature("poll request body does not parse")
	}
	if body.MessageID != messageID {
		return nil, errdefs.MessageSignature("poll request body does not match the polled request")
	}

	original, err := message.Decode(record.Request)
	if err != nil {
		return nil, err
	}

	var publicKey string
	switch m := original.(type) {
	case *message.AuthRequest:
		publicKey = m.Node.PublicKey
	case *message.AuthInvite:
		publicKey = m.Node.PublicKey
	default:
		return nil, errdefs.MessageNotFound(fmt.Sprintf(
			"stored request %s is not an admission request", messageID))
	}
	if !kms.VerifySignature(raw, publicKey, signature) {
		return nil, errdefs.MessageSignature("poll request signature does not verify")
	}

	if err := e.consumeChallenge(ctx, body.Challenge); err != nil {
		return nil, err
	}

	result := &PollResult{Status: record.Status}
	if record.Status != types.MessageStatusPending && len(record.Response) > 0 {
		result.Response = record.Response
	}
	return result, nil
}
