package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Firefox2100/dedi-gateway/pkg/gateway"
	"github.com/Firefox2100/dedi-gateway/pkg/message"
	"github.com/Firefox2100/dedi-gateway/pkg/types"
)

func TestCreateAndListNetworks(t *testing.T) {
	f := newFixture(t)

	var created types.Network
	status := f.doJSON(t, http.MethodPost, "/manage/networks", map[string]any{
		"networkName": "fresh federation",
		"description": "a second network",
		"visible":     true,
	}, &created)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "fresh federation", created.Name)
	assert.NotEmpty(t, created.ID)
	assert.NotEmpty(t, created.InstanceID)
	assert.True(t, created.Registered)

	var listed []*types.Network
	status = f.doJSON(t, http.MethodGet, "/manage/networks", nil, &listed)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, listed, 2)
}

func TestCreateNetworkRequiresName(t *testing.T) {
	f := newFixture(t)

	var body struct {
		Error string `json:"error"`
	}
	status := f.doJSON(t, http.MethodPost, "/manage/networks", map[string]any{}, &body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.NotEmpty(t, body.Error)
}

func TestListNetworksFilters(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Networks().Save(&types.Network{
		ID:   "net-obs",
		Name: "observed only",
	}))

	var listed []*types.Network
	status := f.doJSON(t, http.MethodGet, "/manage/networks?registered=true", nil, &listed)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, listed, 1)
	assert.Equal(t, f.network.ID, listed[0].ID)

	status = f.doJSON(t, http.MethodGet, "/manage/networks?registered=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestNetworkLifecycleEndpoints(t *testing.T) {
	f := newFixture(t)

	var fetched types.Network
	status := f.doJSON(t, http.MethodGet, "/manage/networks/"+f.network.ID, nil, &fetched)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, f.network.Name, fetched.Name)

	var patched types.Network
	status = f.doJSON(t, http.MethodPatch, "/manage/networks/"+f.network.ID, map[string]any{
		"description": "renamed archive",
	}, &patched)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "renamed archive", patched.Description)
	assert.Equal(t, f.network.Name, patched.Name)

	status = f.doJSON(t, http.MethodDelete, "/manage/networks/"+f.network.ID, nil, nil)
	require.Equal(t, http.StatusNoContent, status)

	status = f.doJSON(t, http.MethodGet, "/manage/networks/"+f.network.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestJoinNetworkEndpoint(t *testing.T) {
	f := newFixture(t)

	remote := http.NewServeMux()
	remote.HandleFunc("/service/networks", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"networkId": "net-join", "networkName": "joinable", "registered": true}]`)
	})
	remote.HandleFunc("/service/challenge", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"nonce": "join-nonce", "difficulty": 4}`)
	})
	remote.HandleFunc("/service/requests", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"messageId": "remote-record", "reachable": false}`)
	})
	srv := httptest.NewServer(remote)
	defer srv.Close()

	var record types.AdmissionRecord
	status := f.doJSON(t, http.MethodPost, "/manage/networks/join", map[string]any{
		"targetUrl":     srv.URL,
		"networkId":     "net-join",
		"justification": "archive mirror",
	}, &record)
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, types.MessageStatusPending, record.Status)
	assert.True(t, record.RequiresPolling)
	assert.Equal(t, srv.URL, record.TargetURL)

	// The pending placeholder shows up in the network listing.
	var listed []*types.Network
	status = f.doJSON(t, http.MethodGet, "/manage/networks", nil, &listed)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, listed, 2)
}

func TestListRequestsEndpoint(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Messages().SaveSentRequest(&types.AdmissionRecord{
		MessageID: "sent-1",
		Status:    types.MessageStatusPending,
	}))
	require.NoError(t, f.db.Messages().SaveReceivedRequest(&types.AdmissionRecord{
		MessageID: "recv-1",
		Status:    types.MessageStatusAccepted,
	}))

	var records []*types.AdmissionRecord
	status := f.doJSON(t, http.MethodGet, "/manage/requests", nil, &records)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, records, 2)

	status = f.doJSON(t, http.MethodGet, "/manage/requests?sent=true", nil, &records)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, records, 1)
	assert.Equal(t, "sent-1", records[0].MessageID)

	status = f.doJSON(t, http.MethodGet, "/manage/requests?status=accepted", nil, &records)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, records, 1)
	assert.Equal(t, "recv-1", records[0].MessageID)
}

func TestDecideUnknownRequest(t *testing.T) {
	f := newFixture(t)

	status := f.doJSON(t, http.MethodPatch, "/manage/requests/ghost", map[string]any{
		"approve": true,
	}, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSendMessageEndpoint(t *testing.T) {
	f := newFixture(t)
	p := newPeer(t, f, "peer-1", true)
	p.connect(t, f)

	var result gateway.SendResult
	status := f.doJSON(t, http.MethodPost, "/manage/messages", map[string]any{
		"networkId": f.network.ID,
		"message":   "org.example.archive.notify",
		"broadcast": true,
		"data":      map[string]any{"shelf": "b-12"},
	}, &result)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, result.Delivered)
	assert.Empty(t, result.Responses)

	frame := p.nextFrame(t, f)
	custom, ok := frame.(*message.Custom)
	require.True(t, ok)
	assert.Equal(t, "org.example.archive.notify", string(custom.MessageType))
	assert.Equal(t, map[string]any{"shelf": "b-12"}, custom.Data)
}

func TestSendMessageRequiresTarget(t *testing.T) {
	f := newFixture(t)

	var body struct {
		Error string `json:"error"`
	}
	status := f.doJSON(t, http.MethodPost, "/manage/messages", map[string]any{
		"networkId": f.network.ID,
		"message":   "org.example.archive.notify",
		"data":      map[string]any{},
	}, &body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body.Error, "target node")
}

func TestDataIndexEndpoints(t *testing.T) {
	f := newFixture(t)

	status := f.doJSON(t, http.MethodPut, "/manage/index", map[string]any{
		"records": "catalogue-v2",
	}, nil)
	require.Equal(t, http.StatusNoContent, status)

	var index map[string]any
	status = f.doJSON(t, http.MethodGet, "/manage/index", nil, &index)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"records": "catalogue-v2"}, index)
}

func TestUserEndpoints(t *testing.T) {
	f := newFixture(t)

	var user types.User
	status := f.doJSON(t, http.MethodPost, "/manage/users", map[string]any{
		"userId": "user-1",
	}, &user)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "user-1", user.UserID)
	assert.Contains(t, user.PublicKey, "PUBLIC KEY")

	status = f.doJSON(t, http.MethodPost, "/manage/users", map[string]any{
		"userId": "user-1",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var users []*types.User
	status = f.doJSON(t, http.MethodGet, "/manage/users", nil, &users)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, users, 1)

	status = f.doJSON(t, http.MethodDelete, "/manage/users/user-1", nil, nil)
	require.Equal(t, http.StatusNoContent, status)

	status = f.doJSON(t, http.MethodGet, "/manage/users", nil, &users)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, users)
}

func TestUserMappingEndpoints(t *testing.T) {
	f := newFixture(t)

	var mapping types.UserMapping
	status := f.doJSON(t, http.MethodGet, "/manage/users/mapping", nil, &mapping)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, types.UserMappingNone, mapping.Type)

	status = f.doJSON(t, http.MethodPut, "/manage/users/mapping", map[string]any{
		"mappingType": "static",
		"staticId":    "svc-account",
	}, nil)
	require.Equal(t, http.StatusNoContent, status)

	status = f.doJSON(t, http.MethodGet, "/manage/users/mapping", nil, &mapping)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, types.UserMappingStatic, mapping.Type)
	assert.Equal(t, "svc-account", mapping.StaticID)

	// A static mapping without a target does not validate.
	status = f.doJSON(t, http.MethodPut, "/manage/users/mapping", map[string]any{
		"mappingType": "static",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}
