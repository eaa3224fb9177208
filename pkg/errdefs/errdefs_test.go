package errdefs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"configuration parsing", ConfigurationParsing(""), http.StatusBadRequest},
		{"broker timeout", BrokerTimeout(""), http.StatusGatewayTimeout},
		{"key management", KeyManagement(""), http.StatusInternalServerError},
		{"key not found", KeyNotFound(""), http.StatusNotFound},
		{"network request failed", NetworkRequestFailed("", 0), http.StatusBadGateway},
		{"network request failed with remote status", NetworkRequestFailed("", 418), 418},
		{"joining network", JoiningNetwork(""), http.StatusServiceUnavailable},
		{"inviting node", InvitingNode(""), http.StatusServiceUnavailable},
		{"network not found", NetworkNotFound(""), http.StatusNotFound},
		{"node not found", NodeNotFound(""), http.StatusNotFound},
		{"node not approved", NodeNotApproved(""), http.StatusForbidden},
		{"node not connected", NodeNotConnected(""), http.StatusServiceUnavailable},
		{"message not found", MessageNotFound(""), http.StatusNotFound},
		{"message signature", MessageSignature(""), http.StatusBadRequest},
		{"message config not found", MessageConfigNotFound(""), http.StatusNotFound},
		{"message config parsing", MessageConfigParsing(""), http.StatusBadRequest},
		{"unknown error", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, StatusOf(tt.err))
		})
	}
}

func TestKindMatching(t *testing.T) {
	err := NodeNotApproved("")
	wrapped := fmt.Errorf("dispatch failed: %w", err)

	assert.True(t, IsKind(wrapped, KindNodeNotApproved))
	assert.False(t, IsKind(wrapped, KindNodeNotFound))
	assert.True(t, errors.Is(wrapped, NodeNotApproved("different message")))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(NetworkRequestFailed("posting message", 0), cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "posting message")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestDefaultMessages(t *testing.T) {
	assert.Equal(t, "node not approved to communicate with this service", NodeNotApproved("").Message)
	assert.Equal(t, "message broker timeout without receiving a message", BrokerTimeout("").Message)
	assert.Equal(t, "custom reason", NodeNotApproved("custom reason").Message)
}
