package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a class of gateway failure. Every kind maps to the
// HTTP status code the API surface reports for it.
type Kind string

const (
	KindConfigurationParsing  Kind = "configuration_parsing"
	KindBrokerTimeout         Kind = "broker_timeout"
	KindKeyManagement         Kind = "key_management"
	KindKeyNotFound           Kind = "key_not_found"
	KindNetworkRequestFailed  Kind = "network_request_failed"
	KindJoiningNetwork        Kind = "joining_network"
	KindInvitingNode          Kind = "inviting_node"
	KindNetworkNotFound       Kind = "network_not_found"
	KindNodeNotFound          Kind = "node_not_found"
	KindUserNotFound          Kind = "user_not_found"
	KindNodeNotApproved       Kind = "node_not_approved"
	KindNodeNotConnected      Kind = "node_not_connected"
	KindChallengeFailed       Kind = "challenge_failed"
	KindMessageNotFound       Kind = "message_not_found"
	KindMessageSignature      Kind = "message_signature"
	KindMessageConfigNotFound Kind = "message_config_not_found"
	KindMessageConfigParsing  Kind = "message_config_parsing"
)

var kindStatus = map[Kind]int{
	KindConfigurationParsing:  http.StatusBadRequest,
	KindBrokerTimeout:         http.StatusGatewayTimeout,
	KindKeyManagement:         http.StatusInternalServerError,
	KindKeyNotFound:           http.StatusNotFound,
	KindNetworkRequestFailed:  http.StatusBadGateway,
	KindJoiningNetwork:        http.StatusServiceUnavailable,
	KindInvitingNode:          http.StatusServiceUnavailable,
	KindNetworkNotFound:       http.StatusNotFound,
	KindNodeNotFound:          http.StatusNotFound,
	KindUserNotFound:          http.StatusNotFound,
	KindNodeNotApproved:       http.StatusForbidden,
	KindNodeNotConnected:      http.StatusServiceUnavailable,
	KindChallengeFailed:       http.StatusForbidden,
	KindMessageNotFound:       http.StatusNotFound,
	KindMessageSignature:      http.StatusBadRequest,
	KindMessageConfigNotFound: http.StatusNotFound,
	KindMessageConfigParsing:  http.StatusBadRequest,
}

// Error is a gateway failure with a semantic kind and an HTTP status.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target carries the same kind, so callers can match
// with errors.Is against a bare kind error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Status:  kindStatus[kind],
		Message: message,
	}
}

// StatusOf returns the HTTP status for err, defaulting to 500 for
// anything outside the gateway taxonomy.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		if e.Status != 0 {
			return e.Status
		}
		return kindStatus[e.Kind]
	}
	return http.StatusInternalServerError
}

// IsKind reports whether err belongs to the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Wrap attaches a cause to a gateway error.
func Wrap(err *Error, cause error) *Error {
	err.Err = cause
	return err
}

func ConfigurationParsing(message string) *Error {
	if message == "" {
		message = "error parsing configuration"
	}
	return newError(KindConfigurationParsing, message)
}

func BrokerTimeout(message string) *Error {
	if message == "" {
		message = "message broker timeout without receiving a message"
	}
	return newError(KindBrokerTimeout, message)
}

func KeyManagement(message string) *Error {
	if message == "" {
		message = "error managing KMS keys"
	}
	return newError(KindKeyManagement, message)
}

func KeyNotFound(message string) *Error {
	if message == "" {
		message = "key not found"
	}
	return newError(KindKeyNotFound, message)
}

// NetworkRequestFailed reports an outbound HTTP failure. The remote
// status is preserved when known; 0 falls back to 502.
func NetworkRequestFailed(message string, status int) *Error {
	if message == "" {
		message = "network request failed"
	}
	e := newError(KindNetworkRequestFailed, message)
	if status > 0 {
		e.Status = status
	}
	return e
}

func JoiningNetwork(message string) *Error {
	if message == "" {
		message = "failed to join the network"
	}
	return newError(KindJoiningNetwork, message)
}

func InvitingNode(message string) *Error {
	if message == "" {
		message = "failed to invite the node to the network"
	}
	return newError(KindInvitingNode, message)
}

func NetworkNotFound(message string) *Error {
	if message == "" {
		message = "network not found"
	}
	return newError(KindNetworkNotFound, message)
}

func NodeNotFound(message string) *Error {
	if message == "" {
		message = "node not found"
	}
	return newError(KindNodeNotFound, message)
}

func UserNotFound(message string) *Error {
	if message == "" {
		message = "user not found"
	}
	return newError(KindUserNotFound, message)
}

func NodeNotApproved(message string) *Error {
	if message == "" {
		message = "node not approved to communicate with this service"
	}
	return newError(KindNodeNotApproved, message)
}

func NodeNotConnected(message string) *Error {
	if message == "" {
		message = "node is not connected to the network"
	}
	return newError(KindNodeNotConnected, message)
}

func ChallengeFailed(message string) *Error {
	if message == "" {
		message = "proof of work challenge failed"
	}
	return newError(KindChallengeFailed, message)
}

func MessageNotFound(message string) *Error {
	if message == "" {
		message = "network message not found"
	}
	return newError(KindMessageNotFound, message)
}

func MessageSignature(message string) *Error {
	if message == "" {
		message = "network message signature is invalid"
	}
	return newError(KindMessageSignature, message)
}

func MessageConfigNotFound(message string) *Error {
	if message == "" {
		message = "message configuration not found"
	}
	return newError(KindMessageConfigNotFound, message)
}

func MessageConfigParsing(message string) *Error {
	if message == "" {
		message = "error parsing message configuration"
	}
	return newError(KindMessageConfigParsing, message)
}
