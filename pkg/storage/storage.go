package storage

import (
	"encoding/json"

	"github.com/Firefox2100/dedi-gateway/pkg/types"
)

// NetworkFilter narrows network listings. Nil fields match everything.
type NetworkFilter struct {
	Visible     *bool
	Registered  *bool
	Centralised *bool
}

// NetworkRepository persists network memberships.
type NetworkRepository interface {
	Get(id string) (*types.Network, error)
	Filter(filter NetworkFilter) ([]*types.Network, error)
	// Save creates a network; it fails if the id already exists.
	Save(network *types.Network) error
	// Update replaces a network; it fails if the id is missing.
	Update(network *types.Network) error
	Delete(id string) error
	// GetNodes resolves a network's member list to node records.
	GetNodes(id string) ([]*types.Node, error)
	// AddNode saves the node and appends its id to the network's
	// member list in one step.
	AddNode(networkID string, node *types.Node) error
}

// NodeRepository persists known peers across all networks.
type NodeRepository interface {
	Get(id string) (*types.Node, error)
	BatchGet(ids []string) ([]*types.Node, error)
	// Filter lists nodes by approval status; nil matches all.
	Filter(approved *bool) ([]*types.Node, error)
	Save(node *types.Node) error
	Update(node *types.Node) error
	Delete(id string) error
}

// MessageRepository retains admission messages in both directions,
// keyed by message id.
type MessageRepository interface {
	// SaveSentRequest records an outgoing admission request as pending.
	SaveSentRequest(record *types.AdmissionRecord) error
	// SaveReceivedRequest records an incoming admission request as
	// pending.
	SaveReceivedRequest(record *types.AdmissionRecord) error
	// GetRequests lists records by direction and status. sent nil
	// matches both directions; empty statuses match all statuses.
	GetRequests(sent *bool, statuses []types.MessageStatus) ([]*types.AdmissionRecord, error)
	GetSentRequest(messageID string) (*types.AdmissionRecord, error)
	GetReceivedRequest(messageID string) (*types.AdmissionRecord, error)
	// UpdateRequestStatus updates a record found in either direction,
	// received side first.
	UpdateRequestStatus(messageID string, status types.MessageStatus) error
	// SetReceivedResponse attaches the decision envelope to a received
	// record so pollers can collect it.
	SetReceivedResponse(messageID string, response json.RawMessage) error
}

// UserRepository persists local users and the instance-wide user ID
// mapping.
type UserRepository interface {
	Get(userID string) (*types.User, error)
	Save(user *types.User) error
	Update(user *types.User) error
	Delete(userID string) error
	List() ([]*types.User, error)
	GetMapping() (*types.UserMapping, error)
	SaveMapping(mapping *types.UserMapping) error
}

// Database groups the repositories plus the instance-wide data index.
type Database interface {
	Networks() NetworkRepository
	Nodes() NodeRepository
	Messages() MessageRepository
	Users() UserRepository

	// GetDataIndex returns this instance's shareable data index.
	GetDataIndex() (map[string]any, error)
	// SaveDataIndex replaces this instance's data index.
	SaveDataIndex(index map[string]any) error

	Close() error
}
