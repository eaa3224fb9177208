package storage

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Firefox2100/dedi-gateway/pkg/errdefs"
	"github.com/Firefox2100/dedi-gateway/pkg/types"
)

// MemoryDatabase is an in-memory Database for development and tests.
// All repositories share one lock so cross-repository operations like
// AddNode stay atomic.
type MemoryDatabase struct {
	mu        sync.RWMutex
	networks  map[string]*types.Network
	nodes     map[string]*types.Node
	sent      map[string]*types.AdmissionRecord
	received  map[string]*types.AdmissionRecord
	users     map[string]*types.User
	mapping   *types.UserMapping
	dataIndex map[string]any
}

func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{
		networks:  make(map[string]*types.Network),
		nodes:     make(map[string]*types.Node),
		sent:      make(map[string]*types.AdmissionRecord),
		received:  make(map[string]*types.AdmissionRecord),
		users:     make(map[string]*types.User),
		dataIndex: make(map[string]any),
	}
}

func (d *MemoryDatabase) Networks() NetworkRepository { return &memoryNetworks{d} }
func (d *MemoryDatabase) Nodes() NodeRepository       { return &memoryNodes{d} }
func (d *MemoryDatabase) Messages() MessageRepository { return &memoryMessages{d} }
func (d *MemoryDatabase) Users() UserRepository       { return &memoryUsers{d} }

func (d *MemoryDatabase) GetDataIndex() (map[string]any, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return cloneIndex(d.dataIndex), nil
}

func (d *MemoryDatabase) SaveDataIndex(index map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dataIndex = cloneIndex(index)
	return nil
}

func (d *MemoryDatabase) Close() error { return nil }

// Copy helpers keep handed-out records private to the caller.

func copyNetwork(n *types.Network) *types.Network {
	c := *n
	c.NodeIDs = append([]string(nil), n.NodeIDs...)
	return &c
}

func copyNode(n *types.Node) *types.Node {
	c := *n
	c.DataIndex = cloneIndex(n.DataIndex)
	return &c
}

func copyRecord(r *types.AdmissionRecord) *types.AdmissionRecord {
	c := *r
	c.Request = append(json.RawMessage(nil), r.Request...)
	c.Response = append(json.RawMessage(nil), r.Response...)
	if len(c.Response) == 0 {
		c.Response = nil
	}
	return &c
}

func cloneIndex(index map[string]any) map[string]any {
	if index == nil {
		return nil
	}
	c := make(map[string]any, len(index))
	for k, v := range index {
		c[k] = v
	}
	return c
}

type memoryNetworks struct {
	d *MemoryDatabase
}

func (r *memoryNetworks) Get(id string) (*types.Network, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	network, ok := r.d.networks[id]
	if !ok {
		return nil, errdefs.NetworkNotFound(fmt.Sprintf("network not found: %s", id))
	}
	return copyNetwork(network), nil
}

func (r *memoryNetworks) Filter(filter NetworkFilter) ([]*types.Network, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	var networks []*types.Network
	for _, network := range r.d.networks {
		if filter.Visible != nil && network.Visible != *filter.Visible {
			continue
		}
		if filter.Registered != nil && network.Registered != *filter.Registered {
			continue
		}
		if filter.Centralised != nil && network.Centralised() != *filter.Centralised {
			continue
		}
		networks = append(networks, copyNetwork(network))
	}
	return networks, nil
}

func (r *memoryNetworks) Save(network *types.Network) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	if _, ok := r.d.networks[network.ID]; ok {
		return fmt.Errorf("network already exists: %s", network.ID)
	}
	r.d.networks[network.ID] = copyNetwork(network)
	return nil
}

func (r *memoryNetworks) Update(network *types.Network) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	if _, ok := r.d.networks[network.ID]; !ok {
		return errdefs.NetworkNotFound(fmt.Sprintf("network not found: %s", network.ID))
	}
	r.d.networks[network.ID] = copyNetwork(network)
	return nil
}

func (r *memoryNetworks) Delete(id string) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	delete(r.d.networks, id)
	return nil
}

func (r *memoryNetworks) GetNodes(id string) ([]*types.Node, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	network, ok := r.d.networks[id]
	if !ok {
		return nil, errdefs.NetworkNotFound(fmt.Sprintf("network not found: %s", id))
	}

	var nodes []*types.Node
	for _, nodeID := range network.NodeIDs {
		if node, ok := r.d.nodes[nodeID]; ok {
			nodes = append(nodes, copyNode(node))
		}
	}
	return nodes, nil
}

func (r *memoryNetworks) AddNode(networkID string, node *types.Node) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	network, ok := r.d.networks[networkID]
	if !ok {
		return errdefs.NetworkNotFound(fmt.Sprintf("network not found: %s", networkID))
	}

	r.d.nodes[node.ID] = copyNode(node)
	for _, existing := range network.NodeIDs {
		if existing == node.ID {
			return nil
		}
	}
	network.NodeIDs = append(network.NodeIDs, node.ID)
	return nil
}

type memoryNodes struct {
	d *MemoryDatabase
}

func (r *memoryNodes) Get(id string) (*types.Node, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	node, ok := r.d.nodes[id]
	if !ok {
		return nil, errdefs.NodeNotFound(fmt.Sprintf("node not found: %s", id))
	}
	return copyNode(node), nil
}

func (r *memoryNodes) BatchGet(ids []string) ([]*types.Node, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	var nodes []*types.Node
	for _, id := range ids {
		if node, ok := r.d.nodes[id]; ok {
			nodes = append(nodes, copyNode(node))
		}
	}
	return nodes, nil
}

func (r *memoryNodes) Filter(approved *bool) ([]*types.Node, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	var nodes []*types.Node
	for _, node := range r.d.nodes {
		if approved != nil && node.Approved != *approved {
			continue
		}
		nodes = append(nodes, copyNode(node))
	}
	return nodes, nil
}

func (r *memoryNodes) Save(node *types.Node) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	if _, ok := r.d.nodes[node.ID]; ok {
		return fmt.Errorf("node already exists: %s", node.ID)
	}
	r.d.nodes[node.ID] = copyNode(node)
	return nil
}

func (r *memoryNodes) Update(node *types.Node) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	if _, ok := r.d.nodes[node.ID]; !ok {
		return errdefs.NodeNotFound(fmt.Sprintf("node not found: %s", node.ID))
	}
	r.d.nodes[node.ID] = copyNode(node)
	return nil
}

func (r *memoryNodes) Delete(id string) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	delete(r.d.nodes, id)
	return nil
}

type memoryMessages struct {
	d *MemoryDatabase
}

func (r *memoryMessages) SaveSentRequest(record *types.AdmissionRecord) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	c := copyRecord(record)
	c.Status = types.MessageStatusPending
	r.d.sent[c.MessageID] = c
	return nil
}

func (r *memoryMessages) SaveReceivedRequest(record *types.AdmissionRecord) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	c := copyRecord(record)
	c.Status = types.MessageStatusPending
	c.TargetURL = ""
	r.d.received[c.MessageID] = c
	return nil
}

func (r *memoryMessages) GetRequests(sent *bool, statuses []types.MessageStatus) ([]*types.AdmissionRecord, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	match := func(record *types.AdmissionRecord) bool {
		if len(statuses) == 0 {
			return true
		}
		for _, s := range statuses {
			if record.Status == s {
				return true
			}
		}
		return false
	}

	var records []*types.AdmissionRecord
	if sent == nil || !*sent {
		for _, record := range r.d.received {
			if match(record) {
				records = append(records, copyRecord(record))
			}
		}
	}
	if sent == nil || *sent {
		for _, record := range r.d.sent {
			if match(record) {
				records = append(records, copyRecord(record))
			}
		}
	}
	return records, nil
}

func (r *memoryMessages) GetSentRequest(messageID string) (*types.AdmissionRecord, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	record, ok := r.d.sent[messageID]
	if !ok {
		return nil, errdefs.MessageNotFound(fmt.Sprintf("sent request not found: %s", messageID))
	}
	return copyRecord(record), nil
}

func (r *memoryMessages) GetReceivedRequest(messageID string) (*types.AdmissionRecord, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	record, ok := r.d.received[messageID]
	if !ok {
		return nil, errdefs.MessageNotFound(fmt.Sprintf("received request not found: %s", messageID))
	}
	return copyRecord(record), nil
}

func (r *memoryMessages) UpdateRequestStatus(messageID string, status types.MessageStatus) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	if record, ok := r.d.received[messageID]; ok {
		record.Status = status
		return nil
	}
	if record, ok := r.d.sent[messageID]; ok {
		record.Status = status
		return nil
	}
	return errdefs.MessageNotFound(fmt.Sprintf("request not found: %s", messageID))
}

func (r *memoryMessages) SetReceivedResponse(messageID string, response json.RawMessage) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	record, ok := r.d.received[messageID]
	if !ok {
		return errdefs.MessageNotFound(fmt.Sprintf("received request not found: %s", messageID))
	}
	record.Response = append(json.RawMessage(nil), response...)
	return nil
}

type memoryUsers struct {
	d *MemoryDatabase
}

func (r *memoryUsers) Get(userID string) (*types.User, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	user, ok := r.d.users[userID]
	if !ok {
		return nil, errdefs.UserNotFound(fmt.Sprintf("user not found: %s", userID))
	}
	c := *user
	return &c, nil
}

func (r *memoryUsers) Save(user *types.User) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	if _, ok := r.d.users[user.UserID]; ok {
		return fmt.Errorf("user already exists: %s", user.UserID)
	}
	c := *user
	r.d.users[user.UserID] = &c
	return nil
}

func (r *memoryUsers) Update(user *types.User) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	if _, ok := r.d.users[user.UserID]; !ok {
		return errdefs.UserNotFound(fmt.Sprintf("user not found: %s", user.UserID))
	}
	c := *user
	r.d.users[user.UserID] = &c
	return nil
}

func (r *memoryUsers) Delete(userID string) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	delete(r.d.users, userID)
	return nil
}

func (r *memoryUsers) List() ([]*types.User, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	var users []*types.User
	for _, user := range r.d.users {
		c := *user
		users = append(users, &c)
	}
	return users, nil
}

func (r *memoryUsers) GetMapping() (*types.UserMapping, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	if r.d.mapping == nil {
		return &types.UserMapping{Type: types.UserMappingNone}, nil
	}

	c := *r.d.mapping
	if r.d.mapping.DynamicMapping != nil {
		c.DynamicMapping = make(map[string]string, len(r.d.mapping.DynamicMapping))
		for k, v := range r.d.mapping.DynamicMapping {
			c.DynamicMapping[k] = v
		}
	}
	return &c, nil
}

func (r *memoryUsers) SaveMapping(mapping *types.UserMapping) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	c := *mapping
	if mapping.DynamicMapping != nil {
		c.DynamicMapping = make(map[string]string, len(mapping.DynamicMapping))
		for k, v := range mapping.DynamicMapping {
			c.DynamicMapping[k] = v
		}
	}
	r.d.mapping = &c
	return nil
}
