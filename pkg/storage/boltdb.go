package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/Firefox2100/dedi-gateway/pkg/errdefs"
	"github.com/Firefox2100/dedi-gateway/pkg/types"
)

var (
	// Bucket names
	bucketNetworks         = []byte("networks")
	bucketNodes            = []byte("nodes")
	bucketSentRequests     = []byte("sent_requests")
	bucketReceivedRequests = []byte("received_requests")
	bucketUsers            = []byte("users")
	bucketMeta             = []byte("meta")
)

var (
	metaKeyDataIndex   = []byte("data_index")
	metaKeyUserMapping = []byte("user_mapping")
)

// BoltDatabase implements Database on a single BoltDB file.
type BoltDatabase struct {
	db *bolt.DB
}

// NewBoltDatabase opens (or creates) the gateway database under
// dataDir.
func NewBoltDatabase(dataDir string) (*BoltDatabase, error) {
	dbPath := filepath.Join(dataDir, "gateway.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketNetworks,
			bucketNodes,
			bucketSentRequests,
			bucketReceivedRequests,
			bucketUsers,
			bucketMeta,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltDatabase{db: db}, nil
}

// Close closes the database
func (d *BoltDatabase) Close() error {
	return d.db.Close()
}

func (d *BoltDatabase) Networks() NetworkRepository { return &boltNetworks{d.db} }
func (d *BoltDatabase) Nodes() NodeRepository       { return &boltNodes{d.db} }
func (d *BoltDatabase) Messages() MessageRepository { return &boltMessages{d.db} }
func (d *BoltDatabase) Users() UserRepository       { return &boltUsers{d.db} }

func (d *BoltDatabase) GetDataIndex() (map[string]any, error) {
	index := make(map[string]any)
	err := d.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(metaKeyDataIndex)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &index)
	})
	return index, err
}

func (d *BoltDatabase) SaveDataIndex(index map[string]any) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(index)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(metaKeyDataIndex, data)
	})
}

// Network operations
type boltNetworks struct {
	db *bolt.DB
}

func (r *boltNetworks) Get(id string) (*types.Network, error) {
	var network types.Network
	err := r.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNetworks).Get([]byte(id))
		if data == nil {
			return errdefs.NetworkNotFound(fmt.Sprintf("network not found: %s", id))
		}
		return json.Unmarshal(data, &network)
	})
	if err != nil {
		return nil, err
	}
	return &network, nil
}

func (r *boltNetworks) Filter(filter NetworkFilter) ([]*types.Network, error) {
	var networks []*types.Network
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNetworks).ForEach(func(_, data []byte) error {
			var network types.Network
			if err := json.Unmarshal(data, &network); err != nil {
				return err
			}
			if filter.Visible != nil && network.Visible != *filter.Visible {
				return nil
			}
			if filter.Registered != nil && network.Registered != *filter.Registered {
				return nil
			}
			if filter.Centralised != nil && network.Centralised() != *filter.Centralised {
				return nil
			}
			networks = append(networks, &network)
			return nil
		})
	})
	return networks, err
}

func (r *boltNetworks) Save(network *types.Network) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNetworks)
		if b.Get([]byte(network.ID)) != nil {
			return fmt.Errorf("network already exists: %s", network.ID)
		}
		data, err := json.Marshal(network)
		if err != nil {
			return err
		}
		return b.Put([]byte(network.ID), data)
	})
}

func (r *boltNetworks) Update(network *types.Network) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNetworks)
		if b.Get([]byte(network.ID)) == nil {
			return errdefs.NetworkNotFound(fmt.Sprintf("network not found: %s", network.ID))
		}
		data, err := json.Marshal(network)
		if err != nil {
			return err
		}
		return b.Put([]byte(network.ID), data)
	})
}

func (r *boltNetworks) Delete(id string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNetworks).Delete([]byte(id))
	})
}

func (r *boltNetworks) GetNodes(id string) ([]*types.Node, error) {
	var nodes []*types.Node
	err := r.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNetworks).Get([]byte(id))
		if data == nil {
			return errdefs.NetworkNotFound(fmt.Sprintf("network not found: %s", id))
		}
		var network types.Network
		if err := json.Unmarshal(data, &network); err != nil {
			return err
		}

		b := tx.Bucket(bucketNodes)
		for _, nodeID := range network.NodeIDs {
			nodeData := b.Get([]byte(nodeID))
			if nodeData == nil {
				continue
			}
			var node types.Node
			if err := json.Unmarshal(nodeData, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
		}
		return nil
	})
	return nodes, err
}

func (r *boltNetworks) AddNode(networkID string, node *types.Node) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		nb := tx.Bucket(bucketNetworks)
		data := nb.Get([]byte(networkID))
		if data == nil {
			return errdefs.NetworkNotFound(fmt.Sprintf("network not found: %s", networkID))
		}
		var network types.Network
		if err := json.Unmarshal(data, &network); err != nil {
			return err
		}

		nodeData, err := json.Marshal(node)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketNodes).Put([]byte(node.ID), nodeData); err != nil {
			return err
		}

		for _, existing := range network.NodeIDs {
			if existing == node.ID {
				return nil
			}
		}
		network.NodeIDs = append(network.NodeIDs, node.ID)

		updated, err := json.Marshal(&network)
		if err != nil {
			return err
		}
		return nb.Put([]byte(networkID), updated)
	})
}

// Node operations
type boltNodes struct {
	db *bolt.DB
}

func (r *boltNodes) Get(id string) (*types.Node, error) {
	var node types.Node
	err := r.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNodes).Get([]byte(id))
		if data == nil {
			return errdefs.NodeNotFound(fmt.Sprintf("node not found: %s", id))
		}
		return json.Unmarshal(data, &node)
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (r *boltNodes) BatchGet(ids []string) ([]*types.Node, error) {
	var nodes []*types.Node
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		for _, id := range ids {
			data := b.Get([]byte(id))
			if data == nil {
				continue
			}
			var node types.Node
			if err := json.Unmarshal(data, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
		}
		return nil
	})
	return nodes, err
}

func (r *boltNodes) Filter(approved *bool) ([]*types.Node, error) {
	var nodes []*types.Node
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(_, data []byte) error {
			var node types.Node
			if err := json.Unmarshal(data, &node); err != nil {
				return err
			}
			if approved != nil && node.Approved != *approved {
				return nil
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	return nodes, err
}

func (r *boltNodes) Save(node *types.Node) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		if b.Get([]byte(node.ID)) != nil {
			return fmt.Errorf("node already exists: %s", node.ID)
		}
		data, err := json.Marshal(node)
		if err != nil {
			return err
		}
		return b.Put([]byte(node.ID), data)
	})
}

func (r *boltNodes) Update(node *types.Node) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		if b.Get([]byte(node.ID)) == nil {
			return errdefs.NodeNotFound(fmt.Sprintf("node not found: %s", node.ID))
		}
		data, err := json.Marshal(node)
		if err != nil {
			return err
		}
		return b.Put([]byte(node.ID), data)
	})
}

func (r *boltNodes) Delete(id string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).Delete([]byte(id))
	})
}

// Admission message operations
type boltMessages struct {
	db *bolt.DB
}

func (r *boltMessages) saveRequest(bucket []byte, record *types.AdmissionRecord) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		c := *record
		c.Status = types.MessageStatusPending
		data, err := json.Marshal(&c)
		if err != nil {
			return err
		}
		return tx.Bucket(bucket).Put([]byte(c.MessageID), data)
	})
}

func (r *boltMessages) SaveSentRequest(record *types.AdmissionRecord) error {
	return r.saveRequest(bucketSentRequests, record)
}

func (r *boltMessages) SaveReceivedRequest(record *types.AdmissionRecord) error {
	c := *record
	c.TargetURL = ""
	return r.saveRequest(bucketReceivedRequests, &c)
}

func (r *boltMessages) GetRequests(sent *bool, statuses []types.MessageStatus) ([]*types.AdmissionRecord, error) {
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
	err := r.db.View(func(tx *bolt.Tx) error {
		collect := func(bucket []byte) error {
			return tx.Bucket(bucket).ForEach(func(_, data []byte) error {
				var record types.AdmissionRecord
				if err := json.Unmarshal(data, &record); err != nil {
					return err
				}
				if match(&record) {
					records = append(records, &record)
				}
				return nil
			})
		}

		if sent == nil || !*sent {
			if err := collect(bucketReceivedRequests); err != nil {
				return err
			}
		}
		if sent == nil || *sent {
			if err := collect(bucketSentRequests); err != nil {
				return err
			}
		}
		return nil
	})
	return records, err
}

func (r *boltMessages) getRequest(bucket []byte, messageID, what string) (*types.AdmissionRecord, error) {
	var record types.AdmissionRecord
	err := r.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(messageID))
		if data == nil {
			return errdefs.MessageNotFound(fmt.Sprintf("%s request not found: %s", what, messageID))
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *boltMessages) GetSentRequest(messageID string) (*types.AdmissionRecord, error) {
	return r.getRequest(bucketSentRequests, messageID, "sent")
}

func (r *boltMessages) GetReceivedRequest(messageID string) (*types.AdmissionRecord, error) {
	return r.getRequest(bucketReceivedRequests, messageID, "received")
}

func (r *boltMessages) UpdateRequestStatus(messageID string, status types.MessageStatus) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketReceivedRequests, bucketSentRequests} {
			b := tx.Bucket(bucket)
			data := b.Get([]byte(messageID))
			if data == nil {
				continue
			}
			var record types.AdmissionRecord
			if err := json.Unmarshal(data, &record); err != nil {
				return err
			}
			record.Status = status
			updated, err := json.Marshal(&record)
			if err != nil {
				return err
			}
			return b.Put([]byte(messageID), updated)
		}
		return errdefs.MessageNotFound(fmt.Sprintf("request not found: %s", messageID))
	})
}

func (r *boltMessages) SetReceivedResponse(messageID string, response json.RawMessage) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReceivedRequests)
		data := b.Get([]byte(messageID))
		if data == nil {
			return errdefs.MessageNotFound(fmt.Sprintf("received request not found: %s", messageID))
		}
		var record types.AdmissionRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}
		record.Response = response
		updated, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		return b.Put([]byte(messageID), updated)
	})
}

// User operations
type boltUsers struct {
	db *bolt.DB
}

func (r *boltUsers) Get(userID string) (*types.User, error) {
	var user types.User
	err := r.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get([]byte(userID))
		if data == nil {
			return errdefs.UserNotFound(fmt.Sprintf("user not found: %s", userID))
		}
		return json.Unmarshal(data, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *boltUsers) Save(user *types.User) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		if b.Get([]byte(user.UserID)) != nil {
			return fmt.Errorf("user already exists: %s", user.UserID)
		}
		data, err := json.Marshal(user)
		if err != nil {
			return err
		}
		return b.Put([]byte(user.UserID), data)
	})
}

func (r *boltUsers) Update(user *types.User) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		if b.Get([]byte(user.UserID)) == nil {
			return errdefs.UserNotFound(fmt.Sprintf("user not found: %s", user.UserID))
		}
		data, err := json.Marshal(user)
		if err != nil {
			return err
		}
		return b.Put([]byte(user.UserID), data)
	})
}

func (r *boltUsers) Delete(userID string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).Delete([]byte(userID))
	})
}

func (r *boltUsers) List() ([]*types.User, error) {
	var users []*types.User
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(_, data []byte) error {
			var user types.User
			if err := json.Unmarshal(data, &user); err != nil {
				return err
			}
			users = append(users, &user)
			return nil
		})
	})
	return users, err
}

func (r *boltUsers) GetMapping() (*types.UserMapping, error) {
	mapping := &types.UserMapping{Type: types.UserMappingNone}
	err := r.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(metaKeyUserMapping)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, mapping)
	})
	if err != nil {
		return nil, err
	}
	return mapping, nil
}

func (r *boltUsers) SaveMapping(mapping *types.UserMapping) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(mapping)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(metaKeyUserMapping, data)
	})
}
