package kms

import (
	"context"
	"fmt"
	"sync"

	"github.com/Firefox2100/dedi-gateway/pkg/errdefs"
)

// memoryKeyBits keeps in-memory key generation fast; the driver is for
// development and tests, not production deployments.
const memoryKeyBits = 2048

type keyPair struct {
	private string
	public  string
}

type keyEntry struct {
	current  keyPair
	previous *keyPair
}

// MemoryService is an in-memory Service implementation. Keys vanish on
// restart; use the Vault driver for anything durable.
type MemoryService struct {
	mu             sync.RWMutex
	nodeKeys       map[string]*keyEntry
	managementKeys map[string]*keyEntry
	userKeys       map[string]*keyEntry
}

func NewMemoryService() *MemoryService {
	return &MemoryService{
		nodeKeys:       make(map[string]*keyEntry),
		managementKeys: make(map[string]*keyEntry),
		userKeys:       make(map[string]*keyEntry),
	}
}

func (s *MemoryService) GenerateNetworkNodeKey(_ context.Context, networkID string) (string, error) {
	private, public, err := generateKeyPair(memoryKeyBits)
	if err != nil {
		return "", errdefs.Wrap(errdefs.KeyManagement(fmt.Sprintf("generating node key for network %s", networkID)), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := keyPair{private: private, public: public}
	if existing, ok := s.nodeKeys[networkID]; ok {
		// Rotation: the outgoing version stays verifiable.
		prev := existing.current
		s.nodeKeys[networkID] = &keyEntry{current: fresh, previous: &prev}
	} else {
		s.nodeKeys[networkID] = &keyEntry{current: fresh}
	}

	return public, nil
}

func (s *MemoryService) GetNetworkNodePublicKey(_ context.Context, networkID string, previous bool) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return publicFromEntry(s.nodeKeys[networkID], previous, fmt.Sprintf("node key for network %s", networkID))
}

func (s *MemoryService) GenerateNetworkManagementKey(_ context.Context, networkID string) (string, string, error) {
	private, public, err := generateKeyPair(memoryKeyBits)
	if err != nil {
		return "", "", errdefs.Wrap(errdefs.KeyManagement(fmt.Sprintf("generating management key for network %s", networkID)), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeManagementLocked(networkID, keyPair{private: private, public: public})

	return private, public, nil
}

func (s *MemoryService) StoreNetworkManagementKey(_ context.Context, networkID, publicKey, privateKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeManagementLocked(networkID, keyPair{private: privateKey, public: publicKey})
	return nil
}

func (s *MemoryService) storeManagementLocked(networkID string, fresh keyPair) {
	if existing, ok := s.managementKeys[networkID]; ok {
		prev := existing.current
		s.managementKeys[networkID] = &keyEntry{current: fresh, previous: &prev}
	} else {
		s.managementKeys[networkID] = &keyEntry{current: fresh}
	}
}

func (s *MemoryService) GetNetworkManagementPublicKey(_ context.Context, networkID string, previous bool) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return publicFromEntry(s.managementKeys[networkID], previous, fmt.Sprintf("management key for network %s", networkID))
}

func (s *MemoryService) GetNetworkManagementPrivateKey(_ context.Context, networkID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.managementKeys[networkID]
	if !ok || entry.current.private == "" {
		return "", errdefs.KeyNotFound(fmt.Sprintf("management private key for network %s not found", networkID))
	}
	return entry.current.private, nil
}

func (s *MemoryService) DeleteNetworkKeys(_ context.Context, networkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodeKeys, networkID)
	delete(s.managementKeys, networkID)
	return nil
}

func (s *MemoryService) GenerateUserKey(_ context.Context, userID string) (string, error) {
	private, public, err := generateKeyPair(memoryKeyBits)
	if err != nil {
		return "", errdefs.Wrap(errdefs.KeyManagement(fmt.Sprintf("generating key for user %s", userID)), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := keyPair{private: private, public: public}
	if existing, ok := s.userKeys[userID]; ok {
		prev := existing.current
		s.userKeys[userID] = &keyEntry{current: fresh, previous: &prev}
	} else {
		s.userKeys[userID] = &keyEntry{current: fresh}
	}

	return public, nil
}

func (s *MemoryService) GetUserPublicKey(_ context.Context, userID string, previous bool) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return publicFromEntry(s.userKeys[userID], previous, fmt.Sprintf("key for user %s", userID))
}

func (s *MemoryService) SignPayload(_ context.Context, payload []byte, networkID string) (string, error) {
	s.mu.RLock()
	entry, ok := s.nodeKeys[networkID]
	s.mu.RUnlock()

	if !ok {
		return "", errdefs.KeyNotFound(fmt.Sprintf("node key for network %s not found", networkID))
	}

	sig, err := signWithPEM(entry.current.private, payload)
	if err != nil {
		return "", errdefs.Wrap(errdefs.KeyManagement(fmt.Sprintf("signing payload for network %s", networkID)), err)
	}
	return sig, nil
}

func publicFromEntry(entry *keyEntry, previous bool, what string) (string, error) {
	if entry == nil {
		return "", errdefs.KeyNotFound(fmt.Sprintf("%s not found", what))
	}
	if previous {
		if entry.previous == nil {
			return "", errdefs.KeyNotFound(fmt.Sprintf("no previous version of %s", what))
		}
		return entry.previous.public, nil
	}
	return entry.current.public, nil
}
