package kms

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	vault "github.com/hashicorp/vault/api"

	"github.com/Firefox2100/dedi-gateway/pkg/errdefs"
)

// VaultConfig connects the Vault-backed Service.
type VaultConfig struct {
	Address       string
	Token         string
	TransitEngine string
	KVEngine      string
	KVPath        string
}

// VaultService implements Service on HashiCorp Vault. Network node keys
// live in the Transit engine (rsa-4096, private keys never leave
// Vault); management and user keypairs live in the KV v2 engine, whose
// version history provides the previous-key lookups.
type VaultService struct {
	client        *vault.Client
	transitEngine string
	kvEngine      string
	kvPath        string
}

func NewVaultService(cfg VaultConfig) (*VaultService, error) {
	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KeyManagement("creating Vault client"), err)
	}
	client.SetToken(cfg.Token)

	return &VaultService{
		client:        client,
		transitEngine: cfg.TransitEngine,
		kvEngine:      cfg.KVEngine,
		kvPath:        cfg.KVPath,
	}, nil
}

func (s *VaultService) transitKeyName(networkID string) string {
	return "network-" + networkID
}

func (s *VaultService) managementPath(networkID string) string {
	return fmt.Sprintf("%s/network/%s", s.kvPath, networkID)
}

func (s *VaultService) userPath(userID string) string {
	return fmt.Sprintf("%s/user/%s", s.kvPath, userID)
}

func (s *VaultService) GenerateNetworkNodeKey(ctx context.Context, networkID string) (string, error) {
	name := s.transitKeyName(networkID)
	keyPath := fmt.Sprintf("%s/keys/%s", s.transitEngine, name)

	existing, err := s.client.Logical().ReadWithContext(ctx, keyPath)
	if err != nil {
		return "", errdefs.Wrap(errdefs.KeyManagement(fmt.Sprintf("reading transit key for network %s", networkID)), err)
	}

	if existing == nil {
		_, err = s.client.Logical().WriteWithContext(ctx, keyPath, map[string]interface{}{
			"type": "rsa-4096",
		})
		if err != nil {
			return "", errdefs.Wrap(errdefs.KeyManagement(fmt.Sprintf("creating transit key for network %s", networkID)), err)
		}

		// Allow removal when the network is deleted later.
		_, err = s.client.Logical().WriteWithContext(ctx, keyPath+"/config", map[string]interface{}{
			"deletion_allowed": true,
		})
		if err != nil {
			return "", errdefs.Wrap(errdefs.KeyManagement(fmt.Sprintf("configuring transit key for network %s", networkID)), err)
		}
	} else {
		_, err = s.client.Logical().WriteWithContext(ctx, keyPath+"/rotate", map[string]interface{}{})
		if err != nil {
			return "", errdefs.Wrap(errdefs.KeyManagement(fmt.Sprintf("rotating transit key for network %s", networkID)), err)
		}
	}

	return s.GetNetworkNodePublicKey(ctx, networkID, false)
}

func (s *VaultService) GetNetworkNodePublicKey(ctx context.Context, networkID string, previous bool) (string, error) {
	name := s.transitKeyName(networkID)

	secret, err := s.client.Logical().ReadWithContext(ctx, fmt.Sprintf("%s/keys/%s", s.transitEngine, name))
	if err != nil {
		return "", errdefs.Wrap(errdefs.KeyManagement(fmt.Sprintf("reading transit key for network %s", networkID)), err)
	}
	if secret == nil {
		return "", errdefs.KeyNotFound(fmt.Sprintf("node key for network %s not found", networkID))
	}

	versions, ok := secret.Data["keys"].(map[string]interface{})
	if !ok || len(versions) == 0 {
		return "", errdefs.KeyManagement(fmt.Sprintf("transit key for network %s has no versions", networkID))
	}

	latest := 0
	for v := range versions {
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		if n > latest {
			latest = n
		}
	}
	if previous {
		latest--
	}
	if latest < 1 {
		return "", errdefs.KeyNotFound(fmt.Sprintf("no previous version of node key for network %s", networkID))
	}

	info, ok := versions[strconv.Itoa(latest)].(map[string]interface{})
	if !ok {
		return "", errdefs.KeyManagement(fmt.Sprintf("transit key version %d for network %s is malformed", latest, networkID))
	}
	public, ok := info["public_key"].(string)
	if !ok {
		return "", errdefs.KeyManagement(fmt.Sprintf("transit key for network %s has no public key", networkID))
	}

	return public, nil
}

func (s *VaultService) GenerateNetworkManagementKey(ctx context.Context, networkID string) (string, string, error) {
	private, public, err := generateKeyPair(4096)
	if err != nil {
		return "", "", errdefs.Wrap(errdefs.KeyManagement(fmt.Sprintf("generating management key for network %s", networkID)), err)
	}

	_, err = s.client.KVv2(s.kvEngine).Put(ctx, s.managementPath(networkID), map[string]interface{}{
		"privateKey": private,
		"publicKey":  public,
	})
	if err != nil {
		return "", "", errdefs.Wrap(errdefs.KeyManagement(fmt.Sprintf("storing management key for network %s", networkID)), err)
	}

	return private, public, nil
}

func (s *VaultService) StoreNetworkManagementKey(ctx context.Context, networkID, publicKey, privateKey string) error {
	payload := map[string]interface{}{
		"publicKey": publicKey,
	}
	if privateKey != "" {
		payload["privateKey"] = privateKey
	}

	_, err := s.client.KVv2(s.kvEngine).Put(ctx, s.managementPath(networkID), payload)
	if err != nil {
		return errdefs.Wrap(errdefs.KeyManagement(fmt.Sprintf("storing management key for network %s", networkID)), err)
	}
	return nil
}

// readKVVersion reads a KV secret at the current or previous version,
// using the KV v2 version history.
func (s *VaultService) readKVVersion(ctx context.Context, path string, previous bool, what string) (map[string]interface{}, error) {
	kv := s.client.KVv2(s.kvEngine)

	meta, err := kv.GetMetadata(ctx, path)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return nil, errdefs.KeyNotFound(fmt.Sprintf("%s not found", what))
		}
		return nil, errdefs.Wrap(errdefs.KeyManagement(fmt.Sprintf("reading metadata for %s", what)), err)
	}

	version := meta.CurrentVersion
	if previous {
		version--
	}
	if version < 1 {
		return nil, errdefs.KeyNotFound(fmt.Sprintf("no previous version of %s", what))
	}

	secret, err := kv.GetVersion(ctx, path, version)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return nil, errdefs.KeyNotFound(fmt.Sprintf("%s not found", what))
		}
		return nil, errdefs.Wrap(errdefs.KeyManagement(fmt.Sprintf("reading %s", what)), err)
	}

	return secret.Data, nil
}

func (s *VaultService) GetNetworkManagementPublicKey(ctx context.Context, networkID string, previous bool) (string, error) {
	data, err := s.readKVVersion(ctx, s.managementPath(networkID), previous, fmt.Sprintf("management key for network %s", networkID))
	if err != nil {
		return "", err
	}

	public, ok := data["publicKey"].(string)
	if !ok {
		return "", errdefs.KeyManagement(fmt.Sprintf("management key for network %s has no public key", networkID))
	}
	return public, nil
}

func (s *VaultService) GetNetworkManagementPrivateKey(ctx context.Context, networkID string) (string, error) {
	data, err := s.readKVVersion(ctx, s.managementPath(networkID), false, fmt.Sprintf("management key for network %s", networkID))
	if err != nil {
		return "", err
	}

	private, ok := data["privateKey"].(string)
	if !ok || private == "" {
		return "", errdefs.KeyNotFound(fmt.Sprintf("management private key for network %s not found", networkID))
	}
	return private, nil
}

func (s *VaultService) DeleteNetworkKeys(ctx context.Context, networkID string) error {
	name := s.transitKeyName(networkID)

	_, err := s.client.Logical().DeleteWithContext(ctx, fmt.Sprintf("%s/keys/%s", s.transitEngine, name))
	if err != nil {
		return errdefs.Wrap(errdefs.KeyManagement(fmt.Sprintf("deleting transit key for network %s", networkID)), err)
	}

	err = s.client.KVv2(s.kvEngine).DeleteMetadata(ctx, s.managementPath(networkID))
	if err != nil && !errors.Is(err, vault.ErrSecretNotFound) {
		return errdefs.Wrap(errdefs.KeyManagement(fmt.Sprintf("deleting management key for network %s", networkID)), err)
	}

	return nil
}

func (s *VaultService) GenerateUserKey(ctx context.Context, userID string) (string, error) {
	private, public, err := generateKeyPair(4096)
	if err != nil {
		return "", errdefs.Wrap(errdefs.KeyManagement(fmt.Sprintf("generating key for user %s", userID)), err)
	}

	_, err = s.client.KVv2(s.kvEngine).Put(ctx, s.userPath(userID), map[string]interface{}{
		"privateKey": private,
		"publicKey":  public,
	})
	if err != nil {
		return "", errdefs.Wrap(errdefs.KeyManagement(fmt.Sprintf("storing key for user %s", userID)), err)
	}

	return public, nil
}

func (s *VaultService) GetUserPublicKey(ctx context.Context, userID string, previous bool) (string, error) {
	data, err := s.readKVVersion(ctx, s.userPath(userID), previous, fmt.Sprintf("key for user %s", userID))
	if err != nil {
		return "", err
	}

	public, ok := data["publicKey"].(string)
	if !ok {
		return "", errdefs.KeyManagement(fmt.Sprintf("key for user %s has no public key", userID))
	}
	return public, nil
}

func (s *VaultService) SignPayload(ctx context.Context, payload []byte, networkID string) (string, error) {
	name := s.transitKeyName(networkID)

	secret, err := s.client.Logical().WriteWithContext(ctx, fmt.Sprintf("%s/sign/%s", s.transitEngine, name), map[string]interface{}{
		"input":               base64.StdEncoding.EncodeToString(payload),
		"hash_algorithm":      "sha2-256",
		"signature_algorithm": "pss",
		"salt_length":         "auto",
	})
	if err != nil {
		return "", errdefs.Wrap(errdefs.KeyManagement(fmt.Sprintf("signing payload for network %s", networkID)), err)
	}
	if secret == nil {
		return "", errdefs.KeyNotFound(fmt.Sprintf("node key for network %s not found", networkID))
	}

	raw, ok := secret.Data["signature"].(string)
	if !ok {
		return "", errdefs.KeyManagement(fmt.Sprintf("transit sign for network %s returned no signature", networkID))
	}

	// Vault prefixes signatures with vault:vN:; the wire format carries
	// only the base64 payload after the last colon.
	parts := strings.Split(raw, ":")
	return parts[len(parts)-1], nil
}
