/*
Package kms manages the signing keys behind every network membership.

Each network this gateway joins has two kinds of key material: a node
key, used to sign every outgoing message, and a management keypair,
used for network governance. Local users can additionally hold keys for
signing custom messages. Two drivers implement the Service interface:
an in-memory driver for development and a HashiCorp Vault driver for
production.

# Architecture

	┌────────────────────── KMS ───────────────────────────────┐
	│                                                            │
	│  Service interface                                         │
	│  ├── GenerateNetworkNodeKey / GetNetworkNodePublicKey      │
	│  ├── Generate/Store/Get network management keys            │
	│  ├── GenerateUserKey / GetUserPublicKey                    │
	│  ├── SignPayload (RSA-PSS, SHA-256)                        │
	│  └── DeleteNetworkKeys                                     │
	│                                                            │
	│  ┌──────────────────┐      ┌──────────────────────────┐  │
	│  │  MemoryService    │      │      VaultService         │  │
	│  │  maps + RWMutex   │      │  Transit: node keys       │  │
	│  │  dev/test only    │      │  KV v2:  management/user  │  │
	│  └──────────────────┘      └──────────────────────────┘  │
	└────────────────────────────────────────────────────────┘

# Key Lifecycles

Node keys:
  - Created when a network is created or a join request is sent
  - Regenerating an existing key rotates it; the previous version is
    retained so signatures made before the rotation still verify
  - Private halves never leave Vault in the Vault driver

Management keys:
  - Generated on network creation (decentralised: every member holds
    the private half) or stored from an invitation
  - Centralised networks distribute the public half only
  - KV v2 version history provides the previous-version lookups

# Signing

SignPayload produces a detached base64 RSA-PSS signature over SHA-256
with automatic (maximum) salt length. Verification is a package-level
function requiring no driver:

	sig, err := svc.SignPayload(ctx, envelopeBytes, networkID)
	ok := kms.VerifySignature(envelopeBytes, publicPEM, sig)

A mismatch returns false rather than an error; callers retry against
the previous key version to cover rotation windows.

The Vault Transit engine returns signatures as vault:vN:<base64>; the
driver strips everything up to the last colon so the wire format is the
bare base64 payload on both drivers.

# Vault Layout

	transit/keys/network-<network-id>       rsa-4096, deletion allowed
	<kv-path>/network/<network-id>          {privateKey?, publicKey}
	<kv-path>/user/<user-id>                {privateKey, publicKey}

The engine mounts and KV path prefix come from DG_VAULT_TRANSIT_ENGINE,
DG_VAULT_KV_ENGINE and DG_VAULT_KV_PATH.

# Errors

Missing keys surface as KmsKeyNotFound (HTTP 404); any other backend
failure is KmsKeyManagement (HTTP 500). Signature mismatches are a
boolean false, never an error.

# Integration Points

  - pkg/message: the Service satisfies message.Signer
  - pkg/connection: verifies inbound frames with VerifySignature
  - pkg/gateway: drives key lifecycles during admission
  - pkg/api: exposes public keys indirectly via node records

# Thread Safety

MemoryService guards its maps with an RWMutex. VaultService is
stateless beyond the underlying client, which is safe for concurrent
use.
*/
package kms
