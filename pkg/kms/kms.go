package kms

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
)

// Service manages the signing keys behind every network membership and
// local user. Each network has a node key (used to sign outgoing
// messages) and a management keypair (shared network-wide or held by
// the central node). Rotations create a new version and preserve the
// previous one so in-flight signatures still verify.
type Service interface {
	// GenerateNetworkNodeKey creates the signing key for a network, or
	// rotates it when one already exists. Returns the public key PEM.
	GenerateNetworkNodeKey(ctx context.Context, networkID string) (string, error)

	// GetNetworkNodePublicKey returns the current or previous version
	// of the network node public key.
	GetNetworkNodePublicKey(ctx context.Context, networkID string, previous bool) (string, error)

	// GenerateNetworkManagementKey creates the management keypair for a
	// network and returns (private, public) PEM.
	GenerateNetworkManagementKey(ctx context.Context, networkID string) (string, string, error)

	// StoreNetworkManagementKey stores management key material received
	// from another node. The private half is absent when a centralised
	// network keeps it on the central node only.
	StoreNetworkManagementKey(ctx context.Context, networkID, publicKey, privateKey string) error

	// GetNetworkManagementPublicKey returns the current or previous
	// version of the management public key.
	GetNetworkManagementPublicKey(ctx context.Context, networkID string, previous bool) (string, error)

	// GetNetworkManagementPrivateKey returns the management private
	// key, if this node holds it.
	GetNetworkManagementPrivateKey(ctx context.Context, networkID string) (string, error)

	// DeleteNetworkKeys removes all key material for a network.
	DeleteNetworkKeys(ctx context.Context, networkID string) error

	// GenerateUserKey creates a signing keypair for a local user and
	// returns the public key PEM.
	GenerateUserKey(ctx context.Context, userID string) (string, error)

	// GetUserPublicKey returns the current or previous version of a
	// user's public key.
	GetUserPublicKey(ctx context.Context, userID string, previous bool) (string, error)

	// SignPayload signs payload with the network node key, RSA-PSS over
	// SHA-256, and returns the base64 signature.
	SignPayload(ctx context.Context, payload []byte, networkID string) (string, error)
}

// VerifySignature checks a base64 RSA-PSS signature over payload
// against a PEM public key. A mismatch returns false, never an error;
// callers decide whether to retry with a previous key version.
func VerifySignature(payload []byte, publicPEM, signature string) bool {
	block, _ := pem.Decode([]byte(publicPEM))
	if block == nil {
		return false
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return false
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return false
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}

	digest := sha256.Sum256(payload)
	err = rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA256,
	})
	return err == nil
}

// generateKeyPair creates an RSA keypair and returns (private, public)
// as PEM strings.
func generateKeyPair(bits int) (string, string, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return "", "", fmt.Errorf("generating RSA key: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", "", fmt.Errorf("encoding private key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("encoding public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	return string(privPEM), string(pubPEM), nil
}

// signWithPEM signs payload with a PEM private key, RSA-PSS over
// SHA-256 with the maximum salt length.
func signWithPEM(privatePEM string, payload []byte) (string, error) {
	block, _ := pem.Decode([]byte(privatePEM))
	if block == nil {
		return "", fmt.Errorf("invalid private key PEM")
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("parsing private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return "", fmt.Errorf("private key is not RSA")
	}

	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return "", fmt.Errorf("signing payload: %w", err)
	}

	return base64.StdEncoding.EncodeToString(sig), nil
}
