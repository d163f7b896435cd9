// Package identity manages the long-lived Ed25519 signing key and X25519
// key-agreement key every node uses: one pair authenticates control-plane
// frames and peer-session handshakes, the other derives shared secrets for
// transport encryption.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/curve25519"
)

// Identity holds a node's signing and key-agreement key pairs.
type Identity struct {
	SigningPublicKey  ed25519.PublicKey  `json:"signing_public_key"`
	SigningPrivateKey ed25519.PrivateKey `json:"signing_private_key"`

	KeyAgreementPublicKey  [32]byte `json:"key_agreement_public_key"`
	KeyAgreementPrivateKey [32]byte `json:"key_agreement_private_key"`

	bid string // canonical string form, computed once and cached
}

// GenerateIdentity creates a fresh signing and key-agreement key pair.
func GenerateIdentity() (*Identity, error) {
	sigPub, sigPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate Ed25519 key pair: %w", err)
	}

	var kaPriv, kaPub [32]byte
	if _, err := rand.Read(kaPriv[:]); err != nil {
		return nil, fmt.Errorf("failed to generate X25519 private key: %w", err)
	}
	curve25519.ScalarBaseMult(&kaPub, &kaPriv)

	id := &Identity{
		SigningPublicKey:       sigPub,
		SigningPrivateKey:      sigPriv,
		KeyAgreementPublicKey:  kaPub,
		KeyAgreementPrivateKey: kaPriv,
	}
	id.bid = id.computeBID()
	return id, nil
}

// BID returns the canonical string identity used as a peer identifier
// across the transport and liveness layers: a "hm:key:" prefix over the
// hex-encoded signing public key.
func (id *Identity) BID() string {
	if id.bid == "" {
		id.bid = id.computeBID()
	}
	return id.bid
}

func (id *Identity) computeBID() string {
	return fmt.Sprintf("hm:key:%x", id.SigningPublicKey)
}

// bidPrefix is the literal prefix every BID starts with, stripped by
// PublicKeyFromBID.
const bidPrefix = "hm:key:"

// PublicKeyFromBID recovers the Ed25519 public key embedded in a BID
// produced by computeBID, for verifying a signed hello against the
// identity its From field claims.
func PublicKeyFromBID(bid string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(bid, bidPrefix) {
		return nil, fmt.Errorf("identity: BID %q missing %q prefix", bid, bidPrefix)
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(bid, bidPrefix))
	if err != nil {
		return nil, fmt.Errorf("identity: BID %q has malformed hex: %w", bid, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("identity: BID %q decodes to %d bytes, want %d", bid, len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// SaveToFile persists the identity as JSON, restricted to owner access.
func (id *Identity) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal identity: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write identity file: %w", err)
	}
	return nil
}

// LoadFromFile loads an identity previously written by SaveToFile.
func LoadFromFile(filename string) (*Identity, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	}

	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("failed to unmarshal identity: %w", err)
	}
	id.bid = id.computeBID()
	return &id, nil
}
