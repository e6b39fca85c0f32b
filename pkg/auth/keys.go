// Package auth authenticates negotiating parties. A party is its Ed25519
// public key; requests carry short-lived EdDSA JWTs signed by that key.
package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/text/unicode/norm"

	"github.com/tome-gg/negotiation-protocols/pkg/negotiation"
)

const kdfSalt = "negotiation-party-kdf"

// GenerateKey returns a fresh party key.
func GenerateKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	return priv, err
}

// DeriveKey derives a deterministic party key from a master seed using
// HKDF-SHA256. Labels are NFC normalized so that visually identical labels
// derive the same key.
func DeriveKey(seed []byte, label string) (ed25519.PrivateKey, error) {
	if len(seed) < ed25519.SeedSize {
		return nil, fmt.Errorf("master seed must be at least %d bytes", ed25519.SeedSize)
	}
	if label == "" {
		return nil, fmt.Errorf("label must not be empty")
	}
	r := hkdf.New(sha256.New, seed, []byte(kdfSalt), []byte(norm.NFC.String(label)))
	derived := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, derived); err != nil {
		return nil, fmt.Errorf("HKDF derivation failed: %w", err)
	}
	return ed25519.NewKeyFromSeed(derived), nil
}

// IdentityOf returns the negotiation identity of a key.
func IdentityOf(priv ed25519.PrivateKey) negotiation.Identity {
	var id negotiation.Identity
	copy(id[:], priv.Public().(ed25519.PublicKey))
	return id
}

// PublicKey converts an identity back into a verification key.
func PublicKey(id negotiation.Identity) ed25519.PublicKey {
	return ed25519.PublicKey(append([]byte(nil), id[:]...))
}

// WriteKeyFile stores the key seed as hex, readable by the owner only.
func WriteKeyFile(path string, priv ed25519.PrivateKey) error {
	return os.WriteFile(path, []byte(hex.EncodeToString(priv.Seed())+"\n"), 0600)
}

// LoadKeyFile reads a key written by WriteKeyFile.
func LoadKeyFile(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, err
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("key file %s: %w", path, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("key file %s: want %d byte seed, got %d", path, ed25519.SeedSize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}
