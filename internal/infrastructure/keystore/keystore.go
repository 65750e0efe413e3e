// Package keystore holds the admin signing identity used for ledger writes.
package keystore

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/execution-hub/ledger-sync/internal/domain/ledger"
)

var ErrInvalidKey = errors.New("invalid signing key")

// Signer is an in-memory ed25519 identity. It implements ledger.Signer.
type Signer struct {
	priv    ed25519.PrivateKey
	address string
}

func NewSigner(priv ed25519.PrivateKey) (*Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKey
	}
	return &Signer{
		priv:    priv,
		address: ledger.AddressFromPublicKey(priv.Public().(ed25519.PublicKey)),
	}, nil
}

// FromSeedHex builds a signer from a hex encoded 32 byte seed, optionally 0x prefixed.
// A full 64 byte private key is accepted as well.
func FromSeedHex(raw string) (*Signer, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	switch len(b) {
	case ed25519.SeedSize:
		return NewSigner(ed25519.NewKeyFromSeed(b))
	case ed25519.PrivateKeySize:
		return NewSigner(ed25519.PrivateKey(b))
	default:
		return nil, fmt.Errorf("%w: expected %d or %d bytes, got %d", ErrInvalidKey, ed25519.SeedSize, ed25519.PrivateKeySize, len(b))
	}
}

// Generate creates a fresh random identity.
func Generate() (*Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return NewSigner(priv)
}

func (s *Signer) Address() string { return s.address }

func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.priv.Public().(ed25519.PublicKey)
}

func (s *Signer) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, message), nil
}

// SeedHex returns the hex seed, for handing devnet keys to other processes.
func (s *Signer) SeedHex() string {
	return hex.EncodeToString(s.priv.Seed())
}
