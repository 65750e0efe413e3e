// Package protocol defines the signed transaction envelope accepted by the devnet ledger.
package protocol

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/execution-hub/ledger-sync/internal/domain/ledger"
)

// Tx is the signed, replicated entry-function call.
type Tx struct {
	Sender    string               `json:"sender"`
	Nonce     string               `json:"nonce"`
	Timestamp time.Time            `json:"timestamp"`
	Payload   ledger.EntryFunction `json:"payload"`
	PublicKey string               `json:"public_key"` // base64 raw ed25519 public key
	Signature string               `json:"signature"`  // base64 raw signature
}

type txSignable struct {
	Sender    string               `json:"sender"`
	Nonce     string               `json:"nonce"`
	Timestamp time.Time            `json:"timestamp"`
	Payload   ledger.EntryFunction `json:"payload"`
	PublicKey string               `json:"public_key"`
}

// CanonicalBytes returns the deterministic signing payload.
func (t Tx) CanonicalBytes() ([]byte, error) {
	payload := t.Payload
	if payload.TypeArguments == nil {
		payload.TypeArguments = []string{}
	}
	if payload.Arguments == nil {
		payload.Arguments = []json.RawMessage{}
	}
	return json.Marshal(txSignable{
		Sender:    ledger.NormalizeAddress(t.Sender),
		Nonce:     strings.TrimSpace(t.Nonce),
		Timestamp: t.Timestamp.UTC(),
		Payload:   payload,
		PublicKey: strings.TrimSpace(t.PublicKey),
	})
}

// Hash is the sha3-256 of the canonical bytes, hex encoded with a 0x prefix.
func (t Tx) Hash() (string, error) {
	b, err := t.CanonicalBytes()
	if err != nil {
		return "", err
	}
	sum := sha3.Sum256(b)
	return "0x" + hex.EncodeToString(sum[:]), nil
}

// ValidateBasic checks required immutable tx fields.
func (t Tx) ValidateBasic() error {
	if strings.TrimSpace(t.Sender) == "" {
		return errors.New("sender is required")
	}
	if strings.TrimSpace(t.Nonce) == "" {
		return errors.New("nonce is required")
	}
	if t.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	if strings.Count(t.Payload.Function, "::") != 2 {
		return fmt.Errorf("malformed function descriptor: %q", t.Payload.Function)
	}
	if strings.TrimSpace(t.PublicKey) == "" {
		return errors.New("public_key is required")
	}
	if strings.TrimSpace(t.Signature) == "" {
		return errors.New("signature is required")
	}
	return nil
}

// Sign sets sender, public key and signature from signer.
func (t *Tx) Sign(signer ledger.Signer) error {
	pub := signer.PublicKey()
	if len(pub) != ed25519.PublicKeySize {
		return errors.New("invalid public key")
	}
	t.Sender = signer.Address()
	t.PublicKey = base64.StdEncoding.EncodeToString(pub)
	payload, err := t.CanonicalBytes()
	if err != nil {
		return err
	}
	sig, err := signer.Sign(payload)
	if err != nil {
		return fmt.Errorf("sign tx: %w", err)
	}
	t.Signature = base64.StdEncoding.EncodeToString(sig)
	return nil
}

// Verify validates the signature and that the sender owns the public key.
func (t Tx) Verify() error {
	if err := t.ValidateBasic(); err != nil {
		return err
	}
	pubRaw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(t.PublicKey))
	if err != nil {
		return fmt.Errorf("invalid public_key: %w", err)
	}
	if len(pubRaw) != ed25519.PublicKeySize {
		return errors.New("invalid public_key size")
	}
	if ledger.AddressFromPublicKey(pubRaw) != ledger.NormalizeAddress(t.Sender) {
		return errors.New("sender does not match public_key")
	}
	sigRaw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(t.Signature))
	if err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}
	if len(sigRaw) != ed25519.SignatureSize {
		return errors.New("invalid signature size")
	}
	payload, err := t.CanonicalBytes()
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(pubRaw), payload, sigRaw) {
		return errors.New("signature verification failed")
	}
	return nil
}

// Arg decodes the i-th entry function argument.
func Arg[T any](fn ledger.EntryFunction, i int) (T, error) {
	var out T
	if i >= len(fn.Arguments) {
		return out, fmt.Errorf("missing argument %d", i)
	}
	if err := json.Unmarshal(fn.Arguments[i], &out); err != nil {
		return out, fmt.Errorf("argument %d: %w", i, err)
	}
	return out, nil
}

// SubmitResponse is returned by the devnet for an accepted transaction.
type SubmitResponse struct {
	Hash string `json:"hash"`
}
