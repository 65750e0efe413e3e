package ledger

import (
	"crypto/ed25519"
	"errors"
	"strings"
	"testing"

	"github.com/execution-hub/ledger-sync/internal/domain/apperror"
)

func TestContractDescriptors(t *testing.T) {
	c := Contract{Address: "C0FFEE", Module: "contribution"}
	if got := c.Function(FnClaimReward); got != "0xc0ffee::contribution::claim_reward" {
		t.Fatalf("unexpected function descriptor %s", got)
	}
	if got := c.EventHandle(); got != "0xc0ffee::contribution" {
		t.Fatalf("unexpected handle %s", got)
	}
	if got := c.SessionResourceType("s-1"); got != "0xc0ffee::contribution::Session<s-1>" {
		t.Fatalf("unexpected resource type %s", got)
	}
}

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		" 0xABCdef ": "0xabcdef",
		"ABCDEF":     "0xabcdef",
		"":           "",
	}
	for in, want := range cases {
		if got := NormalizeAddress(in); got != want {
			t.Fatalf("NormalizeAddress(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestErrorClassification(t *testing.T) {
	if !errors.Is(ErrTxNotFound, apperror.ErrLedgerUnavailable) {
		t.Fatal("not-indexed transactions must be ledger unavailable")
	}
	if !errors.Is(ErrResourceNotFound, apperror.ErrNotFound) {
		t.Fatal("missing resources must be not found")
	}
}

func TestArgs(t *testing.T) {
	args, err := Args("0xabc", 12, []string{"a"})
	if err != nil {
		t.Fatalf("args: %v", err)
	}
	if string(args[0]) != `"0xabc"` || string(args[1]) != `12` || string(args[2]) != `["a"]` {
		t.Fatalf("unexpected encoding: %s %s %s", args[0], args[1], args[2])
	}
}

func TestAddressFromPublicKey(t *testing.T) {
	pub := ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize)).Public().(ed25519.PublicKey)
	addr := AddressFromPublicKey(pub)
	if !strings.HasPrefix(addr, "0x") || len(addr) != 66 {
		t.Fatalf("unexpected address %s", addr)
	}
	if addr != NormalizeAddress(addr) {
		t.Fatalf("address %s is not normalized", addr)
	}
	if AddressFromPublicKey(pub) != addr {
		t.Fatal("address derivation is not deterministic")
	}
}
