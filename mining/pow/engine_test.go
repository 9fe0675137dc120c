package pow

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// TestNewConfig ensures the constructor applies defaults and rejects
// difficulties outside the supported range.
func TestNewConfig(t *testing.T) {
	e, err := New(&Config{})
	if err != nil {
		t.Fatalf("New with defaults: unexpected error: %v", err)
	}
	if e.Difficulty() != DefaultDifficulty {
		t.Fatalf("default difficulty is %d, want %d", e.Difficulty(),
			DefaultDifficulty)
	}

	if _, err := New(&Config{Difficulty: 256}); err == nil {
		t.Fatal("New accepted an out-of-range difficulty")
	}
}

// TestSearchFindsValidProof ensures a proof found by the search satisfies
// validation for the same hash and fails validation for a different hash.
func TestSearchFindsValidProof(t *testing.T) {
	e, err := New(&Config{Difficulty: 8})
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}

	const hash = "000000000019d6689c085ae165831e93"
	proof, err := e.SearchProof(context.Background(), hash)
	if err != nil {
		t.Fatalf("SearchProof: unexpected error: %v", err)
	}

	if !e.ValidateProof(hash, proof) {
		t.Fatalf("found proof %d does not validate for its own hash",
			proof)
	}
	if e.ValidateProof("a different hash", proof) {
		t.Fatalf("proof %d validated against an unrelated hash", proof)
	}
}

// TestValidateProofDeterministic ensures repeated validation of the same
// inputs always yields the same verdict.
func TestValidateProofDeterministic(t *testing.T) {
	e, err := New(&Config{Difficulty: 8})
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}

	proof, err := e.SearchProof(context.Background(), "abcd")
	if err != nil {
		t.Fatalf("SearchProof: unexpected error: %v", err)
	}
	for i := 0; i < 10; i++ {
		if !e.ValidateProof("abcd", proof) {
			t.Fatalf("validation verdict changed on attempt %d", i)
		}
	}
}

// TestSearchCancellation ensures an in-progress search honors context
// cancellation instead of running to nonce exhaustion.
func TestSearchCancellation(t *testing.T) {
	// A maximum difficulty search will not find a solution in any
	// reasonable amount of time, so the only way out is the context.
	e, err := New(&Config{Difficulty: MaxDifficulty})
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.SearchProof(ctx, "abcd"); !errors.Is(err, context.Canceled) {
		t.Fatalf("SearchProof: want context.Canceled, got %v", err)
	}
}

// TestSearchNonceExhaustion ensures a search over a tiny nonce range reports
// ErrNoSolution when nothing in the range solves the puzzle.
func TestSearchNonceExhaustion(t *testing.T) {
	e, err := New(&Config{Difficulty: MaxDifficulty, MaxNonce: 10})
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}

	if _, err := e.SearchProof(context.Background(), "abcd"); !errors.Is(err, ErrNoSolution) {
		t.Fatalf("SearchProof: want ErrNoSolution, got %v", err)
	}
}

// TestHashToBig ensures hashes convert to big integers with the expected
// byte order.
func TestHashToBig(t *testing.T) {
	// A hash with a single 0x01 in the final (most significant) byte
	// converts to 1 << 248.
	var hash chainhash.Hash
	hash[31] = 0x01

	want := new(big.Int).Lsh(big.NewInt(1), 248)
	if got := HashToBig(&hash); got.Cmp(want) != 0 {
		t.Fatalf("HashToBig: got %x, want %x", got, want)
	}
}

// TestTargetForDifficulty spot checks the difficulty to target conversion.
func TestTargetForDifficulty(t *testing.T) {
	// Difficulty 1 leaves the top bit clear; every hash at or below the
	// target has at least one leading zero bit.
	one := big.NewInt(1)
	want := new(big.Int).Lsh(one, 255)
	want.Sub(want, one)
	if got := targetForDifficulty(1); got.Cmp(want) != 0 {
		t.Fatalf("targetForDifficulty(1): got %x, want %x", got, want)
	}
}
