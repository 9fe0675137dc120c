// Package pow implements the proof-of-work puzzle used by the miner.
//
// The puzzle is intentionally simple: a candidate proof solves the puzzle for
// a given block hash when the double-SHA256 digest of the hash concatenated
// with the little-endian encoded proof has at least the configured number of
// leading zero bits.  Finding a proof requires a brute-force search while
// verifying one requires only a single hash invocation.
package pow

import (
	"context"
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/MonteCarloClub/minerd/log"
)

const (
	// MinDifficulty and MaxDifficulty bound the allowed number of leading
	// zero bits a solution hash must have.  A difficulty of 256 would make
	// the puzzle unsolvable, so the upper bound stops short of it.
	MinDifficulty = 1
	MaxDifficulty = 255

	// DefaultDifficulty is the difficulty used when the caller does not
	// provide one.  16 leading zero bits is found in well under a second on
	// commodity hardware which makes it a reasonable default for a single
	// CPU-bound miner slot.
	DefaultDifficulty = 16

	// cancelCheckMask controls how often an in-progress search polls its
	// context for cancellation.  Checking on every nonce measurably slows
	// the hot loop, so the check only happens every 2^16 attempts.
	cancelCheckMask = (1 << 16) - 1
)

// ErrNoSolution is returned by SearchProof when the entire configured nonce
// range has been exhausted without finding a proof that satisfies the puzzle.
var ErrNoSolution = errors.New("no solution found in nonce range")

// Config is a descriptor containing the proof-of-work engine configuration.
type Config struct {
	// Difficulty is the number of leading zero bits a solution hash is
	// required to have.  Zero selects DefaultDifficulty.
	Difficulty uint32

	// MaxNonce is the highest nonce value a search will attempt.  Zero
	// selects the full 64-bit range.
	MaxNonce uint64
}

// Engine solves and verifies proof-of-work puzzles.  It is stateless aside
// from its configuration, performs no I/O, and is safe for concurrent use by
// multiple goroutines.
type Engine struct {
	difficulty uint32
	maxNonce   uint64
	target     *big.Int
}

// New returns a proof-of-work engine for the provided configuration.
func New(cfg *Config) (*Engine, error) {
	difficulty := cfg.Difficulty
	if difficulty == 0 {
		difficulty = DefaultDifficulty
	}
	if difficulty < MinDifficulty || difficulty > MaxDifficulty {
		return nil, errors.New("difficulty outside the supported range")
	}

	maxNonce := cfg.MaxNonce
	if maxNonce == 0 {
		maxNonce = ^uint64(0)
	}

	return &Engine{
		difficulty: difficulty,
		maxNonce:   maxNonce,
		target:     targetForDifficulty(difficulty),
	}, nil
}

// Difficulty returns the number of leading zero bits a solution hash is
// required to have.
func (e *Engine) Difficulty() uint32 {
	return e.difficulty
}

// solutionHash computes the double-SHA256 digest of the passed block hash
// concatenated with the little-endian encoding of the candidate proof.
func solutionHash(hash string, proof uint64) chainhash.Hash {
	buf := make([]byte, 0, len(hash)+8)
	buf = append(buf, hash...)
	var nonceBytes [8]byte
	binary.LittleEndian.PutUint64(nonceBytes[:], proof)
	buf = append(buf, nonceBytes[:]...)
	return chainhash.DoubleHashH(buf)
}

// ValidateProof returns whether or not the passed proof satisfies the puzzle
// for the passed block hash.  It is cheap, deterministic, and safe to call
// from any goroutine, including while a search is in progress.
func (e *Engine) ValidateProof(hash string, proof uint64) bool {
	digest := solutionHash(hash, proof)
	return HashToBig(&digest).Cmp(e.target) <= 0
}

// SearchProof scans the configured nonce range for a proof that satisfies
// the puzzle for the passed block hash and returns the first one found.
//
// The search may run for a very long time depending on the difficulty, so it
// periodically polls the passed context and returns the context error when
// the caller cancels it.  ErrNoSolution is returned when the nonce range is
// exhausted.
func (e *Engine) SearchProof(ctx context.Context, hash string) (uint64, error) {
	log.PoweLog.Tracef("Search started for hash %q with difficulty %d",
		hash, e.difficulty)

	for nonce := uint64(0); ; nonce++ {
		if nonce&cancelCheckMask == 0 {
			select {
			case <-ctx.Done():
				log.PoweLog.Tracef("Search for hash %q canceled "+
					"at nonce %d", hash, nonce)
				return 0, ctx.Err()
			default:
			}
		}

		digest := solutionHash(hash, nonce)
		if HashToBig(&digest).Cmp(e.target) <= 0 {
			log.PoweLog.Debugf("Solved hash %q with proof %d", hash,
				nonce)
			return nonce, nil
		}

		if nonce == e.maxNonce {
			break
		}
	}

	return 0, ErrNoSolution
}
