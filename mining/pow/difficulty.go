package pow

import (
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// HashToBig converts a chainhash.Hash into a big.Int that can be used to
// perform math comparisons.
func HashToBig(hash *chainhash.Hash) *big.Int {
	// A Hash is in little-endian, but the big package wants the bytes in
	// big-endian, so reverse them.
	buf := *hash
	blen := len(buf)
	for i := 0; i < blen/2; i++ {
		buf[i], buf[blen-1-i] = buf[blen-1-i], buf[i]
	}

	return new(big.Int).SetBytes(buf[:])
}

// targetForDifficulty returns the highest hash value that satisfies the
// puzzle for the given difficulty, expressed as a number of leading zero
// bits that a solution hash is required to have.
func targetForDifficulty(difficulty uint32) *big.Int {
	one := big.NewInt(1)
	target := new(big.Int).Lsh(one, uint(256-difficulty))
	return target.Sub(target, one)
}
