package chain

import (
	"encoding/hex"
	"encoding/json"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// MerkleRoot computes the commitment over an ordered transaction sequence
// by repeatedly pairwise-hashing digests, duplicating the last element of
// a level when its count is odd. An empty sequence returns ZeroDigest.
func MerkleRoot(txs []Transaction) string {
	if len(txs) == 0 {
		return ZeroDigest
	}

	level := make([][]byte, len(txs))
	for i, tx := range txs {
		level[i] = txDigest(tx)
	}

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([][]byte, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			combined := append(append([]byte{}, level[i]...), level[i+1]...)
			h := chainhash.HashB(combined)
			next = append(next, h)
		}
		level = next
	}

	return hex.EncodeToString(level[0])
}

// txDigest hashes a single transaction's canonical JSON encoding.
func txDigest(tx Transaction) []byte {
	data, err := json.Marshal(tx)
	if err != nil {
		// Transaction always marshals: every field is a JSON scalar.
		panic(err)
	}
	return chainhash.HashB(data)
}
