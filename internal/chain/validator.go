package chain

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ErrInvalidChain is returned by callers that need an error rather than a
// boolean from chain validation (the validation functions themselves stay
// pure boolean predicates).
var ErrInvalidChain = errors.New("chain: invalid chain")

// ErrInvalidHeaders is the header-only counterpart of ErrInvalidChain.
var ErrInvalidHeaders = errors.New("chain: invalid header sequence")

// proofDifficultyPrefix is the fixed leading-zero-hex-digit requirement.
// There is no difficulty retargeting in this design.
const proofDifficultyPrefix = "0000"

// Hash returns the hex-encoded SHA-256 digest of header's canonical JSON
// encoding. encoding/json on a struct always emits fields in declaration
// order with no inserted whitespace, which is what makes this
// deterministic across processes.
func Hash(header Header) string {
	data, err := json.Marshal(header)
	if err != nil {
		// Header is all JSON scalars; this cannot fail.
		panic(err)
	}
	digest := chainhash.HashB(data)
	return hex.EncodeToString(digest)
}

// ValidProof reports whether hash(previousHash ‖ decimal(proof)) begins
// with four hex zero digits.
func ValidProof(previousHash string, proof uint64) bool {
	guess := previousHash + strconv.FormatUint(proof, 10)
	digest := chainhash.HashB([]byte(guess))
	hexDigest := hex.EncodeToString(digest)
	return len(hexDigest) >= len(proofDifficultyPrefix) && hexDigest[:len(proofDifficultyPrefix)] == proofDifficultyPrefix
}

// ValidBlock reports whether block legally extends previous: sequential
// index, correct previous-hash linkage, and a satisfied proof-of-work.
func ValidBlock(block, previous Block) bool {
	if block.Header.Index != previous.Header.Index+1 {
		return false
	}
	if block.Header.PreviousHash != Hash(previous.Header) {
		return false
	}
	return ValidProof(block.Header.PreviousHash, block.Header.Proof)
}

// ValidChain reports whether chain is non-empty, starts with the canonical
// genesis block, and every adjacent pair satisfies ValidBlock.
func ValidChain(blocks []Block) bool {
	if len(blocks) == 0 {
		return false
	}
	if !IsGenesis(blocks[0]) {
		return false
	}
	for i := 1; i < len(blocks); i++ {
		if !ValidBlock(blocks[i], blocks[i-1]) {
			return false
		}
	}
	return true
}

// ValidHeaders is ValidChain's header-only counterpart, used by SPV nodes
// that never hold transaction bodies.
func ValidHeaders(headers []Header) bool {
	if len(headers) == 0 {
		return false
	}
	genesis := Genesis().Header
	if headers[0] != genesis {
		return false
	}
	for i := 1; i < len(headers); i++ {
		prev, cur := headers[i-1], headers[i]
		if cur.Index != prev.Index+1 {
			return false
		}
		if cur.PreviousHash != Hash(prev) {
			return false
		}
		if !ValidProof(cur.PreviousHash, cur.Proof) {
			return false
		}
	}
	return true
}

// Headers projects a full chain down to its headers, the shape FullNode
// serves in response to getheaders.
func Headers(blocks []Block) []Header {
	headers := make([]Header, len(blocks))
	for i, b := range blocks {
		headers[i] = b.Header
	}
	return headers
}
