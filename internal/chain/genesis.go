package chain

// GenesisTimestamp is the fixed epoch second baked into every node's
// genesis header so independently-started nodes agree on its hash.
const GenesisTimestamp = 1700000000

// GenesisProof is the fixed proof carried by the genesis header. It is not
// required to satisfy ValidProof — the genesis block is accepted by
// construction, not by proof-of-work.
const GenesisProof = 100

// Genesis returns the single literal genesis block every node in the
// network must agree on.
func Genesis() Block {
	return Block{
		Header: Header{
			Index:        0,
			PreviousHash: GenesisPreviousHash,
			Timestamp:    GenesisTimestamp,
			MerkleRoot:   ZeroDigest,
			Proof:        GenesisProof,
		},
		Body: []Transaction{},
	}
}

// IsGenesis reports whether block matches the canonical genesis exactly.
func IsGenesis(block Block) bool {
	want := Genesis()
	if block.Header != want.Header {
		return false
	}
	return len(block.Body) == 0
}
