package ledger

import (
	"encoding/json"
	"testing"

	"github.com/bigdot123456/p2pnode/internal/chain"
)

func TestNewLedgerStartsAtGenesis(t *testing.T) {
	l := New()
	if l.Height() != 1 {
		t.Fatalf("Height() = %d, want 1", l.Height())
	}
	if !chain.IsGenesis(l.LastBlock()) {
		t.Fatal("fresh ledger's last block must be genesis")
	}
}

func TestAddTransactionReturnsNextBlockIndex(t *testing.T) {
	l := New()
	idx, err := l.AddTransaction("alice", "bob", 10, "0")
	if err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	if idx != 1 {
		t.Fatalf("index = %d, want 1 (len(chain) before mining)", idx)
	}
	if len(l.PendingTransactions()) != 1 {
		t.Fatal("pending buffer should contain the new transaction")
	}
}

func TestAddTransactionRejectsEmptyRecipient(t *testing.T) {
	l := New()
	if _, err := l.AddTransaction("alice", "", 10, "0"); err == nil {
		t.Fatal("expected error for empty recipient")
	}
}

func TestVerifyAndAddTransactionRejectsDoubleSpend(t *testing.T) {
	l := New()
	if _, err := l.VerifyAndAddTransaction("alice", "bob", 10, "tx-1"); err != nil {
		t.Fatalf("first transaction should be accepted: %v", err)
	}
	if _, err := l.VerifyAndAddTransaction("alice", "carol", 5, "tx-1"); err != ErrInvalidTransaction {
		t.Fatalf("expected ErrInvalidTransaction for reused previous_hash, got %v", err)
	}
}

func TestVerifyAndAddTransactionAllowsRepeatedCoinbase(t *testing.T) {
	l := New()
	if _, err := l.VerifyAndAddTransaction(chain.CoinbaseSender, "miner", 50, "0"); err != nil {
		t.Fatalf("first coinbase should be accepted: %v", err)
	}
	if _, err := l.VerifyAndAddTransaction(chain.CoinbaseSender, "miner", 50, "0"); err != nil {
		t.Fatalf("coinbase collisions on previous_hash=0 must not be treated as double-spend: %v", err)
	}
}

func TestVerifyAndAddTransactionRecordsTxInfo(t *testing.T) {
	l := New()
	if _, err := l.VerifyAndAddTransaction("alice", "bob", 10, "tx-1"); err != nil {
		t.Fatalf("VerifyAndAddTransaction: %v", err)
	}
	info := l.TxInfo()
	if _, ok := info["tx-1"]; !ok {
		t.Fatal("expected tx-1 to be recorded in tx_info")
	}
}

func TestAddBlockEmptiesPendingAndAppends(t *testing.T) {
	l := New()
	l.AddTransaction("alice", "bob", 10, "0")

	prevHash := chain.Hash(l.LastBlock().Header)
	var proof uint64
	for ; !chain.ValidProof(prevHash, proof); proof++ {
	}

	block := l.AddBlock(proof, prevHash)
	if block.Header.Index != 1 {
		t.Fatalf("new block index = %d, want 1", block.Header.Index)
	}
	if len(block.Body) != 1 {
		t.Fatalf("new block body length = %d, want 1", len(block.Body))
	}
	if len(l.PendingTransactions()) != 0 {
		t.Fatal("pending buffer should be empty after AddBlock")
	}
	if l.Height() != 2 {
		t.Fatalf("Height() = %d, want 2", l.Height())
	}
	if !chain.ValidChain(l.Chain()) {
		t.Fatal("resulting chain must be valid")
	}
}

func TestAppendBlockIdempotenceUnderDoubleApplication(t *testing.T) {
	l := New()
	prevHash := chain.Hash(l.LastBlock().Header)
	var proof uint64
	for ; !chain.ValidProof(prevHash, proof); proof++ {
	}
	block := chain.Block{Header: chain.Header{Index: 1, PreviousHash: prevHash, Proof: proof, MerkleRoot: chain.ZeroDigest}}

	if err := l.AppendBlock(block, nil); err != nil {
		t.Fatalf("first AppendBlock: %v", err)
	}
	if l.Height() != 2 {
		t.Fatalf("Height() = %d, want 2", l.Height())
	}

	// Re-applying the same block now has a stale PreviousHash (it still
	// points at genesis, not the new tip), so the second application must
	// be rejected and leave the chain unchanged.
	if err := l.AppendBlock(block, nil); err != ErrInvalidChain {
		t.Fatalf("expected ErrInvalidChain on re-application, got %v", err)
	}
	if l.Height() != 2 {
		t.Fatalf("Height() changed after rejected re-application: %d", l.Height())
	}
}

func TestReplaceChainRejectsInvalidCandidate(t *testing.T) {
	l := New()
	bad := []chain.Block{{Header: chain.Header{Index: 0, PreviousHash: "not-zero"}}}
	if err := l.ReplaceChain(bad, nil); err != ErrInvalidChain {
		t.Fatalf("expected ErrInvalidChain, got %v", err)
	}
	if l.Height() != 1 {
		t.Fatal("ledger must be unchanged after a rejected replacement")
	}
}

func TestReplaceChainAcceptsLongerValidCandidate(t *testing.T) {
	l := New()
	genesis := chain.Genesis()
	prevHash := chain.Hash(genesis.Header)
	var proof uint64
	for ; !chain.ValidProof(prevHash, proof); proof++ {
	}
	longer := []chain.Block{genesis, {Header: chain.Header{Index: 1, PreviousHash: prevHash, Proof: proof, MerkleRoot: chain.ZeroDigest}}}

	if err := l.ReplaceChain(longer, map[string]json.RawMessage{"k": json.RawMessage(`"v"`)}); err != nil {
		t.Fatalf("ReplaceChain: %v", err)
	}
	if l.Height() != 2 {
		t.Fatalf("Height() = %d, want 2", l.Height())
	}
	if _, ok := l.TxInfo()["k"]; !ok {
		t.Fatal("tx_info should be merged on replacement")
	}
}

func TestTxInfoMergeIsCommutativeForDisjointKeys(t *testing.T) {
	a := map[string]json.RawMessage{"k1": json.RawMessage(`"v1"`)}
	b := map[string]json.RawMessage{"k2": json.RawMessage(`"v2"`)}

	l1 := New()
	l1.mergeTxInfoLocked(a)
	l1.mergeTxInfoLocked(b)

	l2 := New()
	l2.mergeTxInfoLocked(b)
	l2.mergeTxInfoLocked(a)

	if len(l1.TxInfo()) != len(l2.TxInfo()) {
		t.Fatal("merge order must not affect the resulting key set for disjoint keys")
	}
	for k, v := range l1.TxInfo() {
		if string(l2.TxInfo()[k]) != string(v) {
			t.Fatalf("value for key %q diverged between merge orders", k)
		}
	}
}
