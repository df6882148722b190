package role

import (
	"context"
	"testing"

	"github.com/bigdot123456/p2pnode/internal/chain"
	"github.com/bigdot123456/p2pnode/internal/ledger"
)

func mineProof(t *testing.T, prevHash string) uint64 {
	t.Helper()
	for p := uint64(0); ; p++ {
		if chain.ValidProof(prevHash, p) {
			return p
		}
		if p > 2_000_000 {
			t.Fatalf("proof search did not terminate under prevHash=%q", prevHash)
		}
	}
}

func extendedChain(t *testing.T, n int) []chain.Block {
	t.Helper()
	blocks := []chain.Block{chain.Genesis()}
	for i := 0; i < n; i++ {
		prev := blocks[len(blocks)-1]
		prevHash := chain.Hash(prev.Header)
		proof := mineProof(t, prevHash)
		blocks = append(blocks, chain.Block{Header: chain.Header{
			Index:        uint64(len(blocks)),
			PreviousHash: prevHash,
			Timestamp:    chain.GenesisTimestamp + int64(i) + 1,
			MerkleRoot:   chain.ZeroDigest,
			Proof:        proof,
		}})
	}
	return blocks
}

func TestFullNodeHandleGetDataRepliesWithChain(t *testing.T) {
	l := ledger.New()
	sender := &recordingSender{id: "local"}
	rc, _ := newTestContext(sender, l)

	f := NewFullNode()
	if err := f.Handle(context.Background(), rc, "peerA", "getdata", nil); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	msg, ok := sender.last()
	if !ok || msg.Type != "chain" || msg.Target != "peerA" {
		t.Fatalf("expected a targeted chain reply, got %+v", msg)
	}
	payload, ok := msg.Payload.(chainPayload)
	if !ok {
		t.Fatalf("payload type = %T, want chainPayload", msg.Payload)
	}
	if len(payload.Chain) != 1 {
		t.Fatalf("Chain length = %d, want 1 (genesis only)", len(payload.Chain))
	}
}

func TestFullNodeHandleChainAcceptsLongerValidChain(t *testing.T) {
	l := ledger.New()
	sender := &recordingSender{id: "local"}
	rc, peers := newTestContext(sender, l)
	peers.Register("peerB", 0)

	f := NewFullNode()
	candidate := extendedChain(t, 3)

	payload := encode(t, chainPayload{Chain: candidate})
	if err := f.Handle(context.Background(), rc, "peerB", "chain", payload); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if l.Height() != 4 {
		t.Fatalf("Height() = %d, want 4 after accepting a 4-block chain", l.Height())
	}
	if !rc.Synced() {
		t.Fatal("node should be synced after accepting a longer valid chain")
	}
}

func TestFullNodeHandleChainRejectsInvalidChainAndResolvesAgain(t *testing.T) {
	l := ledger.New()
	sender := &recordingSender{id: "local"}
	rc, peers := newTestContext(sender, l)
	peers.Register("peerB", 5)

	f := NewFullNode()
	broken := extendedChain(t, 2)
	broken[1].Header.PreviousHash = "tampered"

	payload := encode(t, chainPayload{Chain: broken})
	if err := f.Handle(context.Background(), rc, "peerB", "chain", payload); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if l.Height() != 1 {
		t.Fatalf("Height() = %d, want unchanged 1 after rejecting an invalid chain", l.Height())
	}
	msg, ok := sender.last()
	if !ok || msg.Type != "getdata" {
		t.Fatalf("expected ResolveConflicts to re-request getdata, got %+v", msg)
	}
}

func TestFullNodeResolveConflictsSyncsWhenNoBetterPeer(t *testing.T) {
	l := ledger.New()
	sender := &recordingSender{id: "local"}
	rc, _ := newTestContext(sender, l)

	f := NewFullNode()
	f.ResolveConflicts(context.Background(), rc)

	if !rc.Synced() {
		t.Fatal("node with no peers should mark itself synced")
	}
	if sender.count() != 0 {
		t.Fatalf("expected no outbound messages, got %d", sender.count())
	}
}

func TestFullNodeHandleAddBlockAppendsValidExtension(t *testing.T) {
	l := ledger.New()
	sender := &recordingSender{id: "local"}
	rc, _ := newTestContext(sender, l)

	f := NewFullNode()
	next := extendedChain(t, 1)[1]

	payload := encode(t, addBlockPayload{Block: next, Height: 2})
	if err := f.Handle(context.Background(), rc, "peerC", "addblock", payload); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if l.Height() != 2 {
		t.Fatalf("Height() = %d, want 2", l.Height())
	}
}
