package role

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bigdot123456/p2pnode/internal/chain"
)

// addTxPayload is the shape of an "addtx" broadcast.
type addTxPayload struct {
	Sender       string  `json:"sender"`
	Recipient    string  `json:"recipient"`
	Amount       float64 `json:"amount"`
	PreviousHash string  `json:"previous_hash"`
}

// mineBatchSize is how many proof attempts mineOne makes between checks
// for a tip change from an incoming block.
const mineBatchSize = 250000

// Miner embeds FullNode: it serves and accepts chains and blocks exactly
// like a full node, and additionally accepts "addtx" broadcasts and runs
// its own proof-of-work loop.
type Miner struct {
	*FullNode
}

// NewMiner returns a Miner role.
func NewMiner() *Miner {
	return &Miner{FullNode: NewFullNode()}
}

// MessageTypes extends FullNode's with "addtx".
func (m *Miner) MessageTypes() []string {
	return append(m.FullNode.MessageTypes(), "addtx")
}

// Handle dispatches addtx itself and defers everything else to FullNode.
func (m *Miner) Handle(ctx context.Context, rc *Context, senderID, msgType string, payload json.RawMessage) error {
	if msgType == "addtx" {
		return m.handleAddTx(rc, payload)
	}
	return m.FullNode.Handle(ctx, rc, senderID, msgType, payload)
}

func (m *Miner) handleAddTx(rc *Context, payload json.RawMessage) error {
	var msg addTxPayload
	if err := decode(payload, &msg); err != nil {
		return nil
	}

	_, err := rc.Ledger.VerifyAndAddTransaction(msg.Sender, msg.Recipient, msg.Amount, msg.PreviousHash)
	if err != nil {
		rc.Log.Debug("rejected transaction", "error", err)
	}
	return nil
}

// Run is the mining loop: while the node is synced, it repeatedly tries
// to extend the chain with a freshly mined block, broadcasting each
// success. It returns when ctx is cancelled.
func (m *Miner) Run(ctx context.Context, rc *Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !rc.Synced() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		block, found := m.mineOne(ctx, rc)
		if !found {
			continue
		}

		if err := m.announceBlock(ctx, rc, block); err != nil {
			rc.Log.Warn("failed to announce mined block", "error", err)
		}
	}
}

// mineOne searches for a valid proof extending the current tip, returning
// the minted block. It returns found=false if ctx is cancelled or a new
// block from a peer changed the tip mid-search, in which case the caller
// should retry against the new tip.
func (m *Miner) mineOne(ctx context.Context, rc *Context) (chain.Block, bool) {
	last := rc.Ledger.LastBlock()
	prevHash := chain.Hash(last.Header)

	var proof uint64
	for {
		select {
		case <-ctx.Done():
			return chain.Block{}, false
		default:
		}
		if proof > 0 && proof%mineBatchSize == 0 && rc.Ledger.LastBlock().Header != last.Header {
			return chain.Block{}, false
		}
		if chain.ValidProof(prevHash, proof) {
			if rc.Ledger.LastBlock().Header != last.Header {
				return chain.Block{}, false
			}
			if _, err := rc.Ledger.VerifyAndAddTransaction(chain.CoinbaseSender, rc.Sender.Identifier(), 50, chain.GenesisPreviousHash); err != nil {
				return chain.Block{}, false
			}
			block := rc.Ledger.AddBlock(proof, prevHash)
			return block, true
		}
		proof++
	}
}

func (m *Miner) announceBlock(ctx context.Context, rc *Context, block chain.Block) error {
	return rc.Sender.Send(ctx, "addblock", "", addBlockPayload{
		Block:  block,
		TxInfo: rc.Ledger.TxInfo(),
		Height: int(block.Header.Index) + 1,
	})
}
