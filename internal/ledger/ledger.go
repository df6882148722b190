// Package ledger holds the in-memory chain, pending-transaction buffer,
// and transaction-metadata map that back a node's view of the world.
// All mutation goes through a single mutex.
package ledger

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/bigdot123456/p2pnode/internal/chain"
)

// ErrInvalidTransaction is returned when VerifyAndAddTransaction detects a
// double-spend proxy: the given PreviousHash already terminates a prior
// accepted transaction.
var ErrInvalidTransaction = errors.New("ledger: invalid transaction")

// ErrInvalidChain is returned by ReplaceChain when the candidate chain
// does not pass chain.ValidChain.
var ErrInvalidChain = errors.New("ledger: replacement chain is invalid")

// now is overridable in tests.
var now = func() int64 { return time.Now().Unix() }

// Ledger is the mutable chain-of-record for one node.
type Ledger struct {
	mu sync.Mutex

	chainBlocks []chain.Block
	pending     []chain.Transaction
	txInfo      map[string]json.RawMessage

	// seenPreviousHashes indexes the PreviousHash of every accepted
	// non-coinbase transaction, used as a double-spend proxy.
	seenPreviousHashes map[string]struct{}
}

// New returns a Ledger seeded with the canonical genesis block.
func New() *Ledger {
	return &Ledger{
		chainBlocks:        []chain.Block{chain.Genesis()},
		txInfo:             make(map[string]json.RawMessage),
		seenPreviousHashes: make(map[string]struct{}),
	}
}

// Chain returns a snapshot copy of the current chain.
func (l *Ledger) Chain() []chain.Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]chain.Block{}, l.chainBlocks...)
}

// Height returns the number of blocks in the current chain.
func (l *Ledger) Height() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.chainBlocks)
}

// LastBlock returns the final block of the current chain.
func (l *Ledger) LastBlock() chain.Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.chainBlocks[len(l.chainBlocks)-1]
}

// PendingTransactions returns a snapshot copy of the pending buffer.
func (l *Ledger) PendingTransactions() []chain.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]chain.Transaction{}, l.pending...)
}

// TxInfo returns a snapshot copy of the transaction-metadata map.
func (l *Ledger) TxInfo() map[string]json.RawMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]json.RawMessage, len(l.txInfo))
	for k, v := range l.txInfo {
		out[k] = v
	}
	return out
}

// AddTransaction appends a Transaction to the pending buffer with no
// validation beyond a non-empty recipient. It returns the index of the
// block that will eventually contain it.
func (l *Ledger) AddTransaction(sender, recipient string, amount float64, previousHash string) (int, error) {
	if recipient == "" {
		return 0, errors.New("ledger: recipient must not be empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pending = append(l.pending, chain.Transaction{
		Sender:       sender,
		Recipient:    recipient,
		Amount:       amount,
		PreviousHash: previousHash,
		Timestamp:    now(),
	})
	return len(l.chainBlocks), nil
}

// VerifyAndAddTransaction behaves like AddTransaction but rejects a
// double-spend proxy: a PreviousHash that already terminates a prior
// accepted transaction, unless sender is the coinbase sentinel. On
// success it also records the transaction under its PreviousHash key in
// TxInfo.
func (l *Ledger) VerifyAndAddTransaction(sender, recipient string, amount float64, previousHash string) (int, error) {
	if recipient == "" {
		return 0, errors.New("ledger: recipient must not be empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if sender != chain.CoinbaseSender {
		if _, seen := l.seenPreviousHashes[previousHash]; seen {
			return 0, ErrInvalidTransaction
		}
	}

	tx := chain.Transaction{
		Sender:       sender,
		Recipient:    recipient,
		Amount:       amount,
		PreviousHash: previousHash,
		Timestamp:    now(),
	}
	l.pending = append(l.pending, tx)
	if sender != chain.CoinbaseSender {
		l.seenPreviousHashes[previousHash] = struct{}{}
	}

	meta, err := json.Marshal(tx)
	if err == nil {
		l.txInfo[previousHash] = meta
	}

	return len(l.chainBlocks), nil
}

// AddBlock assembles a new block from the current pending-transaction
// buffer, appends it to the chain, empties the buffer, and returns the
// new block.
func (l *Ledger) AddBlock(proof uint64, previousHash string) chain.Block {
	l.mu.Lock()
	defer l.mu.Unlock()

	body := l.pending
	l.pending = nil

	block := chain.Block{
		Header: chain.Header{
			Index:        uint64(len(l.chainBlocks)),
			PreviousHash: previousHash,
			Timestamp:    now(),
			MerkleRoot:   chain.MerkleRoot(body),
			Proof:        proof,
		},
		Body: body,
	}
	l.chainBlocks = append(l.chainBlocks, block)
	return block
}

// AppendBlock validates block against the current tip and, on success,
// appends it in place (the addblock path for full nodes and miners).
func (l *Ledger) AppendBlock(block chain.Block, txInfo map[string]json.RawMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	candidate := append(append([]chain.Block{}, l.chainBlocks...), block)
	if !chain.ValidChain(candidate) {
		return ErrInvalidChain
	}

	l.chainBlocks = candidate
	l.mergeTxInfoLocked(txInfo)
	return nil
}

// ReplaceChain atomically swaps the current chain for candidate if it is
// valid, merging txInfo into the existing map. Observers never see a
// partially-replaced chain because the swap happens under the ledger's
// lock in one assignment.
func (l *Ledger) ReplaceChain(candidate []chain.Block, txInfo map[string]json.RawMessage) error {
	if !chain.ValidChain(candidate) {
		return ErrInvalidChain
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.chainBlocks = append([]chain.Block{}, candidate...)
	l.mergeTxInfoLocked(txInfo)
	return nil
}

func (l *Ledger) mergeTxInfoLocked(txInfo map[string]json.RawMessage) {
	for k, v := range txInfo {
		l.txInfo[k] = v
	}
}

// LoadChain builds a Ledger from blocks read from a persisted chain file,
// without running ValidChain — callers that load from a trusted local
// file are expected to validate separately if they care to reject a
// corrupted file.
func LoadChain(blocks []chain.Block) *Ledger {
	l := New()
	if len(blocks) > 0 {
		l.chainBlocks = append([]chain.Block{}, blocks...)
	}
	return l
}
