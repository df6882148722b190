package role

import (
	"context"
	"encoding/json"

	"github.com/bigdot123456/p2pnode/internal/chain"
)

// SPV tracks headers only: it never stores transaction bodies and trusts
// its peers' proof-of-work instead of replaying full chains.
type SPV struct{}

// NewSPV returns an SPV role.
func NewSPV() *SPV { return &SPV{} }

// MessageTypes lists SPV's message types.
func (s *SPV) MessageTypes() []string {
	return []string{"getheaders", "headers", "addblock", "merkleblock"}
}

// Handle dispatches one SPV message.
func (s *SPV) Handle(ctx context.Context, rc *Context, senderID, msgType string, payload json.RawMessage) error {
	switch msgType {
	case "getheaders":
		return s.handleGetHeaders(ctx, rc, senderID)
	case "headers":
		return s.handleHeaders(rc, senderID, payload)
	case "addblock":
		return s.handleAddBlock(rc, senderID, payload)
	case "merkleblock":
		return s.handleMerkleBlock(rc, payload)
	}
	return nil
}

func (s *SPV) handleGetHeaders(ctx context.Context, rc *Context, senderID string) error {
	return rc.Sender.Send(ctx, "headers", senderID, headersPayload{
		Headers: chain.Headers(rc.Ledger.Chain()),
	})
}

func (s *SPV) handleHeaders(rc *Context, senderID string, payload json.RawMessage) error {
	var msg headersPayload
	if err := decode(payload, &msg); err != nil {
		return nil
	}

	rc.Peers.SetHeight(senderID, len(msg.Headers))

	if !chain.ValidHeaders(msg.Headers) {
		s.ResolveConflicts(context.Background(), rc)
		return nil
	}
	if err := rc.Ledger.ReplaceChain(headersToBlocks(msg.Headers), nil); err != nil {
		s.ResolveConflicts(context.Background(), rc)
		return nil
	}
	rc.SetSynced(true)
	return nil
}

func (s *SPV) handleAddBlock(rc *Context, senderID string, payload json.RawMessage) error {
	var msg addBlockPayload
	if err := decode(payload, &msg); err != nil {
		return nil
	}

	rc.Peers.SetHeight(senderID, msg.Height)

	headerOnly := chain.Block{Header: msg.Block.Header}
	if err := rc.Ledger.AppendBlock(headerOnly, nil); err != nil {
		s.ResolveConflicts(context.Background(), rc)
	}
	return nil
}

// handleMerkleBlock is a documented stub: an SPV client that wants proof
// a specific transaction is included in a block would verify a Merkle
// path here. Nothing in this node ever requests transaction inclusion
// proofs yet, so the message is accepted and discarded.
func (s *SPV) handleMerkleBlock(rc *Context, payload json.RawMessage) error {
	rc.Log.Debug("merkleblock received but inclusion proofs are not verified")
	return nil
}

// ResolveConflicts requests headers, rather than full chains, from the
// best candidate peer.
func (s *SPV) ResolveConflicts(ctx context.Context, rc *Context) {
	resolveConflicts(ctx, rc, "getheaders")
}

// headersToBlocks wraps a header sequence as header-only blocks so it can
// be stored through the same Ledger.ReplaceChain path a FullNode uses.
func headersToBlocks(headers []chain.Header) []chain.Block {
	blocks := make([]chain.Block, len(headers))
	for i, h := range headers {
		blocks[i] = chain.Block{Header: h}
	}
	return blocks
}
