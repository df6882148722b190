package role

import (
	"context"
	"encoding/json"

	"github.com/bigdot123456/p2pnode/internal/chain"
)

// chainPayload is the message shape carried by getdata's "chain" response.
type chainPayload struct {
	Chain  []chain.Block              `json:"chain"`
	TxInfo map[string]json.RawMessage `json:"tx_info"`
}

// headersPayload is the message shape carried by getheaders' "headers"
// response.
type headersPayload struct {
	Headers []chain.Header `json:"headers"`
}

// addBlockPayload is what a miner broadcasts after successfully mining a
// block.
type addBlockPayload struct {
	Block  chain.Block                `json:"block"`
	TxInfo map[string]json.RawMessage `json:"tx_info"`
	Height int                        `json:"height"`
}

// FullNode serves and accepts full chains and new blocks.
type FullNode struct{}

// NewFullNode returns a FullNode role.
func NewFullNode() *FullNode { return &FullNode{} }

// MessageTypes lists FullNode's message types beyond the handshake set.
func (f *FullNode) MessageTypes() []string {
	return []string{"getdata", "chain", "getheaders", "headers", "addblock"}
}

// Handle dispatches one FullNode message.
func (f *FullNode) Handle(ctx context.Context, rc *Context, senderID, msgType string, payload json.RawMessage) error {
	switch msgType {
	case "getdata":
		return f.handleGetData(ctx, rc, senderID)
	case "chain":
		return f.handleChain(ctx, rc, senderID, payload)
	case "getheaders":
		return f.handleGetHeaders(ctx, rc, senderID)
	case "headers":
		return f.handleHeaders(ctx, rc, senderID, payload)
	case "addblock":
		return f.handleAddBlock(ctx, rc, senderID, payload)
	}
	return nil
}

func (f *FullNode) handleGetData(ctx context.Context, rc *Context, senderID string) error {
	return rc.Sender.Send(ctx, "chain", senderID, chainPayload{
		Chain:  rc.Ledger.Chain(),
		TxInfo: rc.Ledger.TxInfo(),
	})
}

func (f *FullNode) handleChain(ctx context.Context, rc *Context, senderID string, payload json.RawMessage) error {
	var msg chainPayload
	if err := decode(payload, &msg); err != nil {
		return nil // MalformedMessage: dropped silently
	}

	rc.Peers.SetHeight(senderID, len(msg.Chain))

	if chain.ValidChain(msg.Chain) {
		if err := rc.Ledger.ReplaceChain(msg.Chain, msg.TxInfo); err == nil {
			rc.SetSynced(true)
			return nil
		}
	}

	f.ResolveConflicts(ctx, rc)
	return nil
}

func (f *FullNode) handleGetHeaders(ctx context.Context, rc *Context, senderID string) error {
	return rc.Sender.Send(ctx, "headers", senderID, headersPayload{
		Headers: chain.Headers(rc.Ledger.Chain()),
	})
}

func (f *FullNode) handleHeaders(ctx context.Context, rc *Context, senderID string, payload json.RawMessage) error {
	// A FullNode never requests headers itself, but may receive a stray
	// headers message from an SPV-oriented peer; there is nothing useful
	// to do with a header-only sequence when full bodies are required, so
	// it is treated like any other message whose handling is a no-op.
	return nil
}

func (f *FullNode) handleAddBlock(ctx context.Context, rc *Context, senderID string, payload json.RawMessage) error {
	var msg addBlockPayload
	if err := decode(payload, &msg); err != nil {
		return nil
	}

	rc.Peers.SetHeight(senderID, msg.Height)

	if err := rc.Ledger.AppendBlock(msg.Block, msg.TxInfo); err != nil {
		f.ResolveConflicts(ctx, rc)
	}
	return nil
}

// ResolveConflicts implements the FullNode/Miner consensus step: ask the
// peer with the greatest claimed height strictly above our own for its
// full chain, or declare ourselves synced.
func (f *FullNode) ResolveConflicts(ctx context.Context, rc *Context) {
	resolveConflicts(ctx, rc, "getdata")
}

// resolveConflicts is shared by FullNode/Miner (request "getdata") and
// SPV (request "getheaders"); only the requested message type differs.
func resolveConflicts(ctx context.Context, rc *Context, request string) {
	height := rc.Ledger.Height()
	peerID, _, found := rc.Peers.BestPeer(height)
	if !found {
		rc.SetSynced(true)
		return
	}

	rc.Log.Debug("resolving conflicts", "request", request, "peer", peerID)
	if err := rc.Sender.Send(ctx, request, peerID, nil); err != nil {
		rc.Log.Warn("failed to request sync", "error", err)
	}
}
