// Package node implements the Session Engine: the handshake/heartbeat
// state machine and message dispatcher that ties a Transport, a Ledger,
// a Peer Table, and an active Role together into one running node.
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/bigdot123456/p2pnode/internal/ledger"
	"github.com/bigdot123456/p2pnode/internal/peertable"
	"github.com/bigdot123456/p2pnode/internal/role"
	"github.com/bigdot123456/p2pnode/internal/transport"
	"github.com/bigdot123456/p2pnode/pkg/logging"
)

// Config holds the tunable intervals of an Engine's periodic loops.
type Config struct {
	HeartbeatInterval      time.Duration
	HandshakeRetryInterval time.Duration
	SweepInterval          time.Duration
}

// DefaultConfig returns the canonical intervals: a 1800s heartbeat, a 1s
// handshake retry, and a 30s idle sweep.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:      1800 * time.Second,
		HandshakeRetryInterval: time.Second,
		SweepInterval:          30 * time.Second,
	}
}

type versionPayload struct {
	Height int `json:"height"`
}

// PeerStore persists peer sightings across restarts. *storage.Store
// satisfies this; it is optional, set via SetPeerStore, so tests can run
// an Engine without a database.
type PeerStore interface {
	SavePeer(identifier string, height int, seenAt time.Time) error
}

// Engine is the Session Engine: it owns the ready/synced flags, drives
// the receive loop, and dispatches non-handshake messages to the active
// Role. It implements role.Sender so Role implementations can talk back
// to the network without depending on this package.
type Engine struct {
	identifier string
	transport  transport.Transport
	ledger     *ledger.Ledger
	peers      *peertable.Table
	role       role.Role
	log        *logging.Logger
	cfg        Config
	peerStore  PeerStore

	stateMu sync.RWMutex
	ready   bool
	synced  bool

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs an Engine. identifier must be unique on the network and
// is conventionally "<address>:<name>".
func New(identifier string, tr transport.Transport, led *ledger.Ledger, peers *peertable.Table, r role.Role, log *logging.Logger, cfg Config) *Engine {
	return &Engine{
		identifier: identifier,
		transport:  tr,
		ledger:     led,
		peers:      peers,
		role:       r,
		log:        log,
		cfg:        cfg,
	}
}

// SetPeerStore attaches a PeerStore so every received version (handshake)
// is recorded for the next restart's bootstrap hints. Nil is a valid no-op
// store.
func (e *Engine) SetPeerStore(s PeerStore) { e.peerStore = s }

// Identifier returns this node's peer identifier, satisfying role.Sender.
func (e *Engine) Identifier() string { return e.identifier }

// Ready reports whether the handshake has completed with at least one
// peer.
func (e *Engine) Ready() bool {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.ready
}

// Synced reports whether this node believes no peer claims a strictly
// greater chain height.
func (e *Engine) Synced() bool {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.synced
}

func (e *Engine) setReady(v bool) {
	e.stateMu.Lock()
	e.ready = v
	e.stateMu.Unlock()
}

func (e *Engine) setSynced(v bool) {
	e.stateMu.Lock()
	e.synced = v
	e.stateMu.Unlock()
}

// Send encodes payload as the envelope's message field and hands the
// framed envelope to the transport, broadcasting when target is empty.
// Satisfies role.Sender.
func (e *Engine) Send(ctx context.Context, msgType, target string, payload interface{}) error {
	var message string
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("node: encode %s payload: %w", msgType, err)
		}
		message = string(data)
	}

	envelope := transport.Envelope{
		Type:       msgType,
		Identifier: e.identifier,
		Message:    message,
		Target:     target,
	}
	frame, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("node: encode envelope: %w", err)
	}

	if err := e.transport.Send(ctx, frame); err != nil {
		return fmt.Errorf("node: send: %w", err)
	}
	if target != "" {
		e.peers.TouchSend(target)
	} else {
		for _, id := range e.peers.Identifiers() {
			e.peers.TouchSend(id)
		}
	}
	return nil
}

// roleContext builds the Context handed to Role.Handle/ResolveConflicts.
func (e *Engine) roleContext() *role.Context {
	return &role.Context{
		Sender:    e,
		Ledger:    e.ledger,
		Peers:     e.peers,
		Log:       e.log,
		Synced:    e.Synced,
		SetSynced: e.setSynced,
	}
}

// SubmitTransaction admits a locally originated transaction into the
// pending buffer and broadcasts it as "addtx" so a miner elsewhere picks
// it up.
func (e *Engine) SubmitTransaction(sender, recipient string, amount float64) error {
	if _, err := e.ledger.AddTransaction(sender, recipient, amount, "0"); err != nil {
		return err
	}
	return e.Send(e.ctx, "addtx", "", addTxWirePayload{
		Sender:       sender,
		Recipient:    recipient,
		Amount:       amount,
		PreviousHash: "0",
	})
}

type addTxWirePayload struct {
	Sender       string  `json:"sender"`
	Recipient    string  `json:"recipient"`
	Amount       float64 `json:"amount"`
	PreviousHash string  `json:"previous_hash"`
}

// Start brings up the transport and every background loop: the receive
// loop, the handshake retry loop, the heartbeat loop, the idle-peer
// sweep, and, for a Miner role, the mining loop. It returns once the
// transport is listening; the loops keep running until ctx is cancelled
// or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	if err := e.transport.Start(e.ctx); err != nil {
		return fmt.Errorf("node: start transport: %w", err)
	}

	e.wg.Add(4)
	go e.receiveLoop()
	go e.handshakeLoop()
	go e.heartbeatLoop()
	go e.sweepLoop()

	if miner, ok := e.role.(*role.Miner); ok {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for !e.Ready() {
				select {
				case <-e.ctx.Done():
					return
				case <-time.After(100 * time.Millisecond):
				}
			}
			if err := miner.Run(e.ctx, e.roleContext()); err != nil && e.ctx.Err() == nil {
				e.log.Warn("mining loop exited", "error", err)
			}
		}()
	}

	e.log.Info("node started", "identifier", e.identifier, "role", fmt.Sprintf("%T", e.role))
	return nil
}

// Stop cancels every loop and closes the transport. It is safe to call
// more than once.
func (e *Engine) Stop() error {
	var stopErr error
	e.stopOnce.Do(func() {
		if e.cancel != nil {
			e.cancel()
		}
		stopErr = e.transport.Stop()
		e.wg.Wait()
	})
	return stopErr
}

func (e *Engine) receiveLoop() {
	defer e.wg.Done()
	inbound := e.transport.Inbound()
	for {
		select {
		case <-e.ctx.Done():
			return
		case frame, ok := <-inbound:
			if !ok {
				return
			}
			e.handleFrame(frame)
		}
	}
}

func (e *Engine) handleFrame(frame []byte) {
	var envelope transport.Envelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		e.log.Debug("dropped malformed envelope", "error", err)
		return
	}
	if envelope.Target != "" && envelope.Target != e.identifier {
		return
	}
	if envelope.Identifier == e.identifier {
		return
	}

	e.peers.TouchRecv(envelope.Identifier)

	var payload json.RawMessage
	if envelope.Message != "" {
		payload = json.RawMessage(envelope.Message)
	}

	switch envelope.Type {
	case "version":
		e.handleVersion(envelope.Identifier, payload)
	case "verack":
		e.setReady(true)
	case "heartbeat":
		e.handleHeartbeat(envelope.Identifier)
	case "heartbeatack":
		// no-op; liveness already updated by TouchRecv above.
	default:
		e.dispatchToRole(envelope.Identifier, envelope.Type, payload)
	}
}

func (e *Engine) handleVersion(senderID string, payload json.RawMessage) {
	var msg versionPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &msg); err != nil {
			e.log.Debug("dropped malformed version", "peer", senderID, "error", err)
			return
		}
	}

	registered := e.peers.Register(senderID, msg.Height)
	if e.peerStore != nil {
		if err := e.peerStore.SavePeer(senderID, msg.Height, time.Now()); err != nil {
			e.log.Debug("failed to persist peer sighting", "peer", senderID, "error", err)
		}
	}

	if err := e.Send(e.ctx, "verack", senderID, nil); err != nil {
		e.log.Warn("failed to send verack", "peer", senderID, "error", err)
		return
	}
	if !registered {
		// Already known: acknowledge with verack only, or two ready peers
		// echo version at each other forever.
		return
	}
	if err := e.Send(e.ctx, "version", senderID, versionPayload{Height: e.ledger.Height()}); err != nil {
		e.log.Warn("failed to send version", "peer", senderID, "error", err)
	}
}

func (e *Engine) handleHeartbeat(senderID string) {
	if err := e.Send(e.ctx, "heartbeatack", senderID, nil); err != nil {
		e.log.Warn("failed to send heartbeatack", "peer", senderID, "error", err)
	}
}

func (e *Engine) dispatchToRole(senderID, msgType string, payload json.RawMessage) {
	for _, t := range e.role.MessageTypes() {
		if t != msgType {
			continue
		}
		if err := e.role.Handle(e.ctx, e.roleContext(), senderID, msgType, payload); err != nil {
			e.log.Debug("role handler error", "type", msgType, "peer", senderID, "error", err)
		}
		return
	}
}

func (e *Engine) handshakeLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.HandshakeRetryInterval)
	defer ticker.Stop()

	for {
		if e.Ready() {
			return
		}
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if e.Ready() {
				return
			}
			if err := e.Send(e.ctx, "version", "", versionPayload{Height: e.ledger.Height()}); err != nil {
				e.log.Debug("failed to broadcast version", "error", err)
			}
		}
	}
}

func (e *Engine) heartbeatLoop() {
	defer e.wg.Done()
	waitTick := time.NewTicker(100 * time.Millisecond)
	defer waitTick.Stop()

	for !e.Ready() {
		select {
		case <-e.ctx.Done():
			return
		case <-waitTick.C:
		}
	}

	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if err := e.Send(e.ctx, "heartbeat", "", nil); err != nil {
				e.log.Debug("failed to broadcast heartbeat", "error", err)
			}
		}
	}
}

func (e *Engine) sweepLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if evicted := e.peers.Sweep(); len(evicted) > 0 {
				e.log.Debug("evicted idle peers", "count", len(evicted))
			}
		}
	}
}

// ResolveConflicts exposes the active Role's conflict-resolution step so
// a caller (the front-end, or a test) can trigger it explicitly rather
// than waiting for a rejected chain message.
func (e *Engine) ResolveConflicts() {
	e.role.ResolveConflicts(e.ctx, e.roleContext())
}
