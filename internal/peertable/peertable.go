// Package peertable tracks the set of known peers and their liveness
// bookkeeping.
package peertable

import (
	"errors"
	"math/rand"
	"sync"
	"time"
)

// ErrNoPeers is returned by RandomPeer when the table is empty.
var ErrNoPeers = errors.New("peertable: no peers known")

// IdleThreshold is the liveness window: a peer whose last outbound message
// is more than this long after its last inbound one is considered
// disconnected.
const IdleThreshold = 1800 * time.Second

// now is overridable in tests.
var now = func() time.Time { return time.Now() }

// Peer is one entry in the table, keyed externally by Identifier.
type Peer struct {
	Identifier string
	LastRecv   time.Time
	LastSend   time.Time // zero value until the first outbound send
	Height     int
}

// Table is the set of known peers plus their liveness state. One mutex
// guards every operation.
type Table struct {
	mu    sync.Mutex
	peers map[string]*Peer
}

// New returns an empty peer table.
func New() *Table {
	return &Table{peers: make(map[string]*Peer)}
}

// Register adds identifier with the given claimed height if it is not
// already known. It reports true if a new entry was created. Re-
// registering an already-known peer is idempotent: no fields change and
// the call returns false.
func (t *Table) Register(identifier string, height int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.peers[identifier]; exists {
		return false
	}

	t.peers[identifier] = &Peer{
		Identifier: identifier,
		LastRecv:   now(),
		Height:     height,
	}
	return true
}

// TouchSend records an outbound message to identifier. It is a no-op for
// unknown identifiers.
func (t *Table) TouchSend(identifier string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[identifier]; ok {
		p.LastSend = now()
	}
}

// TouchRecv records an inbound message from identifier. It is a no-op for
// unknown identifiers.
func (t *Table) TouchRecv(identifier string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[identifier]; ok {
		p.LastRecv = now()
	}
}

// SetHeight overwrites identifier's claimed chain height. It is a no-op
// for unknown identifiers.
func (t *Table) SetHeight(identifier string, height int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[identifier]; ok {
		p.Height = height
	}
}

// Get returns a copy of identifier's entry, if known.
func (t *Table) Get(identifier string) (Peer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[identifier]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// Sweep evicts peers that have been idle per IdleThreshold: a peer that
// has never been sent to (LastSend is zero) is never considered idle.
func (t *Table) Sweep() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var evicted []string
	for id, p := range t.peers {
		if p.LastSend.IsZero() {
			continue
		}
		if p.LastSend.Sub(p.LastRecv) > IdleThreshold {
			evicted = append(evicted, id)
		}
	}
	for _, id := range evicted {
		delete(t.peers, id)
	}
	return evicted
}

// RandomPeer returns a uniformly chosen identifier from the table, or
// ErrNoPeers if it is empty.
func (t *Table) RandomPeer() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.peers) == 0 {
		return "", ErrNoPeers
	}

	ids := make([]string, 0, len(t.peers))
	for id := range t.peers {
		ids = append(ids, id)
	}
	return ids[rand.Intn(len(ids))], nil
}

// BestPeer returns the identifier of the peer with the greatest claimed
// height strictly exceeding minHeight, used by conflict resolution.
// Ties favor the lexicographically smallest identifier, so the result is
// deterministic for a given table snapshot.
func (t *Table) BestPeer(minHeight int) (string, int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	bestID := ""
	bestHeight := minHeight
	found := false
	for id, p := range t.peers {
		if p.Height <= minHeight {
			continue
		}
		if !found || p.Height > bestHeight || (p.Height == bestHeight && id < bestID) {
			bestID = id
			bestHeight = p.Height
			found = true
		}
	}
	return bestID, bestHeight, found
}

// Len returns the number of known peers.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.peers)
}

// Identifiers returns a snapshot of every known peer identifier.
func (t *Table) Identifiers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.peers))
	for id := range t.peers {
		ids = append(ids, id)
	}
	return ids
}
