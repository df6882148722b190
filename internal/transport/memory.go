package transport

import (
	"context"
	"sync"
)

// Memory is an in-process Transport that broadcasts frames to every other
// Memory transport registered on the same Bus. It lets internal/node
// tests exercise the handshake and sync flows without a real network.
type Memory struct {
	bus     *Bus
	inbound chan []byte
	stopped chan struct{}
	once    sync.Once
}

// Bus fans a Send out to every Memory transport subscribed to it.
type Bus struct {
	mu      sync.Mutex
	members []*Memory
}

// NewBus returns an empty in-memory broadcast bus.
func NewBus() *Bus { return &Bus{} }

// NewTransport returns a Memory transport wired to bus.
func (b *Bus) NewTransport() *Memory {
	t := &Memory{inbound: make(chan []byte, 256), stopped: make(chan struct{})}
	b.mu.Lock()
	b.members = append(b.members, t)
	b.mu.Unlock()
	t.bus = b
	return t
}

// Start is a no-op: Memory transports are ready as soon as they are
// constructed.
func (m *Memory) Start(ctx context.Context) error { return nil }

// Stop marks this transport stopped so other members stop delivering to
// it. Its inbound channel is left open.
func (m *Memory) Stop() error {
	m.once.Do(func() { close(m.stopped) })
	return nil
}

// Inbound returns the channel of frames broadcast by other members.
func (m *Memory) Inbound() <-chan []byte {
	return m.inbound
}

// Send broadcasts frame to every other transport on the bus. Like the
// real transport, a node never receives its own broadcast back.
func (m *Memory) Send(ctx context.Context, frame []byte) error {
	m.bus.mu.Lock()
	members := append([]*Memory{}, m.bus.members...)
	m.bus.mu.Unlock()

	for _, other := range members {
		if other == m {
			continue
		}
		select {
		case other.inbound <- frame:
		case <-other.stopped:
		default:
			// Drop rather than block a slow peer: delivery is
			// best-effort, as on a datagram transport.
		}
	}
	return nil
}
