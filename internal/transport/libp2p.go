package transport

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/multiformats/go-multiaddr"
)

// EnvelopeTopic is the GossipSub topic every node publishes envelopes to.
// GossipSub's own seen-message cache deduplicates retransmits before they
// reach Inbound.
const EnvelopeTopic = "/p2pnode/envelopes/1.0.0"

// LibP2PConfig configures a libp2p-backed Transport.
type LibP2PConfig struct {
	ListenAddrs       []string
	EnableMDNS        bool
	DiscoveryService  string
	PrivateKey        crypto.PrivKey // nil generates an ephemeral identity
}

// LibP2P is the production Transport, built on a libp2p host, a
// GossipSub topic for broadcast, and mDNS for local peer discovery.
type LibP2P struct {
	cfg LibP2PConfig

	host        host.Host
	pubsub      *pubsub.PubSub
	topic       *pubsub.Topic
	sub         *pubsub.Subscription
	mdnsService mdns.Service

	inbound chan []byte

	stopOnce sync.Once
	cancel   context.CancelFunc
}

// NewLibP2P constructs a LibP2P transport without starting it.
func NewLibP2P(cfg LibP2PConfig) *LibP2P {
	return &LibP2P{cfg: cfg, inbound: make(chan []byte, 256)}
}

// HandlePeerFound implements mdns.Notifee: it dials peers discovered on
// the local segment so they join the GossipSub mesh.
func (t *LibP2P) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == t.host.ID() {
		return
	}
	go t.host.Connect(context.Background(), pi)
}

// Start brings up the libp2p host, joins the envelope topic, and (if
// configured) starts mDNS discovery.
func (t *LibP2P) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	privKey := t.cfg.PrivateKey
	if privKey == nil {
		var err error
		privKey, _, err = crypto.GenerateEd25519Key(rand.Reader)
		if err != nil {
			cancel()
			return fmt.Errorf("transport: generate identity: %w", err)
		}
	}

	listenAddrs := make([]multiaddr.Multiaddr, 0, len(t.cfg.ListenAddrs))
	for _, addr := range t.cfg.ListenAddrs {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			cancel()
			return fmt.Errorf("transport: invalid listen address %q: %w", addr, err)
		}
		listenAddrs = append(listenAddrs, ma)
	}

	h, err := libp2p.New(
		libp2p.Identity(privKey),
		libp2p.ListenAddrs(listenAddrs...),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
	)
	if err != nil {
		cancel()
		return fmt.Errorf("transport: create host: %w", err)
	}
	t.host = h

	ps, err := pubsub.NewGossipSub(ctx, h, pubsub.WithFloodPublish(true))
	if err != nil {
		h.Close()
		cancel()
		return fmt.Errorf("transport: create gossipsub: %w", err)
	}
	t.pubsub = ps

	topic, err := ps.Join(EnvelopeTopic)
	if err != nil {
		h.Close()
		cancel()
		return fmt.Errorf("transport: join topic: %w", err)
	}
	t.topic = topic

	sub, err := topic.Subscribe()
	if err != nil {
		h.Close()
		cancel()
		return fmt.Errorf("transport: subscribe: %w", err)
	}
	t.sub = sub

	go t.readLoop(ctx)

	if t.cfg.EnableMDNS {
		ns := t.cfg.DiscoveryService
		if ns == "" {
			ns = "p2pnode"
		}
		t.mdnsService = mdns.NewMdnsService(h, ns, t)
		if err := t.mdnsService.Start(); err != nil {
			// mDNS failure is not fatal; peers can still be reached by
			// other discovery means the operator configures out-of-band.
			t.mdnsService = nil
		}
	}

	return nil
}

// readLoop forwards GossipSub messages, excluding our own publications,
// onto the Inbound channel.
func (t *LibP2P) readLoop(ctx context.Context) {
	defer close(t.inbound)
	selfID := t.host.ID()
	for {
		msg, err := t.sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == selfID {
			continue
		}
		select {
		case t.inbound <- msg.Data:
		case <-ctx.Done():
			return
		}
	}
}

// Inbound returns the channel of raw inbound frames.
func (t *LibP2P) Inbound() <-chan []byte {
	return t.inbound
}

// Send broadcasts frame to the envelope topic.
func (t *LibP2P) Send(ctx context.Context, frame []byte) error {
	if t.topic == nil {
		return fmt.Errorf("transport: not started")
	}
	return t.topic.Publish(ctx, frame)
}

// Stop tears down the host and discovery services. Safe to call more
// than once.
func (t *LibP2P) Stop() error {
	var err error
	t.stopOnce.Do(func() {
		if t.cancel != nil {
			t.cancel()
		}
		if t.mdnsService != nil {
			t.mdnsService.Close()
		}
		if t.sub != nil {
			t.sub.Cancel()
		}
		if t.topic != nil {
			t.topic.Close()
		}
		if t.host != nil {
			err = t.host.Close()
		}
	})
	return err
}
