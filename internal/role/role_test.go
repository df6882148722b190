package role

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/bigdot123456/p2pnode/internal/ledger"
	"github.com/bigdot123456/p2pnode/internal/peertable"
	"github.com/bigdot123456/p2pnode/pkg/logging"
)

// recordingSender is a fake Sender that records every outbound message
// for inspection instead of touching a real transport.
type recordingSender struct {
	id string

	mu   sync.Mutex
	sent []sentMessage
}

type sentMessage struct {
	Type    string
	Target  string
	Payload interface{}
}

func (s *recordingSender) Identifier() string { return s.id }

func (s *recordingSender) Send(ctx context.Context, msgType, target string, payload interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{Type: msgType, Target: target, Payload: payload})
	return nil
}

func (s *recordingSender) last() (sentMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return sentMessage{}, false
	}
	return s.sent[len(s.sent)-1], true
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func testLogger() *logging.Logger {
	return logging.New(&logging.Config{Level: "error", Output: io.Discard})
}

func newTestContext(sender *recordingSender, l *ledger.Ledger) (*Context, *peertable.Table) {
	peers := peertable.New()
	synced := false
	rc := &Context{
		Sender:    sender,
		Ledger:    l,
		Peers:     peers,
		Log:       testLogger(),
		Synced:    func() bool { return synced },
		SetSynced: func(v bool) { synced = v },
	}
	return rc, peers
}

func encode(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}
