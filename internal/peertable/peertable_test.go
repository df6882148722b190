package peertable

import (
	"testing"
	"time"
)

func withFixedClock(t *testing.T, at time.Time) {
	t.Helper()
	original := now
	now = func() time.Time { return at }
	t.Cleanup(func() { now = original })
}

func TestRegisterIsIdempotent(t *testing.T) {
	tbl := New()
	if !tbl.Register("a:n1", 3) {
		t.Fatal("first registration should report true")
	}
	if tbl.Register("a:n1", 99) {
		t.Fatal("second registration of the same identifier should report false")
	}
	p, ok := tbl.Get("a:n1")
	if !ok {
		t.Fatal("peer should exist")
	}
	if p.Height != 3 {
		t.Fatalf("height = %d, want 3 (idempotent registration must not overwrite)", p.Height)
	}
}

func TestRegisterSetsLastSendZero(t *testing.T) {
	tbl := New()
	tbl.Register("a:n1", 1)
	p, _ := tbl.Get("a:n1")
	if !p.LastSend.IsZero() {
		t.Fatal("LastSend must be zero until the first outbound send")
	}
}

func TestSweepNeverEvictsPeerWithNoSend(t *testing.T) {
	base := time.Unix(0, 0)
	withFixedClock(t, base)
	tbl := New()
	tbl.Register("a:n1", 1)

	withFixedClock(t, base.Add(2*time.Hour))
	evicted := tbl.Sweep()
	if len(evicted) != 0 {
		t.Fatalf("peer that was never sent to must never be evicted, got %v", evicted)
	}
}

func TestSweepBoundaryAt1800Seconds(t *testing.T) {
	base := time.Unix(0, 0)
	withFixedClock(t, base)
	tbl := New()
	tbl.Register("a:n1", 1)

	withFixedClock(t, base.Add(1800*time.Second))
	tbl.TouchSend("a:n1")

	if evicted := tbl.Sweep(); len(evicted) != 0 {
		t.Fatalf("exactly 1800s idle must not be evicted, got %v", evicted)
	}

	withFixedClock(t, base.Add(1801*time.Second))
	tbl.TouchSend("a:n1")

	if evicted := tbl.Sweep(); len(evicted) != 1 {
		t.Fatalf("1801s idle must be evicted, got %v", evicted)
	}
}

func TestSweepDoesNotRaceWithRegister(t *testing.T) {
	tbl := New()
	tbl.Register("a:n1", 1)
	tbl.TouchSend("a:n1")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			tbl.Sweep()
		}
		close(done)
	}()
	for i := 0; i < 1000; i++ {
		tbl.Register("a:n2", i)
	}
	<-done
}

func TestRandomPeerOnEmptyTable(t *testing.T) {
	tbl := New()
	if _, err := tbl.RandomPeer(); err != ErrNoPeers {
		t.Fatalf("expected ErrNoPeers, got %v", err)
	}
}

func TestRandomPeerReturnsKnownIdentifier(t *testing.T) {
	tbl := New()
	tbl.Register("a:n1", 1)
	tbl.Register("a:n2", 1)

	id, err := tbl.RandomPeer()
	if err != nil {
		t.Fatalf("RandomPeer: %v", err)
	}
	if id != "a:n1" && id != "a:n2" {
		t.Fatalf("RandomPeer returned unknown identifier %q", id)
	}
}

func TestBestPeerRequiresStrictlyGreaterHeight(t *testing.T) {
	tbl := New()
	tbl.Register("a:n1", 3)
	tbl.SetHeight("a:n1", 3)

	if _, _, found := tbl.BestPeer(3); found {
		t.Fatal("a peer at equal height must not be selected")
	}

	tbl.SetHeight("a:n1", 4)
	id, height, found := tbl.BestPeer(3)
	if !found || id != "a:n1" || height != 4 {
		t.Fatalf("expected a:n1 at height 4, got id=%q height=%d found=%v", id, height, found)
	}
}
