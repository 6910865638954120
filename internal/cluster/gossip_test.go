package cluster

import (
	"strconv"
	"testing"
	"time"

	"github.com/webitel/actor-core/internal/actor"
)

func freePort(t *testing.T) int {
	t.Helper()
	// memberlist binds its own listener; port 0 would ask the OS to pick
	// one but memberlist.Create doesn't report back what it bound, so
	// tests instead pick from a private, unlikely-to-collide range. Not
	// airtight under parallel test runs, but matches what small gossip
	// test suites in the ecosystem (memberlist's own tests) do.
	return 17000 + int(time.Now().UnixNano()%500)
}

func newTestGossip(t *testing.T, memberID string, port int) *Gossip {
	t.Helper()
	events := actor.NewEventStream(nil)
	g, err := NewGossip(Config{
		MemberID:       memberID,
		BindAddr:       "127.0.0.1",
		BindPort:       port,
		GossipInterval: 20 * time.Millisecond,
	}, events, nil)
	if err != nil {
		t.Fatalf("NewGossip(%s): %v", memberID, err)
	}
	t.Cleanup(func() { g.Shutdown(time.Second) })
	return g
}

func TestGossipTwoMembersConvergeOnPut(t *testing.T) {
	portA := freePort(t)
	portB := portA + 1

	a := newTestGossip(t, "member-a", portA)
	b := newTestGossip(t, "member-b", portB)

	if _, err := b.Join([]string{"127.0.0.1:" + strconv.Itoa(portA)}); err != nil {
		t.Fatalf("join: %v", err)
	}

	a.Put("hello", []byte("world"))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if v, seq, ok := b.Get("member-a", "hello"); ok && string(v) == "world" && seq == 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("timed out waiting for member-b to converge on member-a's gossiped value")
}

func TestGossipSequenceNumbersAreMonotonic(t *testing.T) {
	port := freePort(t)
	g := newTestGossip(t, "solo", port)

	g.Put("k", []byte("1"))
	g.Put("k", []byte("2"))
	g.Put("k", []byte("3"))

	_, seq, ok := g.Get("solo", "k")
	if !ok || seq != 3 {
		t.Fatalf("expected sequence 3 after three local writes, got %d (ok=%v)", seq, ok)
	}
}
