package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/webitel/actor-core/internal/actor"
	"github.com/webitel/actor-core/internal/transport"
)

type neverDialer struct{}

func (neverDialer) Dial(ctx context.Context, address string) (transport.Channel, error) {
	return nil, errors.New("dial refused")
}

// slowDialer blocks each Dial call until ctx is cancelled, simulating a
// connector still mid-teardown when Terminate fires — used to prove Stop
// actually awaits disposal rather than returning as soon as it signals it.
type slowDialer struct{}

func (slowDialer) Dial(ctx context.Context, address string) (transport.Channel, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	events := actor.NewEventStream(nil)
	dead := actor.NewDeadLetter(events, nil)
	registry := actor.NewRegistry("local:1", dead, nil)
	serializer := transport.NewGobSerializer()

	m := NewManager("local:1", cfg, neverDialer{}, serializer, registry, events, dead, nil)
	t.Cleanup(m.Stop)
	return m
}

func TestManagerGetOrAddServerEmptyAddressReturnsBlocked(t *testing.T) {
	m := newTestManager(t, Config{})
	sink := m.GetOrAddServer("")
	if sink != m.blockedEndpoint {
		t.Fatal("expected empty address to resolve to the blocked sentinel")
	}
}

func TestManagerGetOrAddServerReturnsSameEndpointOnRepeatedCalls(t *testing.T) {
	m := newTestManager(t, Config{})
	first := m.GetOrAddServer("peer:1")
	second := m.GetOrAddServer("peer:1")
	if first != second {
		t.Fatal("expected repeated GetOrAddServer calls for the same address to return the same endpoint")
	}
}

func TestManagerGetServerIsLookupOnly(t *testing.T) {
	m := newTestManager(t, Config{})
	if _, ok := m.GetServer("never-added"); ok {
		t.Fatal("expected GetServer to not create an endpoint on miss")
	}
	m.GetOrAddServer("peer:2")
	if _, ok := m.GetServer("peer:2"); !ok {
		t.Fatal("expected GetServer to find the endpoint created by GetOrAddServer")
	}
}

func TestManagerBlocksAddressAfterTermination(t *testing.T) {
	// The grace period keeps the blocklist entry in place while the checks
	// below run; the handler removes it once the grace has elapsed.
	m := newTestManager(t, Config{WaitAfterEndpointTermination: time.Second})
	m.GetOrAddServer("peer:3")

	m.events.Publish(actor.TopicEndpointTerminated, &EndpointTerminatedEvent{Address: "peer:3", ShouldBlock: true})
	time.Sleep(30 * time.Millisecond)

	if !m.blockedAddresses.IsBlocked("peer:3") {
		t.Fatal("expected address to be blocklisted after EndpointTerminated")
	}
	if sink := m.GetOrAddServer("peer:3"); sink != m.blockedEndpoint {
		t.Fatal("expected blocklisted address to resolve to the blocked sentinel")
	}
	if _, stillPresent := m.GetServer("peer:3"); stillPresent {
		t.Fatal("expected the terminated endpoint to be removed from the live map")
	}
}

func TestManagerWaitAfterEndpointTerminationAppliesOnlyWhenShouldBlock(t *testing.T) {
	m := newTestManager(t, Config{WaitAfterEndpointTermination: 20 * time.Millisecond})

	start := time.Now()
	m.handleTermination(&EndpointTerminatedEvent{Address: "no-wait", ShouldBlock: false})
	if time.Since(start) >= 15*time.Millisecond {
		t.Fatal("expected no grace delay when ShouldBlock is false")
	}

	start = time.Now()
	m.handleTermination(&EndpointTerminatedEvent{Address: "with-wait", ShouldBlock: true})
	if time.Since(start) < 15*time.Millisecond {
		t.Fatal("expected a grace delay when ShouldBlock is true and WaitAfterEndpointTermination is set")
	}
}

func TestManagerDoubleTerminationUnblocksAtMostOnceWithoutPanic(t *testing.T) {
	m := newTestManager(t, Config{})
	m.handleTermination(&EndpointTerminatedEvent{Address: "dup"})
	m.handleTermination(&EndpointTerminatedEvent{Address: "dup"})
	// No assertion beyond "did not panic": double-publish of EndpointTerminated
	// for the same address must be safe (spec.md §8 idempotence).
}

func TestManagerStopIsIdempotent(t *testing.T) {
	m := newTestManager(t, Config{})
	m.GetOrAddServer("peer:4")
	m.Stop()
	m.Stop() // must not panic or block

	if sink := m.GetOrAddServer("peer:5"); sink != m.blockedEndpoint {
		t.Fatal("expected GetOrAddServer during/after shutdown to return the blocked sentinel")
	}
}

func TestManagerStopAwaitsEndpointDisposal(t *testing.T) {
	events := actor.NewEventStream(nil)
	dead := actor.NewDeadLetter(events, nil)
	registry := actor.NewRegistry("local:1", dead, nil)
	serializer := transport.NewGobSerializer()

	m := NewManager("local:1", Config{StopTimeout: time.Second}, slowDialer{}, serializer, registry, events, dead, nil)
	ep, ok := m.GetOrAddServer("peer:slow").(*Endpoint)
	if !ok {
		t.Fatal("expected GetOrAddServer to return a live *Endpoint, not the blocked sentinel")
	}

	m.Stop()

	if ep.connector.State() != StateTerminated {
		t.Fatalf("expected the endpoint's connector to be StateTerminated once Stop returns, got %v", ep.connector.State())
	}
}

func TestManagerResolveHostRoutesClientPrefixToClientEndpoints(t *testing.T) {
	m := newTestManager(t, Config{})
	pid := actor.NewPID(actor.ClientPrefix+"peer-7", "actor-x")

	sink := m.resolveHost(pid)
	if sink == nil {
		t.Fatal("expected a non-nil sink for a client-prefixed pid")
	}
	if _, ok := m.GetClient("peer-7"); !ok {
		t.Fatal("expected resolveHost to register a client endpoint keyed by the system id, not the full address")
	}
}
