package actor

import (
	"sync"
	"testing"
	"time"
)

func TestSystemSendAndReceive(t *testing.T) {
	sys := NewSystem("local:1", nil)

	received := make(chan any, 1)
	props := PropsFromProducer(func() Actor {
		return ActorFunc(func(ctx Context) {
			switch ctx.Message().(type) {
			case *Started:
			default:
				received <- ctx.Message()
			}
		})
	})

	pid := sys.Root(props)
	sys.Send(pid, "hello")

	select {
	case msg := <-received:
		if msg != "hello" {
			t.Fatalf("expected hello, got %v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestSystemSpawnNamedRejectsDuplicate(t *testing.T) {
	sys := NewSystem("local:1", nil)
	props := PropsFromProducer(func() Actor { return ActorFunc(func(Context) {}) })

	if _, err := sys.SpawnNamed(props, "singleton"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := sys.SpawnNamed(props, "singleton"); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestSystemRequestFutureRoundTrip(t *testing.T) {
	sys := NewSystem("local:1", nil)

	props := PropsFromProducer(func() Actor {
		return ActorFunc(func(ctx Context) {
			if msg, ok := ctx.Message().(string); ok {
				ctx.Respond("echo:" + msg)
			}
		})
	})
	pid := sys.Root(props)

	future := sys.RequestFuture(pid, "ping", time.Second)
	val, ok := future.Wait()
	if !ok {
		t.Fatal("expected future to resolve before timeout")
	}
	if val != "echo:ping" {
		t.Fatalf("expected echo:ping, got %v", val)
	}
}

func TestSystemRequestFutureTimesOutWithNoResponder(t *testing.T) {
	sys := NewSystem("local:1", nil)
	props := PropsFromProducer(func() Actor { return ActorFunc(func(Context) {}) })
	pid := sys.Root(props)

	future := sys.RequestFuture(pid, "ping", 30*time.Millisecond)
	_, ok := future.Wait()
	if ok {
		t.Fatal("expected future to time out")
	}
}

func TestSystemWatchDeliversTerminated(t *testing.T) {
	sys := NewSystem("local:1", nil)

	stopMe := PropsFromProducer(func() Actor { return ActorFunc(func(Context) {}) })
	target := sys.Root(stopMe)

	var mu sync.Mutex
	var gotTerminated bool
	watcherDone := make(chan struct{})
	watcher := PropsFromProducer(func() Actor {
		return ActorFunc(func(ctx Context) {
			switch m := ctx.Message().(type) {
			case *Started:
				ctx.Watch(target)
			case *Terminated:
				mu.Lock()
				gotTerminated = m.Who.Equal(target)
				mu.Unlock()
				close(watcherDone)
			}
		})
	})
	sys.Root(watcher)

	time.Sleep(20 * time.Millisecond)
	sys.Registry.Get(target).Stop(target)

	select {
	case <-watcherDone:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Terminated notification")
	}

	mu.Lock()
	defer mu.Unlock()
	if !gotTerminated {
		t.Fatal("expected Terminated for the watched target")
	}
}
