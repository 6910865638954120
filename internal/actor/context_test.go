package actor

import (
	"sync"
	"testing"
	"time"
)

func TestContextSpawnChildTracksChildren(t *testing.T) {
	sys := NewSystem("local:1", nil)

	childSpawned := make(chan *PID, 1)
	parentProps := PropsFromProducer(func() Actor {
		return ActorFunc(func(ctx Context) {
			if _, ok := ctx.Message().(*Started); ok {
				child := ctx.Spawn(PropsFromProducer(func() Actor {
					return ActorFunc(func(Context) {})
				}))
				childSpawned <- child
			}
		})
	})

	parent := sys.Root(parentProps)

	var child *PID
	select {
	case child = <-childSpawned:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for child to spawn")
	}

	time.Sleep(10 * time.Millisecond)
	sink := sys.Registry.Get(parent).(*mailboxSink)
	ctx := sink.mailbox.invoker.(*actorContext)
	children := ctx.Children()
	if len(children) != 1 || !children[0].Equal(child) {
		t.Fatalf("expected parent to track exactly the spawned child, got %v", children)
	}
}

func TestContextRestartReincarnatesAndReplaysStash(t *testing.T) {
	sys := NewSystem("local:1", nil)

	var mu sync.Mutex
	var receivedAfterRestart []string
	started := 0
	stashSeen := 0

	props := PropsFromProducer(func() Actor {
		return ActorFunc(func(ctx Context) {
			switch m := ctx.Message().(type) {
			case *Started:
				mu.Lock()
				started++
				mu.Unlock()
			case string:
				if m == "stash-me" {
					mu.Lock()
					stashSeen++
					mu.Unlock()
					ctx.Stash()
					return
				}
				mu.Lock()
				receivedAfterRestart = append(receivedAfterRestart, m)
				mu.Unlock()
			}
		})
	})

	pid := sys.Root(props)
	time.Sleep(10 * time.Millisecond)

	sys.Send(pid, "stash-me")
	time.Sleep(10 * time.Millisecond)

	sys.Registry.Get(pid).SendSystem(&Envelope{Target: pid, Message: &Restart{}})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if started != 2 {
		t.Fatalf("expected 2 incarnations (initial + restart), got %d", started)
	}
	if stashSeen != 2 {
		t.Fatalf("expected the stashed message to be replayed to the new incarnation, saw it %d times", stashSeen)
	}
}

func TestContextRespondWithNoSenderGoesToDeadLetter(t *testing.T) {
	sys := NewSystem("local:1", nil)
	before := sys.Dead.Dropped()

	props := PropsFromProducer(func() Actor {
		return ActorFunc(func(ctx Context) {
			if _, ok := ctx.Message().(string); ok {
				ctx.Respond("no one is listening")
			}
		})
	})
	pid := sys.Root(props)
	sys.Send(pid, "trigger")

	time.Sleep(30 * time.Millisecond)
	if sys.Dead.Dropped() <= before {
		t.Fatal("expected Respond with no sender to land on the dead letter sink")
	}
}

func TestContextSetReceiveTimeoutNegativePanics(t *testing.T) {
	sys := NewSystem("local:1", nil)
	paniced := make(chan struct{}, 1)

	props := PropsFromProducer(func() Actor {
		return ActorFunc(func(ctx Context) {
			if _, ok := ctx.Message().(string); ok {
				defer func() {
					if recover() != nil {
						paniced <- struct{}{}
					}
				}()
				ctx.SetReceiveTimeout(-time.Second)
			}
		})
	})
	pid := sys.Root(props)
	sys.Send(pid, "go")

	select {
	case <-paniced:
	case <-time.After(time.Second):
		t.Fatal("expected negative receive timeout to panic")
	}
}
