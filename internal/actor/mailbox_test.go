package actor

import (
	"sync"
	"testing"
	"time"
)

type recordingInvoker struct {
	mu       sync.Mutex
	order    []string
	failNext bool
	escalate func(reason, message any)
}

func (r *recordingInvoker) InvokeSystemMessage(msg any) {
	r.mu.Lock()
	r.order = append(r.order, "system")
	r.mu.Unlock()
}

func (r *recordingInvoker) InvokeUserMessage(msg any) {
	r.mu.Lock()
	shouldFail := r.failNext
	r.failNext = false
	r.order = append(r.order, "user")
	r.mu.Unlock()
	if shouldFail {
		panic("boom")
	}
}

func (r *recordingInvoker) EscalateFailure(reason, message any) {
	if r.escalate != nil {
		r.escalate(reason, message)
	}
}

func (r *recordingInvoker) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestMailboxSystemMessagesDrainBeforeNextUserDequeue(t *testing.T) {
	inv := &recordingInvoker{}
	mb := NewMailbox(inv, nil, nil)

	mb.PushUser("u1")
	// u1 is dequeued before s1 arrives, so s1 cannot preempt it.
	waitFor(t, func() bool { return len(inv.snapshot()) == 1 })
	mb.PushSystem("s1")
	mb.PushUser("u2")

	waitFor(t, func() bool { return len(inv.snapshot()) == 3 })

	order := inv.snapshot()
	if order[0] != "user" || order[1] != "system" || order[2] != "user" {
		t.Fatalf("expected [user system user], got %v", order)
	}
}

func TestMailboxFIFOOrderPerQueue(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	mb := NewMailbox(&funcInvoker{
		onUser: func(msg any) {
			mu.Lock()
			seen = append(seen, msg.(int))
			mu.Unlock()
		},
	}, nil, nil)

	for i := 0; i < 50; i++ {
		mb.PushUser(i)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 50
	})

	mu.Lock()
	defer mu.Unlock()
	for i, v := range seen {
		if v != i {
			t.Fatalf("out of order at %d: got %d", i, v)
		}
	}
}

func TestMailboxSuspendBlocksUserNotSystem(t *testing.T) {
	var systemCount, userCount int32ish
	mb := NewMailbox(&funcInvoker{
		onUser:   func(any) { userCount.add(1) },
		onSystem: func(any) { systemCount.add(1) },
	}, nil, nil)

	mb.Suspend()
	mb.PushUser("u")
	mb.PushSystem("s")

	waitFor(t, func() bool { return systemCount.get() == 1 })
	time.Sleep(20 * time.Millisecond)
	if userCount.get() != 0 {
		t.Fatalf("expected user message held back while suspended, got %d processed", userCount.get())
	}

	mb.Resume()
	waitFor(t, func() bool { return userCount.get() == 1 })
}

func TestMailboxPanicSuspendsAndEscalates(t *testing.T) {
	var escalated bool
	var mu sync.Mutex
	inv := &recordingInvoker{failNext: true, escalate: func(reason, message any) {
		mu.Lock()
		escalated = true
		mu.Unlock()
	}}
	mb := NewMailbox(inv, nil, nil)
	mb.PushUser("boom-trigger")

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return escalated
	})
}

func TestMailboxLengthAndHasMessages(t *testing.T) {
	mb := NewMailbox(&funcInvoker{onUser: func(any) { time.Sleep(5 * time.Millisecond) }}, nil, nil)
	if mb.HasMessages() {
		t.Fatal("expected empty mailbox")
	}
	mb.PushUser("a")
	mb.PushUser("b")
	if mb.Length() == 0 {
		t.Fatal("expected non-zero length immediately after push")
	}
}

// --- tiny test helpers ----------------------------------------------------

type funcInvoker struct {
	onUser   func(msg any)
	onSystem func(msg any)
}

func (f *funcInvoker) InvokeUserMessage(msg any) {
	if f.onUser != nil {
		f.onUser(msg)
	}
}
func (f *funcInvoker) InvokeSystemMessage(msg any) {
	if f.onSystem != nil {
		f.onSystem(msg)
	}
}
func (f *funcInvoker) EscalateFailure(reason, message any) {}

type int32ish struct {
	mu sync.Mutex
	v  int
}

func (a *int32ish) add(n int) {
	a.mu.Lock()
	a.v += n
	a.mu.Unlock()
}

func (a *int32ish) get() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.v
}
