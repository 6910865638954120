package actor

import "time"

// Actor is user code: one Receive callback invoked once per message, with
// full access to the delivery context.
type Actor interface {
	Receive(ctx Context)
}

// ActorFunc adapts a plain function to the Actor interface, for actors with
// no state of their own.
type ActorFunc func(ctx Context)

func (f ActorFunc) Receive(ctx Context) { f(ctx) }

// Producer constructs a fresh Actor instance — called once at spawn and
// again on every restart, so state does not leak across incarnations.
type Producer func() Actor

// Props configures how an actor is spawned: its Producer, supervision
// strategy for its children, and mailbox throughput/dispatcher overrides.
type Props struct {
	Producer          Producer
	Supervisor        SupervisorStrategy
	Dispatcher        Dispatcher
	MailboxThroughput int
}

// PropsFromProducer builds Props with sensible defaults: AlwaysRestart
// supervision and the system's default dispatcher.
func PropsFromProducer(producer Producer) *Props {
	return &Props{Producer: producer, Supervisor: AlwaysRestartStrategy{}}
}

// WithSupervisor returns a copy of p with Supervisor set.
func (p *Props) WithSupervisor(s SupervisorStrategy) *Props {
	cp := *p
	cp.Supervisor = s
	return &cp
}

// WithDispatcher returns a copy of p with Dispatcher set.
func (p *Props) WithDispatcher(d Dispatcher) *Props {
	cp := *p
	cp.Dispatcher = d
	return &cp
}

// Future is a one-shot reply slot used by Context.RequestFuture: the
// ask-pattern primitive the spec allows request/response to be built from
// (spec.md §1, "request/response is built on top of async send + reply
// correlation").
type Future struct {
	pid     *PID
	resultC chan any
	timeout time.Duration
}

// PID returns the PID a responder should Send/Respond its reply to.
func (f *Future) PID() *PID {
	return f.pid
}

// Wait blocks until a reply arrives or the future's timeout elapses,
// returning (nil, false) on timeout.
func (f *Future) Wait() (any, bool) {
	timer := time.NewTimer(f.timeout)
	defer timer.Stop()
	select {
	case v := <-f.resultC:
		return v, true
	case <-timer.C:
		return nil, false
	}
}

func (f *Future) complete(v any) {
	select {
	case f.resultC <- v:
	default:
	}
}
