package actor

import (
	"log/slog"
	"time"
)

// contextState is the actor lifecycle state machine (spec.md §4.C):
// Starting → Idle ⇄ Receiving → Stopping → Stopped, with Restarting
// entered from any state but Stopped.
type contextState int32

const (
	stateStarting contextState = iota
	stateIdle
	stateReceiving
	stateRestarting
	stateStopping
	stateStopped
)

// Context exposes an actor's identity, relationships and messaging surface
// during Receive, plus the supervisor-facing operations used by
// SupervisorStrategy implementations in supervision.go.
type Context interface {
	Self() *PID
	Parent() *PID
	Sender() *PID
	Message() any
	Headers() Headers
	Children() []*PID

	Spawn(props *Props) *PID
	SpawnNamed(props *Props, name string) (*PID, error)

	Send(pid *PID, message any)
	Request(pid *PID, message any)
	RequestFuture(pid *PID, message any, timeout time.Duration) *Future
	Respond(message any)

	Watch(pid *PID)
	Unwatch(pid *PID)

	Stash()

	SetReceiveTimeout(d time.Duration)
	ReceiveTimeout() time.Duration

	RestartChildren(pids ...*PID)
	StopChildren(pids ...*PID)
	ResumeChildren(pids ...*PID)
	EscalateFailure(reason any, message any)
}

// actorContext is the concrete Context plus MessageInvoker. One instance
// lives for the PID's whole life; the Actor value underneath it is
// recreated by incarnate on every restart (spec.md: "Producer constructs a
// fresh Actor instance").
type actorContext struct {
	system *System
	props  *Props

	self   *PID
	parent *PID
	actor  Actor

	mailbox *Mailbox
	logger  *slog.Logger

	state   contextState
	current *Envelope

	children     []*PID
	childrenByID map[string]int
	restartStats map[string]*RestartStatistics
	watchers     []*PID

	stash []*Envelope

	receiveTimeout      time.Duration
	receiveTimeoutTimer *time.Timer
}

func newActorContext(system *System, props *Props, parent *PID) *actorContext {
	ctx := &actorContext{
		system:       system,
		props:        props,
		parent:       parent,
		logger:       system.logger,
		childrenByID: make(map[string]int),
		restartStats: make(map[string]*RestartStatistics),
	}
	ctx.incarnate()
	dispatcher := props.Dispatcher
	if dispatcher == nil && props.MailboxThroughput > 0 {
		dispatcher = NewGoroutineDispatcher(props.MailboxThroughput)
	}
	ctx.mailbox = NewMailbox(ctx, dispatcher, ctx.logger)
	return ctx
}

func (ctx *actorContext) incarnate() {
	ctx.actor = ctx.props.Producer()
	ctx.state = stateStarting
}

// --- Context: identity & messaging -----------------------------------

func (ctx *actorContext) Self() *PID   { return ctx.self }
func (ctx *actorContext) Parent() *PID { return ctx.parent }

func (ctx *actorContext) Sender() *PID {
	if ctx.current == nil {
		return nil
	}
	return ctx.current.Sender
}

func (ctx *actorContext) Message() any {
	if ctx.current == nil {
		return nil
	}
	return ctx.current.Message
}

func (ctx *actorContext) Headers() Headers {
	if ctx.current == nil {
		return nil
	}
	return ctx.current.Headers
}

func (ctx *actorContext) Children() []*PID {
	out := make([]*PID, len(ctx.children))
	copy(out, ctx.children)
	return out
}

func (ctx *actorContext) Send(pid *PID, message any) {
	ctx.system.Registry.Get(pid).SendUser(&Envelope{Target: pid, Sender: ctx.self, Message: message})
}

func (ctx *actorContext) Request(pid *PID, message any) {
	ctx.Send(pid, message)
}

func (ctx *actorContext) RequestFuture(pid *PID, message any, timeout time.Duration) *Future {
	return ctx.system.RequestFuture(pid, message, timeout)
}

func (ctx *actorContext) Respond(message any) {
	sender := ctx.Sender()
	if sender == nil {
		ctx.system.Dead.SendUser(&Envelope{Target: nil, Message: message})
		return
	}
	ctx.system.RouteReply(sender, message)
}

// --- Context: spawning & the arena-of-PIDs child model -----------------

func (ctx *actorContext) Spawn(props *Props) *PID {
	pid, _ := ctx.SpawnNamed(props, ctx.system.Registry.NextID())
	return pid
}

func (ctx *actorContext) SpawnNamed(props *Props, name string) (*PID, error) {
	id := ctx.self.ID + "/" + name
	pid, err := ctx.system.spawn(props, id, ctx.self)
	if err != nil {
		return pid, err
	}
	ctx.addChild(pid)
	return pid, nil
}

// addChild/removeChild hold only the child's PID — an index into the
// registry — never a direct reference to its context, so supervisor and
// child can't form a reference cycle (spec.md §9, "Cyclic references").
func (ctx *actorContext) addChild(pid *PID) {
	if _, exists := ctx.childrenByID[pid.ID]; exists {
		return
	}
	ctx.childrenByID[pid.ID] = len(ctx.children)
	ctx.children = append(ctx.children, pid)
}

func (ctx *actorContext) removeChild(pid *PID) {
	idx, ok := ctx.childrenByID[pid.ID]
	if !ok {
		return
	}
	last := len(ctx.children) - 1
	ctx.children[idx] = ctx.children[last]
	ctx.childrenByID[ctx.children[idx].ID] = idx
	ctx.children = ctx.children[:last]
	delete(ctx.childrenByID, pid.ID)
}

// --- Context: watch ------------------------------------------------------

func (ctx *actorContext) Watch(who *PID) {
	ctx.system.Registry.Get(who).SendSystem(&Envelope{Target: who, Message: &Watch{Watcher: ctx.self}})
}

func (ctx *actorContext) Unwatch(who *PID) {
	ctx.system.Registry.Get(who).SendSystem(&Envelope{Target: who, Message: &Unwatch{Watcher: ctx.self}})
}

// --- Context: stash & receive timeout ------------------------------------

func (ctx *actorContext) Stash() {
	ctx.stash = append(ctx.stash, ctx.current)
}

func (ctx *actorContext) SetReceiveTimeout(d time.Duration) {
	if d < 0 {
		panic("actor: receive timeout must be >= 0")
	}
	if d == ctx.receiveTimeout {
		return
	}
	if d > 0 && d < time.Millisecond {
		d = 0
	}
	ctx.receiveTimeout = d

	if ctx.receiveTimeoutTimer != nil {
		ctx.receiveTimeoutTimer.Stop()
		ctx.receiveTimeoutTimer = nil
	}
	if d > 0 {
		pid := ctx.self
		ctx.receiveTimeoutTimer = time.AfterFunc(d, func() {
			ctx.mailbox.PushUser(&receiveTimeoutMessage{})
			_ = pid
		})
	}
}

func (ctx *actorContext) ReceiveTimeout() time.Duration {
	return ctx.receiveTimeout
}

func (ctx *actorContext) cancelReceiveTimeoutTimer() {
	if ctx.receiveTimeoutTimer != nil {
		ctx.receiveTimeoutTimer.Stop()
		ctx.receiveTimeoutTimer = nil
	}
}

// receiveTimeoutMessage is delivered to the actor itself when no message
// arrives within ReceiveTimeout.
type receiveTimeoutMessage struct{}

// --- Context: supervisor-facing operations -------------------------------

func (ctx *actorContext) RestartChildren(pids ...*PID) {
	for _, pid := range pids {
		ctx.system.Registry.Get(pid).SendSystem(&Envelope{Target: pid, Message: &Restart{}})
	}
}

func (ctx *actorContext) StopChildren(pids ...*PID) {
	for _, pid := range pids {
		ctx.system.Registry.Get(pid).Stop(pid)
	}
}

func (ctx *actorContext) ResumeChildren(pids ...*PID) {
	for _, pid := range pids {
		ctx.system.Registry.Get(pid).SendSystem(&Envelope{Target: pid, Message: resumeMailboxMessage{}})
	}
}

type resumeMailboxMessage struct{}

func (ctx *actorContext) EscalateFailure(reason any, message any) {
	ctx.mailbox.Suspend()
	failure := &Failure{Who: ctx.self, Reason: reason, Message: message, Stats: ctx.restartStatsFor(ctx.self.ID)}
	if ctx.parent == nil {
		// Root actor: there is no supervisor above it, so the failure is
		// handled against the root itself rather than lost.
		ctx.handleFailureAsRoot(failure)
		return
	}
	ctx.system.Registry.Get(ctx.parent).SendSystem(&Envelope{Target: ctx.parent, Message: failure})
}

func (ctx *actorContext) handleFailureAsRoot(failure *Failure) {
	strategy := ctx.props.Supervisor
	if strategy == nil {
		strategy = AlwaysRestartStrategy{}
	}
	strategy.HandleFailure(ctx, failure.Who, failure.Stats, failure.Reason, failure.Message)
}

func (ctx *actorContext) restartStatsFor(childID string) *RestartStatistics {
	rs, ok := ctx.restartStats[childID]
	if !ok {
		rs = NewRestartStatistics()
		ctx.restartStats[childID] = rs
	}
	return rs
}

// --- MessageInvoker -------------------------------------------------------

func (ctx *actorContext) InvokeUserMessage(msg any) {
	env, ok := msg.(*Envelope)
	if !ok {
		env = &Envelope{Target: ctx.self, Message: msg}
	}
	if _, isTimeout := env.Message.(*receiveTimeoutMessage); isTimeout {
		ctx.cancelReceiveTimeoutTimer()
	}
	ctx.current = env
	// Lifecycle messages (Restarting, Stopping, Stopped, Terminated) arrive
	// while the context is restarting or stopping; that state must survive.
	inLifecycle := ctx.state >= stateRestarting
	if !inLifecycle {
		ctx.state = stateReceiving
	}
	ctx.actor.Receive(ctx)
	if !inLifecycle {
		ctx.state = stateIdle
	}
	ctx.current = nil

	if ctx.receiveTimeout > 0 && ctx.receiveTimeoutTimer == nil {
		ctx.SetReceiveTimeout(ctx.receiveTimeout)
	}
}

func (ctx *actorContext) InvokeSystemMessage(msg any) {
	env, ok := msg.(*Envelope)
	var payload any = msg
	if ok {
		payload = env.Message
	}

	switch m := payload.(type) {
	case *Started:
		ctx.InvokeUserMessage(&Envelope{Target: ctx.self, Message: m})
	case resumeMailboxMessage:
		ctx.mailbox.Resume()
	case *Watch:
		ctx.handleWatch(m)
	case *Unwatch:
		ctx.handleUnwatch(m)
	case *Stop:
		ctx.handleStop()
	case *Restart:
		ctx.handleRestart()
	case *Terminated:
		ctx.handleChildTerminated(m)
	case *Failure:
		ctx.handleFailure(m)
	default:
		ctx.logger.Warn("unknown system message", slog.Any("message", payload))
	}
}

func (ctx *actorContext) handleWatch(msg *Watch) {
	if ctx.state >= stateStopping {
		ctx.system.Registry.Get(msg.Watcher).SendSystem(&Envelope{
			Target: msg.Watcher, Message: &Terminated{Who: ctx.self, Why: TerminationStopped},
		})
		return
	}
	ctx.watchers = append(ctx.watchers, msg.Watcher)
}

func (ctx *actorContext) handleUnwatch(msg *Unwatch) {
	for i, w := range ctx.watchers {
		if w.Equal(msg.Watcher) {
			ctx.watchers = append(ctx.watchers[:i], ctx.watchers[i+1:]...)
			return
		}
	}
}

func (ctx *actorContext) handleRestart() {
	ctx.state = stateRestarting
	ctx.stopAllChildren()
	ctx.tryFinalizeRestartOrStop()
}

func (ctx *actorContext) handleStop() {
	if ctx.state >= stateStopping {
		return
	}
	ctx.state = stateStopping
	ctx.InvokeUserMessage(&Envelope{Target: ctx.self, Message: &Stopping{}})
	ctx.stopAllChildren()
	ctx.tryFinalizeRestartOrStop()
}

func (ctx *actorContext) handleChildTerminated(msg *Terminated) {
	ctx.removeChild(msg.Who)
	delete(ctx.restartStats, msg.Who.ID)
	// Forward to user code too: Terminated is a legitimate message an actor
	// can react to (e.g. a watcher outside the parent relationship).
	ctx.InvokeUserMessage(&Envelope{Target: ctx.self, Message: msg})
	ctx.tryFinalizeRestartOrStop()
}

func (ctx *actorContext) handleFailure(msg *Failure) {
	strategy := ctx.props.Supervisor
	if strategy == nil {
		strategy = AlwaysRestartStrategy{}
	}
	strategy.HandleFailure(ctx, msg.Who, ctx.restartStatsFor(msg.Who.ID), msg.Reason, msg.Message)
}

func (ctx *actorContext) stopAllChildren() {
	for _, pid := range ctx.children {
		ctx.system.Registry.Get(pid).Stop(pid)
	}
}

// tryFinalizeRestartOrStop completes a pending restart/stop once every
// child has reported Terminated — mirroring the fact that a parent cannot
// safely restart or fully stop while children are still draining.
func (ctx *actorContext) tryFinalizeRestartOrStop() {
	if len(ctx.children) > 0 {
		return
	}
	ctx.cancelReceiveTimeoutTimer()

	switch ctx.state {
	case stateRestarting:
		ctx.restart()
	case stateStopping:
		ctx.finalizeStop()
	}
}

func (ctx *actorContext) restart() {
	ctx.InvokeUserMessage(&Envelope{Target: ctx.self, Message: &Restarting{}})
	ctx.incarnate()
	ctx.mailbox.Resume()
	ctx.InvokeUserMessage(&Envelope{Target: ctx.self, Message: &Started{}})

	pending := ctx.stash
	ctx.stash = nil
	for _, env := range pending {
		ctx.InvokeUserMessage(env)
	}
}

func (ctx *actorContext) finalizeStop() {
	ctx.system.Registry.Remove(ctx.self)
	ctx.InvokeUserMessage(&Envelope{Target: ctx.self, Message: &Stopped{}})
	ctx.state = stateStopped

	terminated := &Terminated{Who: ctx.self, Why: TerminationStopped}
	for _, w := range ctx.watchers {
		ctx.system.Registry.Get(w).SendSystem(&Envelope{Target: w, Message: terminated})
	}
	if ctx.parent != nil {
		ctx.system.Registry.Get(ctx.parent).SendSystem(&Envelope{Target: ctx.parent, Message: terminated})
	}
}
