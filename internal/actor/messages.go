package actor

// System messages. These share a mailbox with user messages but are
// drained ahead of them and their relative order with each other is
// preserved (spec.md §3, "System messages vs user messages").

// Started is delivered once, first, after an actor (or a restarted
// incarnation of one) begins receiving.
type Started struct{}

// Stopping is delivered before a stopping actor's children are torn down.
type Stopping struct{}

// Stop directs an actor to begin stopping.
type Stop struct{}

// Stopped is delivered to the actor's own Receive once it has fully
// stopped, after all children have terminated and before watchers are
// notified.
type Stopped struct{}

// Restarting is delivered to an actor instance about to be replaced by a
// fresh incarnation, after its children have been stopped.
type Restarting struct{}

// Restart directs an actor to restart: children stop first, then the actor
// receives Restarting, then a new incarnation receives Started. Queued user
// messages stay in the mailbox across the restart, and messages the old
// incarnation stashed are replayed to the new one.
type Restart struct {
	Reason any
}

// Terminated is delivered to watchers once a watched PID reaches Stopped.
type Terminated struct {
	Who *PID
	Why TerminationReason
}

// TerminationReason classifies why a Terminated notification was raised.
type TerminationReason int

const (
	// TerminationStopped is a normal, requested stop.
	TerminationStopped TerminationReason = iota
	// TerminationFailed means the actor stopped because supervision gave up on it.
	TerminationFailed
	// TerminationAddressTerminated means the remote endpoint hosting the PID
	// was disposed, so the process is presumed gone.
	TerminationAddressTerminated
)

// Watch requests that Watcher be notified with Terminated when the
// receiving actor reaches Stopped.
type Watch struct {
	Watcher *PID
}

// Unwatch cancels a prior Watch.
type Unwatch struct {
	Watcher *PID
}

// Failure reports an application error raised while processing a user
// message, en route from the mailbox dispatcher up to the supervisor.
type Failure struct {
	Who     *PID
	Reason  any
	Message any
	Stats   *RestartStatistics
}
