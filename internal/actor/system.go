package actor

import (
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// System is the explicit, threaded-through value that owns everything
// global in a naive actor runtime — the process registry, the default
// dispatcher, the event stream — so that none of it becomes an ambient
// package-level singleton (spec.md §9, "Global mutable state").
type System struct {
	Address  string
	Registry *Registry
	Events   *EventStream
	Dead     *DeadLetter

	logger *slog.Logger

	futuresMu sync.Mutex
	futures   map[string]*Future
	reqSeq    uint32
}

// NewSystem constructs an actor System bound to the given local address
// (e.g. "localhost:12000", or a "$client/..." identity for an outbound-only
// node).
func NewSystem(address string, logger *slog.Logger) *System {
	if logger == nil {
		logger = slog.Default()
	}
	events := NewEventStream(logger)
	dead := NewDeadLetter(events, logger)
	reg := NewRegistry(address, dead, logger)

	return &System{
		Address:  address,
		Registry: reg,
		Events:   events,
		Dead:     dead,
		logger:   logger,
		futures:  make(map[string]*Future),
	}
}

// Root spawns a top-level actor (no parent) and returns its PID.
func (s *System) Root(props *Props) *PID {
	pid, _ := s.spawn(props, s.Registry.NextID(), nil)
	return pid
}

// SpawnNamed spawns a top-level actor under an explicit id. Returns
// ErrAlreadyExists if id is taken.
func (s *System) SpawnNamed(props *Props, id string) (*PID, error) {
	return s.spawn(props, id, nil)
}

func (s *System) spawn(props *Props, id string, parent *PID) (*PID, error) {
	ctx := newActorContext(s, props, parent)
	pid, err := s.Registry.Add(id, &mailboxSink{mailbox: ctx.mailbox})
	if err != nil {
		return pid, err
	}
	ctx.self = pid
	ctx.mailbox.PushSystem(&Envelope{Target: pid, Message: &Started{}})
	return pid, nil
}

// Send delivers message to pid's user queue via the registry (local or
// remote, resolved transparently).
func (s *System) Send(pid *PID, message any) {
	s.Registry.Get(pid).SendUser(&Envelope{Target: pid, Message: message})
}

// RequestFuture sends message to pid and returns a Future that resolves
// when something Responds to the generated reply PID, or times out.
func (s *System) RequestFuture(pid *PID, message any, timeout time.Duration) *Future {
	s.futuresMu.Lock()
	s.reqSeq++
	reqID := s.reqSeq
	key := futureKey(s.Address, reqID)
	future := &Future{pid: NewPID(s.Address, key).WithRequestID(reqID), resultC: make(chan any, 1), timeout: timeout}
	s.futures[key] = future
	s.futuresMu.Unlock()

	env := &Envelope{Target: pid, Sender: future.pid, Message: message}
	s.Registry.Get(pid).SendUser(env)
	return future
}

// resolveFuture completes a pending future addressed by reply pid, if one
// is still waiting. Called when a reply envelope targets a future pid.
func (s *System) resolveFuture(pid *PID, value any) bool {
	if pid == nil {
		return false
	}
	s.futuresMu.Lock()
	future, ok := s.futures[pid.ID]
	if ok {
		delete(s.futures, pid.ID)
	}
	s.futuresMu.Unlock()
	if !ok {
		return false
	}
	future.complete(value)
	return true
}

// RouteReply delivers message to pid, resolving it as a pending Future
// completion if pid names one, otherwise sending it through normally.
func (s *System) RouteReply(pid *PID, message any) {
	if pid != nil && s.resolveFuture(pid, message) {
		return
	}
	s.Send(pid, message)
}

func futureKey(address string, id uint32) string {
	return "$future-" + address + "-" + strconv.FormatUint(uint64(id), 10)
}
