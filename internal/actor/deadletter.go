package actor

import (
	"log/slog"
	"sync/atomic"
)

// DeadLetterEvent is published on TopicDeadLetter for every envelope that
// lands on the dead-letter sink: unknown target, blocked endpoint, or a
// remote peer that has been terminated.
type DeadLetterEvent struct {
	Envelope *Envelope
	Reason   string
}

// DeadLetter is the sink for messages whose target does not exist or is
// blocked (spec.md glossary). It never errors and never blocks; it simply
// counts and publishes.
type DeadLetter struct {
	events  *EventStream
	logger  *slog.Logger
	dropped uint64
}

// NewDeadLetter builds a DeadLetter sink that announces every drop on events.
func NewDeadLetter(events *EventStream, logger *slog.Logger) *DeadLetter {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeadLetter{events: events, logger: logger}
}

func (d *DeadLetter) SendUser(env *Envelope)   { d.record(env, "no such process") }
func (d *DeadLetter) SendSystem(env *Envelope) { d.record(env, "no such process") }
func (d *DeadLetter) Stop(*PID)                {}

func (d *DeadLetter) record(env *Envelope, reason string) {
	atomic.AddUint64(&d.dropped, 1)
	d.logger.Debug("dead letter", slog.Any("target", env.Target), slog.String("reason", reason))
	if d.events != nil {
		d.events.Publish(TopicDeadLetter, &DeadLetterEvent{Envelope: env, Reason: reason})
	}
}

// Dropped returns the running count of messages routed here — a diagnostics
// capability entry (spec.md §6).
func (d *DeadLetter) Dropped() uint64 {
	return atomic.LoadUint64(&d.dropped)
}

// blockedSink is the Endpoint Manager's sentinel: it behaves exactly like a
// DeadLetter but is tagged distinctly for diagnostics/logging so a blocked
// address and a genuinely unknown one aren't conflated in the logs.
type blockedSink struct {
	*DeadLetter
}

func newBlockedSink(d *DeadLetter) *blockedSink { return &blockedSink{DeadLetter: d} }

// NewBlockedSink exposes the blocked-endpoint sentinel to other packages
// (internal/remote's Endpoint Manager) so a blocked address/peer produces
// distinctly-tagged diagnostics from a genuinely unknown one.
func NewBlockedSink(d *DeadLetter) ProcessSink { return newBlockedSink(d) }

func (b *blockedSink) SendUser(env *Envelope)   { b.record(env, "endpoint blocked") }
func (b *blockedSink) SendSystem(env *Envelope) { b.record(env, "endpoint blocked") }
