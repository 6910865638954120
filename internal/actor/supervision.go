package actor

import "time"

// Directive is what a supervisor decides to do about a failing child
// (spec.md §4.D).
type Directive int

const (
	DirectiveResume Directive = iota
	DirectiveRestart
	DirectiveStop
	DirectiveEscalate
)

// RestartStatistics records recent failure timestamps for one child, so a
// strategy can promote a directive to Stop once failures exceed maxRetries
// within a window.
type RestartStatistics struct {
	failures []time.Time
}

// NewRestartStatistics returns an empty statistics record.
func NewRestartStatistics() *RestartStatistics {
	return &RestartStatistics{}
}

// Fail records a failure at now.
func (rs *RestartStatistics) Fail(now time.Time) {
	rs.failures = append(rs.failures, now)
}

// FailureCount returns how many failures were recorded within the last
// `within` of now. If within is zero, all recorded failures count
// (unbounded window, used by strategies with no retry ceiling).
func (rs *RestartStatistics) FailureCount(now time.Time, within time.Duration) int {
	if within <= 0 {
		return len(rs.failures)
	}
	cutoff := now.Add(-within)
	count := 0
	kept := rs.failures[:0]
	for _, t := range rs.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
			count++
		}
	}
	rs.failures = kept
	return count
}

// DecisionFunc maps a failure reason plus this child's restart history to a
// Directive. Strategies that need custom logic beyond "too many failures
// within a window ⇒ Stop" supply one of these.
type DecisionFunc func(reason any, stats *RestartStatistics) Directive

// SupervisorStrategy decides what happens to a failing child and carries
// out that decision against the child (and, for *ForOne variants, its
// siblings).
type SupervisorStrategy interface {
	HandleFailure(supervisor Context, child *PID, stats *RestartStatistics, reason any, message any)
}

// retryPolicy caps how many failures are tolerated in a trailing window
// before a strategy escalates its directive to Stop, regardless of what the
// decision function returned.
type retryPolicy struct {
	maxRetries int
	within     time.Duration
}

func (p retryPolicy) promote(directive Directive, stats *RestartStatistics) Directive {
	if p.maxRetries <= 0 {
		return directive
	}
	if stats.FailureCount(timeNow(), p.within) > p.maxRetries {
		return DirectiveStop
	}
	return directive
}

// timeNow is indirected so tests can't accidentally depend on wall-clock
// flakiness across a fast-running suite; production always uses time.Now.
var timeNow = time.Now

// OneForOneStrategy applies decide to the single failing child only.
type OneForOneStrategy struct {
	retryPolicy
	Decide DecisionFunc
}

// NewOneForOneStrategy builds a strategy that restarts/stops/escalates only
// the failing child, never its siblings.
func NewOneForOneStrategy(maxRetries int, within time.Duration, decide DecisionFunc) *OneForOneStrategy {
	if decide == nil {
		decide = func(any, *RestartStatistics) Directive { return DirectiveRestart }
	}
	return &OneForOneStrategy{retryPolicy: retryPolicy{maxRetries, within}, Decide: decide}
}

func (s *OneForOneStrategy) HandleFailure(sup Context, child *PID, stats *RestartStatistics, reason, message any) {
	stats.Fail(timeNow())
	directive := s.promote(s.Decide(reason, stats), stats)
	applyDirective(sup, directive, reason, message, child)
}

// AllForOneStrategy applies decide to the failing child's reason, but
// carries out the resulting directive against every sibling under sup.
type AllForOneStrategy struct {
	retryPolicy
	Decide DecisionFunc
}

// NewAllForOneStrategy builds a strategy whose directive is carried out
// against every child of the supervisor, not just the one that failed.
func NewAllForOneStrategy(maxRetries int, within time.Duration, decide DecisionFunc) *AllForOneStrategy {
	if decide == nil {
		decide = func(any, *RestartStatistics) Directive { return DirectiveRestart }
	}
	return &AllForOneStrategy{retryPolicy: retryPolicy{maxRetries, within}, Decide: decide}
}

func (s *AllForOneStrategy) HandleFailure(sup Context, child *PID, stats *RestartStatistics, reason, message any) {
	stats.Fail(timeNow())
	directive := s.promote(s.Decide(reason, stats), stats)
	for _, sibling := range sup.Children() {
		applyDirective(sup, directive, reason, message, sibling)
	}
}

// AlwaysRestartStrategy unconditionally restarts the failing child,
// regardless of failure history.
type AlwaysRestartStrategy struct{}

func (AlwaysRestartStrategy) HandleFailure(sup Context, child *PID, stats *RestartStatistics, reason, message any) {
	applyDirective(sup, DirectiveRestart, reason, message, child)
}

// StopStrategy unconditionally stops the failing child.
type StopStrategy struct{}

func (StopStrategy) HandleFailure(sup Context, child *PID, stats *RestartStatistics, reason, message any) {
	applyDirective(sup, DirectiveStop, reason, message, child)
}

// EscalateStrategy always escalates the failure to the supervisor's own
// parent, never acting on the child directly.
type EscalateStrategy struct{}

func (EscalateStrategy) HandleFailure(sup Context, child *PID, stats *RestartStatistics, reason, message any) {
	applyDirective(sup, DirectiveEscalate, reason, message, child)
}

// applyDirective is the one place that turns a Directive into concrete
// system messages against target, shared by every built-in strategy.
func applyDirective(sup Context, directive Directive, reason, message any, target *PID) {
	switch directive {
	case DirectiveResume:
		sup.ResumeChildren(target)
	case DirectiveRestart:
		sup.RestartChildren(target)
	case DirectiveStop:
		sup.StopChildren(target)
	case DirectiveEscalate:
		sup.EscalateFailure(reason, message)
	}
}
