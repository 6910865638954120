package actor

import (
	"testing"
	"time"
)

type fakeSupervisor struct {
	children   []*PID
	resumed    []*PID
	restarted  []*PID
	stopped    []*PID
	escalated  bool
	escReason  any
	escMessage any
}

func (f *fakeSupervisor) Self() *PID                                     { return nil }
func (f *fakeSupervisor) Parent() *PID                                   { return nil }
func (f *fakeSupervisor) Sender() *PID                                   { return nil }
func (f *fakeSupervisor) Message() any                                   { return nil }
func (f *fakeSupervisor) Headers() Headers                               { return nil }
func (f *fakeSupervisor) Children() []*PID                               { return f.children }
func (f *fakeSupervisor) Spawn(*Props) *PID                              { return nil }
func (f *fakeSupervisor) SpawnNamed(*Props, string) (*PID, error)        { return nil, nil }
func (f *fakeSupervisor) Send(*PID, any)                                 {}
func (f *fakeSupervisor) Request(*PID, any)                              {}
func (f *fakeSupervisor) RequestFuture(*PID, any, time.Duration) *Future { return nil }
func (f *fakeSupervisor) Respond(any)                                    {}
func (f *fakeSupervisor) Watch(*PID)                                     {}
func (f *fakeSupervisor) Unwatch(*PID)                                   {}
func (f *fakeSupervisor) Stash()                                         {}
func (f *fakeSupervisor) SetReceiveTimeout(time.Duration)                {}
func (f *fakeSupervisor) ReceiveTimeout() time.Duration                  { return 0 }
func (f *fakeSupervisor) RestartChildren(pids ...*PID)                   { f.restarted = append(f.restarted, pids...) }
func (f *fakeSupervisor) StopChildren(pids ...*PID)                      { f.stopped = append(f.stopped, pids...) }
func (f *fakeSupervisor) ResumeChildren(pids ...*PID)                    { f.resumed = append(f.resumed, pids...) }
func (f *fakeSupervisor) EscalateFailure(reason any, message any) {
	f.escalated = true
	f.escReason = reason
	f.escMessage = message
}

func TestOneForOneStrategyRestartsOnlyFailingChild(t *testing.T) {
	sib := NewPID("local:1", "sibling")
	failing := NewPID("local:1", "failing")
	sup := &fakeSupervisor{children: []*PID{sib, failing}}

	strategy := NewOneForOneStrategy(0, 0, func(any, *RestartStatistics) Directive {
		return DirectiveRestart
	})
	stats := NewRestartStatistics()
	strategy.HandleFailure(sup, failing, stats, "boom", "msg")

	if len(sup.restarted) != 1 || !sup.restarted[0].Equal(failing) {
		t.Fatalf("expected only the failing child restarted, got %v", sup.restarted)
	}
}

func TestAllForOneStrategyAppliesToEverySibling(t *testing.T) {
	a := NewPID("local:1", "a")
	b := NewPID("local:1", "b")
	sup := &fakeSupervisor{children: []*PID{a, b}}

	strategy := NewAllForOneStrategy(0, 0, func(any, *RestartStatistics) Directive {
		return DirectiveStop
	})
	strategy.HandleFailure(sup, a, NewRestartStatistics(), "boom", "msg")

	if len(sup.stopped) != 2 {
		t.Fatalf("expected both siblings stopped, got %v", sup.stopped)
	}
}

func TestOneForOneStrategyStopsAfterMaxRetries(t *testing.T) {
	child := NewPID("local:1", "flaky")
	sup := &fakeSupervisor{children: []*PID{child}}

	strategy := NewOneForOneStrategy(2, 0, func(any, *RestartStatistics) Directive {
		return DirectiveRestart
	})
	stats := NewRestartStatistics()

	strategy.HandleFailure(sup, child, stats, "boom", "msg")
	strategy.HandleFailure(sup, child, stats, "boom", "msg")
	strategy.HandleFailure(sup, child, stats, "boom", "msg")

	if len(sup.stopped) != 1 {
		t.Fatalf("expected the 3rd failure (exceeding maxRetries=2) to stop instead of restart, got stopped=%v restarted=%v", sup.stopped, sup.restarted)
	}
}

func TestEscalateStrategyAlwaysEscalates(t *testing.T) {
	child := NewPID("local:1", "child")
	sup := &fakeSupervisor{children: []*PID{child}}

	EscalateStrategy{}.HandleFailure(sup, child, NewRestartStatistics(), "boom", "msg")

	if !sup.escalated || sup.escReason != "boom" || sup.escMessage != "msg" {
		t.Fatalf("expected escalation with reason/message preserved, got escalated=%v reason=%v message=%v",
			sup.escalated, sup.escReason, sup.escMessage)
	}
}

func TestAlwaysRestartStrategyIgnoresFailureHistory(t *testing.T) {
	child := NewPID("local:1", "child")
	sup := &fakeSupervisor{children: []*PID{child}}

	strategy := AlwaysRestartStrategy{}
	for i := 0; i < 10; i++ {
		strategy.HandleFailure(sup, child, NewRestartStatistics(), "boom", "msg")
	}

	if len(sup.restarted) != 10 {
		t.Fatalf("expected every failure to restart regardless of count, got %d restarts", len(sup.restarted))
	}
}
