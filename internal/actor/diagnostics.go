package actor

// DiagnosticEntry is one named value surfaced by a component's diagnostics
// capability (spec.md §6, "Diagnostics").
type DiagnosticEntry struct {
	Category string
	Name     string
	Value    any
}

// Diagnosable is implemented by any component willing to report counters
// or state for operational visibility.
type Diagnosable interface {
	Diagnostics() []DiagnosticEntry
}

// Diagnostics reports the process count for this registry. Per-process
// mailbox depth isn't tracked here since the registry only holds sinks, not
// mailboxes directly — depth is reported by Mailbox's own Diagnostics, for
// callers that hold onto the Mailbox.
func (r *Registry) Diagnostics() []DiagnosticEntry {
	count := 0
	r.processes.Range(func(_, _ any) bool {
		count++
		return true
	})
	return []DiagnosticEntry{
		{Category: "registry", Name: "local_process_count", Value: count},
		{Category: "registry", Name: "local_address", Value: r.localAddress},
	}
}

// Diagnostics reports the dead-letter counter.
func (d *DeadLetter) Diagnostics() []DiagnosticEntry {
	return []DiagnosticEntry{
		{Category: "dead_letter", Name: "dropped_total", Value: d.Dropped()},
	}
}

// Diagnostics reports the mailbox's current depth and suspension state.
func (m *Mailbox) Diagnostics() []DiagnosticEntry {
	return []DiagnosticEntry{
		{Category: "mailbox", Name: "length", Value: m.Length()},
		{Category: "mailbox", Name: "suspended", Value: m.isSuspended()},
	}
}
