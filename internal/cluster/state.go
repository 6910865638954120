package cluster

import (
	"sync"

	iradix "github.com/hashicorp/go-immutable-radix"
)

// entry is one gossiped key's value together with the bookkeeping needed
// for last-writer-wins conflict resolution (spec.md §4.H: "per-key
// last-writer-wins by sequence number, with ties broken by member id").
type entry struct {
	MemberID string
	Key      string
	Value    []byte
	Seq      uint64
}

func radixKey(memberID, key string) []byte {
	return []byte(memberID + "\x00" + key)
}

// stateStore holds the full merged view of every member's gossiped state.
// It is read far more often than written (every GetBroadcasts/LocalState
// call walks it), so it is backed by an immutable radix tree the way the
// rest of the hashicorp stack in go.mod (memberlist itself, and the
// indirect serf dependency) assumes for membership bookkeeping: readers
// take a lock-free snapshot of the root, writers swap it under a mutex.
type stateStore struct {
	mu   sync.Mutex
	root *iradix.Tree
}

func newStateStore() *stateStore {
	return &stateStore{root: iradix.New()}
}

// Apply merges one entry using last-writer-wins-by-sequence, ties broken by
// member id. It reports whether the entry was newer than what was stored
// (i.e. whether it actually changed local state) — callers use that to
// decide whether to re-broadcast.
func (s *stateStore) Apply(e entry) bool {
	k := radixKey(e.MemberID, e.Key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.root.Get(k); ok {
		cur := existing.(entry)
		if e.Seq < cur.Seq {
			return false
		}
		if e.Seq == cur.Seq && e.MemberID <= cur.MemberID {
			return false
		}
	}
	root, _, _ := s.root.Insert(k, e)
	s.root = root
	return true
}

// Get returns the stored entry for (memberID, key), used by Gossip.Get and
// by tests checking the monotonic-non-decreasing invariant.
func (s *stateStore) Get(memberID, key string) (entry, bool) {
	s.mu.Lock()
	root := s.root
	s.mu.Unlock()

	v, ok := root.Get(radixKey(memberID, key))
	if !ok {
		return entry{}, false
	}
	return v.(entry), true
}

// Snapshot returns every entry currently known, used for the full
// push-pull anti-entropy exchange (LocalState/MergeRemoteState).
func (s *stateStore) Snapshot() []entry {
	s.mu.Lock()
	root := s.root
	s.mu.Unlock()

	out := make([]entry, 0, root.Len())
	root.Walk(func(_ []byte, v interface{}) bool {
		out = append(out, v.(entry))
		return false
	})
	return out
}

// Len reports the number of distinct (member, key) pairs known.
func (s *stateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root.Len()
}
