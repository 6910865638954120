package cluster

import (
	"bytes"
	"encoding/gob"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/memberlist"

	"github.com/webitel/actor-core/internal/actor"
)

// MemberStateDelta is the unit of gossip exchange (spec.md §4.H): a batch
// of state entries. A broadcast from Put carries the one entry just
// written; an anti-entropy snapshot carries every known entry. No per-peer
// sent or committed offset is kept, and nothing is committed on receipt.
type MemberStateDelta struct {
	Entries []entry
}

// MemberJoinedEvent / MemberLeftEvent are published on
// actor.TopicMemberJoined / actor.TopicMemberLeft (spec.md §6).
type MemberJoinedEvent struct {
	MemberID string
	Address  string
}

type MemberLeftEvent struct {
	MemberID string
	Address  string
}

// Config configures one Gossip participant. Fields mirror
// memberlist.Config's most commonly tuned knobs rather than exposing the
// whole struct, the way the teacher narrows third-party config surfaces to
// what its own Config needs (see config/config.go).
type Config struct {
	MemberID       string
	BindAddr       string
	BindPort       int
	AdvertiseAddr  string
	AdvertisePort  int
	GossipInterval time.Duration
	GossipFanout   int
	Kinds          []string
}

// Gossip wraps a hashicorp/memberlist instance with the domain-specific
// delegate behavior spec.md §4.H describes: a replicated key/value state
// store merged by last-writer-wins sequence numbers, with membership
// changes surfaced onto the actor system's Event Stream rather than
// handled internally. It is grounded on the teacher's pattern of wrapping
// a third-party client behind a small owning type with its own
// constructor and Diagnostics (internal/remote/manager.go does the same
// for the Endpoint Manager's map of endpoints).
type Gossip struct {
	ml         *memberlist.Memberlist
	broadcasts *memberlist.TransmitLimitedQueue
	store      *stateStore
	events     *actor.EventStream
	logger     *slog.Logger

	memberID string
	kinds    []string

	seqMu   sync.Mutex
	nextSeq map[string]uint64
}

// NewGossip creates and starts a memberlist agent bound to cfg.BindAddr:
// cfg.BindPort. The returned Gossip is immediately live on the wire; call
// Join to rendezvous with seed peers.
func NewGossip(cfg Config, events *actor.EventStream, logger *slog.Logger) (*Gossip, error) {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gossip{
		store:    newStateStore(),
		events:   events,
		logger:   logger,
		memberID: cfg.MemberID,
		kinds:    cfg.Kinds,
		nextSeq:  make(map[string]uint64),
	}

	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = cfg.MemberID
	if cfg.BindAddr != "" {
		mlConfig.BindAddr = cfg.BindAddr
	}
	if cfg.BindPort != 0 {
		mlConfig.BindPort = cfg.BindPort
	}
	if cfg.AdvertiseAddr != "" {
		mlConfig.AdvertiseAddr = cfg.AdvertiseAddr
	}
	if cfg.AdvertisePort != 0 {
		mlConfig.AdvertisePort = cfg.AdvertisePort
	}
	if cfg.GossipInterval > 0 {
		mlConfig.GossipInterval = cfg.GossipInterval
	}
	if cfg.GossipFanout > 0 {
		mlConfig.GossipNodes = cfg.GossipFanout
	}
	mlConfig.Delegate = g
	mlConfig.Events = g
	mlConfig.LogOutput = slog.NewLogLogger(logger.Handler(), slog.LevelDebug).Writer()

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, err
	}
	g.ml = ml
	g.broadcasts = &memberlist.TransmitLimitedQueue{
		NumNodes:       ml.NumMembers,
		RetransmitMult: memberlist.DefaultLANConfig().RetransmitMult,
	}
	return g, nil
}

// Join rendezvouses with the given seed addresses, returning the number
// that were successfully contacted. Seeds are produced by a
// SeedNodeDiscovery implementation (membership.go), keeping discovery
// mechanism and gossip transport decoupled per spec.md §4.I.
func (g *Gossip) Join(seeds []string) (int, error) {
	if len(seeds) == 0 {
		return 0, nil
	}
	return g.ml.Join(seeds)
}

// Put writes a local key, assigning it the next sequence number for that
// key under this member's id, and queues the change for broadcast to a
// random subset of peers on the next gossip round.
func (g *Gossip) Put(key string, value []byte) {
	g.seqMu.Lock()
	g.nextSeq[key]++
	seq := g.nextSeq[key]
	g.seqMu.Unlock()

	e := entry{MemberID: g.memberID, Key: key, Value: value, Seq: seq}
	g.store.Apply(e)

	buf, err := encodeDelta(MemberStateDelta{Entries: []entry{e}})
	if err != nil {
		g.logger.Error("failed to encode gossip delta", slog.Any("error", err))
		return
	}
	g.broadcasts.QueueBroadcast(&deltaBroadcast{msg: buf, entry: e})
}

// Get returns the last value and sequence number known for (memberID,
// key), from local state merged via gossip or local writes.
func (g *Gossip) Get(memberID, key string) (value []byte, seq uint64, ok bool) {
	e, found := g.store.Get(memberID, key)
	if !found {
		return nil, 0, false
	}
	return e.Value, e.Seq, true
}

// Members returns the currently known live membership list.
func (g *Gossip) Members() []*memberlist.Node {
	return g.ml.Members()
}

// Shutdown gracefully leaves the cluster and tears down the memberlist
// agent. It blocks up to timeout waiting for the leave broadcast to
// propagate, matching the bounded-deadline convention the spec applies to
// other teardown paths (spec.md §5, "Per-operation timeouts").
func (g *Gossip) Shutdown(timeout time.Duration) error {
	if err := g.ml.Leave(timeout); err != nil {
		g.logger.Warn("error leaving cluster", slog.Any("error", err))
	}
	return g.ml.Shutdown()
}

// Diagnostics reports the local member id, known peer count, and total
// number of (member,key) state entries held.
func (g *Gossip) Diagnostics() []actor.DiagnosticEntry {
	return []actor.DiagnosticEntry{
		{Category: "gossip", Name: "member_id", Value: g.memberID},
		{Category: "gossip", Name: "peer_count", Value: g.ml.NumMembers()},
		{Category: "gossip", Name: "state_entries", Value: g.store.Len()},
	}
}

// --- memberlist.Delegate ---

// NodeMeta advertises the actor kinds this member hosts, the gossip
// analogue of the Kubernetes `.../kinds` annotation (spec.md §6).
func (g *Gossip) NodeMeta(limit int) []byte {
	buf, err := encodeDelta(MemberStateDelta{Entries: []entry{{
		MemberID: g.memberID,
		Key:      "kinds",
		Value:    []byte(joinKinds(g.kinds)),
	}}})
	if err != nil || len(buf) > limit {
		return nil
	}
	return buf
}

// NotifyMsg applies an incoming delta (one peer's broadcast) to local
// state, following the same LWW-by-sequence rule the anti-entropy path
// uses so both converge to the same result regardless of delivery order.
func (g *Gossip) NotifyMsg(buf []byte) {
	delta, err := decodeDelta(buf)
	if err != nil {
		g.logger.Warn("dropping malformed gossip delta", slog.Any("error", err))
		return
	}
	for _, e := range delta.Entries {
		g.store.Apply(e)
	}
}

// GetBroadcasts drains pending outbound deltas for this gossip round.
func (g *Gossip) GetBroadcasts(overhead, limit int) [][]byte {
	return g.broadcasts.GetBroadcasts(overhead, limit)
}

// LocalState serializes the full known state for the periodic push-pull
// anti-entropy exchange (spec.md §4.H, "anti-entropy guarantees eventual
// convergence under fair scheduling and bounded message loss").
func (g *Gossip) LocalState(join bool) []byte {
	buf, err := encodeDelta(MemberStateDelta{Entries: g.store.Snapshot()})
	if err != nil {
		g.logger.Error("failed to encode local state for anti-entropy", slog.Any("error", err))
		return nil
	}
	return buf
}

// MergeRemoteState applies a peer's full state snapshot received during
// push-pull anti-entropy.
func (g *Gossip) MergeRemoteState(buf []byte, join bool) {
	delta, err := decodeDelta(buf)
	if err != nil {
		g.logger.Warn("dropping malformed anti-entropy state", slog.Any("error", err))
		return
	}
	for _, e := range delta.Entries {
		g.store.Apply(e)
	}
}

// --- memberlist.EventDelegate ---

func (g *Gossip) NotifyJoin(n *memberlist.Node) {
	g.events.Publish(actor.TopicMemberJoined, &MemberJoinedEvent{MemberID: n.Name, Address: n.Address()})
}

func (g *Gossip) NotifyLeave(n *memberlist.Node) {
	g.events.Publish(actor.TopicMemberLeft, &MemberLeftEvent{MemberID: n.Name, Address: n.Address()})
}

func (g *Gossip) NotifyUpdate(n *memberlist.Node) {}

// deltaBroadcast implements memberlist.Broadcast for a single-entry delta.
// It invalidates an older queued broadcast for the same (member, key) so
// the transmit queue never wastes a gossip round resending a superseded
// value.
type deltaBroadcast struct {
	msg   []byte
	entry entry
}

func (b *deltaBroadcast) Invalidates(other memberlist.Broadcast) bool {
	o, ok := other.(*deltaBroadcast)
	if !ok {
		return false
	}
	return o.entry.MemberID == b.entry.MemberID && o.entry.Key == b.entry.Key && o.entry.Seq <= b.entry.Seq
}

func (b *deltaBroadcast) Message() []byte { return b.msg }

func (b *deltaBroadcast) Finished() {}

func encodeDelta(d MemberStateDelta) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeDelta(buf []byte) (MemberStateDelta, error) {
	var d MemberStateDelta
	if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(&d); err != nil {
		return MemberStateDelta{}, err
	}
	return d, nil
}

func joinKinds(kinds []string) string {
	out := ""
	for i, k := range kinds {
		if i > 0 {
			out += ","
		}
		out += k
	}
	return out
}
