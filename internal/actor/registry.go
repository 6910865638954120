package actor

import (
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// resolveCacheSize/resolveCacheTTL bound the registry's remote-resolution
// cache: a PID's resolved sink (almost always the same *remote.Endpoint for
// every PID sharing an address) is worth memoizing since the host-resolver
// chain runs on every single remote Send, but it must expire — an endpoint
// can terminate and be replaced, and a cache entry pinned to the old one
// would silently misroute. The short TTL bounds how stale a cached sink can
// get to "at most one window", the same cache-aside-with-expiry shape
// `cluster.CachingSeedDiscovery` uses.
const (
	resolveCacheSize = 4096
	resolveCacheTTL  = 5 * time.Second
)

// HostResolver resolves a PID whose address is not the local system's
// address into a ProcessSink — typically the Endpoint Manager, which
// returns a RemoteProcess proxy. Resolvers are expected to be total: an
// unresolvable address still yields a usable sink (dead-letter or blocked),
// never a nil/false.
type HostResolver func(pid *PID) ProcessSink

// Registry is the Process Registry (spec.md §4.B): a map from identity to
// message sink, local processes keyed by id, remote addresses delegated to
// registered host resolvers in registration order.
//
// Adapted from the teacher's registry.Hub: the same sync.Map-based
// lock-free lookup and LoadOrStore insertion pattern, generalized from
// "one Cell per user" to "one ProcessSink per PID" and extended with the
// host-resolver chain spec.md requires for remote addressing.
type Registry struct {
	localAddress string
	processes    sync.Map // id(string) -> ProcessSink
	resolversMu  sync.Mutex
	resolvers    []HostResolver
	deadLetter   ProcessSink
	logger       *slog.Logger
	seq          uint64

	// resolveCache memoizes non-local PID resolutions; resolveGroup dedupes
	// concurrent resolutions of the same key into a single resolver-chain
	// walk (spec.md's LRU-backed resolver cache with dedupe of in-flight
	// PID resolutions).
	resolveCache *expirable.LRU[string, ProcessSink]
	resolveGroup singleflight.Group
}

// NewRegistry builds a registry for the given local system address.
func NewRegistry(localAddress string, deadLetter ProcessSink, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		localAddress: localAddress,
		deadLetter:   deadLetter,
		logger:       logger,
		resolveCache: expirable.NewLRU[string, ProcessSink](resolveCacheSize, nil, resolveCacheTTL),
	}
}

// LocalAddress returns the address this registry considers local.
func (r *Registry) LocalAddress() string {
	return r.localAddress
}

// RegisterHostResolver appends a resolver to the chain consulted for
// non-local addresses, in registration order.
func (r *Registry) RegisterHostResolver(fn HostResolver) {
	r.resolversMu.Lock()
	defer r.resolversMu.Unlock()
	r.resolvers = append(r.resolvers, fn)
}

// NextID returns a fresh unique id suitable for an anonymous local Spawn.
func (r *Registry) NextID() string {
	n := atomic.AddUint64(&r.seq, 1)
	return "$" + uuid.NewString()[:8] + "-" + strconv.FormatUint(n, 10)
}

// Add inserts sink under id. Returns ErrAlreadyExists if id is taken.
func (r *Registry) Add(id string, sink ProcessSink) (*PID, error) {
	pid := NewPID(r.localAddress, id)
	if _, loaded := r.processes.LoadOrStore(id, sink); loaded {
		return pid, ErrAlreadyExists
	}
	return pid, nil
}

// Remove deletes the local process record for pid, if any.
func (r *Registry) Remove(pid *PID) {
	if pid == nil || pid.Address != r.localAddress {
		return
	}
	r.processes.Delete(pid.ID)
}

// Get resolves pid to a sink: a local lookup if pid.Address is local,
// otherwise the first host resolver (in registration order) that returns
// one, memoized through resolveCache/resolveGroup. Resolvers are total, so
// this never returns nil — an unresolvable PID lands on the dead-letter
// sink.
func (r *Registry) Get(pid *PID) ProcessSink {
	if pid == nil {
		return r.deadLetter
	}
	if pid.Address == r.localAddress {
		if v, ok := r.processes.Load(pid.ID); ok {
			return v.(ProcessSink)
		}
		return r.deadLetter
	}

	// Keyed on Address+ID only: RequestID correlates an ask reply and is
	// unique per call, so including it would turn every ask into its own
	// permanent cache entry instead of sharing the per-peer resolution.
	key := pid.Address + "|" + pid.ID
	if sink, ok := r.resolveCache.Get(key); ok {
		return sink
	}

	sinkAny, _, _ := r.resolveGroup.Do(key, func() (any, error) {
		return r.resolveRemote(pid), nil
	})
	sink := sinkAny.(ProcessSink)
	r.resolveCache.Add(key, sink)
	return sink
}

func (r *Registry) resolveRemote(pid *PID) ProcessSink {
	r.resolversMu.Lock()
	resolvers := append([]HostResolver(nil), r.resolvers...)
	r.resolversMu.Unlock()

	for _, resolve := range resolvers {
		if sink := resolve(pid); sink != nil {
			return sink
		}
	}
	r.logger.Warn("no host resolver claimed address, routing to dead letter",
		slog.String("address", pid.Address))
	return r.deadLetter
}
