package remote

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/webitel/actor-core/internal/actor"
	"github.com/webitel/actor-core/internal/transport"
)

// Config bundles the Endpoint Manager's runtime knobs, all named directly
// in spec.md §3/§4.F.
type Config struct {
	// WaitAfterEndpointTermination is the grace sleep applied after a
	// termination event that requested blocking, before the blocklist
	// entry is removed (spec.md §4.F step 5, and the §9 open question:
	// applied only when the event's shouldBlock was true AND this is
	// non-zero — see DESIGN.md "Open Question decisions").
	WaitAfterEndpointTermination time.Duration

	// BlocklistEvictionInterval runs a backstop sweep that removes any
	// blocklist entry older than BlocklistMaxAge. The termination handler
	// already unblocks unconditionally once its own grace period elapses
	// (spec.md §4.F step 6); this is only a janitor in case that never ran,
	// mirroring the teacher's registry.Hub eviction loop
	// (internal/domain/registry/options.go's WithEvictionInterval). Zero
	// disables the sweep.
	BlocklistEvictionInterval time.Duration
	BlocklistMaxAge           time.Duration

	// StopTimeout bounds how long Stop waits for every endpoint's connector
	// to finish disposing before giving up (spec.md §5's cooperative
	// shutdown policy: wait for graceful completion up to a deadline,
	// rather than either blocking forever or not waiting at all). Zero
	// falls back to defaultStopTimeout.
	StopTimeout time.Duration
}

// defaultStopTimeout is used when Config.StopTimeout is zero.
const defaultStopTimeout = 10 * time.Second

// Manager is the Endpoint Manager (spec.md §4.F): a lazy map of remote
// endpoints keyed by address or peer system id, a blocklist for each key
// space, and a single coarse lock that guards every read and write of the
// endpoint maps ("check blocklist -> check map -> insert" as well as the
// lookup-only reads) and is never held across I/O.
type Manager struct {
	localAddress string
	cfg          Config
	dial         transport.ChannelProvider
	serializer   transport.Serializer
	handler      *MessageHandler
	events       *actor.EventStream
	logger       *slog.Logger

	mu              sync.Mutex
	serverEndpoints map[string]*Endpoint
	clientEndpoints map[string]*Endpoint

	blockedAddresses       *blocklist
	blockedClientSystemIDs *blocklist

	blockedEndpoint actor.ProcessSink

	shuttingDown atomic.Bool
	unsubscribe  func()

	evictionCancel context.CancelFunc
}

// NewManager constructs an Endpoint Manager bound to one local system.
// events carries the endpoints' EndpointConnected/EndpointTerminated
// events (spec.md §6); dead is used as the blocked sentinel's backing sink.
func NewManager(localAddress string, cfg Config, dial transport.ChannelProvider,
	serializer transport.Serializer, registry *actor.Registry, events *actor.EventStream,
	dead *actor.DeadLetter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		localAddress:           localAddress,
		cfg:                    cfg,
		dial:                   dial,
		serializer:             serializer,
		handler:                NewMessageHandler(registry),
		events:                 events,
		logger:                 logger,
		serverEndpoints:        make(map[string]*Endpoint),
		clientEndpoints:        make(map[string]*Endpoint),
		blockedAddresses:       newBlocklist(),
		blockedClientSystemIDs: newBlocklist(),
		blockedEndpoint:        actor.NewBlockedSink(dead),
	}
	m.unsubscribe = m.subscribeTermination()
	registry.RegisterHostResolver(m.resolveHost)

	if cfg.BlocklistEvictionInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		m.evictionCancel = cancel
		go m.blockedAddresses.runEvictionLoop(ctx, cfg.BlocklistEvictionInterval, cfg.BlocklistMaxAge)
		go m.blockedClientSystemIDs.runEvictionLoop(ctx, cfg.BlocklistEvictionInterval, cfg.BlocklistMaxAge)
	}
	return m
}

// resolveHost is registered with the Process Registry as a host resolver
// (spec.md §4.B): any PID whose address isn't local resolves to the
// corresponding server-side endpoint.
func (m *Manager) resolveHost(pid *actor.PID) actor.ProcessSink {
	if pid == nil {
		return nil
	}
	if pid.IsClient() {
		systemID := strings.TrimPrefix(pid.Address, actor.ClientPrefix)
		return m.GetOrAddClient(systemID)
	}
	return m.GetOrAddServer(pid.Address)
}

// GetOrAddServer runs the null/shutdown/blocklist short-circuits without
// the lock, then takes the lock for the re-check, the map lookup and the
// insert; the endpoint map is never read without the lock, so there is no
// optimistic lookup before it is taken. Endpoint construction under the lock is
// synchronous and cheap — it only schedules a connector, never waits on
// one (spec.md §4.F "Critical design invariant").
func (m *Manager) GetOrAddServer(address string) actor.ProcessSink {
	if address == "" {
		m.logger.Warn("GetOrAddServer called with empty address")
		return m.blockedEndpoint
	}
	if m.shuttingDown.Load() || m.blockedAddresses.IsBlocked(address) {
		return m.blockedEndpoint
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrAddServerLocked(address)
}

func (m *Manager) getOrAddServerLocked(address string) actor.ProcessSink {
	if m.shuttingDown.Load() || m.blockedAddresses.IsBlocked(address) {
		return m.blockedEndpoint
	}
	if ep, ok := m.serverEndpoints[address]; ok {
		return ep
	}

	kind := KindServerSide
	if strings.HasPrefix(m.localAddress, actor.ClientPrefix) {
		// The local system is itself a client-only identity: any "server"
		// endpoint it opens is really a client-side dial.
		kind = KindClientSide
	}
	ep := newEndpoint(kind, address, m.dial, m.serializer, m.handler, m.events, m.logger)
	m.serverEndpoints[address] = ep
	return ep
}

// GetOrAddClient mirrors GetOrAddServer for peer system ids (spec.md
// §4.F's ClientSide/ServerSideClient variant, for peers with no stable
// dialable address).
func (m *Manager) GetOrAddClient(systemID string) actor.ProcessSink {
	if systemID == "" {
		m.logger.Warn("GetOrAddClient called with empty systemID")
		return m.blockedEndpoint
	}
	if m.shuttingDown.Load() || m.blockedClientSystemIDs.IsBlocked(systemID) {
		return m.blockedEndpoint
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shuttingDown.Load() || m.blockedClientSystemIDs.IsBlocked(systemID) {
		return m.blockedEndpoint
	}
	if ep, ok := m.clientEndpoints[systemID]; ok {
		return ep
	}
	ep := newEndpoint(KindServerSideClient, systemID, m.dial, m.serializer, m.handler, m.events, m.logger)
	m.clientEndpoints[systemID] = ep
	return ep
}

// GetServer is a lookup-only variant of GetOrAddServer: no endpoint is
// created on a miss.
func (m *Manager) GetServer(address string) (*Endpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ep, ok := m.serverEndpoints[address]
	return ep, ok
}

// GetClient is a lookup-only variant of GetOrAddClient.
func (m *Manager) GetClient(systemID string) (*Endpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ep, ok := m.clientEndpoints[systemID]
	return ep, ok
}

// subscribeTermination wires the termination handler to
// actor.TopicEndpointTerminated, implementing spec.md §4.F's numbered
// algorithm.
func (m *Manager) subscribeTermination() func() {
	tok := m.events.Subscribe(actor.TopicEndpointTerminated, func(event any) {
		ev, ok := event.(*EndpointTerminatedEvent)
		if !ok {
			return
		}
		m.handleTermination(ev)
	}, nil)
	return func() { m.events.Unsubscribe(tok) }
}

func (m *Manager) handleTermination(ev *EndpointTerminatedEvent) {
	key, isClient := terminationKey(ev)

	var unblock func()
	func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.shuttingDown.Load() {
			return
		}
		if isClient {
			delete(m.clientEndpoints, key)
			m.blockedClientSystemIDs.Block(key, time.Now())
			unblock = func() { m.blockedClientSystemIDs.Unblock(key) }
		} else {
			delete(m.serverEndpoints, key)
			m.blockedAddresses.Block(key, time.Now())
			unblock = func() { m.blockedAddresses.Unblock(key) }
		}
	}()
	if unblock == nil {
		// shutdown was already in progress; nothing left to do (step 1's
		// early return).
		return
	}

	// unblock unconditionally, even on a hypothetical panic below, mirroring
	// spec.md §4.F step 6's "finally invoke unblock".
	defer unblock()

	if ev.ShouldBlock && m.cfg.WaitAfterEndpointTermination > 0 {
		time.Sleep(m.cfg.WaitAfterEndpointTermination)
	}
}

func terminationKey(ev *EndpointTerminatedEvent) (key string, isClient bool) {
	if ev.PeerSystemID != "" {
		return ev.PeerSystemID, true
	}
	return ev.Address, false
}

// Stop implements spec.md §4.F's shutdown sequence: raise the signal and
// unsubscribe under the lock, then terminate every endpoint and await its
// disposal outside the lock, bounded by cfg.StopTimeout (spec.md §8's
// testable invariant: "stop() returns only after every endpoint has been
// disposed exactly once").
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.shuttingDown.Load() {
		m.mu.Unlock()
		return
	}
	m.shuttingDown.Store(true)
	m.unsubscribe()
	if m.evictionCancel != nil {
		m.evictionCancel()
	}
	servers := make([]*Endpoint, 0, len(m.serverEndpoints))
	for _, ep := range m.serverEndpoints {
		servers = append(servers, ep)
	}
	clients := make([]*Endpoint, 0, len(m.clientEndpoints))
	for _, ep := range m.clientEndpoints {
		clients = append(clients, ep)
	}
	m.serverEndpoints = make(map[string]*Endpoint)
	m.clientEndpoints = make(map[string]*Endpoint)
	m.mu.Unlock()

	all := make([]*Endpoint, 0, len(servers)+len(clients))
	all = append(all, servers...)
	all = append(all, clients...)
	for _, ep := range all {
		ep.Terminate()
	}

	timeout := m.cfg.StopTimeout
	if timeout <= 0 {
		timeout = defaultStopTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(len(all))
	for _, ep := range all {
		ep := ep
		go func() {
			defer wg.Done()
			if err := ep.Wait(ctx); err != nil {
				m.logger.Warn("endpoint did not dispose before shutdown deadline",
					slog.String("address", ep.address), slog.Any("err", err))
			}
		}()
	}
	wg.Wait()
}

// Diagnostics reports endpoint and blocklist counts (spec.md §6).
func (m *Manager) Diagnostics() []actor.DiagnosticEntry {
	m.mu.Lock()
	serverCount := len(m.serverEndpoints)
	clientCount := len(m.clientEndpoints)
	m.mu.Unlock()
	return []actor.DiagnosticEntry{
		{Category: "endpoint_manager", Name: "server_endpoints", Value: serverCount},
		{Category: "endpoint_manager", Name: "client_endpoints", Value: clientCount},
		{Category: "endpoint_manager", Name: "blocked_addresses", Value: len(m.blockedAddresses.Keys())},
		{Category: "endpoint_manager", Name: "blocked_client_system_ids", Value: len(m.blockedClientSystemIDs.Keys())},
	}
}
