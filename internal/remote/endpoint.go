package remote

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/webitel/actor-core/internal/actor"
	"github.com/webitel/actor-core/internal/transport"
)

var errNotConnected = errors.New("remote: connector not connected")

// Kind distinguishes the four endpoint variants named in spec.md §3
// ("Endpoint: variant { Blocked, ServerSide(address), ClientSide(address),
// ServerSideClient(peerSystemId) }").
type Kind int

const (
	KindServerSide Kind = iota
	KindClientSide
	KindServerSideClient
)

// outboundCapacity bounds the per-endpoint outbound queue. Once full,
// sends fail rather than block indefinitely (spec.md §4.G "backpressure is
// enforced by bounding the outbound queue and dropping... once the bound
// is exceeded").
const outboundCapacity = 4096

var errOutboundQueueFull = errors.New("remote: outbound queue full")

// EndpointTerminatedEvent is published on actor.TopicEndpointTerminated
// when an endpoint's connector reaches Terminated (spec.md §6).
type EndpointTerminatedEvent struct {
	ShouldBlock  bool
	Address      string
	PeerSystemID string
}

// EndpointConnectedEvent is published on actor.TopicEndpointConnected once
// a connector reaches Connected.
type EndpointConnectedEvent struct {
	Address      string
	PeerSystemID string
}

// Endpoint is one logical link to a peer (spec.md §4.G): an outbound
// queue, a connector state machine, and inbound dispatch through the
// shared Remote Message Handler. It implements actor.ProcessSink so the
// Process Registry's host-resolver chain can address it directly.
type Endpoint struct {
	kind         Kind
	address      string
	peerSystemID string

	connector  *connector
	serializer transport.Serializer
	handler    *MessageHandler
	events     *actor.EventStream
	logger     *slog.Logger

	queueMu  sync.Mutex
	queue    []queuedSend
	draining bool

	cancel context.CancelFunc
}

type queuedSend struct {
	env *actor.Envelope
}

func newEndpoint(kind Kind, key string, dial transport.ChannelProvider, serializer transport.Serializer,
	handler *MessageHandler, events *actor.EventStream, logger *slog.Logger) *Endpoint {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Endpoint{
		kind:       kind,
		serializer: serializer,
		handler:    handler,
		events:     events,
		logger:     logger,
	}
	if kind == KindServerSideClient {
		e.peerSystemID = key
	} else {
		e.address = key
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.connector = newConnector(key, dial, logger, e.onConnected, e.onTerminated)
	e.connector.Start(ctx)
	return e
}

func (e *Endpoint) onConnected(ch transport.Channel) {
	if e.events != nil {
		e.events.Publish(actor.TopicEndpointConnected, &EndpointConnectedEvent{Address: e.address, PeerSystemID: e.peerSystemID})
	}
	go e.inboundLoop(ch)
	e.queueMu.Lock()
	if e.draining {
		// A send that raced the Connected transition already started a flush.
		e.queueMu.Unlock()
		return
	}
	e.draining = true
	e.queueMu.Unlock()
	e.flushQueue()
}

func (e *Endpoint) onTerminated(shouldBlock bool) {
	if e.events != nil {
		e.events.Publish(actor.TopicEndpointTerminated, &EndpointTerminatedEvent{
			ShouldBlock:  shouldBlock,
			Address:      e.address,
			PeerSystemID: e.peerSystemID,
		})
	}
}

func (e *Endpoint) inboundLoop(ch transport.Channel) {
	ctx := context.Background()
	for {
		frame, err := ch.Recv(ctx)
		if err != nil {
			return
		}
		env, err := e.decodeFrame(frame)
		if err != nil {
			// Malformed envelope: logged and discarded, per spec.md §4.G
			// ("malformed envelopes are logged and discarded") — never kills
			// the endpoint for a single bad frame.
			e.logger.Warn("discarding malformed inbound frame", slog.String("address", e.address), slog.Any("err", err))
			continue
		}
		e.handler.Dispatch(env)
	}
}

func (e *Endpoint) decodeFrame(f transport.Frame) (*actor.Envelope, error) {
	msg, err := e.serializer.Decode(f.Payload, f.TypeTag)
	if err != nil {
		return nil, err
	}
	env, ok := msg.(*actor.Envelope)
	if !ok {
		return nil, errors.New("remote: decoded message is not an envelope")
	}
	return env, nil
}

// SendUser implements actor.ProcessSink: enqueue env for outbound
// delivery, dropping it (per the backpressure policy) if the queue is
// already full.
func (e *Endpoint) SendUser(env *actor.Envelope) {
	e.enqueue(env)
}

// SendSystem implements actor.ProcessSink. Remote system messages (mostly
// Watch/Unwatch/Terminated crossing process boundaries) use the same
// outbound path as user messages; there is no separate remote priority
// lane since the wire is a single ordered stream per connector.
func (e *Endpoint) SendSystem(env *actor.Envelope) {
	e.enqueue(env)
}

// Stop requests this endpoint's connector terminate. who is accepted to
// satisfy actor.ProcessSink; a single endpoint represents one peer, not a
// specific PID, so it is ignored.
func (e *Endpoint) Stop(who *actor.PID) {
	e.Terminate()
}

// Terminate tears down the connector; disposal (closing the live channel,
// if any) happens asynchronously, outside any caller's lock. Use Wait to
// block until that disposal has actually completed.
func (e *Endpoint) Terminate() {
	e.connector.Terminate()
	e.cancel()
}

// Wait blocks until the connector backing this endpoint has finished
// disposing (reached StateTerminated), or ctx is done.
func (e *Endpoint) Wait(ctx context.Context) error {
	return e.connector.Wait(ctx)
}

func (e *Endpoint) enqueue(env *actor.Envelope) {
	e.queueMu.Lock()
	if len(e.queue) >= outboundCapacity {
		e.queueMu.Unlock()
		e.logger.Warn("remote outbound queue full, dropping message", slog.String("address", e.address))
		return
	}
	e.queue = append(e.queue, queuedSend{env: env})
	shouldDrain := !e.draining && e.connector.State() == StateConnected
	if shouldDrain {
		e.draining = true
	}
	e.queueMu.Unlock()

	if shouldDrain {
		go e.flushQueue()
	}
}

// flushQueue batches the outbound queue into a single writer goroutine at
// a time (spec.md §4.G "dedupes concurrent sends into a batched write
// path"): at most one flush runs per endpoint, draining everything queued
// since the last pass.
func (e *Endpoint) flushQueue() {
	for {
		e.queueMu.Lock()
		if len(e.queue) == 0 {
			e.draining = false
			e.queueMu.Unlock()
			return
		}
		batch := e.queue
		e.queue = nil
		e.queueMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		for _, item := range batch {
			payload, tag, err := e.serializer.Encode(item.env)
			if err != nil {
				e.logger.Error("failed to encode outbound envelope", slog.Any("err", err))
				continue
			}
			if err := e.connector.Send(ctx, transport.Frame{TypeTag: tag, Payload: payload}); err != nil {
				e.logger.Warn("failed to send outbound frame", slog.String("address", e.address), slog.Any("err", err))
			}
		}
		cancel()
	}
}

// MessageHandler is the Remote Message Handler shared by every endpoint
// (spec.md §2 data flow: "Inbound traffic enters an Endpoint, is
// dispatched through the Remote Message Handler, and arrives at the local
// mailbox identified by the envelope target").
type MessageHandler struct {
	registry *actor.Registry
}

// NewMessageHandler builds a handler that routes decoded inbound
// envelopes into registry.
func NewMessageHandler(registry *actor.Registry) *MessageHandler {
	return &MessageHandler{registry: registry}
}

// Dispatch routes env to its local target via the registry. System vs
// user is determined by the envelope's message type: the mailbox sink
// itself makes that distinction via SendSystem/SendUser, so the handler
// always calls SendUser here — any of this kernel's own system messages
// arriving over the wire traveled as a user-visible wrapper type instead
// (the core doesn't remote system messages, only application traffic).
func (h *MessageHandler) Dispatch(env *actor.Envelope) {
	h.registry.Get(env.Target).SendUser(env)
}
