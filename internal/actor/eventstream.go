package actor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Topic names published on the Event Stream (spec.md §6, "Event stream
// topics (published)").
const (
	TopicEndpointConnected  = "EndpointConnected"
	TopicEndpointTerminated = "EndpointTerminated"
	TopicMemberJoined       = "MemberJoined"
	TopicMemberLeft         = "MemberLeft"
	TopicDeadLetter         = "DeadLetter"
)

// Token identifies a live subscription, returned by Subscribe and consumed
// by Unsubscribe. It is a pure handle — unsubscribing is a map removal, not
// finalization (spec.md §9, "Weak references to subscriptions").
type Token uint64

// EventStream is the in-process typed pub/sub bus (spec.md §4.E). It is
// backed by one dedicated watermill gochannel.GoChannel shared by all
// topics: that gives
// us the corpus's own in-process message-bus idiom (the teacher wires
// watermill for its AMQP handler) for the plumbing, while the typed
// Subscribe/Publish façade on top keeps callers decoupled from
// message.Message/[]byte.
//
// Delivery is fire-and-forget per subscriber: a handler panic is recovered,
// logged, and swallowed so one bad subscriber can't halt publication for
// the rest. Ordering within one subscriber matches publication order
// (guaranteed by GoChannel's per-subscriber channel); no ordering is
// promised across subscribers.
type EventStream struct {
	mu      sync.Mutex
	bus     *gochannel.GoChannel
	nextTok uint64
	subs    map[Token]func()
	logger  *slog.Logger

	payloadMu sync.Mutex
	payloads  map[string]any
}

// NewEventStream constructs an EventStream.
func NewEventStream(logger *slog.Logger) *EventStream {
	if logger == nil {
		logger = slog.Default()
	}
	bus := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            256,
		BlockPublishUntilSubscriberAck: false,
	}, watermill.NewSlogLogger(logger))

	return &EventStream{
		bus:      bus,
		subs:     make(map[Token]func()),
		payloads: make(map[string]any),
		logger:   logger,
	}
}

// Subscribe registers handler for topic. handler runs on dispatcher (or the
// EventStream's default goroutine-per-message pump if dispatcher is nil).
// Returns a Token for later Unsubscribe.
func (es *EventStream) Subscribe(topic string, handler func(event any), dispatcher Dispatcher) Token {
	if dispatcher == nil {
		dispatcher = defaultDispatcher
	}

	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := es.bus.Subscribe(ctx, topic)
	if err != nil {
		// GoChannel's Subscribe only fails if the bus is already closed; treat
		// that as a no-op subscription rather than propagating a constructor-
		// style error through a spec API that doesn't expect one.
		es.logger.Error("event stream subscribe failed", slog.String("topic", topic), slog.Any("err", err))
		cancel()
		return 0
	}

	go func() {
		for msg := range msgs {
			ev := es.takePayload(msg.UUID)
			msg.Ack()
			dispatcher.Schedule(func() {
				es.invokeHandler(handler, ev)
			})
		}
	}()

	es.mu.Lock()
	es.nextTok++
	tok := Token(es.nextTok)
	es.subs[tok] = cancel
	es.mu.Unlock()

	return tok
}

func (es *EventStream) invokeHandler(handler func(event any), ev any) {
	defer func() {
		if r := recover(); r != nil {
			es.logger.Error("event stream subscriber panicked", slog.Any("panic", r))
		}
	}()
	handler(ev)
}

// Unsubscribe removes a subscription. A no-op if tok is unknown or already
// removed — unsubscribe is idempotent.
func (es *EventStream) Unsubscribe(tok Token) {
	es.mu.Lock()
	cancel, ok := es.subs[tok]
	if ok {
		delete(es.subs, tok)
	}
	es.mu.Unlock()
	if ok {
		cancel()
	}
}

// Publish fans event out to every current subscriber of its topic.
func (es *EventStream) Publish(topic string, event any) {
	id := watermill.NewUUID()
	es.storePayload(id, event)
	msg := message.NewMessage(id, nil)
	if err := es.bus.Publish(topic, msg); err != nil {
		es.logger.Error("event stream publish failed", slog.String("topic", topic), slog.Any("err", err))
		es.takePayload(id)
	}
}

// Close releases the underlying bus and every live subscription.
func (es *EventStream) Close() error {
	es.mu.Lock()
	for tok, cancel := range es.subs {
		cancel()
		delete(es.subs, tok)
	}
	es.mu.Unlock()
	return es.bus.Close()
}

func (es *EventStream) storePayload(id string, ev any) {
	es.payloadMu.Lock()
	es.payloads[id] = ev
	es.payloadMu.Unlock()
}

func (es *EventStream) takePayload(id string) any {
	es.payloadMu.Lock()
	defer es.payloadMu.Unlock()
	ev := es.payloads[id]
	delete(es.payloads, id)
	return ev
}
