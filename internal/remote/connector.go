package remote

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/webitel/actor-core/internal/transport"
)

// tracer emits spans around the connect attempt and each outbound send so
// a W3C-propagated trace can show where a message crossed a node boundary
// (spec.md §6's "Headers carries W3C trace propagation" wiring point).
var tracer = otel.Tracer("github.com/webitel/actor-core/internal/remote")

// ConnectorState is the per-endpoint connection state machine (spec.md
// §4.G): Connecting -> Connected -> Terminating -> Terminated, with
// retry/backoff applied in Connecting.
type ConnectorState int32

const (
	StateConnecting ConnectorState = iota
	StateConnected
	StateTerminating
	StateTerminated
)

func (s ConnectorState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// connector owns the dial attempt, backoff schedule and circuit breaker
// for one endpoint's outbound connection. Backoff covers transient
// transport failures (spec.md §7 kind 1: "connect refused, stream reset");
// the breaker sheds load once failures repeat past a threshold rather
// than retrying forever against a peer that is genuinely down.
type connector struct {
	address string
	dial    transport.ChannelProvider
	logger  *slog.Logger
	breaker *gobreaker.CircuitBreaker[transport.Channel]

	state atomic.Int32

	mu      sync.Mutex
	channel transport.Channel

	shutdown     chan struct{}
	shutdownOnce sync.Once

	// done closes once run() returns, i.e. once finish has run and the
	// connector has reached StateTerminated. Wait blocks on it so callers
	// (Manager.Stop) can await actual disposal instead of just firing the
	// shutdown signal and returning immediately (spec.md §4.F "stop()
	// awaits disposal of every endpoint").
	done chan struct{}

	onConnected  func(transport.Channel)
	onTerminated func(shouldBlock bool)
}

func newConnector(address string, dial transport.ChannelProvider, logger *slog.Logger,
	onConnected func(transport.Channel), onTerminated func(shouldBlock bool)) *connector {
	if logger == nil {
		logger = slog.Default()
	}
	breaker := gobreaker.NewCircuitBreaker[transport.Channel](gobreaker.Settings{
		Name:        "connector:" + address,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	c := &connector{
		address:      address,
		dial:         dial,
		logger:       logger,
		breaker:      breaker,
		shutdown:     make(chan struct{}),
		done:         make(chan struct{}),
		onConnected:  onConnected,
		onTerminated: onTerminated,
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// State returns the connector's current ConnectorState.
func (c *connector) State() ConnectorState {
	return ConnectorState(c.state.Load())
}

// Start launches the connect loop in the background. ctx bounds the
// lifetime of the connection attempt and, once connected, the inbound
// read loop; cancelling it (or calling Terminate) moves the connector
// toward Terminated.
func (c *connector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *connector) run(parent context.Context) {
	defer close(c.done)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		select {
		case <-c.shutdown:
			cancel()
		case <-ctx.Done():
		}
	}()

	channel, err := backoff.Retry(ctx, c.dialOnce(ctx),
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(0), // no attempt limit; backoff's default maximum elapsed time still applies
	)
	if err != nil {
		// ctx was cancelled (shutdown or Terminate), or the retry time ran
		// out, before a connection succeeded; there is nothing to tear down,
		// go straight to terminated.
		c.finish(false)
		return
	}

	c.mu.Lock()
	c.channel = channel
	c.mu.Unlock()
	c.state.Store(int32(StateConnected))
	if c.onConnected != nil {
		c.onConnected(channel)
	}

	select {
	case <-ctx.Done():
	case <-c.shutdown:
	case ev, ok := <-channel.Events():
		if !ok || ev == transport.ConnEventDisconnected {
			c.logger.Warn("connector observed peer disconnect", slog.String("address", c.address))
		}
	}

	c.state.Store(int32(StateTerminating))
	_ = channel.Close()
	c.finish(true)
}

func (c *connector) dialOnce(ctx context.Context) func() (transport.Channel, error) {
	return func() (transport.Channel, error) {
		ctx, span := tracer.Start(ctx, "remote.connect", trace.WithAttributes(
			attribute.String("remote.address", c.address),
		))
		defer span.End()

		channel, err := c.breaker.Execute(func() (transport.Channel, error) {
			return c.dial.Dial(ctx, c.address)
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return channel, err
	}
}

func (c *connector) finish(shouldBlock bool) {
	c.state.Store(int32(StateTerminated))
	if c.onTerminated != nil {
		c.onTerminated(shouldBlock)
	}
}

// Terminate requests the connector move to Terminating/Terminated. It does
// not itself block waiting for the teardown to complete, keeping it safe
// to call while holding the Endpoint Manager's coordination lock (spec.md
// §4.F "no blocking I/O under the lock") — callers that need to observe
// actual disposal use Wait.
func (c *connector) Terminate() {
	c.shutdownOnce.Do(func() { close(c.shutdown) })
}

// Wait blocks until run() has returned (finish has been called and the
// connector has reached StateTerminated), or ctx is done, whichever comes
// first. Returns ctx.Err() on the latter.
func (c *connector) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send writes a frame to the live channel, or reports an error if the
// connector isn't Connected.
func (c *connector) Send(ctx context.Context, f transport.Frame) error {
	ctx, span := tracer.Start(ctx, "remote.send", trace.WithAttributes(
		attribute.String("remote.address", c.address),
		attribute.String("remote.frame_type", f.TypeTag),
	))
	defer span.End()

	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		span.SetStatus(codes.Error, errNotConnected.Error())
		return errNotConnected
	}
	if err := ch.Send(ctx, f); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
