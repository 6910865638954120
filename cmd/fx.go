package cmd

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"

	"github.com/webitel/actor-core/config"
	"github.com/webitel/actor-core/internal/actor"
	"github.com/webitel/actor-core/internal/cluster"
	"github.com/webitel/actor-core/internal/remote"
	"github.com/webitel/actor-core/internal/transport"
)

// NewApp builds the fx composition root: the actor System first (it owns
// the Registry/EventStream/DeadLetter every other module consumes), then
// the Endpoint Manager and the Gossip Layer on top of it. Shape mirrors
// the teacher's own cmd.NewApp — fx.Provide for constructors, fx.Module
// per subsystem.
func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideActorSystem,
			ProvideRegistry,
			ProvideEventStream,
			ProvideDeadLetter,
			provideLocalAddress,
			ProvideRemoteConfig,
			ProvideTransport,
			ProvideClusterConfig,
			ProvideSeedDiscovery,
		),
		fx.Invoke(registerTracerProvider),
		remote.Module,
		cluster.Module,
	)
}

// registerTracerProvider installs an SDK TracerProvider as the
// process-wide default (otel.SetTracerProvider) so internal/remote's
// package-level tracer, and any future instrumented package, actually
// emits recorded spans rather than the no-op tracer otel falls back to
// when nothing has configured one. No exporter is registered here: that's
// an operator-level deployment choice (OTLP endpoint, sampling ratio),
// left to the operator rather than hardcoded.
func registerTracerProvider(lc fx.Lifecycle) {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
}

// ProvideLogger builds the process-wide slog.Logger every component
// accepts as an optional last constructor argument. Records fan out to a
// human-readable stderr handler and to otelslog's bridge, which feeds the
// same otel pipeline registerTracerProvider installs, so a log record and
// the span it was emitted under correlate by trace/span id without this
// package reaching for a second logging stack.
func ProvideLogger() *slog.Logger {
	return slog.New(fanoutHandler{
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}),
		otelslog.NewHandler(ServiceName),
	})
}

// fanoutHandler dispatches every record to each of its handlers. No
// multi-handler type exists anywhere in the retrieval pack, so this
// implements slog.Handler directly against the standard library interface
// rather than reaching for a third-party fan-out package for two handlers.
type fanoutHandler []slog.Handler

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, h := range f {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

// ProvideActorSystem constructs the actor.System bound to cfg.System.
func ProvideActorSystem(cfg *config.Config, logger *slog.Logger) *actor.System {
	return actor.NewSystem(cfg.System, logger)
}

// ProvideRegistry, ProvideEventStream and ProvideDeadLetter expose the
// pieces actor.System already owns so remote.Module and cluster.Module
// can depend on them directly without reaching into System themselves.
func ProvideRegistry(sys *actor.System) *actor.Registry       { return sys.Registry }
func ProvideEventStream(sys *actor.System) *actor.EventStream { return sys.Events }
func ProvideDeadLetter(sys *actor.System) *actor.DeadLetter   { return sys.Dead }

// provideLocalAddress satisfies remote.NewManager's bare-string
// localAddress parameter. Safe today because it's the only bare string
// fx.Provide registers; a second one would need fx.Annotate with a name.
func provideLocalAddress(cfg *config.Config) string { return cfg.System }

// ProvideRemoteConfig adapts config.RemoteConfig into remote.Config.
func ProvideRemoteConfig(cfg *config.Config) remote.Config {
	return remote.Config{
		WaitAfterEndpointTermination: cfg.Remote.WaitAfterEndpointTermination,
		BlocklistEvictionInterval:    cfg.Remote.BlocklistEvictionInterval,
		BlocklistMaxAge:              cfg.Remote.BlocklistMaxAge,
		StopTimeout:                  cfg.Remote.StopTimeout,
	}
}

// ProvideTransport wires the gRPC-backed ChannelProvider (spec.md §6
// "Channel provider contract (consumed)") as the Endpoint Manager's
// production transport, plus the gob Serializer as the wire codec.
func ProvideTransport() (transport.ChannelProvider, transport.Serializer) {
	return transport.NewGRPCProvider(), transport.NewGobSerializer()
}

// ProvideClusterConfig adapts config.ClusterConfig into cluster.Config.
func ProvideClusterConfig(cfg *config.Config) cluster.Config {
	return cluster.Config{
		MemberID:       cfg.Cluster.MemberID,
		BindAddr:       cfg.Cluster.BindAddr,
		BindPort:       cfg.Cluster.BindPort,
		AdvertiseAddr:  cfg.Cluster.AdvertiseAddr,
		AdvertisePort:  cfg.Cluster.AdvertisePort,
		GossipInterval: cfg.Cluster.GossipInterval,
		GossipFanout:   cfg.Cluster.GossipFanout,
		Kinds:          cfg.Cluster.Kinds,
	}
}

// ProvideSeedDiscovery picks a cluster.SeedNodeDiscovery implementation
// from config: a seed file if one is configured, otherwise a static list
// (spec.md §4.I: "plug-ins: static list, DNS, Kubernetes labels").
func ProvideSeedDiscovery(cfg *config.Config) cluster.SeedNodeDiscovery {
	if cfg.Cluster.SeedFile != "" {
		return cluster.FileSeedDiscovery{Path: cfg.Cluster.SeedFile}
	}
	return cluster.StaticSeedDiscovery{Addresses: cfg.Cluster.SeedAddresses}
}
