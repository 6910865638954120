package cluster

import (
	"context"
	"log/slog"
	"time"

	"go.uber.org/fx"

	"github.com/webitel/actor-core/internal/actor"
)

// Module wires the Gossip Layer and its seed discovery into the
// composition root, mirroring internal/remote/module.go's fx.Module shape:
// Provide the long-lived component, Invoke a function that registers its
// fx.Lifecycle hooks.
var Module = fx.Module("cluster",
	fx.Provide(NewGossip),
	fx.Invoke(registerLifecycle),
)

func registerLifecycle(lc fx.Lifecycle, g *Gossip, discovery SeedNodeDiscovery, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			seeds, err := discovery.Discover(ctx)
			if err != nil {
				logger.Warn("seed discovery failed, starting without seeds", slog.Any("error", err))
				return nil
			}
			joined, err := g.Join(seeds)
			if err != nil {
				logger.Warn("failed to join some seed peers", slog.Any("error", err))
			}
			logger.Info("joined cluster", slog.Int("seeds_contacted", joined), slog.Int("seeds_known", len(seeds)))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("leaving cluster")
			return g.Shutdown(5 * time.Second)
		},
	})
}

var _ actor.Diagnosable = (*Gossip)(nil)
