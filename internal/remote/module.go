package remote

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/actor-core/internal/actor"
)

// Module wires the Endpoint Manager into the composition root the way the
// teacher's internal/domain/registry/module.go and
// internal/handler/amqp/module.go each provide their package's surface
// via fx.Module, and register an fx.Lifecycle hook to call Stop on
// shutdown.
var Module = fx.Module("remote",
	fx.Provide(NewManager),
	fx.Invoke(registerLifecycle),
)

func registerLifecycle(lc fx.Lifecycle, m *Manager, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping endpoint manager")
			m.Stop()
			return nil
		},
	})
}

var _ actor.ProcessSink = (*Endpoint)(nil)
