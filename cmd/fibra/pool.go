package main

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/mgnsk/fibra-workers/pkg/codec"
	"github.com/mgnsk/fibra-workers/pkg/sparql"
	"github.com/mgnsk/fibra-workers/pkg/wire"
	"github.com/mgnsk/fibra-workers/pkg/wrpc"
	"github.com/mgnsk/fibra-workers/pkg/wrpcnats"
)

func (a *app) registry() (*codec.Registry, error) {
	return sparql.NewRegistry(a.cfg.RegistryVersion)
}

func (a *app) options(extra ...wrpc.Option) ([]wrpc.Option, error) {
	c, err := wire.ByName(a.cfg.Codec)
	if err != nil {
		return nil, err
	}
	return append([]wrpc.Option{
		wrpc.WithLogger(a.log),
		wrpc.WithCodec(c),
		wrpc.WithReadyTimeout(a.cfg.ReadyTimeout),
		wrpc.WithRegistryConstraint(a.cfg.RegistryConstraint),
		wrpc.WithQueueSize(a.cfg.QueueSize),
	}, extra...), nil
}

// setup registers the SPARQL services on a worker's server.
func (a *app) setup(i int, s *wrpc.Server) {
	client := sparql.NewClient(
		sparql.WithLogger(a.log.With(zap.Int("worker", i))),
		sparql.WithTimeout(a.cfg.SPARQLTimeout),
	)

	stats := sparql.NewStatisticsService(client)
	stats.LoginRequired = func(endpoint string) {
		if err := s.Broadcast(context.Background(), sparql.LoginRequiredEvent, endpoint); err != nil {
			a.log.Warn("login request not delivered", zap.String("endpoint", endpoint), zap.Error(err))
		}
	}

	s.Handle(sparql.StatisticsServiceName, stats)
	s.Handle(sparql.UpdateServiceName, sparql.NewUpdateService(client))
}

func (a *app) connect() (*nats.Conn, error) {
	nc, err := nats.Connect(a.cfg.NATSURL,
		nats.Name(appName),
		nats.MaxReconnects(60),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			a.log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			a.log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if sub != nil {
				a.log.Error("nats subscription error", zap.String("subject", sub.Subject), zap.Error(err))
				return
			}
			a.log.Error("nats error", zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", a.cfg.NATSURL, err)
	}
	return nc, nil
}

// dispatcher starts a dispatcher over in-process workers, or over remote
// workers when a NATS URL is configured. The returned func releases it.
func (a *app) dispatcher(ctx context.Context, extra ...wrpc.Option) (*wrpc.Dispatcher, func() error, error) {
	reg, err := a.registry()
	if err != nil {
		return nil, nil, err
	}
	opts, err := a.options(extra...)
	if err != nil {
		return nil, nil, err
	}

	d, closer, err := a.startDispatcher(ctx, reg, opts)
	if err != nil {
		return nil, nil, err
	}
	d.On(sparql.LoginRequiredEvent, func(args []any) {
		a.log.Warn("endpoint requires login", zap.Any("endpoint", args))
	})
	return d, closer, nil
}

func (a *app) startDispatcher(ctx context.Context, reg *codec.Registry, opts []wrpc.Option) (*wrpc.Dispatcher, func() error, error) {
	if a.cfg.NATSURL == "" {
		pool, err := wrpc.StartLocalPool(ctx, reg, a.cfg.Workers, a.setup, opts...)
		if err != nil {
			return nil, nil, err
		}
		return pool.Dispatcher, pool.Close, nil
	}

	nc, err := a.connect()
	if err != nil {
		return nil, nil, err
	}
	ports, err := wrpcnats.DispatcherPorts(nc, a.cfg.SubjectPrefix, a.cfg.Workers)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	d, err := wrpc.NewDispatcher(reg, ports, opts...)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	if err := d.Start(ctx); err != nil {
		d.Close()
		nc.Close()
		return nil, nil, err
	}
	return d, func() error {
		defer nc.Close()
		return d.Close()
	}, nil
}
