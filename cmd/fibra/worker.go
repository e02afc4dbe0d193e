package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mgnsk/fibra-workers/pkg/wrpc"
	"github.com/mgnsk/fibra-workers/pkg/wrpcnats"
)

func workerCmd(a *app) *cobra.Command {
	var (
		index   int
		metrics bool
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Serve the SPARQL services as worker --index over NATS",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.NATSURL == "" {
				return errors.New("FIBRA_NATS_URL is required to run a worker")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			var opts []wrpc.Option
			if metrics {
				reg := prometheus.NewRegistry()
				reg.MustRegister(collectors.NewGoCollector())
				opts = append(opts, wrpc.WithMetrics(wrpc.NewMetrics(reg)))
				srv := &http.Server{
					Addr:    a.cfg.MetricsAddr,
					Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
				}
				g.Go(func() error { return listen(ctx, srv) })
			}
			g.Go(func() error { return a.runWorker(ctx, index, opts) })
			return g.Wait()
		},
	}

	cmd.Flags().IntVar(&index, "index", 0, "Worker index within the pool")
	cmd.Flags().BoolVar(&metrics, "metrics", false, "Expose Prometheus metrics on FIBRA_METRICS_ADDR")

	return cmd
}

// runWorker serves the worker until ctx is done. A dispatcher that goes
// away closes the port, so the worker opens a fresh one for the next.
func (a *app) runWorker(ctx context.Context, index int, extra []wrpc.Option) error {
	if index < 0 || index >= a.cfg.Workers {
		return errors.New("worker index out of range of FIBRA_WORKERS")
	}

	reg, err := a.registry()
	if err != nil {
		return err
	}
	opts, err := a.options(extra...)
	if err != nil {
		return err
	}
	nc, err := a.connect()
	if err != nil {
		return err
	}
	defer nc.Close()

	log := a.log.With(zap.Int("worker", index), zap.String("prefix", a.cfg.SubjectPrefix))
	mirror := wrpc.NewStateMirror(func(state any) {
		log.Debug("state updated", zap.Any("state", state))
	})

	for ctx.Err() == nil {
		port, err := wrpcnats.WorkerPort(nc, a.cfg.SubjectPrefix, index)
		if err != nil {
			return err
		}

		srv := wrpc.NewServer(reg, port, append(opts, wrpc.WithLogger(log))...)
		srv.Handle(wrpc.StateService, mirror)
		a.setup(index, srv)

		log.Info("worker ready")
		err = srv.Serve(ctx)
		port.Close()
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		log.Info("dispatcher disconnected")
	}

	return nil
}

func listen(ctx context.Context, srv *http.Server) error {
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.WithoutCancel(ctx))
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
