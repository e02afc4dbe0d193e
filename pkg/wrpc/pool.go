package wrpc

import (
	"context"
	"errors"

	"github.com/joomcode/errorx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mgnsk/fibra-workers/pkg/codec"
)

// Setup registers the services of the i-th worker.
type Setup func(i int, s *Server)

// LocalPool is a Dispatcher whose workers run on goroutines of this process.
// Each worker has its own Server and services and is reached only through
// encoded messages.
type LocalPool struct {
	*Dispatcher
	Servers []*Server
	Mirrors []*StateMirror

	cancel context.CancelFunc
	group  *errgroup.Group
}

// StartLocalPool starts n workers and returns a started dispatcher for them.
// Every worker serves a StateMirror as StateService in addition to the
// services registered by setup.
func StartLocalPool(ctx context.Context, reg *codec.Registry, n int, setup Setup, opts ...Option) (*LocalPool, error) {
	if n < 1 {
		return nil, errorx.IllegalArgument.New("pool size must be positive, got %d", n)
	}

	o := newOptions(opts)
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	pool := &LocalPool{cancel: cancel, group: g}

	ports := make([]Port, n)
	for i := range n {
		local, remote := Pipe(o.queueSize)
		srv := NewServer(reg, remote, append(opts, WithLogger(o.log.With(zap.Int("worker", i))))...)
		mirror := NewStateMirror(nil)
		srv.Handle(StateService, mirror)
		if setup != nil {
			setup(i, srv)
		}
		g.Go(func() error {
			err := srv.Serve(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})

		ports[i] = local
		pool.Servers = append(pool.Servers, srv)
		pool.Mirrors = append(pool.Mirrors, mirror)
	}

	d, err := NewDispatcher(reg, ports, opts...)
	if err != nil {
		cancel()
		return nil, err
	}
	if err := d.Start(ctx); err != nil {
		d.Close()
		cancel()
		g.Wait()
		return nil, err
	}
	pool.Dispatcher = d
	return pool, nil
}

// Close stops the dispatcher and all workers.
func (p *LocalPool) Close() error {
	err := p.Dispatcher.Close()
	p.cancel()
	return errors.Join(err, p.group.Wait())
}
