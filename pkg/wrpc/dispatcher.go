package wrpc

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/joomcode/errorx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mgnsk/fibra-workers/pkg/codec"
)

// Worker is the dispatcher's handle of one worker.
type Worker struct {
	index int
	port  Port
	lost  bool
}

// Index returns the worker's position in the pool.
func (w *Worker) Index() int {
	return w.index
}

type pendingCall struct {
	future  *Future
	service string
	method  string
	workers []*Worker
	stop    func() bool
}

// Dispatcher sends calls to a fixed pool of workers and correlates their
// replies by ID.
type Dispatcher struct {
	reg     *codec.Registry
	opts    options
	log     *zap.Logger
	workers []*Worker
	events  emitter

	mu      sync.Mutex
	lastID  uint64
	cursor  int
	pending map[uint64]*pendingCall
	closed  bool
	// stopped is set once the context passed to Start is done.
	stopped bool

	ctx   context.Context
	stop  context.CancelFunc
	group *errgroup.Group
}

// NewDispatcher creates a dispatcher over the ports of its workers.
func NewDispatcher(reg *codec.Registry, ports []Port, opts ...Option) (*Dispatcher, error) {
	if len(ports) == 0 {
		return nil, errorx.IllegalArgument.New("dispatcher needs at least one worker port")
	}

	o := newOptions(opts)
	d := &Dispatcher{
		reg:     reg,
		opts:    o,
		log:     o.log.With(zap.String("component", "dispatcher")),
		pending: map[uint64]*pendingCall{},
	}
	for i, p := range ports {
		d.workers = append(d.workers, &Worker{index: i, port: p})
	}
	return d, nil
}

// Workers returns the worker handles in pool order.
func (d *Dispatcher) Workers() []*Worker {
	return d.workers
}

// Start waits for every worker to complete the ready handshake and then
// starts reading replies until ctx is done or the dispatcher is closed.
func (d *Dispatcher) Start(ctx context.Context) error {
	if err := d.handshake(ctx); err != nil {
		return err
	}

	d.ctx, d.stop = context.WithCancel(ctx)
	d.group = &errgroup.Group{}
	for _, w := range d.workers {
		d.group.Go(func() error {
			return d.loop(d.ctx, w)
		})
	}
	d.log.Debug("dispatcher started", zap.Int("workers", len(d.workers)))
	return nil
}

func (d *Dispatcher) handshake(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.opts.readyTimeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for _, w := range d.workers {
		g.Go(func() error {
			msg, err := w.port.ReadMessage(ctx)
			if err != nil {
				return ErrNotReady.Wrap(err, "worker %d", w.index)
			}
			rep, err := DecodeReply(d.opts.codec, msg)
			if err != nil {
				return errorx.Decorate(err, "worker %d handshake", w.index)
			}
			if rep.Event != EventReady {
				return ErrProtocol.New("worker %d sent %q before ready", w.index, rep.Event)
			}
			if err := d.reg.Compatible(rep.Version, rep.Fingerprint, d.opts.constraint); err != nil {
				return errorx.Decorate(err, "worker %d", w.index)
			}
			return nil
		})
	}
	return g.Wait()
}

// Wait blocks until all reply loops have exited.
func (d *Dispatcher) Wait() error {
	if d.group == nil {
		return nil
	}
	return d.group.Wait()
}

// Close closes all worker ports and rejects pending calls with ErrClosed.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	for _, w := range d.workers {
		w.port.Close()
	}
	if d.stop != nil {
		d.stop()
	}
	err := d.Wait()
	d.fail(func(*pendingCall) bool { return true }, ErrClosed.New("dispatcher closed"))
	return err
}

// On registers a listener for broadcasts sent by workers.
func (d *Dispatcher) On(name string, fn Listener) {
	d.events.on(name, fn)
}

// Call invokes method of service on the next worker in round-robin order.
// If ctx is done before the call settles, the worker is asked to cancel and
// the Future is cancelled.
func (d *Dispatcher) Call(ctx context.Context, service, method string, args ...any) *Future {
	return d.call(ctx, service, method, args, false)
}

// CallAll invokes method of service on every worker. The first terminal
// reply settles the Future, the others are late replies.
func (d *Dispatcher) CallAll(ctx context.Context, service, method string, args ...any) *Future {
	return d.call(ctx, service, method, args, true)
}

// Broadcast sends a fire-and-forget event to every worker.
func (d *Dispatcher) Broadcast(ctx context.Context, name string, args ...any) error {
	tree, err := codec.Tag(d.reg, args)
	if err != nil {
		return err
	}
	msg, err := EncodeEnvelope(d.opts.codec, Envelope{Name: name, Args: tree})
	if err != nil {
		return err
	}

	var errs []error
	for _, w := range d.workers {
		if err := w.port.WriteMessage(ctx, msg); err != nil {
			errs = append(errs, errorx.Decorate(err, "broadcast %q to worker %d", name, w.index))
		}
	}
	d.opts.metrics.broadcast("outbound")
	return errors.Join(errs...)
}

// writeContext bounds port writes by the dispatcher's lifetime.
func (d *Dispatcher) writeContext() context.Context {
	if d.ctx != nil {
		return d.ctx
	}
	return context.Background()
}

func (d *Dispatcher) call(ctx context.Context, service, method string, args []any, all bool) *Future {
	f := NewFuture()

	tree, err := codec.Tag(d.reg, args)
	if err != nil {
		f.Reject(err)
		return f
	}

	d.mu.Lock()
	if d.closed || d.stopped {
		d.mu.Unlock()
		f.Reject(ErrClosed.New("dispatcher closed"))
		return f
	}
	d.lastID++
	id := d.lastID
	pc := &pendingCall{future: f, service: service, method: method}
	if all {
		pc.workers = d.workers
	} else {
		pc.workers = []*Worker{d.workers[d.cursor]}
		d.cursor = (d.cursor + 1) % len(d.workers)
	}
	d.pending[id] = pc
	d.mu.Unlock()
	d.opts.metrics.callStarted()

	msg, err := EncodeEnvelope(d.opts.codec, Envelope{ID: id, Service: service, Method: method, Args: tree})
	if err != nil {
		d.settle(id, func(pc *pendingCall) { pc.future.Reject(err) })
		return f
	}

	for _, w := range pc.workers {
		if err := w.port.WriteMessage(d.writeContext(), msg); err != nil {
			err = errorx.Decorate(err, "call %s.%s on worker %d", service, method, w.index)
			d.settle(id, func(pc *pendingCall) { pc.future.Reject(err) })
			return f
		}
	}

	// Registered after the request was written so the cancel message
	// always follows it on the port.
	stop := context.AfterFunc(ctx, func() {
		d.cancel(ctx, id)
	})
	d.mu.Lock()
	if pc, ok := d.pending[id]; ok {
		pc.stop = stop
	} else {
		stop()
	}
	d.mu.Unlock()

	return f
}

func (d *Dispatcher) cancel(ctx context.Context, id uint64) {
	d.mu.Lock()
	pc, ok := d.pending[id]
	if ok {
		delete(d.pending, id)
	}
	d.mu.Unlock()
	if !ok {
		return
	}

	msg, err := EncodeEnvelope(d.opts.codec, Envelope{ID: id, Cancel: true})
	if err == nil {
		for _, w := range pc.workers {
			if err := w.port.WriteMessage(d.writeContext(), msg); err != nil {
				d.log.Debug("cancel not delivered", zap.Uint64("id", id), zap.Int("worker", w.index), zap.Error(err))
			}
		}
	}

	pc.future.cancel(ErrCancelled.Wrap(context.Cause(ctx), "call %d to %s.%s cancelled", id, pc.service, pc.method))
	d.opts.metrics.callSettled(pc.service, pc.method, Cancelled)
	d.log.Debug("call cancelled", zap.Uint64("id", id), zap.String("service", pc.service), zap.String("method", pc.method))
}

// settle retires a pending call and runs fn on it. It reports false if the
// call was no longer pending.
func (d *Dispatcher) settle(id uint64, fn func(*pendingCall)) bool {
	d.mu.Lock()
	pc, ok := d.pending[id]
	var stop func() bool
	if ok {
		delete(d.pending, id)
		stop = pc.stop
	}
	d.mu.Unlock()
	if !ok {
		return false
	}

	if stop != nil {
		stop()
	}
	fn(pc)
	d.opts.metrics.callSettled(pc.service, pc.method, pc.future.State())
	return true
}

// fail rejects every pending call matched by match.
func (d *Dispatcher) fail(match func(*pendingCall) bool, err error) {
	d.mu.Lock()
	var ids []uint64
	for id, pc := range d.pending {
		if match(pc) {
			ids = append(ids, id)
		}
	}
	d.mu.Unlock()

	for _, id := range ids {
		d.settle(id, func(pc *pendingCall) { pc.future.Reject(err) })
	}
}

func (d *Dispatcher) loop(ctx context.Context, w *Worker) error {
	for {
		msg, err := w.port.ReadMessage(ctx)
		if err != nil {
			return d.lose(ctx, w, err)
		}

		rep, err := DecodeReply(d.opts.codec, msg)
		if err != nil {
			d.log.Error("dropping malformed reply", zap.Int("worker", w.index), zap.Error(err))
			continue
		}
		d.handle(w, rep)
	}
}

// lose rejects the calls that can no longer settle after w's port failed.
func (d *Dispatcher) lose(ctx context.Context, w *Worker, err error) error {
	d.mu.Lock()
	w.lost = true
	closed := d.closed
	if ctx.Err() != nil {
		d.stopped = true
	}
	d.mu.Unlock()

	if closed {
		return nil
	}
	if ctx.Err() != nil {
		d.fail(func(*pendingCall) bool { return true }, ErrClosed.Wrap(ctx.Err(), "dispatcher stopped"))
		return nil
	}

	d.log.Warn("worker lost", zap.Int("worker", w.index), zap.Error(err))
	d.fail(func(pc *pendingCall) bool {
		for _, w := range pc.workers {
			if !w.lost {
				return false
			}
		}
		return true
	}, ErrClosed.Wrap(err, "worker %d lost", w.index))

	if errors.Is(err, io.EOF) {
		return nil
	}
	return errorx.Decorate(err, "worker %d", w.index)
}

func (d *Dispatcher) handle(w *Worker, rep Reply) {
	switch rep.Event {
	case EventBroadcast:
		args, err := restoreList(d.reg, rep.Args)
		if err != nil {
			d.log.Error("dropping broadcast", zap.String("name", rep.Name), zap.Int("worker", w.index), zap.Error(err))
			return
		}
		d.opts.metrics.broadcast("inbound")
		if d.events.emit(rep.Name, args) == 0 {
			d.log.Debug("broadcast without listeners", zap.String("name", rep.Name))
		}
		return
	case EventReady:
		d.log.Debug("repeated ready reply", zap.Int("worker", w.index))
		return
	}

	if !rep.Terminal() {
		d.mu.Lock()
		pc, ok := d.pending[rep.ID]
		d.mu.Unlock()
		if !ok {
			d.late(w, rep)
			return
		}
		v, err := codec.Restore(d.reg, rep.Data)
		if err != nil {
			d.log.Error("dropping update", zap.Uint64("id", rep.ID), zap.Error(err))
			return
		}
		pc.future.Notify(v)
		return
	}

	settled := d.settle(rep.ID, func(pc *pendingCall) {
		v, err := codec.Restore(d.reg, rep.Data)
		switch {
		case err != nil:
			pc.future.Reject(err)
		case rep.Event == EventFailure:
			pc.future.Reject(remoteError(rep.Data, v))
		default:
			pc.future.resolveWire(v, d.reg, rep.Data)
		}
	})
	if !settled {
		d.late(w, rep)
	}
}

func (d *Dispatcher) late(w *Worker, rep Reply) {
	d.log.Debug("late reply",
		zap.Uint64("id", rep.ID),
		zap.String("event", rep.Event),
		zap.Int("worker", w.index),
	)
	d.opts.metrics.lateReply()
	if d.opts.lateHook != nil {
		d.opts.lateHook(LateReply{Worker: w.index, Reply: rep})
	}
}

func restoreList(reg *codec.Registry, tree any) ([]any, error) {
	v, err := codec.Restore(reg, tree)
	if err != nil {
		return nil, err
	}
	switch v := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	default:
		return []any{v}, nil
	}
}
