package wrpc

import (
	"context"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/mgnsk/fibra-workers/pkg/codec"
)

// Server runs on a worker and invokes service methods for the dispatcher
// on the other side of its port.
type Server struct {
	reg    *codec.Registry
	port   Port
	opts   options
	log    *zap.Logger
	events emitter

	mu       sync.Mutex
	services map[string]any
	tokens   map[uint64]*CancellationToken
	wg       sync.WaitGroup
}

// NewServer creates a server on port.
func NewServer(reg *codec.Registry, port Port, opts ...Option) *Server {
	o := newOptions(opts)
	return &Server{
		reg:      reg,
		port:     port,
		opts:     o,
		log:      o.log.With(zap.String("component", "server")),
		services: map[string]any{},
		tokens:   map[uint64]*CancellationToken{},
	}
}

// Handle registers service under name. Its exported methods are callable by
// their name with a lower-case first letter.
func (s *Server) Handle(name string, service any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[name] = service
}

// On registers a listener for broadcasts sent by the dispatcher.
func (s *Server) On(name string, fn Listener) {
	s.events.on(name, fn)
}

// Broadcast sends an event to the dispatcher.
func (s *Server) Broadcast(ctx context.Context, name string, args ...any) error {
	tree, err := codec.Tag(s.reg, args)
	if err != nil {
		return err
	}
	s.opts.metrics.broadcast("outbound")
	return s.write(ctx, Reply{Event: EventBroadcast, Name: name, Args: tree})
}

// Serve announces the server as ready and handles messages until ctx is
// done or the port is closed. In-flight calls are cancelled and awaited
// before Serve returns.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.wg.Wait()
	}()

	ready := Reply{
		Event:       EventReady,
		Version:     s.reg.Version(),
		Fingerprint: s.reg.Fingerprint(),
	}
	if err := s.write(ctx, ready); err != nil {
		return ErrNotReady.Wrap(err, "server: error sending ready")
	}

	for {
		msg, err := s.port.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}

		env, err := DecodeEnvelope(s.opts.codec, msg)
		if err != nil {
			s.log.Error("server: invalid message", zap.Error(err))
			continue
		}
		s.handle(ctx, env)
	}
}

func (s *Server) handle(ctx context.Context, env Envelope) {
	switch {
	case env.Cancel:
		s.mu.Lock()
		tok := s.tokens[env.ID]
		s.mu.Unlock()
		if tok != nil {
			tok.Cancel()
		}

	case env.ID == 0:
		args, err := restoreList(s.reg, env.Args)
		if err != nil {
			s.log.Error("dropping broadcast", zap.String("name", env.Name), zap.Error(err))
			return
		}
		s.opts.metrics.broadcast("inbound")
		s.events.emit(env.Name, args)

	default:
		s.invoke(ctx, env)
	}
}

func (s *Server) invoke(ctx context.Context, env Envelope) {
	s.mu.Lock()
	service, ok := s.services[env.Service]
	s.mu.Unlock()

	var inv *invocation
	var err error = ErrServiceNotFound.New("service %q not found", env.Service)
	if ok {
		inv, err = bind(s.reg, service, env.Service, env.Method, env.Args)
	}
	if err != nil {
		s.fail(ctx, env, err)
		return
	}

	tok := NewCancellationToken(ctx)
	s.mu.Lock()
	s.tokens[env.ID] = tok
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.tokens, env.ID)
			s.mu.Unlock()
			tok.release()
		}()

		f := inv.run(tok)
		f.OnUpdate(func(v any) {
			data, err := codec.Tag(s.reg, v)
			if err != nil {
				s.log.Error("dropping update", zap.Uint64("id", env.ID), zap.Error(err))
				return
			}
			if err := s.write(ctx, Reply{Event: EventUpdate, ID: env.ID, Data: data}); err != nil {
				s.log.Debug("update not delivered", zap.Uint64("id", env.ID), zap.Error(err))
			}
		})

		v, err := f.Await(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.fail(ctx, env, err)
			return
		}

		data, err := codec.Tag(s.reg, v)
		if err != nil {
			s.fail(ctx, env, err)
			return
		}
		s.opts.metrics.invoked(env.Service, env.Method, EventSuccess)
		if err := s.write(ctx, Reply{Event: EventSuccess, ID: env.ID, Data: data}); err != nil {
			s.log.Debug("result not delivered", zap.Uint64("id", env.ID), zap.Error(err))
		}
	}()
}

// fail reports err as the failure of the call. Errors are also logged here
// on the worker.
func (s *Server) fail(ctx context.Context, env Envelope, err error) {
	var data any
	tagged := false
	var fv *FailureValue
	if errors.As(err, &fv) {
		if data, err = codec.Tag(s.reg, fv.Value); err == nil {
			tagged = true
		}
	}
	if !tagged {
		data = errorPayload(err)
		s.log.Error("service call failed",
			zap.String("service", env.Service),
			zap.String("method", env.Method),
			zap.Uint64("id", env.ID),
			zap.Error(err),
		)
	}

	s.opts.metrics.invoked(env.Service, env.Method, EventFailure)
	if err := s.write(ctx, Reply{Event: EventFailure, ID: env.ID, Data: data}); err != nil {
		s.log.Debug("failure not delivered", zap.Uint64("id", env.ID), zap.Error(err))
	}
}

func (s *Server) write(ctx context.Context, r Reply) error {
	msg, err := EncodeReply(s.opts.codec, r)
	if err != nil {
		return err
	}
	return s.port.WriteMessage(ctx, msg)
}
