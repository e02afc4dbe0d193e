package wrpc

import (
	"time"

	"go.uber.org/zap"

	"github.com/mgnsk/fibra-workers/pkg/wire"
)

// DefaultReadyTimeout bounds the ready handshake.
const DefaultReadyTimeout = 10 * time.Second

// DefaultQueueSize is the per-direction buffer of local pool pipes.
const DefaultQueueSize = 64

// LateReply is a reply for a call that is no longer pending.
type LateReply struct {
	Worker int
	Reply  Reply
}

// Option configures a Dispatcher, a Server or a local pool.
type Option func(*options)

type options struct {
	log          *zap.Logger
	codec        wire.Codec
	metrics      *Metrics
	readyTimeout time.Duration
	constraint   string
	queueSize    int
	lateHook     func(LateReply)
}

func newOptions(opts []Option) options {
	o := options{
		log:          zap.NewNop(),
		codec:        wire.JSON(),
		readyTimeout: DefaultReadyTimeout,
		queueSize:    DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithCodec sets the wire codec. Both sides of a port must use the same codec.
func WithCodec(c wire.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithMetrics enables metrics collection.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithReadyTimeout bounds how long the dispatcher waits for workers to
// become ready.
func WithReadyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.readyTimeout = d
		}
	}
}

// WithRegistryConstraint sets the semver constraint worker registries must
// satisfy. It defaults to a caret constraint on the dispatcher's version.
func WithRegistryConstraint(constraint string) Option {
	return func(o *options) {
		o.constraint = constraint
	}
}

// WithQueueSize sets the pipe buffer size of a local pool.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.queueSize = n
		}
	}
}

// WithLateReplyHook registers an observer for late replies, such as the
// result of a cancelled call or the second reply of a CallAll.
func WithLateReplyHook(fn func(LateReply)) Option {
	return func(o *options) {
		o.lateHook = fn
	}
}
