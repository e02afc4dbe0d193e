// Package wrpcnats carries wrpc messages over NATS subjects so that
// workers can run in other processes or on other hosts.
package wrpcnats

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/mgnsk/fibra-workers/pkg/wrpc"
)

const (
	eofHeader   = "Wrpc-Eof"
	probeHeader = "Wrpc-Probe"
)

// Port is a wrpc.Port over a pair of NATS subjects. Core NATS does not
// store messages, so a dispatcher port probes its worker on creation and
// the worker answers by repeating its ready announcement.
//
// Messages dropped by a full subscription buffer fail the next
// ReadMessage with nats.ErrSlowConsumer.
type Port struct {
	nc     *nats.Conn
	pub    string
	sub    *nats.Subscription
	done   chan struct{}
	remote chan struct{}
	once   sync.Once
	eof    sync.Once

	mu     sync.Mutex
	worker bool
	hello  []byte
}

// NewPrefix returns a unique subject prefix for a pool.
func NewPrefix() string {
	return "fibra." + uuid.NewString()
}

// Subject returns the subject of worker i in direction dir ("in" or "out").
func Subject(prefix string, i int, dir string) string {
	return fmt.Sprintf("%s.%d.%s", prefix, i, dir)
}

// WorkerPort returns the port of worker i. It reads requests from
// <prefix>.<i>.in and writes replies to <prefix>.<i>.out.
func WorkerPort(nc *nats.Conn, prefix string, i int) (*Port, error) {
	p, err := newPort(nc, Subject(prefix, i, "out"), Subject(prefix, i, "in"))
	if err != nil {
		return nil, err
	}
	p.worker = true
	return p, nil
}

// DispatcherPort returns the dispatcher's port to worker i.
func DispatcherPort(nc *nats.Conn, prefix string, i int) (*Port, error) {
	p, err := newPort(nc, Subject(prefix, i, "in"), Subject(prefix, i, "out"))
	if err != nil {
		return nil, err
	}
	if err := nc.Flush(); err != nil {
		p.Close()
		return nil, fmt.Errorf("wrpcnats: flush subscription: %w", err)
	}
	if err := nc.PublishMsg(&nats.Msg{Subject: p.pub, Header: nats.Header{probeHeader: []string{"1"}}}); err != nil {
		p.Close()
		return nil, fmt.Errorf("wrpcnats: probe worker %d: %w", i, err)
	}
	return p, nil
}

// DispatcherPorts returns the dispatcher's ports to n workers.
func DispatcherPorts(nc *nats.Conn, prefix string, n int) ([]wrpc.Port, error) {
	ports := make([]wrpc.Port, 0, n)
	for i := range n {
		p, err := DispatcherPort(nc, prefix, i)
		if err != nil {
			for _, p := range ports {
				p.Close()
			}
			return nil, err
		}
		ports = append(ports, p)
	}
	return ports, nil
}

// NewPort creates a port that publishes to pub and reads from sub.
func NewPort(nc *nats.Conn, pub, sub string) (*Port, error) {
	return newPort(nc, pub, sub)
}

func newPort(nc *nats.Conn, pub, sub string) (*Port, error) {
	p := &Port{
		nc:     nc,
		pub:    pub,
		done:   make(chan struct{}),
		remote: make(chan struct{}),
	}

	s, err := nc.SubscribeSync(sub)
	if err != nil {
		return nil, fmt.Errorf("wrpcnats: subscribe to %s: %w", sub, err)
	}
	p.sub = s
	return p, nil
}

// SetPendingLimits bounds the messages and bytes buffered for ReadMessage.
// Negative values mean no limit.
func (p *Port) SetPendingLimits(msgs, bytes int) error {
	return p.sub.SetPendingLimits(msgs, bytes)
}

// ReadMessage reads a single message from the port.
func (p *Port) ReadMessage(ctx context.Context) ([]byte, error) {
	for {
		select {
		case <-p.done:
			return nil, io.ErrClosedPipe
		case <-p.remote:
			return nil, io.EOF
		default:
		}

		m, err := p.sub.NextMsgWithContext(ctx)
		if err != nil {
			select {
			case <-p.done:
				return nil, io.ErrClosedPipe
			default:
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, nats.ErrSlowConsumer) {
				return nil, fmt.Errorf("wrpcnats: messages dropped on %s: %w", p.sub.Subject, err)
			}
			return nil, fmt.Errorf("wrpcnats: read: %w", err)
		}

		switch {
		case m.Header.Get(eofHeader) != "":
			p.eof.Do(func() { close(p.remote) })
			return nil, io.EOF
		case m.Header.Get(probeHeader) != "":
			if err := p.answerProbe(); err != nil {
				return nil, err
			}
		default:
			return m.Data, nil
		}
	}
}

func (p *Port) answerProbe() error {
	p.mu.Lock()
	hello := p.hello
	p.mu.Unlock()

	if hello == nil {
		return nil
	}
	if err := p.nc.Publish(p.pub, hello); err != nil {
		return fmt.Errorf("wrpcnats: answer probe on %s: %w", p.pub, err)
	}
	return nil
}

// WriteMessage publishes msg. The first message a worker port writes is
// kept to answer probes.
func (p *Port) WriteMessage(ctx context.Context, msg []byte) error {
	select {
	case <-p.done:
		return io.ErrClosedPipe
	case <-p.remote:
		return io.ErrClosedPipe
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if p.worker {
		p.mu.Lock()
		if p.hello == nil {
			p.hello = append([]byte(nil), msg...)
		}
		p.mu.Unlock()
	}

	if err := p.nc.Publish(p.pub, msg); err != nil {
		return fmt.Errorf("wrpcnats: publish to %s: %w", p.pub, err)
	}
	return nil
}

// Close the port and tell the remote side.
func (p *Port) Close() error {
	var err error
	p.once.Do(func() {
		close(p.done)
		if perr := p.nc.PublishMsg(&nats.Msg{Subject: p.pub, Header: nats.Header{eofHeader: []string{"1"}}}); perr != nil && !p.nc.IsClosed() {
			err = fmt.Errorf("wrpcnats: publish eof to %s: %w", p.pub, perr)
		}
		if uerr := p.sub.Unsubscribe(); uerr != nil && err == nil && !p.nc.IsClosed() {
			err = fmt.Errorf("wrpcnats: unsubscribe: %w", uerr)
		}
	})
	return err
}
