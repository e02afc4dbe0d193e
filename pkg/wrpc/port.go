package wrpc

import (
	"context"
	"io"
	"sync"
)

// Port is one end of a duplex message channel between a dispatcher and a
// worker. Messages are delivered in the order they were written.
type Port interface {
	// WriteMessage writes a single message into the port.
	WriteMessage(ctx context.Context, msg []byte) error
	// ReadMessage reads a single message from the port. It returns io.EOF
	// once the remote side has closed.
	ReadMessage(ctx context.Context) ([]byte, error)
	// Close the port.
	Close() error
}

// MessagePort is an in-process Port backed by a bounded channel per direction.
type MessagePort struct {
	in     <-chan []byte
	out    chan<- []byte
	done   chan struct{}
	remote chan struct{}
	once   sync.Once
}

// Pipe returns a duplex MessagePort pipe. Each direction buffers up to size
// messages before WriteMessage blocks.
func Pipe(size int) (*MessagePort, *MessagePort) {
	if size < 0 {
		size = 0
	}
	a2b := make(chan []byte, size)
	b2a := make(chan []byte, size)
	doneA := make(chan struct{})
	doneB := make(chan struct{})

	p1 := &MessagePort{in: b2a, out: a2b, done: doneA, remote: doneB}
	p2 := &MessagePort{in: a2b, out: b2a, done: doneB, remote: doneA}
	return p1, p2
}

// ReadMessage reads a single message from the port. Messages written before
// the remote side closed are still delivered before io.EOF.
func (p *MessagePort) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case <-p.done:
		return nil, io.ErrClosedPipe
	default:
	}

	select {
	case msg := <-p.in:
		return msg, nil
	case <-p.done:
		return nil, io.ErrClosedPipe
	case <-p.remote:
		select {
		case msg := <-p.in:
			return msg, nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WriteMessage writes a copy of msg into the port.
func (p *MessagePort) WriteMessage(ctx context.Context, msg []byte) error {
	select {
	case <-p.done:
		return io.ErrClosedPipe
	case <-p.remote:
		return io.ErrClosedPipe
	default:
	}

	b := append([]byte(nil), msg...)
	select {
	case p.out <- b:
		return nil
	case <-p.done:
		return io.ErrClosedPipe
	case <-p.remote:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close the port. Pending reads and writes on this side return
// io.ErrClosedPipe, the remote side reads io.EOF.
func (p *MessagePort) Close() error {
	p.once.Do(func() {
		close(p.done)
	})
	return nil
}
