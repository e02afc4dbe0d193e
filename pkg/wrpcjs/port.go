//go:build js && wasm

// Package wrpcjs carries wrpc messages over browser MessagePorts, so that
// workers can run in Web Workers.
package wrpcjs

import (
	"context"
	"errors"
	"io"
	"runtime"
	"sync"
	"syscall/js"
)

// MessagePort is a wrpc.Port over a JS MessagePort, Worker or worker global scope.
type MessagePort struct {
	value  js.Value
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	queue  [][]byte
	err    error
}

// Pipe returns a duplex MessagePort pipe over a JS MessageChannel.
func Pipe() (*MessagePort, *MessagePort) {
	ch := js.Global().Get("MessageChannel").New()
	return NewMessagePort(ch.Get("port1")), NewMessagePort(ch.Get("port2"))
}

// SelfPort returns the port of the worker global scope to its parent.
func SelfPort() *MessagePort {
	return NewMessagePort(js.Global())
}

// NewMessagePort wraps value.
func NewMessagePort(value js.Value) *MessagePort {
	p := &MessagePort{
		value:  value,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	onError := js.FuncOf(p.onError)
	onMessage := js.FuncOf(p.onMessage)

	value.Set("onerror", onError)
	value.Set("onmessageerror", onError)
	value.Set("onmessage", onMessage)

	runtime.SetFinalizer(p, func(any) {
		onError.Release()
		onMessage.Release()
	})

	return p
}

// JSValue returns the wrapped value.
func (p *MessagePort) JSValue() js.Value {
	return p.value
}

// ReadMessage reads a single message from the port. Messages received
// before the port closed are still delivered.
func (p *MessagePort) ReadMessage(ctx context.Context) ([]byte, error) {
	for {
		if msg, ok := p.pop(); ok {
			return msg, nil
		}
		select {
		case <-p.signal:
		case <-p.done:
			if msg, ok := p.pop(); ok {
				return msg, nil
			}
			return nil, p.closeErr()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *MessagePort) pop() ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil, false
	}
	msg := p.queue[0]
	p.queue = p.queue[1:]
	return msg, true
}

// WriteMessage posts msg, transferring its buffer to the remote side.
func (p *MessagePort) WriteMessage(ctx context.Context, msg []byte) error {
	select {
	case <-p.done:
		return io.ErrClosedPipe
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	arr := js.Global().Get("Uint8Array").New(len(msg))
	js.CopyBytesToJS(arr, msg)
	ab := arr.Get("buffer")
	p.value.Call("postMessage", map[string]any{"arr": ab}, []any{ab})
	return nil
}

// Close the port. The remote side reads io.EOF.
func (p *MessagePort) Close() error {
	if p.finish(io.ErrClosedPipe) {
		p.value.Call("postMessage", map[string]any{"__eof": true})
		if !p.value.Get("close").IsUndefined() {
			p.value.Call("close")
		}
	}
	return nil
}

func (p *MessagePort) finish(err error) bool {
	closed := false
	p.once.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
		closed = true
	})
	return closed
}

func (p *MessagePort) closeErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *MessagePort) onError(_ js.Value, args []js.Value) any {
	p.finish(js.Error{Value: args[0]})
	return nil
}

func (p *MessagePort) onMessage(_ js.Value, args []js.Value) any {
	data := args[0].Get("data")

	if !data.Get("__eof").IsUndefined() {
		p.finish(io.EOF)
		return nil
	}

	ab := data.Get("arr")
	if ab.IsUndefined() {
		p.finish(errors.New("wrpcjs: expected an ArrayBuffer message"))
		return nil
	}
	arr := js.Global().Get("Uint8Array").New(ab)
	b := make([]byte, arr.Get("length").Int())
	js.CopyBytesToGo(b, arr)

	// Event handlers must not block the JS event loop.
	p.mu.Lock()
	p.queue = append(p.queue, b)
	p.mu.Unlock()
	select {
	case p.signal <- struct{}{}:
	default:
	}
	return nil
}
