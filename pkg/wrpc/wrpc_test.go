package wrpc_test

import (
	"context"
	"errors"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/mgnsk/fibra-workers/pkg/codec"
	"github.com/mgnsk/fibra-workers/pkg/wrpc"
)

type Node struct {
	Name string
	Self *Node `json:"self,omitempty"`
}

func (n *Node) Greet() string { return "hello " + n.Name }

// Loop is an unregistered struct without methods.
type Loop struct {
	Name string
	Next *Loop
}

// Stranger is never registered.
type Stranger struct {
	A int
}

func (Stranger) Greet() string { return "?" }

func newRegistry(version string) *codec.Registry {
	reg, err := codec.NewRegistry(version)
	if err != nil {
		panic(err)
	}
	reg.MustRegister("Node", (*Node)(nil))
	return reg
}

type testService struct {
	index   int
	started chan string
	release chan struct{}
	late    chan string
}

func (s *testService) Index() int { return s.index }

func (s *testService) Add(a, b int) int { return a + b }

func (s *testService) Echo(v any) any { return v }

func (s *testService) Rename(n *Node, name string) *Node {
	n.Name = name
	return n
}

func (s *testService) Quick() string { return "quick" }

func (s *testService) Fail(msg string) error { return errors.New(msg) }

func (s *testService) Reject(reason string) (string, error) {
	return "", wrpc.Fail(map[string]any{"reason": reason, "retry": func() {}})
}

func (s *testService) Mimic(name, message string) error {
	return wrpc.Fail(map[string]any{"name": name, "message": message})
}

func (s *testService) Panic() { panic("boom") }

// Link checks that l arrived as a cycle and returns it renamed.
func (s *testService) Link(l *Loop, name string) (*Loop, error) {
	if l.Next == nil || l.Next.Next != l {
		return nil, errors.New("cycle lost")
	}
	l.Name = name
	return l, nil
}

// Hold answers at once on worker 0 and waits for release elsewhere.
func (s *testService) Hold(tok *wrpc.CancellationToken) int {
	if s.index == 0 {
		return 0
	}
	s.started <- "hold"
	select {
	case <-s.release:
	case <-tok.Done():
	}
	return s.index
}

// Block waits until released or cancelled. Its result after a cancel is a
// late reply.
func (s *testService) Block(name string, tok *wrpc.CancellationToken) (string, error) {
	s.started <- name
	select {
	case <-s.release:
		return "released " + name, nil
	case <-tok.Done():
		s.late <- name
		return "late " + name, nil
	}
}

func (s *testService) Count(n int, _ *wrpc.CancellationToken) *wrpc.Future {
	f := wrpc.NewFuture()
	go func() {
		for i := 1; i <= n; i++ {
			f.Notify(i)
		}
		f.Resolve(n)
	}()
	return f
}

type fixture struct {
	pool    *wrpc.LocalPool
	started chan string
	release chan struct{}
	late    chan string
}

func newFixture(t *testing.T, n int, opts ...wrpc.Option) *fixture {
	t.Helper()
	g := NewGomegaWithT(t)

	fx := &fixture{
		started: make(chan string, 16),
		release: make(chan struct{}),
		late:    make(chan string, 16),
	}

	pool, err := wrpc.StartLocalPool(context.Background(), newRegistry("1.0.0"), n, func(i int, s *wrpc.Server) {
		s.Handle("test", &testService{
			index:   i,
			started: fx.started,
			release: fx.release,
			late:    fx.late,
		})
	}, opts...)
	g.Expect(err).NotTo(HaveOccurred())
	t.Cleanup(func() {
		pool.Close()
	})

	fx.pool = pool
	return fx
}
