package wrpc_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joomcode/errorx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	. "github.com/onsi/gomega"

	"github.com/mgnsk/fibra-workers/pkg/wrpc"
)

func TestCall(t *testing.T) {
	g := NewGomegaWithT(t)
	fx := newFixture(t, 2)
	ctx := context.Background()

	sum, err := wrpc.Await[int](ctx, fx.pool.Call(ctx, "test", "add", 2, 3))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(sum).To(Equal(5))

	v, err := fx.pool.Call(ctx, "test", "add", 40, 2).Await(ctx)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(v).To(Equal(int64(42)))
}

func TestCallPreservesTypedCycles(t *testing.T) {
	g := NewGomegaWithT(t)
	fx := newFixture(t, 1)
	ctx := context.Background()

	n := &Node{Name: "a"}
	n.Self = n

	out, err := wrpc.Await[*Node](ctx, fx.pool.Call(ctx, "test", "rename", n, "b"))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(out.Name).To(Equal("b"))
	g.Expect(out.Self).To(BeIdenticalTo(out))
	g.Expect(out.Greet()).To(Equal("hello b"))

	v, err := fx.pool.Call(ctx, "test", "echo", n).Await(ctx)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(v).To(BeAssignableToTypeOf(&Node{}))
	g.Expect(v.(*Node).Self).To(BeIdenticalTo(v))
}

func TestRoundRobin(t *testing.T) {
	g := NewGomegaWithT(t)
	fx := newFixture(t, 3)
	ctx := context.Background()

	var got []int
	for range 7 {
		i, err := wrpc.Await[int](ctx, fx.pool.Call(ctx, "test", "index"))
		g.Expect(err).NotTo(HaveOccurred())
		got = append(got, i)
	}
	g.Expect(got).To(Equal([]int{0, 1, 2, 0, 1, 2, 0}))
}

func TestRepliesCorrelateOutOfOrder(t *testing.T) {
	g := NewGomegaWithT(t)
	fx := newFixture(t, 1)
	ctx := context.Background()

	slow := fx.pool.Call(ctx, "test", "block", "slow")
	g.Eventually(fx.started).Should(Receive(Equal("slow")))

	_, err := fx.pool.Call(ctx, "test", "fail", "second").Await(ctx)
	var re *wrpc.RemoteError
	g.Expect(errors.As(err, &re)).To(BeTrue())
	g.Expect(re.Message).To(Equal("second"))
	g.Expect(slow.State()).To(Equal(wrpc.Pending))

	quick, err := wrpc.Await[string](ctx, fx.pool.Call(ctx, "test", "quick"))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(quick).To(Equal("quick"))
	g.Expect(slow.State()).To(Equal(wrpc.Pending))

	close(fx.release)
	res, err := wrpc.Await[string](ctx, slow)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(res).To(Equal("released slow"))
	g.Expect(slow.State()).To(Equal(wrpc.Resolved))
}

func TestCallPreservesPlainCycles(t *testing.T) {
	g := NewGomegaWithT(t)
	fx := newFixture(t, 1)
	ctx := context.Background()

	l := &Loop{Name: "a"}
	l.Next = &Loop{Name: "b", Next: l}

	out, err := wrpc.Await[*Loop](ctx, fx.pool.Call(ctx, "test", "link", l, "c"))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(out.Name).To(Equal("c"))
	g.Expect(out.Next.Name).To(Equal("b"))
	g.Expect(out.Next.Next).To(BeIdenticalTo(out))
}

func TestCancel(t *testing.T) {
	g := NewGomegaWithT(t)

	var mu sync.Mutex
	var late []wrpc.LateReply
	reg := prometheus.NewRegistry()
	fx := newFixture(t, 1,
		wrpc.WithMetrics(wrpc.NewMetrics(reg)),
		wrpc.WithLateReplyHook(func(r wrpc.LateReply) {
			mu.Lock()
			defer mu.Unlock()
			late = append(late, r)
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	f := fx.pool.Call(ctx, "test", "block", "doomed")
	g.Eventually(fx.started).Should(Receive(Equal("doomed")))

	cancel()
	g.Eventually(f.Done()).Should(BeClosed())
	g.Expect(f.State()).To(Equal(wrpc.Cancelled))

	_, err := f.Await(context.Background())
	g.Expect(err).To(HaveOccurred())
	g.Expect(errorx.IsOfType(err, wrpc.ErrCancelled)).To(BeTrue())

	// The worker observes the cancellation and its result arrives late.
	g.Eventually(fx.late).Should(Receive(Equal("doomed")))
	g.Eventually(func() []wrpc.LateReply {
		mu.Lock()
		defer mu.Unlock()
		return append([]wrpc.LateReply(nil), late...)
	}).Should(HaveLen(1))
	g.Expect(late[0].Reply.Event).To(Equal(wrpc.EventSuccess))
	g.Expect(late[0].Reply.Data).To(Equal("late doomed"))

	g.Eventually(func() error {
		return testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP wrpc_late_replies_total Replies received for calls that were no longer pending.
# TYPE wrpc_late_replies_total counter
wrpc_late_replies_total 1
`), "wrpc_late_replies_total")
	}).Should(Succeed())

	// The dispatcher still works after a cancelled call.
	quick, err := wrpc.Await[string](context.Background(), fx.pool.Call(context.Background(), "test", "quick"))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(quick).To(Equal("quick"))
}

func TestCancelBeforeCall(t *testing.T) {
	g := NewGomegaWithT(t)
	fx := newFixture(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := fx.pool.Call(ctx, "test", "add", 1, 1)
	g.Eventually(f.Done()).Should(BeClosed())
	g.Expect(f.State()).To(Equal(wrpc.Cancelled))
}

func TestCallAllFirstReplyWins(t *testing.T) {
	g := NewGomegaWithT(t)

	late := make(chan wrpc.LateReply, 8)
	fx := newFixture(t, 3, wrpc.WithLateReplyHook(func(r wrpc.LateReply) {
		late <- r
	}))
	ctx := context.Background()

	i, err := wrpc.Await[int](ctx, fx.pool.CallAll(ctx, "test", "index"))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(i).To(BeElementOf(0, 1, 2))

	seen := map[int]bool{i: true}
	for range 2 {
		var r wrpc.LateReply
		g.Eventually(late).Should(Receive(&r))
		g.Expect(r.Reply.Event).To(Equal(wrpc.EventSuccess))
		seen[r.Worker] = true
	}
	g.Expect(seen).To(HaveLen(3))
	g.Consistently(late, 50*time.Millisecond).ShouldNot(Receive())
}

func TestCallAllSettlesWithoutSlowWorkers(t *testing.T) {
	g := NewGomegaWithT(t)

	late := make(chan wrpc.LateReply, 8)
	fx := newFixture(t, 3, wrpc.WithLateReplyHook(func(r wrpc.LateReply) {
		late <- r
	}))

	f := fx.pool.CallAll(context.Background(), "test", "hold")
	for range 2 {
		g.Eventually(fx.started).Should(Receive(Equal("hold")))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	i, err := wrpc.Await[int](ctx, f)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(i).To(Equal(0))
	g.Consistently(late, 100*time.Millisecond).ShouldNot(Receive())

	close(fx.release)
	seen := map[int]any{}
	for range 2 {
		var r wrpc.LateReply
		g.Eventually(late).Should(Receive(&r))
		g.Expect(r.Reply.Event).To(Equal(wrpc.EventSuccess))
		seen[r.Worker] = r.Reply.Data
	}
	g.Expect(seen).To(Equal(map[int]any{1: int64(1), 2: int64(2)}))
}

func TestProgress(t *testing.T) {
	g := NewGomegaWithT(t)
	fx := newFixture(t, 1)
	ctx := context.Background()

	f := fx.pool.Call(ctx, "test", "count", 3)

	n, err := wrpc.Await[int](ctx, f)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(n).To(Equal(3))

	// Updates received before the callback was attached are replayed.
	var updates []any
	f.OnUpdate(func(v any) {
		updates = append(updates, v)
	})
	g.Expect(updates).To(Equal([]any{int64(1), int64(2), int64(3)}))
}

func TestPushState(t *testing.T) {
	g := NewGomegaWithT(t)
	fx := newFixture(t, 3)
	ctx := context.Background()

	state := map[string]any{"project": "demo", "endpoints": []any{"a", "b"}}

	// CallAll settles on the first worker, the others follow shortly.
	_, err := fx.pool.PushState(ctx, state).Await(ctx)
	g.Expect(err).NotTo(HaveOccurred())

	for _, m := range fx.pool.Mirrors {
		g.Eventually(m.State).Should(Equal(state))
	}
}

func TestClosedDispatcherRejectsCalls(t *testing.T) {
	g := NewGomegaWithT(t)
	fx := newFixture(t, 1)
	ctx := context.Background()

	slow := fx.pool.Call(ctx, "test", "block", "pending")
	g.Eventually(fx.started).Should(Receive())

	g.Expect(fx.pool.Close()).To(Succeed())

	_, err := slow.Await(ctx)
	g.Expect(errorx.IsOfType(err, wrpc.ErrClosed)).To(BeTrue())

	_, err = fx.pool.Call(ctx, "test", "quick").Await(ctx)
	g.Expect(errorx.IsOfType(err, wrpc.ErrClosed)).To(BeTrue())
}

func TestStoppedDispatcherRejectsCalls(t *testing.T) {
	g := NewGomegaWithT(t)

	ctx, cancel := context.WithCancel(context.Background())
	pool, err := wrpc.StartLocalPool(ctx, newRegistry("1.0.0"), 2, func(i int, s *wrpc.Server) {
		s.Handle("test", &testService{index: i})
	})
	g.Expect(err).NotTo(HaveOccurred())
	defer pool.Close()

	cancel()
	g.Expect(pool.Wait()).To(Succeed())

	for range 20 {
		f := pool.Call(context.Background(), "test", "quick")
		g.Eventually(f.Done()).Should(BeClosed())
		_, err := f.Await(context.Background())
		g.Expect(errorx.IsOfType(err, wrpc.ErrClosed)).To(BeTrue())
	}
}
