package wrpcnats_test

import (
	"context"
	"io"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	. "github.com/onsi/gomega"
	"golang.org/x/sync/errgroup"

	"github.com/mgnsk/fibra-workers/pkg/codec"
	"github.com/mgnsk/fibra-workers/pkg/wire"
	"github.com/mgnsk/fibra-workers/pkg/wrpc"
	"github.com/mgnsk/fibra-workers/pkg/wrpcnats"
)

func startServer(t *testing.T) *nats.Conn {
	t.Helper()

	ns, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("failed to create nats server: %v", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("nats server failed to start")
	}

	nc, err := nats.Connect(ns.ClientURL(), nats.Timeout(5*time.Second))
	if err != nil {
		ns.Shutdown()
		t.Fatalf("failed to connect: %v", err)
	}

	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})

	return nc
}

type mathService struct{}

func (mathService) Mul(a, b float64) float64 { return a * b }

func newRegistry() *codec.Registry {
	reg, err := codec.NewRegistry("0.3.0")
	if err != nil {
		panic(err)
	}
	return reg
}

func TestPort(t *testing.T) {
	g := NewGomegaWithT(t)
	nc := startServer(t)
	ctx := context.Background()
	prefix := wrpcnats.NewPrefix()

	w, err := wrpcnats.WorkerPort(nc, prefix, 0)
	g.Expect(err).NotTo(HaveOccurred())
	d, err := wrpcnats.DispatcherPort(nc, prefix, 0)
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(d.WriteMessage(ctx, []byte("request"))).To(Succeed())
	msg, err := w.ReadMessage(ctx)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(msg)).To(Equal("request"))

	g.Expect(w.WriteMessage(ctx, []byte("reply"))).To(Succeed())
	msg, err = d.ReadMessage(ctx)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(msg)).To(Equal("reply"))

	g.Expect(d.Close()).To(Succeed())
	_, err = w.ReadMessage(ctx)
	g.Expect(err).To(Equal(io.EOF))

	_, err = d.ReadMessage(ctx)
	g.Expect(err).To(Equal(io.ErrClosedPipe))
	g.Expect(w.Close()).To(Succeed())
}

func TestDispatcherOverNATS(t *testing.T) {
	g := NewGomegaWithT(t)
	nc := startServer(t)
	prefix := wrpcnats.NewPrefix()
	const n = 2

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Watch the ready announcements so the dispatcher connects only after
	// they have gone out and must rely on probing.
	ready := make(chan *nats.Msg, n)
	spy, err := nc.ChanSubscribe(prefix+".*.out", ready)
	g.Expect(err).NotTo(HaveOccurred())

	reg := newRegistry()
	group, gctx := errgroup.WithContext(ctx)
	for i := range n {
		port, err := wrpcnats.WorkerPort(nc, prefix, i)
		g.Expect(err).NotTo(HaveOccurred())

		srv := wrpc.NewServer(reg, port, wrpc.WithCodec(wire.CBOR()))
		srv.Handle("math", mathService{})
		group.Go(func() error {
			return srv.Serve(gctx)
		})
	}
	for range n {
		g.Eventually(ready).Should(Receive())
	}
	g.Expect(spy.Unsubscribe()).To(Succeed())

	ports, err := wrpcnats.DispatcherPorts(nc, prefix, n)
	g.Expect(err).NotTo(HaveOccurred())

	d, err := wrpc.NewDispatcher(reg, ports, wrpc.WithCodec(wire.CBOR()), wrpc.WithReadyTimeout(5*time.Second))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(d.Start(ctx)).To(Succeed())

	for i := range 4 {
		v, err := wrpc.Await[float64](ctx, d.Call(ctx, "math", "mul", float64(i), 1.5))
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(v).To(Equal(float64(i) * 1.5))
	}

	g.Expect(d.Close()).To(Succeed())
	g.Expect(group.Wait()).To(Succeed())
}

func TestPortReportsDroppedMessages(t *testing.T) {
	g := NewGomegaWithT(t)
	nc := startServer(t)
	prefix := wrpcnats.NewPrefix()

	w, err := wrpcnats.WorkerPort(nc, prefix, 0)
	g.Expect(err).NotTo(HaveOccurred())
	defer w.Close()
	g.Expect(w.SetPendingLimits(1, -1)).To(Succeed())

	for range 10 {
		g.Expect(nc.Publish(wrpcnats.Subject(prefix, 0, "in"), []byte("flood"))).To(Succeed())
	}
	g.Expect(nc.Flush()).To(Succeed())

	g.Eventually(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := w.ReadMessage(ctx)
		return err
	}).Should(MatchError(nats.ErrSlowConsumer))
}
