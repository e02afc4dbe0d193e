package wrpc_test

import (
	"context"
	"io"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/mgnsk/fibra-workers/pkg/wrpc"
)

func TestPipe(t *testing.T) {
	g := NewGomegaWithT(t)
	ctx := context.Background()

	p1, p2 := wrpc.Pipe(2)

	g.Expect(p1.WriteMessage(ctx, []byte("one"))).To(Succeed())
	g.Expect(p1.WriteMessage(ctx, []byte("two"))).To(Succeed())

	msg, err := p2.ReadMessage(ctx)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(msg)).To(Equal("one"))

	g.Expect(p2.WriteMessage(ctx, []byte("back"))).To(Succeed())
	msg, err = p1.ReadMessage(ctx)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(msg)).To(Equal("back"))

	// Messages written before close are still delivered.
	g.Expect(p1.Close()).To(Succeed())
	msg, err = p2.ReadMessage(ctx)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(msg)).To(Equal("two"))

	_, err = p2.ReadMessage(ctx)
	g.Expect(err).To(Equal(io.EOF))

	_, err = p1.ReadMessage(ctx)
	g.Expect(err).To(Equal(io.ErrClosedPipe))
	g.Expect(p2.WriteMessage(ctx, []byte("x"))).To(Equal(io.ErrClosedPipe))
	g.Expect(p1.Close()).To(Succeed())
}

func TestPipeCopiesMessages(t *testing.T) {
	g := NewGomegaWithT(t)
	ctx := context.Background()

	p1, p2 := wrpc.Pipe(1)
	buf := []byte("abc")
	g.Expect(p1.WriteMessage(ctx, buf)).To(Succeed())
	buf[0] = 'x'

	msg, err := p2.ReadMessage(ctx)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(msg)).To(Equal("abc"))
}

func TestPipeBlocksWhenFull(t *testing.T) {
	g := NewGomegaWithT(t)

	p1, _ := wrpc.Pipe(1)
	g.Expect(p1.WriteMessage(context.Background(), []byte("a"))).To(Succeed())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	g.Expect(p1.WriteMessage(ctx, []byte("b"))).To(MatchError(context.DeadlineExceeded))

	_, err := p1.ReadMessage(ctx)
	g.Expect(err).To(MatchError(context.DeadlineExceeded))
}
