package codec_test

import (
	"reflect"
	"time"

	"github.com/joomcode/errorx"
	"github.com/mgnsk/fibra-workers/pkg/codec"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Tag and Restore", func() {
	var reg *codec.Registry

	BeforeEach(func() {
		reg = newRegistry()
	})

	roundTrip := func(v any) any {
		tree, err := codec.Tag(reg, v)
		Expect(err).NotTo(HaveOccurred())
		out, err := codec.Restore(reg, tree)
		Expect(err).NotTo(HaveOccurred())
		return out
	}

	It("restores typed values with their behavior", func() {
		created := time.Date(2017, 3, 1, 12, 0, 0, 0, time.UTC)
		holder := &Citable{ID: "http://example.org/agent", Labels: []string{"Agent"}, Created: created}
		c := &Citable{
			ID:            "http://example.org/project",
			Labels:        []string{"Project", "Projekt"},
			Source:        &Source{Endpoint: "http://ldf.fi/sparql", Graph: "g"},
			RightsHolders: []*Citable{holder, holder},
			Created:       created,
			Extra:         map[string]any{"n": int64(3), "ok": true},
			Hook:          func() {},
		}

		out := roundTrip(c)

		restored, ok := out.(*Citable)
		Expect(ok).To(BeTrue())
		Expect(restored.Label()).To(Equal("Project"))
		Expect(restored.Source.String()).To(Equal("http://ldf.fi/sparql#g"))
		Expect(restored.Created.Equal(created)).To(BeTrue())
		Expect(restored.Extra).To(Equal(map[string]any{"n": int64(3), "ok": true}))
		Expect(restored.Hook).To(BeNil())
		Expect(restored.RightsHolders).To(HaveLen(2))
		Expect(restored.RightsHolders[0]).To(BeIdenticalTo(restored.RightsHolders[1]))
		Expect(restored.RightsHolders[0].Label()).To(Equal("Agent"))
	})

	It("restores self references without recursing forever", func() {
		a := &Node{Name: "a"}
		a.Self = a
		a.Children = []*Node{a, {Name: "b", Self: a}}

		out := roundTrip(a)

		restored := out.(*Node)
		Expect(restored.Self).To(BeIdenticalTo(restored))
		Expect(restored.Children[0]).To(BeIdenticalTo(restored))
		Expect(restored.Children[1].Self).To(BeIdenticalTo(restored))
		Expect(restored.Children[1].Upper()).To(Equal("B"))
	})

	It("fails hard on an unknown tag", func() {
		out, err := codec.Restore(reg, map[string]any{
			codec.TagKey: "NoSuchType",
			"name":       "x",
		})
		Expect(out).To(BeNil())
		Expect(errorx.IsOfType(err, codec.ErrUnknownTypeTag)).To(BeTrue())
	})

	It("fails hard on an unknown tag nested below a known one", func() {
		var target Node
		err := codec.RestoreInto(reg, map[string]any{
			codec.TagKey: "Node",
			"Name":       "root",
			"children":   []any{map[string]any{codec.TagKey: "Ghost"}},
		}, &target)
		Expect(errorx.IsOfType(err, codec.ErrUnknownTypeTag)).To(BeTrue())
		Expect(target.Name).To(BeEmpty())
	})

	It("tags unregistered types with behavior by their Go name", func() {
		tree, err := codec.Tag(reg, Stranger{A: 1})
		Expect(err).NotTo(HaveOccurred())
		Expect(tree).To(Equal(map[string]any{codec.TagKey: "Stranger", "A": int64(1)}))

		_, err = codec.Restore(reg, tree)
		Expect(errorx.IsOfType(err, codec.ErrUnknownTypeTag)).To(BeTrue())
	})

	It("leaves plain data untagged", func() {
		tree, err := codec.Tag(reg, []any{Point{X: 1, Y: 2}, map[string]int{"a": 1}})
		Expect(err).NotTo(HaveOccurred())
		Expect(tree).To(Equal([]any{
			map[string]any{"X": int64(1), "Y": int64(2)},
			map[string]any{"a": int64(1)},
		}))
	})

	It("labels shared plain maps and keeps them shared", func() {
		shared := map[string]any{"k": "v"}
		tree, err := codec.Tag(reg, []any{shared, shared})
		Expect(err).NotTo(HaveOccurred())
		Expect(tree).To(Equal([]any{
			map[string]any{codec.TagKey: codec.PlainTag, codec.IDKey: int64(1), "k": "v"},
			map[string]any{codec.RefKey: int64(1)},
		}))

		out, err := codec.Restore(reg, tree)
		Expect(err).NotTo(HaveOccurred())
		list := out.([]any)
		list[0].(map[string]any)["k"] = "changed"
		Expect(list[1].(map[string]any)["k"]).To(Equal("changed"))
	})

	It("keeps unregistered structs without methods shared in typed targets", func() {
		l := &Leaf{Value: 7}
		tree, err := codec.Tag(reg, &Pair{A: l, B: l})
		Expect(err).NotTo(HaveOccurred())

		var p *Pair
		Expect(codec.RestoreInto(reg, tree, &p)).To(Succeed())
		Expect(p.A).To(BeIdenticalTo(p.B))
		Expect(p.A.Value).To(Equal(7))

		var byValue Pair
		Expect(codec.RestoreInto(reg, tree, &byValue)).To(Succeed())
		Expect(byValue.A).To(BeIdenticalTo(byValue.B))

		leaves, err := codec.RestoreArgs(reg, []any{tree, map[string]any{"A": nil}}, []reflect.Type{
			reflect.TypeOf(&Pair{}),
			reflect.TypeOf(&Pair{}),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(leaves[0].Interface().(*Pair).A).To(BeIdenticalTo(leaves[0].Interface().(*Pair).B))
	})

	It("restores cycles of unregistered structs without methods", func() {
		c := &Chain{Name: "a"}
		c.Next = &Chain{Name: "b", Next: c}
		tree, err := codec.Tag(reg, c)
		Expect(err).NotTo(HaveOccurred())

		var out *Chain
		Expect(codec.RestoreInto(reg, tree, &out)).To(Succeed())
		Expect(out.Name).To(Equal("a"))
		Expect(out.Next.Name).To(Equal("b"))
		Expect(out.Next.Next).To(BeIdenticalTo(out))

		plain, err := codec.Restore(reg, tree)
		Expect(err).NotTo(HaveOccurred())
		m := plain.(map[string]any)
		Expect(m["Next"].(map[string]any)["Next"]).To(HaveKeyWithValue("Name", "a"))
	})

	It("is idempotent", func() {
		a := &Node{Name: "a"}
		a.Self = a
		first, err := codec.Tag(reg, a)
		Expect(err).NotTo(HaveOccurred())
		second, err := codec.Tag(reg, a)
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(Equal(first))
	})

	It("rejects reserved map keys", func() {
		_, err := codec.Tag(reg, map[string]any{"$tag": "Node"})
		Expect(errorx.IsOfType(err, codec.ErrReservedKey)).To(BeTrue())
	})

	It("rejects a tagged object decoded into another registered type", func() {
		var n Node
		err := codec.RestoreInto(reg, map[string]any{codec.TagKey: "Citable", "id": "x"}, &n)
		Expect(errorx.IsOfType(err, codec.ErrTypeMismatch)).To(BeTrue())
	})

	It("rejects dangling references", func() {
		_, err := codec.Restore(reg, map[string]any{codec.RefKey: int64(7)})
		Expect(errorx.IsOfType(err, codec.ErrDanglingRef)).To(BeTrue())
	})

	DescribeTable("decodes into concrete targets",
		func(tree any, target, expected any) {
			Expect(codec.RestoreInto(reg, tree, target)).To(Succeed())
			Expect(target).To(Equal(expected))
		},
		Entry("int from float", float64(3), new(int), ptr(3)),
		Entry("uint8 from int", int64(200), new(uint8), ptr(uint8(200))),
		Entry("float from int", int64(2), new(float64), ptr(2.0)),
		Entry("bytes from base64", "aGk=", new([]byte), ptr([]byte("hi"))),
		Entry("typed map", map[string]any{"a": int64(1)}, new(map[string]int), ptr(map[string]int{"a": 1})),
		Entry("struct by value", map[string]any{codec.TagKey: "CitableSource", "sparqlEndpoint": "e"}, new(Source), &Source{Endpoint: "e"}),
	)

	DescribeTable("rejects lossy conversions",
		func(tree any, target any) {
			err := codec.RestoreInto(reg, tree, target)
			Expect(errorx.IsOfType(err, codec.ErrTypeMismatch)).To(BeTrue())
		},
		Entry("fraction into int", 1.5, new(int)),
		Entry("negative into uint", int64(-1), new(uint)),
		Entry("overflow into int8", int64(300), new(int8)),
		Entry("string into bool", "true", new(bool)),
	)
})

func ptr[T any](v T) *T {
	return &v
}
