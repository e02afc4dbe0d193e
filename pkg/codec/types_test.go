package codec_test

import (
	"strings"
	"time"

	"github.com/mgnsk/fibra-workers/pkg/codec"
)

type Node struct {
	Name     string
	Self     *Node   `json:"self,omitempty"`
	Children []*Node `json:"children,omitempty"`
}

func (n *Node) Upper() string { return strings.ToUpper(n.Name) }

type Citable struct {
	ID            string         `json:"id"`
	Labels        []string       `json:"labels"`
	Source        *Source        `json:"source"`
	RightsHolders []*Citable     `json:"rightsHolders"`
	Created       time.Time      `json:"dateCreated"`
	Extra         map[string]any `json:"extra,omitempty"`
	OnChange      func()         `json:"-"`
	Hook          func()
}

func (c *Citable) Label() string {
	if len(c.Labels) == 0 {
		return c.ID
	}
	return c.Labels[0]
}

type Source struct {
	Endpoint string `json:"sparqlEndpoint"`
	Graph    string `json:"graph,omitempty"`
}

func (s Source) String() string { return s.Endpoint + "#" + s.Graph }

type Point struct {
	X, Y int
}

type Leaf struct {
	Value int
}

type Pair struct {
	A, B *Leaf
}

type Chain struct {
	Name string
	Next *Chain
}

type Stranger struct {
	A int
}

func (Stranger) Greet() string { return "hi" }

func newRegistry() *codec.Registry {
	reg, err := codec.NewRegistry("1.2.0")
	if err != nil {
		panic(err)
	}
	reg.MustRegister("Node", (*Node)(nil))
	reg.MustRegister("Citable", (*Citable)(nil))
	reg.MustRegister("CitableSource", Source{})
	return reg
}
