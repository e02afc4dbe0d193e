package sparql

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// TurtleBuilder renders resources as Turtle. Each resource is written once
// even when several resources refer to it.
type TurtleBuilder struct {
	Prefixes  map[string]string
	fragments map[string]string
	order     []string
}

// NewTurtleBuilder returns an empty builder.
func NewTurtleBuilder() *TurtleBuilder {
	return &TurtleBuilder{
		Prefixes:  map[string]string{},
		fragments: map[string]string{},
	}
}

// Has reports whether the resource id has been written.
func (b *TurtleBuilder) Has(id string) bool {
	_, ok := b.fragments[id]
	return ok
}

func (b *TurtleBuilder) set(id, fragment string) {
	if _, ok := b.fragments[id]; !ok {
		b.order = append(b.order, id)
	}
	b.fragments[id] = fragment
}

// AddCitable writes c as an instance of class, followed by its rights
// holders as foaf:Agents.
func (b *TurtleBuilder) AddCitable(c *Citable, class string) {
	if b.Has(c.ID) {
		return
	}
	b.set(c.ID, fmt.Sprintf("<%s> a %s ;", c.ID, class))
	b.writeCitable(c)
}

func (b *TurtleBuilder) writeCitable(c *Citable) {
	b.Prefixes["skos"] = NSSKOS
	b.Prefixes["dcterms"] = NSDCTerms
	b.Prefixes["foaf"] = NSFOAF
	b.Prefixes["fibra"] = NSFibra
	b.Prefixes["rdf"] = NSRDF
	b.Prefixes["xsd"] = NSXSD

	var f strings.Builder
	f.WriteString(b.fragments[c.ID])
	for _, l := range c.Labels {
		if l.Value != "" {
			fmt.Fprintf(&f, "\nskos:prefLabel %s ;", l.ToCanonical())
		}
	}
	fmt.Fprintf(&f, "\ndcterms:created \"%s\"^^xsd:dateTime ;", c.DateCreated.UTC().Format(time.RFC3339Nano))
	for _, d := range c.Descriptions {
		if d.Value != "" {
			fmt.Fprintf(&f, "\ndcterms:description %s ;", d.ToCanonical())
		}
	}
	if c.URL != "" {
		fmt.Fprintf(&f, "\nfoaf:homepage <%s> ;", c.URL)
	}

	if len(c.RightsHolders) > 0 {
		ids := make([]string, len(c.RightsHolders))
		for i, rh := range c.RightsHolders {
			ids[i] = "<" + rh.ID + ">"
		}
		fmt.Fprintf(&f, "\ndcterms:rightsHolder %s ;", strings.Join(ids, ", "))
		if len(c.RightsHolders) > 1 {
			for i, rh := range c.RightsHolders {
				fmt.Fprintf(&f, "\nfibra:qualifiedAssertion [\n  rdf:predicate dcterms:rightsHolder ;\n  rdf:object <%s> ;\n  fibra:order %d ;\n] ;", rh.ID, i)
			}
		}
	}
	b.set(c.ID, f.String())

	for _, rh := range c.RightsHolders {
		if !b.Has(rh.ID) {
			b.set(rh.ID, fmt.Sprintf("<%s> a foaf:Agent ;", rh.ID))
			b.writeCitable(rh)
		}
	}
}

// Len returns the number of resources written.
func (b *TurtleBuilder) Len() int {
	return len(b.order)
}

// Prologue returns the PREFIX declarations in SPARQL syntax.
func (b *TurtleBuilder) Prologue() string {
	names := make([]string, 0, len(b.Prefixes))
	for name := range b.Prefixes {
		names = append(names, name)
	}
	sort.Strings(names)

	var s strings.Builder
	for _, name := range names {
		fmt.Fprintf(&s, "PREFIX %s: <%s>\n", name, b.Prefixes[name])
	}
	return s.String()
}

// Triples returns the written resources, each terminated with a full stop.
func (b *TurtleBuilder) Triples() string {
	var s strings.Builder
	for _, id := range b.order {
		f := b.fragments[id]
		s.WriteString(strings.TrimSuffix(f, ";"))
		s.WriteString(".\n")
	}
	return s.String()
}

// InsertData returns a SPARQL update inserting the written resources into graph.
func (b *TurtleBuilder) InsertData(graph string) string {
	if graph == "" {
		return b.Prologue() + "INSERT DATA {\n" + b.Triples() + "}"
	}
	return b.Prologue() + fmt.Sprintf("INSERT DATA {\nGRAPH <%s> {\n", graph) + b.Triples() + "}\n}"
}
