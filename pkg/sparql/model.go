package sparql

import (
	"strings"
	"time"

	"github.com/mgnsk/fibra-workers/pkg/codec"
)

// Well-known namespaces.
const (
	NSFibra   = "http://hdlab.stanford.edu/fibra/ontology#"
	NSSKOS    = "http://www.w3.org/2004/02/skos/core#"
	NSDCTerms = "http://purl.org/dc/terms/"
	NSFOAF    = "http://xmlns.com/foaf/0.1/"
	NSRDF     = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	NSXSD     = "http://www.w3.org/2001/XMLSchema#"
)

// NamedNode is an IRI.
type NamedNode struct {
	Value string `json:"value"`
}

// ToCanonical returns the N-Triples form of the node.
func (n NamedNode) ToCanonical() string {
	return "<" + n.Value + ">"
}

// Literal is an RDF literal with an optional language or datatype.
type Literal struct {
	Value    string `json:"value"`
	Language string `json:"language,omitempty"`
	Datatype string `json:"datatype,omitempty"`
}

var literalEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

// ToCanonical returns the N-Triples form of the literal.
func (l Literal) ToCanonical() string {
	s := `"` + literalEscaper.Replace(l.Value) + `"`
	switch {
	case l.Language != "":
		return s + "@" + l.Language
	case l.Datatype != "" && l.Datatype != NSXSD+"string":
		return s + "^^<" + l.Datatype + ">"
	default:
		return s
	}
}

// CitableSource names the endpoint and graph a Citable was read from.
type CitableSource struct {
	SparqlEndpoint string `json:"sparqlEndpoint"`
	Graph          string `json:"graph,omitempty"`
}

func (s CitableSource) String() string {
	if s.Graph == "" {
		return s.SparqlEndpoint
	}
	return s.SparqlEndpoint + "#" + s.Graph
}

// Citable is a described and attributable resource. Rights holders are
// Citables themselves and are often shared between several resources.
type Citable struct {
	ID            string        `json:"id"`
	Labels        []Literal     `json:"labels,omitempty"`
	Descriptions  []Literal     `json:"descriptions,omitempty"`
	URL           string        `json:"url,omitempty"`
	RightsHolders []*Citable    `json:"rightsHolders,omitempty"`
	Source        CitableSource `json:"source"`
	DateCreated   time.Time     `json:"dateCreated"`
}

// Label returns the first non-empty label, or the ID.
func (c *Citable) Label() string {
	for _, l := range c.Labels {
		if l.Value != "" {
			return l.Value
		}
	}
	return c.ID
}

// EndpointConfiguration is a SPARQL endpoint with its statistics queries.
type EndpointConfiguration interface {
	SparqlEndpoint() string
	GraphIRI() string
	ClassQuery() string
	PropertyQuery() string
}

// RemoteEndpointConfiguration is a read-only endpoint used by a project.
type RemoteEndpointConfiguration struct {
	Citable
	Endpoint                string `json:"endpoint"`
	Graph                   string `json:"graph,omitempty"`
	ClassStatisticsQuery    string `json:"classStatisticsQuery,omitempty"`
	PropertyStatisticsQuery string `json:"propertyStatisticsQuery,omitempty"`
}

func (r *RemoteEndpointConfiguration) SparqlEndpoint() string { return r.Endpoint }
func (r *RemoteEndpointConfiguration) GraphIRI() string       { return r.Graph }
func (r *RemoteEndpointConfiguration) ClassQuery() string {
	return orDefault(r.ClassStatisticsQuery, ClassStatisticsQuery)
}
func (r *RemoteEndpointConfiguration) PropertyQuery() string {
	return orDefault(r.PropertyStatisticsQuery, PropertyStatisticsQuery)
}

// Project is a working project with its primary endpoint and the remote
// endpoints it draws from.
type Project struct {
	Citable
	Endpoint                string                         `json:"endpoint"`
	UpdateEndpoint          string                         `json:"updateEndpoint,omitempty"`
	Graph                   string                         `json:"graph,omitempty"`
	InstanceNS              string                         `json:"instanceNS,omitempty"`
	SchemaNS                string                         `json:"schemaNS,omitempty"`
	ClassStatisticsQuery    string                         `json:"classStatisticsQuery,omitempty"`
	PropertyStatisticsQuery string                         `json:"propertyStatisticsQuery,omitempty"`
	AuthorityEndpoints      []*RemoteEndpointConfiguration `json:"authorityEndpoints,omitempty"`
	ArchiveEndpoints        []*RemoteEndpointConfiguration `json:"archiveEndpoints,omitempty"`
}

func (p *Project) SparqlEndpoint() string { return p.Endpoint }
func (p *Project) GraphIRI() string       { return p.Graph }
func (p *Project) ClassQuery() string {
	return orDefault(p.ClassStatisticsQuery, ClassStatisticsQuery)
}
func (p *Project) PropertyQuery() string {
	return orDefault(p.PropertyStatisticsQuery, PropertyStatisticsQuery)
}

// UpdateTarget returns the endpoint updates are posted to.
func (p *Project) UpdateTarget() string {
	return orDefault(p.UpdateEndpoint, p.Endpoint)
}

// PropertyStatistics summarizes the values of one property within a class.
// Min and Max are numbers for numeric values and strings otherwise.
type PropertyStatistics struct {
	Subjects int64 `json:"subjects"`
	Values   int64 `json:"values"`
	Min      any   `json:"min,omitempty"`
	Max      any   `json:"max,omitempty"`
}

// ValuesPerSubject returns the average number of values per subject.
func (s *PropertyStatistics) ValuesPerSubject() float64 {
	if s.Subjects == 0 {
		return 0
	}
	return float64(s.Values) / float64(s.Subjects)
}

// CommonState is the application state mirrored to every worker.
type CommonState struct {
	Project  *Project `json:"project,omitempty"`
	Language string   `json:"language,omitempty"`
}

// Endpoints returns the endpoints of the current project.
func (s *CommonState) Endpoints() []EndpointConfiguration {
	if s.Project == nil {
		return nil
	}
	out := []EndpointConfiguration{s.Project}
	for _, r := range s.Project.AuthorityEndpoints {
		out = append(out, r)
	}
	for _, r := range s.Project.ArchiveEndpoints {
		out = append(out, r)
	}
	return out
}

// RegisterTypes registers the model types under their wire tags.
func RegisterTypes(reg *codec.Registry) error {
	for tag, proto := range map[string]any{
		"NamedNode":                   NamedNode{},
		"Literal":                     Literal{},
		"CitableSource":               CitableSource{},
		"Citable":                     (*Citable)(nil),
		"RemoteEndpointConfiguration": (*RemoteEndpointConfiguration)(nil),
		"Project":                     (*Project)(nil),
		"PropertyStatistics":          (*PropertyStatistics)(nil),
		"CommonState":                 (*CommonState)(nil),
	} {
		if err := reg.Register(tag, proto); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry with the model types registered.
func NewRegistry(version string) (*codec.Registry, error) {
	reg, err := codec.NewRegistry(version)
	if err != nil {
		return nil, err
	}
	if err := RegisterTypes(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
