// Package config provides fibra configuration loaded from environment
// variables and project files.
package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/mgnsk/fibra-workers/pkg/sparql"
	"github.com/mgnsk/fibra-workers/pkg/wire"
)

const logPrefix = "config"

// Config holds the settings shared by all fibra commands.
type Config struct {
	// Worker pool
	Workers      int           `envconfig:"WORKERS" default:"4"`
	QueueSize    int           `envconfig:"QUEUE_SIZE" default:"64"`
	ReadyTimeout time.Duration `envconfig:"READY_TIMEOUT" default:"10s"`
	Codec        string        `envconfig:"CODEC" default:"json"`

	// Registry version announced in the ready handshake and the semver
	// constraint peers must satisfy (empty = caret range of the version).
	RegistryVersion    string `envconfig:"REGISTRY_VERSION" default:"1.0.0"`
	RegistryConstraint string `envconfig:"REGISTRY_CONSTRAINT"`

	// NATS transport (empty URL = in-process workers)
	NATSURL       string `envconfig:"NATS_URL"`
	SubjectPrefix string `envconfig:"SUBJECT_PREFIX" default:"fibra.workers"`

	// SPARQL
	SPARQLTimeout time.Duration `envconfig:"SPARQL_TIMEOUT" default:"60s"`

	// HTTP
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":8080"`
	StaticDir   string `envconfig:"STATIC_DIR" default:"public"`

	// Logging
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat      string `envconfig:"LOG_FORMAT" default:"console"`
	LogDevelopment bool   `envconfig:"LOG_DEVELOPMENT" default:"false"`
}

// Load loads configuration from FIBRA_* environment variables.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process("fibra", &c); err != nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, err)
	}
	return &c, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("%s - FIBRA_WORKERS must be positive, got %d", logPrefix, c.Workers)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("%s - FIBRA_QUEUE_SIZE must not be negative", logPrefix)
	}
	if c.ReadyTimeout <= 0 {
		return fmt.Errorf("%s - FIBRA_READY_TIMEOUT must be positive", logPrefix)
	}
	if c.SPARQLTimeout < 0 {
		return fmt.Errorf("%s - FIBRA_SPARQL_TIMEOUT must not be negative", logPrefix)
	}
	if !slices.Contains(wire.Names(), c.Codec) {
		return fmt.Errorf("%s - FIBRA_CODEC must be one of %v, got %q", logPrefix, wire.Names(), c.Codec)
	}
	if c.SubjectPrefix == "" {
		return fmt.Errorf("%s - FIBRA_SUBJECT_PREFIX is required", logPrefix)
	}
	return nil
}

// ProjectFile is the YAML description of a project and its endpoints.
type ProjectFile struct {
	ID                      string           `yaml:"id"`
	Label                   string           `yaml:"label"`
	Endpoint                string           `yaml:"endpoint"`
	UpdateEndpoint          string           `yaml:"updateEndpoint"`
	Graph                   string           `yaml:"graph"`
	ClassStatisticsQuery    string           `yaml:"classStatisticsQuery"`
	PropertyStatisticsQuery string           `yaml:"propertyStatisticsQuery"`
	AuthorityEndpoints      []EndpointConfig `yaml:"authorityEndpoints"`
	ArchiveEndpoints        []EndpointConfig `yaml:"archiveEndpoints"`
}

// EndpointConfig is a remote endpoint of a project file.
type EndpointConfig struct {
	ID                      string `yaml:"id"`
	Label                   string `yaml:"label"`
	Endpoint                string `yaml:"endpoint"`
	Graph                   string `yaml:"graph"`
	ClassStatisticsQuery    string `yaml:"classStatisticsQuery"`
	PropertyStatisticsQuery string `yaml:"propertyStatisticsQuery"`
}

// LoadProject reads a project file.
func LoadProject(path string) (*sparql.Project, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s - read project: %w", logPrefix, err)
	}
	return ParseProject(b)
}

// ParseProject parses a YAML project description.
func ParseProject(b []byte) (*sparql.Project, error) {
	var f ProjectFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("%s - parse project: %w", logPrefix, err)
	}
	if f.Endpoint == "" {
		return nil, fmt.Errorf("%s - project %q has no endpoint", logPrefix, f.ID)
	}

	p := &sparql.Project{
		Citable:                 citable(f.ID, f.Label, f.Endpoint, f.Graph),
		Endpoint:                f.Endpoint,
		UpdateEndpoint:          f.UpdateEndpoint,
		Graph:                   f.Graph,
		ClassStatisticsQuery:    f.ClassStatisticsQuery,
		PropertyStatisticsQuery: f.PropertyStatisticsQuery,
	}
	for _, e := range f.AuthorityEndpoints {
		p.AuthorityEndpoints = append(p.AuthorityEndpoints, e.remote())
	}
	for _, e := range f.ArchiveEndpoints {
		p.ArchiveEndpoints = append(p.ArchiveEndpoints, e.remote())
	}
	return p, nil
}

func (e EndpointConfig) remote() *sparql.RemoteEndpointConfiguration {
	return &sparql.RemoteEndpointConfiguration{
		Citable:                 citable(e.ID, e.Label, e.Endpoint, e.Graph),
		Endpoint:                e.Endpoint,
		Graph:                   e.Graph,
		ClassStatisticsQuery:    e.ClassStatisticsQuery,
		PropertyStatisticsQuery: e.PropertyStatisticsQuery,
	}
}

func citable(id, label, endpoint, graph string) sparql.Citable {
	c := sparql.Citable{
		ID:     id,
		Source: sparql.CitableSource{SparqlEndpoint: endpoint, Graph: graph},
	}
	if label != "" {
		c.Labels = []sparql.Literal{{Value: label}}
	}
	return c
}
