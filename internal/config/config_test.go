package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/gomega"
)

func TestLoadDefaults(t *testing.T) {
	g := NewGomegaWithT(t)

	for _, env := range []string{
		"FIBRA_WORKERS", "FIBRA_QUEUE_SIZE", "FIBRA_READY_TIMEOUT", "FIBRA_CODEC",
		"FIBRA_NATS_URL", "FIBRA_SUBJECT_PREFIX", "FIBRA_SPARQL_TIMEOUT", "FIBRA_LOG_LEVEL",
	} {
		os.Unsetenv(env)
	}

	cfg, err := Load()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(cfg.Workers).To(Equal(4))
	g.Expect(cfg.QueueSize).To(Equal(64))
	g.Expect(cfg.ReadyTimeout).To(Equal(10 * time.Second))
	g.Expect(cfg.Codec).To(Equal("json"))
	g.Expect(cfg.NATSURL).To(BeEmpty())
	g.Expect(cfg.SubjectPrefix).To(Equal("fibra.workers"))
	g.Expect(cfg.SPARQLTimeout).To(Equal(time.Minute))
	g.Expect(cfg.LogLevel).To(Equal("info"))
	g.Expect(cfg.Validate()).To(Succeed())
}

func TestLoadFromEnv(t *testing.T) {
	g := NewGomegaWithT(t)

	t.Setenv("FIBRA_WORKERS", "8")
	t.Setenv("FIBRA_CODEC", "cbor")
	t.Setenv("FIBRA_NATS_URL", "nats://127.0.0.1:4222")
	t.Setenv("FIBRA_READY_TIMEOUT", "250ms")

	cfg, err := Load()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(cfg.Workers).To(Equal(8))
	g.Expect(cfg.Codec).To(Equal("cbor"))
	g.Expect(cfg.NATSURL).To(Equal("nats://127.0.0.1:4222"))
	g.Expect(cfg.ReadyTimeout).To(Equal(250 * time.Millisecond))
}

func TestLoadInvalidEnv(t *testing.T) {
	g := NewGomegaWithT(t)

	t.Setenv("FIBRA_WORKERS", "many")
	_, err := Load()
	g.Expect(err).To(HaveOccurred())
}

func TestValidate(t *testing.T) {
	g := NewGomegaWithT(t)

	valid := func() *Config {
		return &Config{Workers: 1, ReadyTimeout: time.Second, Codec: "json", SubjectPrefix: "p"}
	}
	g.Expect(valid().Validate()).To(Succeed())

	for _, mutate := range []func(*Config){
		func(c *Config) { c.Workers = 0 },
		func(c *Config) { c.QueueSize = -1 },
		func(c *Config) { c.ReadyTimeout = 0 },
		func(c *Config) { c.SPARQLTimeout = -time.Second },
		func(c *Config) { c.Codec = "xml" },
		func(c *Config) { c.SubjectPrefix = "" },
	} {
		c := valid()
		mutate(c)
		g.Expect(c.Validate()).NotTo(Succeed())
	}
}

const projectYAML = `
id: http://example.org/project
label: Example
endpoint: http://example.org/sparql
graph: urn:graph:main
authorityEndpoints:
  - id: http://example.org/viaf
    label: VIAF
    endpoint: http://viaf.org/sparql
archiveEndpoints:
  - endpoint: http://archive.example.org/sparql
    graph: urn:graph:archive
    classStatisticsQuery: SELECT ?id ?instances { ?id ?p ?instances }
`

func TestLoadProject(t *testing.T) {
	g := NewGomegaWithT(t)

	path := filepath.Join(t.TempDir(), "project.yaml")
	g.Expect(os.WriteFile(path, []byte(projectYAML), 0o644)).To(Succeed())

	p, err := LoadProject(path)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(p.ID).To(Equal("http://example.org/project"))
	g.Expect(p.Label()).To(Equal("Example"))
	g.Expect(p.SparqlEndpoint()).To(Equal("http://example.org/sparql"))
	g.Expect(p.GraphIRI()).To(Equal("urn:graph:main"))
	g.Expect(p.UpdateTarget()).To(Equal("http://example.org/sparql"))
	g.Expect(p.AuthorityEndpoints).To(HaveLen(1))
	g.Expect(p.AuthorityEndpoints[0].Label()).To(Equal("VIAF"))
	g.Expect(p.ArchiveEndpoints[0].ClassQuery()).To(Equal("SELECT ?id ?instances { ?id ?p ?instances }"))
	g.Expect(p.ArchiveEndpoints[0].Source.Graph).To(Equal("urn:graph:archive"))
}

func TestParseProjectErrors(t *testing.T) {
	g := NewGomegaWithT(t)

	_, err := ParseProject([]byte("id: x\n"))
	g.Expect(err).To(MatchError(ContainSubstring("has no endpoint")))

	_, err = ParseProject([]byte("endpoint: [\n"))
	g.Expect(err).To(HaveOccurred())

	_, err = LoadProject(filepath.Join(t.TempDir(), "missing.yaml"))
	g.Expect(err).To(HaveOccurred())
}
