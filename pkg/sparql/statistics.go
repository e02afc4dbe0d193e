package sparql

import (
	"context"

	"github.com/joomcode/errorx"

	"github.com/mgnsk/fibra-workers/pkg/wrpc"
)

// StatisticsServiceName is the service name of StatisticsService on workers.
const StatisticsServiceName = "sparqlStatisticsWorkerService"

// LoginRequiredEvent is broadcast by workers when an endpoint requires a login.
const LoginRequiredEvent = "auth-loginRequired"

// ClassStatisticsQuery counts the instances of every class.
const ClassStatisticsQuery = `SELECT ?id ?instances {
# STARTGRAPH
  {
    SELECT ?id (COUNT(*) AS ?instances) {
      ?s a ?id .
      # CONSTRAINTS
    }
    GROUP BY ?id
  }
# ENDGRAPH
}`

// PropertyStatisticsQuery summarizes the values of every property per class.
const PropertyStatisticsQuery = `SELECT ?classId ?propertyId ?subjects ?values ?min ?max {
  # STARTGRAPH
    {
      SELECT ?classId ?propertyId (COUNT(*) AS ?values) (COUNT(DISTINCT ?s) AS ?subjects) (MIN(?value) AS ?min) (MAX(?value) AS ?max) {
        ?s ?propertyId ?value .
        # CONSTRAINTS
        OPTIONAL {
          ?s a ?classId .
        }
      }
      GROUP BY ?classId ?propertyId
    }
  # ENDGRAPH
}`

// StatisticsService computes endpoint statistics on a worker.
type StatisticsService struct {
	client *Client
	// LoginRequired, if set, is called with endpoints that rejected a
	// query as unauthorized.
	LoginRequired func(endpoint string)
}

// NewStatisticsService creates the service.
func NewStatisticsService(client *Client) *StatisticsService {
	return &StatisticsService{client: client}
}

// GetClassStatistics returns the number of instances per class IRI.
func (s *StatisticsService) GetClassStatistics(endpoint, query string, tok *wrpc.CancellationToken) (map[string]int64, error) {
	res, err := s.query(tokenContext(tok), endpoint, query)
	if err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(res.Results.Bindings))
	for _, b := range res.Results.Bindings {
		id, ok := b["id"]
		if !ok {
			continue
		}
		n, err := b["instances"].Int()
		if err != nil {
			return nil, errorx.Decorate(err, "class %s", id.Value)
		}
		out[id.Value] = n
	}
	return out, nil
}

// GetPropertyStatistics returns statistics per class IRI and property IRI.
// Properties of untyped subjects are listed under the empty class.
func (s *StatisticsService) GetPropertyStatistics(endpoint, query string, tok *wrpc.CancellationToken) (map[string]map[string]*PropertyStatistics, error) {
	res, err := s.query(tokenContext(tok), endpoint, query)
	if err != nil {
		return nil, err
	}

	out := map[string]map[string]*PropertyStatistics{}
	for _, b := range res.Results.Bindings {
		prop, ok := b["propertyId"]
		if !ok {
			continue
		}
		subjects, err := b["subjects"].Int()
		if err != nil {
			return nil, errorx.Decorate(err, "property %s", prop.Value)
		}
		values, err := b["values"].Int()
		if err != nil {
			return nil, errorx.Decorate(err, "property %s", prop.Value)
		}

		class := b["classId"].Value
		if out[class] == nil {
			out[class] = map[string]*PropertyStatistics{}
		}
		st := &PropertyStatistics{Subjects: subjects, Values: values}
		if t, ok := b["min"]; ok {
			st.Min = t.Native()
		}
		if t, ok := b["max"]; ok {
			st.Max = t.Native()
		}
		out[class][prop.Value] = st
	}
	return out, nil
}

func (s *StatisticsService) query(ctx context.Context, endpoint, query string) (*Results, error) {
	res, err := s.client.Query(ctx, endpoint, query)
	if errorx.IsOfType(err, ErrUnauthorized) && s.LoginRequired != nil {
		s.LoginRequired(endpoint)
	}
	return res, err
}

func tokenContext(tok *wrpc.CancellationToken) context.Context {
	if tok == nil {
		return context.Background()
	}
	return tok.Context()
}

// StatisticsClient calls StatisticsService on the workers of a dispatcher.
type StatisticsClient struct {
	d *wrpc.Dispatcher
}

// NewStatisticsClient creates a client over d.
func NewStatisticsClient(d *wrpc.Dispatcher) *StatisticsClient {
	return &StatisticsClient{d: d}
}

// GetClassStatistics returns the number of instances per class of cfg's endpoint.
// Cancelling ctx cancels the query on the worker.
func (c *StatisticsClient) GetClassStatistics(ctx context.Context, cfg EndpointConfiguration) (map[string]int64, error) {
	query := ExpandGraph(cfg.ClassQuery(), cfg.GraphIRI())
	return wrpc.Await[map[string]int64](ctx, c.d.Call(ctx, StatisticsServiceName, "getClassStatistics", cfg.SparqlEndpoint(), query))
}

// GetPropertyStatistics returns property statistics per class of cfg's endpoint.
func (c *StatisticsClient) GetPropertyStatistics(ctx context.Context, cfg EndpointConfiguration) (map[string]map[string]*PropertyStatistics, error) {
	query := ExpandGraph(cfg.PropertyQuery(), cfg.GraphIRI())
	return wrpc.Await[map[string]map[string]*PropertyStatistics](ctx, c.d.Call(ctx, StatisticsServiceName, "getPropertyStatistics", cfg.SparqlEndpoint(), query))
}
