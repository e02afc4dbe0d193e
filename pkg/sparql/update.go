package sparql

import (
	"github.com/joomcode/errorx"

	"github.com/mgnsk/fibra-workers/pkg/wrpc"
)

// UpdateServiceName is the service name of UpdateService on workers.
const UpdateServiceName = "sparqlUpdateWorkerService"

// UpdateService writes resources to SPARQL endpoints on a worker.
type UpdateService struct {
	client *Client
}

// NewUpdateService creates the service.
func NewUpdateService(client *Client) *UpdateService {
	return &UpdateService{client: client}
}

// InsertCitable inserts c and its rights holders into graph of endpoint and
// returns the number of resources written.
func (s *UpdateService) InsertCitable(endpoint, graph string, c *Citable, tok *wrpc.CancellationToken) (int, error) {
	if c == nil || c.ID == "" {
		return 0, errorx.IllegalArgument.New("citable without id")
	}

	b := NewTurtleBuilder()
	b.AddCitable(c, "fibra:Citable")
	if err := s.client.Update(tokenContext(tok), endpoint, b.InsertData(graph)); err != nil {
		return 0, err
	}
	return b.Len(), nil
}
