package sparql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Term is a value in a SPARQL JSON results binding.
type Term struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Language string `json:"xml:lang,omitempty"`
	Datatype string `json:"datatype,omitempty"`
}

// Native returns the term's value as int64 or float64 for numeric
// literals and as a string otherwise.
func (t Term) Native() any {
	if t.Type != "literal" && t.Type != "typed-literal" {
		return t.Value
	}
	switch strings.TrimPrefix(t.Datatype, NSXSD) {
	case "integer", "int", "long", "short", "byte", "nonNegativeInteger", "positiveInteger",
		"unsignedInt", "unsignedLong", "unsignedShort", "negativeInteger", "nonPositiveInteger":
		if n, err := strconv.ParseInt(t.Value, 10, 64); err == nil {
			return n
		}
	case "decimal", "double", "float":
		if f, err := strconv.ParseFloat(t.Value, 64); err == nil {
			return f
		}
	}
	return t.Value
}

// Int returns the term's value as an integer.
func (t Term) Int() (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(t.Value), 10, 64)
	if err != nil {
		return 0, ErrResults.Wrap(err, "term %q is not an integer", t.Value)
	}
	return n, nil
}

// Binding maps variable names to terms.
type Binding map[string]Term

// Results is a SPARQL 1.1 query results JSON document.
type Results struct {
	Head struct {
		Vars []string `json:"vars"`
	} `json:"head"`
	Results struct {
		Bindings []Binding `json:"bindings"`
	} `json:"results"`
}

// Client runs SPARQL queries and updates over the SPARQL 1.1 protocol.
type Client struct {
	http    *http.Client
	log     *zap.Logger
	timeout time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) ClientOption {
	return func(cl *Client) { cl.log = log }
}

// WithTimeout bounds every request. Zero means no bound.
func WithTimeout(d time.Duration) ClientOption {
	return func(cl *Client) { cl.timeout = d }
}

// NewClient creates a client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		http: http.DefaultClient,
		log:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Query runs a SELECT query against endpoint.
func (c *Client) Query(ctx context.Context, endpoint, query string) (*Results, error) {
	body, err := c.post(ctx, endpoint, "query", query, "application/sparql-results+json")
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var res Results
	if err := json.NewDecoder(body).Decode(&res); err != nil {
		return nil, ErrResults.Wrap(err, "decode results from %s", endpoint)
	}
	return &res, nil
}

// Update runs a SPARQL update against endpoint.
func (c *Client) Update(ctx context.Context, endpoint, update string) error {
	body, err := c.post(ctx, endpoint, "update", update, "*/*")
	if err != nil {
		return err
	}
	_, err = io.Copy(io.Discard, body)
	body.Close()
	return err
}

func (c *Client) post(ctx context.Context, endpoint, param, text, accept string) (io.ReadCloser, error) {
	var cancel context.CancelFunc = func() {}
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}

	form := url.Values{param: {text}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		cancel()
		return nil, ErrQuery.Wrap(err, "build request for %s", endpoint)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", accept)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, ErrQuery.Wrap(err, "%s %s", param, endpoint)
	}
	c.log.Debug("sparql request",
		zap.String("endpoint", endpoint),
		zap.String("kind", param),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		cancel()
		return nil, ErrUnauthorized.New("%s requires login (%s)", endpoint, resp.Status)
	case resp.StatusCode/100 != 2:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		cancel()
		return nil, ErrQuery.New("%s %s: %s: %s", param, endpoint, resp.Status, strings.TrimSpace(string(msg)))
	}

	return &cancelBody{ReadCloser: resp.Body, cancel: cancel}, nil
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	defer b.cancel()
	return b.ReadCloser.Close()
}

// ExpandGraph scopes a query to graph by replacing its "# STARTGRAPH" and
// "# ENDGRAPH" markers. Queries are left unchanged for the default graph.
func ExpandGraph(query, graph string) string {
	if graph == "" {
		return query
	}
	return strings.NewReplacer(
		"# STARTGRAPH", fmt.Sprintf("GRAPH <%s> {", graph),
		"# ENDGRAPH", "}",
	).Replace(query)
}
