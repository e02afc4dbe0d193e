package sparql

import "github.com/joomcode/errorx"

// Errors is the namespace of SPARQL errors.
var Errors = errorx.NewNamespace("sparql")

var (
	// ErrQuery is returned when an endpoint cannot be reached or rejects a request.
	ErrQuery = Errors.NewType("query")
	// ErrUnauthorized is returned when an endpoint requires a login.
	ErrUnauthorized = Errors.NewType("unauthorized")
	// ErrResults is returned for result documents that cannot be read.
	ErrResults = Errors.NewType("results")
)
