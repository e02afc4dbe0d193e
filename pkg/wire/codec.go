// Package wire encodes codec wire trees into bytes for a Port.
package wire

import (
	"math"
	"sort"

	"github.com/joomcode/errorx"
)

// Errors is the namespace of wire errors.
var Errors = errorx.NewNamespace("wire")

var (
	// ErrUnknownCodec is returned by ByName.
	ErrUnknownCodec = Errors.NewType("unknown_codec")
	// ErrMalformed is returned when bytes do not decode into a wire tree.
	ErrMalformed = Errors.NewType("malformed")
)

// Codec marshals wire trees: nil, bool, int64, float64, string, []any and
// map[string]any. Unmarshal returns integral numbers as int64 and all other
// numbers as float64.
type Codec interface {
	Name() string
	Marshal(tree any) ([]byte, error)
	Unmarshal(data []byte) (any, error)
}

var codecs = map[string]func() Codec{
	"json":  JSON,
	"cbor":  CBOR,
	"proto": Proto,
}

// ByName returns a codec by its name.
func ByName(name string) (Codec, error) {
	newCodec, ok := codecs[name]
	if !ok {
		return nil, ErrUnknownCodec.New("unknown codec %q, want one of %v", name, Names())
	}
	return newCodec(), nil
}

// Names lists the available codec names.
func Names() []string {
	names := make([]string, 0, len(codecs))
	for name := range codecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// number narrows a decoded float to int64 when it is integral.
func number(f float64) any {
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 && !math.IsInf(f, 0) {
		return int64(f)
	}
	return f
}
