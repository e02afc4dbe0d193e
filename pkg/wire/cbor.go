package wire

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var reflectMapStringAny = reflect.TypeOf(map[string]any(nil))

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var cborModes = func() cborCodec {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dm, err := cbor.DecOptions{
		DefaultMapType: reflectMapStringAny,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return cborCodec{enc: em, dec: dm}
}()

// CBOR returns a deterministic CBOR codec.
func CBOR() Codec { return cborModes }

func (c cborCodec) Name() string { return "cbor" }

func (c cborCodec) Marshal(tree any) ([]byte, error) {
	b, err := c.enc.Marshal(tree)
	if err != nil {
		return nil, ErrMalformed.Wrap(err, "cbor marshal")
	}
	return b, nil
}

func (c cborCodec) Unmarshal(data []byte) (any, error) {
	var tree any
	if err := c.dec.Unmarshal(data, &tree); err != nil {
		return nil, ErrMalformed.Wrap(err, "cbor unmarshal")
	}
	return normalizeCBOR(tree)
}

func normalizeCBOR(node any) (any, error) {
	switch n := node.(type) {
	case uint64:
		if n > 1<<63-1 {
			return float64(n), nil
		}
		return int64(n), nil
	case int64:
		return n, nil
	case float32:
		return number(float64(n)), nil
	case float64:
		return number(n), nil
	case []any:
		for i, x := range n {
			v, err := normalizeCBOR(x)
			if err != nil {
				return nil, err
			}
			n[i] = v
		}
	case map[string]any:
		for k, x := range n {
			v, err := normalizeCBOR(x)
			if err != nil {
				return nil, err
			}
			n[k] = v
		}
	case nil, bool, string:
	default:
		return nil, ErrMalformed.New("unexpected cbor value %T", n)
	}
	return node, nil
}
