package wire

import (
	"bytes"
	"encoding/json"
)

type jsonCodec struct{}

// JSON returns a JSON codec.
func JSON() Codec { return jsonCodec{} }

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(tree any) ([]byte, error) {
	b, err := json.Marshal(tree)
	if err != nil {
		return nil, ErrMalformed.Wrap(err, "json marshal")
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, ErrMalformed.Wrap(err, "json unmarshal")
	}
	return normalizeJSON(tree)
}

func normalizeJSON(node any) (any, error) {
	switch n := node.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return nil, ErrMalformed.Wrap(err, "json number %q", n)
		}
		return number(f), nil
	case []any:
		for i, x := range n {
			v, err := normalizeJSON(x)
			if err != nil {
				return nil, err
			}
			n[i] = v
		}
	case map[string]any:
		for k, x := range n {
			v, err := normalizeJSON(x)
			if err != nil {
				return nil, err
			}
			n[k] = v
		}
	}
	return node, nil
}
