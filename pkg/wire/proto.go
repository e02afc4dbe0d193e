package wire

import (
	"math"

	"github.com/gogo/protobuf/proto"
	"github.com/gogo/protobuf/types"
)

type protoCodec struct{}

// Proto returns a Protocol Buffers codec carrying the tree as a
// google.protobuf.Value. Protobuf has a single number type, so integers
// beyond 2^53 lose precision.
func Proto() Codec { return protoCodec{} }

func (protoCodec) Name() string { return "proto" }

func (protoCodec) Marshal(tree any) ([]byte, error) {
	v, err := toValue(tree)
	if err != nil {
		return nil, err
	}
	b, err := proto.Marshal(v)
	if err != nil {
		return nil, ErrMalformed.Wrap(err, "proto marshal")
	}
	return b, nil
}

func (protoCodec) Unmarshal(data []byte) (any, error) {
	var v types.Value
	if err := proto.Unmarshal(data, &v); err != nil {
		return nil, ErrMalformed.Wrap(err, "proto unmarshal")
	}
	return fromValue(&v)
}

func toValue(node any) (*types.Value, error) {
	switch n := node.(type) {
	case nil:
		return &types.Value{Kind: &types.Value_NullValue{NullValue: types.NullValue_NULL_VALUE}}, nil
	case bool:
		return &types.Value{Kind: &types.Value_BoolValue{BoolValue: n}}, nil
	case string:
		return &types.Value{Kind: &types.Value_StringValue{StringValue: n}}, nil
	case int64:
		return &types.Value{Kind: &types.Value_NumberValue{NumberValue: float64(n)}}, nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, ErrMalformed.New("proto cannot carry %v", n)
		}
		return &types.Value{Kind: &types.Value_NumberValue{NumberValue: n}}, nil
	case []any:
		list := &types.ListValue{Values: make([]*types.Value, len(n))}
		for i, x := range n {
			v, err := toValue(x)
			if err != nil {
				return nil, err
			}
			list.Values[i] = v
		}
		return &types.Value{Kind: &types.Value_ListValue{ListValue: list}}, nil
	case map[string]any:
		s := &types.Struct{Fields: make(map[string]*types.Value, len(n))}
		for k, x := range n {
			v, err := toValue(x)
			if err != nil {
				return nil, err
			}
			s.Fields[k] = v
		}
		return &types.Value{Kind: &types.Value_StructValue{StructValue: s}}, nil
	}
	return nil, ErrMalformed.New("unexpected wire value %T", node)
}

func fromValue(v *types.Value) (any, error) {
	switch k := v.GetKind().(type) {
	case nil, *types.Value_NullValue:
		return nil, nil
	case *types.Value_BoolValue:
		return k.BoolValue, nil
	case *types.Value_StringValue:
		return k.StringValue, nil
	case *types.Value_NumberValue:
		return number(k.NumberValue), nil
	case *types.Value_ListValue:
		out := make([]any, len(k.ListValue.GetValues()))
		for i, x := range k.ListValue.GetValues() {
			node, err := fromValue(x)
			if err != nil {
				return nil, err
			}
			out[i] = node
		}
		return out, nil
	case *types.Value_StructValue:
		out := make(map[string]any, len(k.StructValue.GetFields()))
		for key, x := range k.StructValue.GetFields() {
			node, err := fromValue(x)
			if err != nil {
				return nil, err
			}
			out[key] = node
		}
		return out, nil
	}
	return nil, ErrMalformed.New("unexpected proto value kind %T", v.GetKind())
}
