package codec

import (
	"encoding"
	"encoding/base64"
	"math"
	"reflect"

	"github.com/joomcode/errorx"
)

// Restore rebuilds a wire tree into Go values. Tagged objects become
// pointers to their registered struct types, plain objects become
// map[string]any and lists become []any.
func Restore(reg *Registry, tree any) (any, error) {
	var out any
	if err := RestoreInto(reg, tree, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RestoreInto decodes a wire tree into the value pointed to by target.
func RestoreInto(reg *Registry, tree any, target any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errorx.IllegalArgument.New("restore target must be a non-nil pointer, got %T", target)
	}

	r := newRestorer(reg)
	if err := r.mark(tree, 0); err != nil {
		return err
	}
	return r.decode(tree, rv.Elem(), 0)
}

// RestoreArgs decodes a wire list into values of the given types. All
// elements share one traversal, so objects shared between arguments stay
// shared.
func RestoreArgs(reg *Registry, tree any, types []reflect.Type) ([]reflect.Value, error) {
	var list []any
	switch tree := tree.(type) {
	case nil:
	case []any:
		list = tree
	default:
		return nil, ErrTypeMismatch.New("arguments must be a list, got %T", tree)
	}
	if len(list) > len(types) {
		return nil, ErrTypeMismatch.New("got %d arguments, want at most %d", len(list), len(types))
	}

	r := newRestorer(reg)
	if err := r.mark(list, 0); err != nil {
		return nil, err
	}

	out := make([]reflect.Value, len(types))
	for i, typ := range types {
		v := reflect.New(typ).Elem()
		if i < len(list) {
			if err := r.decode(list[i], v, 0); err != nil {
				return nil, errorx.Decorate(err, "argument %d", i)
			}
		}
		out[i] = v
	}
	return out, nil
}

// object is the instance behind an "$id" node. Tagged objects are allocated
// during the mark pass. Plain objects are allocated by the first destination
// that reaches them: a struct for typed targets, a map otherwise.
type object struct {
	val    reflect.Value
	node   map[string]any
	filled bool
}

type restorer struct {
	reg     *Registry
	objects map[int64]*object
}

func newRestorer(reg *Registry) *restorer {
	return &restorer{
		reg:     reg,
		objects: map[int64]*object{},
	}
}

// mark resolves every tag in the tree and allocates one instance per "$id".
// An unknown tag fails the whole restore before anything is built.
func (r *restorer) mark(node any, depth int) error {
	if depth > MaxDepth {
		return ErrUnsupported.New("value nesting exceeds %d", MaxDepth)
	}

	switch n := node.(type) {
	case []any:
		for _, x := range n {
			if err := r.mark(x, depth+1); err != nil {
				return err
			}
		}

	case map[string]any:
		if _, ok := n[RefKey]; ok {
			return nil
		}

		typ := plainType
		if tag, ok := n[TagKey]; ok {
			s, ok := tag.(string)
			if !ok {
				return ErrTypeMismatch.New("%s must be a string, got %T", TagKey, tag)
			}
			t, err := r.reg.Resolve(s)
			if err != nil {
				return err
			}
			typ = t
		}

		if raw, ok := n[IDKey]; ok {
			id, ok := toInt64(raw)
			if !ok {
				return ErrTypeMismatch.New("%s must be an integer, got %T", IDKey, raw)
			}
			if _, dup := r.objects[id]; dup {
				return ErrUnsupported.New("duplicate %s %d", IDKey, id)
			}
			obj := &object{node: n}
			if typ != plainType {
				obj.val = reflect.New(typ)
			}
			r.objects[id] = obj
		}

		for k, x := range n {
			if isReserved(k) {
				continue
			}
			if err := r.mark(x, depth+1); err != nil {
				return err
			}
		}
	}

	return nil
}

// lookup returns the shared object behind an "$id" or "$ref" node.
func (r *restorer) lookup(n map[string]any) (*object, bool, error) {
	key := IDKey
	raw, ok := n[RefKey]
	if ok {
		key = RefKey
	} else if raw, ok = n[IDKey]; !ok {
		return nil, false, nil
	}

	id, ok := toInt64(raw)
	if !ok {
		return nil, false, ErrTypeMismatch.New("%s must be an integer, got %T", key, raw)
	}
	obj, ok := r.objects[id]
	if !ok {
		return nil, false, ErrDanglingRef.New("%s %d has no matching %s", key, id, IDKey)
	}
	return obj, true, nil
}

// alloc allocates a plain shared object for a destination of type typ.
func (obj *object) alloc(typ reflect.Type) {
	if obj.val.IsValid() {
		return
	}
	switch {
	case typ.Kind() == reflect.Struct:
		obj.val = reflect.New(typ)
	case typ.Kind() == reflect.Pointer && typ.Elem().Kind() == reflect.Struct:
		obj.val = reflect.New(typ.Elem())
	default:
		obj.val = reflect.ValueOf(map[string]any{})
	}
}

// fill populates a shared object exactly once. It is marked as filled
// before recursing so that cycles terminate.
func (r *restorer) fill(obj *object, depth int) error {
	if obj.filled {
		return nil
	}
	obj.filled = true

	if obj.val.Kind() == reflect.Map {
		return r.fillPlain(obj.node, obj.val.Interface().(map[string]any), depth)
	}
	return r.fillStruct(obj.node, obj.val.Elem(), depth)
}

func (r *restorer) fillPlain(n map[string]any, m map[string]any, depth int) error {
	for k, x := range n {
		if isReserved(k) {
			continue
		}
		v, err := r.natural(x, depth+1)
		if err != nil {
			return err
		}
		if v.IsValid() {
			m[k] = v.Interface()
		} else {
			m[k] = nil
		}
	}
	return nil
}

func (r *restorer) fillStruct(n map[string]any, sv reflect.Value, depth int) error {
	for _, f := range fieldsOf(sv.Type()) {
		x, ok := n[f.name]
		if !ok {
			continue
		}
		if err := r.decode(x, sv.FieldByIndex(f.index), depth+1); err != nil {
			return errorx.Decorate(err, "field %s.%s", sv.Type().Name(), f.name)
		}
	}
	return nil
}

// natural decodes a node without a target type.
func (r *restorer) natural(node any, depth int) (reflect.Value, error) {
	if depth > MaxDepth {
		return reflect.Value{}, ErrUnsupported.New("value nesting exceeds %d", MaxDepth)
	}

	switch n := node.(type) {
	case nil:
		return reflect.Value{}, nil

	case []any:
		out := make([]any, len(n))
		for i, x := range n {
			v, err := r.natural(x, depth+1)
			if err != nil {
				return reflect.Value{}, err
			}
			if v.IsValid() {
				out[i] = v.Interface()
			}
		}
		return reflect.ValueOf(out), nil

	case map[string]any:
		obj, shared, err := r.lookup(n)
		if err != nil {
			return reflect.Value{}, err
		}
		if shared {
			obj.alloc(plainType)
			return obj.val, r.fill(obj, depth)
		}

		if tag, ok := n[TagKey].(string); ok && tag != PlainTag {
			typ, err := r.reg.Resolve(tag)
			if err != nil {
				return reflect.Value{}, err
			}
			ptr := reflect.New(typ)
			return ptr, r.fillStruct(n, ptr.Elem(), depth)
		}

		m := map[string]any{}
		return reflect.ValueOf(m), r.fillPlain(n, m, depth)
	}

	if s, ok := scalar(node); ok {
		return reflect.ValueOf(s), nil
	}
	return reflect.Value{}, ErrUnsupported.New("unexpected wire value of type %T", node)
}

func (r *restorer) decode(node any, dst reflect.Value, depth int) error {
	if depth > MaxDepth {
		return ErrUnsupported.New("value nesting exceeds %d", MaxDepth)
	}
	if node == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}

	if s, ok := node.(string); ok && dst.Kind() != reflect.Pointer && dst.Kind() != reflect.Interface {
		if _, registered := r.reg.TagOf(dst.Type()); !registered && reflect.PointerTo(dst.Type()).Implements(textUnmarshalerType) {
			u := dst.Addr().Interface().(encoding.TextUnmarshaler)
			if err := u.UnmarshalText([]byte(s)); err != nil {
				return ErrTypeMismatch.Wrap(err, "unmarshal %q into %s", s, dst.Type())
			}
			return nil
		}
	}

	switch dst.Kind() {
	case reflect.Interface:
		v, err := r.natural(node, depth)
		if err != nil {
			return err
		}
		if !v.IsValid() {
			dst.Set(reflect.Zero(dst.Type()))
			return nil
		}
		if !v.Type().AssignableTo(dst.Type()) {
			return ErrTypeMismatch.New("%s is not assignable to %s", v.Type(), dst.Type())
		}
		dst.Set(v)
		return nil

	case reflect.Pointer:
		if n, ok := node.(map[string]any); ok {
			obj, shared, err := r.lookup(n)
			if err != nil {
				return err
			}
			if shared {
				obj.alloc(dst.Type())
				if !obj.val.Type().AssignableTo(dst.Type()) {
					return ErrTypeMismatch.New("%s is not assignable to %s", obj.val.Type(), dst.Type())
				}
				dst.Set(obj.val)
				return r.fill(obj, depth)
			}
		}
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		return r.decode(node, dst.Elem(), depth+1)

	case reflect.Struct:
		n, ok := node.(map[string]any)
		if !ok {
			return ErrTypeMismatch.New("cannot decode %T into %s", node, dst.Type())
		}
		if err := r.checkTag(n, dst.Type()); err != nil {
			return err
		}
		obj, shared, err := r.lookup(n)
		if err != nil {
			return err
		}
		if shared {
			obj.alloc(dst.Type())
			if err := r.fill(obj, depth); err != nil {
				return err
			}
			if obj.val.Kind() != reflect.Pointer || obj.val.Elem().Type() != dst.Type() {
				return ErrTypeMismatch.New("%s is not assignable to %s", obj.val.Type(), dst.Type())
			}
			dst.Set(obj.val.Elem())
			return nil
		}
		return r.fillStruct(n, dst, depth)

	case reflect.Map:
		n, ok := node.(map[string]any)
		if !ok {
			return ErrTypeMismatch.New("cannot decode %T into %s", node, dst.Type())
		}
		if dst.Type().Key().Kind() != reflect.String {
			return ErrUnsupported.New("map key type %s is not a string", dst.Type().Key())
		}
		if tag, ok := n[TagKey].(string); ok && tag != PlainTag {
			return ErrTypeMismatch.New("cannot decode %q object into %s", tag, dst.Type())
		}
		obj, shared, err := r.lookup(n)
		if err != nil {
			return err
		}
		if shared && dst.Type() == plainType {
			obj.alloc(plainType)
		}
		if shared && obj.val.IsValid() && obj.val.Type() == dst.Type() {
			dst.Set(obj.val)
			return r.fill(obj, depth)
		}
		m := reflect.MakeMapWithSize(dst.Type(), len(n))
		for k, x := range n {
			if isReserved(k) {
				continue
			}
			elem := reflect.New(dst.Type().Elem()).Elem()
			if err := r.decode(x, elem, depth+1); err != nil {
				return errorx.Decorate(err, "key %q", k)
			}
			m.SetMapIndex(reflect.ValueOf(k).Convert(dst.Type().Key()), elem)
		}
		dst.Set(m)
		return nil

	case reflect.Slice:
		if dst.Type().Elem().Kind() == reflect.Uint8 {
			s, ok := node.(string)
			if !ok {
				return ErrTypeMismatch.New("cannot decode %T into %s", node, dst.Type())
			}
			b, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return ErrTypeMismatch.Wrap(err, "decode bytes")
			}
			dst.SetBytes(b)
			return nil
		}
		list, ok := node.([]any)
		if !ok {
			return ErrTypeMismatch.New("cannot decode %T into %s", node, dst.Type())
		}
		s := reflect.MakeSlice(dst.Type(), len(list), len(list))
		for i, x := range list {
			if err := r.decode(x, s.Index(i), depth+1); err != nil {
				return errorx.Decorate(err, "index %d", i)
			}
		}
		dst.Set(s)
		return nil

	case reflect.Array:
		list, ok := node.([]any)
		if !ok || len(list) > dst.Len() {
			return ErrTypeMismatch.New("cannot decode %T into %s", node, dst.Type())
		}
		for i, x := range list {
			if err := r.decode(x, dst.Index(i), depth+1); err != nil {
				return errorx.Decorate(err, "index %d", i)
			}
		}
		return nil

	case reflect.String:
		s, ok := node.(string)
		if !ok {
			return ErrTypeMismatch.New("cannot decode %T into %s", node, dst.Type())
		}
		dst.SetString(s)
		return nil

	case reflect.Bool:
		b, ok := node.(bool)
		if !ok {
			return ErrTypeMismatch.New("cannot decode %T into %s", node, dst.Type())
		}
		dst.SetBool(b)
		return nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, ok := toInt64(node)
		if !ok || dst.OverflowInt(i) {
			return ErrTypeMismatch.New("cannot decode %v into %s", node, dst.Type())
		}
		dst.SetInt(i)
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		i, ok := toInt64(node)
		if !ok || i < 0 || dst.OverflowUint(uint64(i)) {
			return ErrTypeMismatch.New("cannot decode %v into %s", node, dst.Type())
		}
		dst.SetUint(uint64(i))
		return nil

	case reflect.Float32, reflect.Float64:
		f, ok := toFloat64(node)
		if !ok || dst.OverflowFloat(f) {
			return ErrTypeMismatch.New("cannot decode %v into %s", node, dst.Type())
		}
		dst.SetFloat(f)
		return nil

	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return nil
	}

	return ErrUnsupported.New("cannot decode into %s", dst.Type())
}

func (r *restorer) checkTag(n map[string]any, typ reflect.Type) error {
	raw, ok := n[TagKey]
	if !ok {
		return nil
	}
	tag, _ := raw.(string)
	if tag == PlainTag {
		return nil
	}
	want, err := r.reg.Resolve(tag)
	if err != nil {
		return err
	}
	if want != typ {
		return ErrTypeMismatch.New("cannot decode %q object into %s", tag, typ)
	}
	return nil
}

// scalar normalizes wire scalars to bool, string, int64 or float64.
func scalar(node any) (any, bool) {
	switch n := node.(type) {
	case bool, string, int64, float64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return float64(n), true
		}
		return int64(n), true
	case float32:
		return float64(n), true
	}
	return nil, false
}

func toInt64(node any) (int64, bool) {
	s, ok := scalar(node)
	if !ok {
		return 0, false
	}
	switch n := s.(type) {
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) || n < math.MinInt64 || n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

func toFloat64(node any) (float64, bool) {
	s, ok := scalar(node)
	if !ok {
		return 0, false
	}
	switch n := s.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
