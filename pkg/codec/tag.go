package codec

import (
	"encoding"
	"encoding/base64"
	"math"
	"reflect"
)

// MaxDepth bounds the nesting of a value graph.
const MaxDepth = 10000

// identity identifies a shared object: a struct behind a pointer, or a map.
type identity struct {
	typ reflect.Type
	ptr uintptr
}

// Tag converts v into a wire tree of nil, bool, int64, float64, string,
// []any and map[string]any values.
//
// Structs with methods are tagged with their registered tag under "$tag",
// or with their Go type name when unregistered. Objects reached more than
// once get an "$id" on their first occurrence and are written as
// {"$ref": id} afterwards, so shared and cyclic graphs survive the copy.
// Funcs and channels are dropped.
func Tag(reg *Registry, v any) (any, error) {
	t := &tagger{
		reg:  reg,
		seen: map[identity]int{},
		ids:  map[identity]int64{},
	}

	rv := reflect.ValueOf(v)
	if err := t.count(rv, 0); err != nil {
		return nil, err
	}
	return t.emit(rv, 0)
}

type tagger struct {
	reg  *Registry
	seen map[identity]int
	ids  map[identity]int64
	next int64
}

func (t *tagger) text(v reflect.Value) (string, bool, error) {
	if v.Kind() == reflect.Interface {
		return "", false, nil
	}
	if _, ok := t.reg.TagOf(v.Type()); ok {
		return "", false, nil
	}

	var m encoding.TextMarshaler
	switch {
	case v.Type().Implements(textMarshalerType):
		if v.Kind() == reflect.Pointer && v.IsNil() {
			return "", false, nil
		}
		m = v.Interface().(encoding.TextMarshaler)
	case v.CanAddr() && reflect.PointerTo(v.Type()).Implements(textMarshalerType):
		m = v.Addr().Interface().(encoding.TextMarshaler)
	default:
		return "", false, nil
	}

	b, err := m.MarshalText()
	if err != nil {
		return "", false, ErrUnsupported.Wrap(err, "marshal %s as text", v.Type())
	}
	return string(b), true, nil
}

// count records how many times each identity is reached.
func (t *tagger) count(v reflect.Value, depth int) error {
	if !v.IsValid() {
		return nil
	}
	if depth > MaxDepth {
		return ErrUnsupported.New("value nesting exceeds %d", MaxDepth)
	}
	if _, ok, err := t.text(v); ok || err != nil {
		return err
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return t.count(v.Elem(), depth+1)

	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		if v.Elem().Kind() == reflect.Struct {
			id := identity{v.Type(), v.Pointer()}
			t.seen[id]++
			if t.seen[id] > 1 {
				return nil
			}
		}
		return t.count(v.Elem(), depth+1)

	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		id := identity{v.Type(), v.Pointer()}
		t.seen[id]++
		if t.seen[id] > 1 {
			return nil
		}
		iter := v.MapRange()
		for iter.Next() {
			if err := t.count(iter.Value(), depth+1); err != nil {
				return err
			}
		}

	case reflect.Struct:
		for _, f := range fieldsOf(v.Type()) {
			if err := t.count(v.FieldByIndex(f.index), depth+1); err != nil {
				return err
			}
		}

	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return nil
		}
		for i := 0; i < v.Len(); i++ {
			if err := t.count(v.Index(i), depth+1); err != nil {
				return err
			}
		}
	}

	return nil
}

func (t *tagger) emit(v reflect.Value, depth int) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}
	if depth > MaxDepth {
		return nil, ErrUnsupported.New("value nesting exceeds %d", MaxDepth)
	}
	if s, ok, err := t.text(v); err != nil {
		return nil, err
	} else if ok {
		return s, nil
	}

	switch v.Kind() {
	case reflect.Bool:
		return v.Bool(), nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := v.Uint()
		if u > math.MaxInt64 {
			return nil, ErrUnsupported.New("unsigned value %d overflows int64", u)
		}
		return int64(u), nil

	case reflect.Float32, reflect.Float64:
		return v.Float(), nil

	case reflect.String:
		return v.String(), nil

	case reflect.Interface:
		if v.IsNil() {
			return nil, nil
		}
		return t.emit(v.Elem(), depth+1)

	case reflect.Pointer:
		if v.IsNil() {
			return nil, nil
		}
		if v.Elem().Kind() == reflect.Struct {
			return t.emitObject(v.Elem(), identity{v.Type(), v.Pointer()}, true, depth)
		}
		return t.emit(v.Elem(), depth+1)

	case reflect.Struct:
		return t.emitObject(v, identity{}, false, depth)

	case reflect.Map:
		if v.IsNil() {
			return nil, nil
		}
		return t.emitMap(v, depth)

	case reflect.Slice:
		if v.IsNil() {
			return nil, nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return base64.StdEncoding.EncodeToString(v.Bytes()), nil
		}
		return t.emitList(v, depth)

	case reflect.Array:
		return t.emitList(v, depth)

	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return nil, nil
	}

	return nil, ErrUnsupported.New("cannot tag value of type %s", v.Type())
}

// open starts the wire map of an object and reports whether the object was
// already written, in which case the returned map is a reference.
func (t *tagger) open(id identity, tracked bool) (map[string]any, bool) {
	out := map[string]any{}
	if !tracked {
		return out, false
	}
	if n, ok := t.ids[id]; ok {
		return map[string]any{RefKey: n}, true
	}
	if t.seen[id] > 1 {
		t.next++
		t.ids[id] = t.next
		out[IDKey] = t.next
	}
	return out, false
}

func (t *tagger) emitObject(v reflect.Value, id identity, tracked bool, depth int) (any, error) {
	out, isRef := t.open(id, tracked)
	if isRef {
		return out, nil
	}

	typ := v.Type()
	if tag, ok := t.reg.TagOf(typ); ok {
		out[TagKey] = tag
	} else if hasMethods(typ) {
		out[TagKey] = typ.Name()
	} else if _, shared := out[IDKey]; shared {
		out[TagKey] = PlainTag
	}

	for _, f := range fieldsOf(typ) {
		fv := v.FieldByIndex(f.index)
		if fv.Kind() == reflect.Interface && !fv.IsNil() {
			fv = fv.Elem()
		}
		if isStripped(fv.Kind()) || (f.omitEmpty && fv.IsZero()) {
			continue
		}
		val, err := t.emit(fv, depth+1)
		if err != nil {
			return nil, err
		}
		out[f.name] = val
	}

	return out, nil
}

func (t *tagger) emitMap(v reflect.Value, depth int) (any, error) {
	if v.Type().Key().Kind() != reflect.String {
		return nil, ErrUnsupported.New("map key type %s is not a string", v.Type().Key())
	}

	out, isRef := t.open(identity{v.Type(), v.Pointer()}, true)
	if isRef {
		return out, nil
	}
	if _, shared := out[IDKey]; shared {
		out[TagKey] = PlainTag
	}

	iter := v.MapRange()
	for iter.Next() {
		key := iter.Key().String()
		if isReserved(key) {
			return nil, ErrReservedKey.New("map key %q is reserved", key)
		}
		val := iter.Value()
		if val.Kind() == reflect.Interface && !val.IsNil() {
			val = val.Elem()
		}
		if isStripped(val.Kind()) {
			continue
		}
		x, err := t.emit(val, depth+1)
		if err != nil {
			return nil, err
		}
		out[key] = x
	}

	return out, nil
}

func (t *tagger) emitList(v reflect.Value, depth int) (any, error) {
	out := make([]any, v.Len())
	for i := range out {
		x, err := t.emit(v.Index(i), depth+1)
		if err != nil {
			return nil, err
		}
		out[i] = x
	}
	return out, nil
}
