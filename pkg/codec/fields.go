package codec

import (
	"encoding"
	"reflect"
	"strings"
	"sync"
)

var (
	textMarshalerType   = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

// field is an exported struct field as seen on the wire.
type field struct {
	name      string
	index     []int
	omitEmpty bool
}

var fieldCache sync.Map // map[reflect.Type][]field

// fieldsOf lists the wire fields of struct type t. Field names follow
// encoding/json tags. Untagged embedded structs are flattened.
func fieldsOf(t reflect.Type) []field {
	if fs, ok := fieldCache.Load(t); ok {
		return fs.([]field)
	}

	var (
		fs    []field
		taken = map[string]bool{}
	)

	var walk func(t reflect.Type, index []int)
	walk = func(t reflect.Type, index []int) {
		var embedded []reflect.StructField

		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if !sf.IsExported() && !sf.Anonymous {
				continue
			}

			tag := sf.Tag.Get("json")
			if tag == "-" {
				continue
			}
			name, opts, _ := strings.Cut(tag, ",")

			if sf.Anonymous && name == "" && sf.Type.Kind() == reflect.Struct {
				embedded = append(embedded, sf)
				continue
			}
			if !sf.IsExported() {
				continue
			}
			if name == "" {
				name = sf.Name
			}
			if taken[name] {
				continue
			}
			taken[name] = true

			fs = append(fs, field{
				name:      name,
				index:     append(append([]int(nil), index...), i),
				omitEmpty: strings.Contains(opts, "omitempty"),
			})
		}

		// Outer fields shadow promoted ones.
		for _, sf := range embedded {
			walk(sf.Type, append(append([]int(nil), index...), sf.Index...))
		}
	}
	walk(t, nil)

	fieldCache.Store(t, fs)
	return fs
}

// hasMethods reports whether values of struct type t carry behavior,
// i.e. whether *t has any exported methods.
func hasMethods(t reflect.Type) bool {
	return reflect.PointerTo(t).NumMethod() > 0
}

func isStripped(k reflect.Kind) bool {
	switch k {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return true
	}
	return false
}

func isReserved(key string) bool {
	return strings.HasPrefix(key, "$")
}
