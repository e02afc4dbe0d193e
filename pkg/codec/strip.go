package codec

import "reflect"

// StripTypeTags removes every "$tag" attribute from a wire tree in place,
// turning typed objects into plain data. Identity marks are kept.
func StripTypeTags(tree any) any {
	walk(tree, map[uintptr]bool{}, func(m map[string]any) {
		delete(m, TagKey)
	})
	return tree
}

// StripMarks removes "$id" marks from a wire tree in place. Marks that are
// still the target of a "$ref" are kept, since dropping them would leave the
// reference dangling.
func StripMarks(tree any) any {
	refs := map[int64]bool{}
	walk(tree, map[uintptr]bool{}, func(m map[string]any) {
		if id, ok := toInt64(m[RefKey]); ok {
			refs[id] = true
		}
	})
	walk(tree, map[uintptr]bool{}, func(m map[string]any) {
		if id, ok := toInt64(m[IDKey]); ok && !refs[id] {
			delete(m, IDKey)
		}
	})
	return tree
}

func walk(node any, seen map[uintptr]bool, fn func(map[string]any)) {
	switch n := node.(type) {
	case []any:
		for _, x := range n {
			walk(x, seen, fn)
		}
	case map[string]any:
		p := reflect.ValueOf(n).Pointer()
		if seen[p] {
			return
		}
		seen[p] = true
		fn(n)
		for _, x := range n {
			walk(x, seen, fn)
		}
	}
}
