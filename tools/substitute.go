package tools

import "strings"

// Substitute replaces every occurrence of old with new inside the string
// leaves of a decoded JSON tree. Maps and slices are rewritten in place; the
// returned value is the tree itself, or the replaced string when tree is a
// string leaf. Other scalars are returned unchanged.
func Substitute(tree any, old, new string) any {
	switch v := tree.(type) {
	case string:
		return strings.ReplaceAll(v, old, new)
	case map[string]any:
		for k, child := range v {
			v[k] = Substitute(child, old, new)
		}
		return v
	case []any:
		for i, child := range v {
			v[i] = Substitute(child, old, new)
		}
		return v
	default:
		return tree
	}
}
