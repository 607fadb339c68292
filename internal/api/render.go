package api

import (
	"sort"

	"github.com/gogotex/gogotex/backend/odm/internal/bsonutil"
	"github.com/gogotex/gogotex/backend/odm/internal/document"
)

// Render converts a document tree, including populated documents, into plain
// maps and slices ready for JSON encoding.
func Render(v any) any {
	if d, ok := v.(*document.Document); ok {
		return Render(d.Tree())
	}
	if m, ok := bsonutil.AsMap(v); ok {
		out := make(map[string]any, len(m))
		for k, x := range m {
			out[k] = Render(x)
		}
		return out
	}
	if arr, ok := bsonutil.AsSlice(v); ok {
		out := make([]any, len(arr))
		for i, x := range arr {
			out[i] = Render(x)
		}
		return out
	}
	return v
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
