package bsonutil

import (
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Tree is implemented by values wrapping a document tree (hydrated documents).
// Path operations descend into the wrapped tree.
type Tree interface {
	Tree() bson.M
}

// AsMap returns v as a plain map when it is a document-shaped value.
// The returned map shares storage with v.
func AsMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case bson.M:
		return map[string]any(t), true
	case map[string]any:
		return t, true
	case Tree:
		m := t.Tree()
		if m == nil {
			return nil, false
		}
		return map[string]any(m), true
	}
	return nil, false
}

// AsSlice returns v as a plain slice when it is an array value.
func AsSlice(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case primitive.A:
		return []any(t), true
	}
	return nil, false
}

// IsArray reports whether v is an array value.
func IsArray(v any) bool {
	_, ok := AsSlice(v)
	return ok
}

// IsIndex reports whether a path segment addresses an array position.
func IsIndex(seg string) bool {
	if seg == "" {
		return false
	}
	for _, r := range seg {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// HasIndexSegment reports whether the dotted path addresses an array element
// (`a.3` or `a.3.b`).
func HasIndexSegment(path string) bool {
	parts := strings.Split(path, ".")
	for _, p := range parts[1:] {
		if IsIndex(p) {
			return true
		}
	}
	return false
}

// StripIndexes removes numeric segments: `comments.2.author` -> `comments.author`.
func StripIndexes(path string) string {
	parts := strings.Split(path, ".")
	out := parts[:0]
	for _, p := range parts {
		if !IsIndex(p) {
			out = append(out, p)
		}
	}
	return strings.Join(out, ".")
}

// Get returns the value at the dotted path. A non-numeric segment applied to an
// array maps over its elements, so `comments.author` yields one value per comment.
func Get(obj any, path string) any {
	v, _ := lookup(obj, strings.Split(path, "."))
	return v
}

// Lookup is like Get but also reports whether the path exists.
func Lookup(obj any, path string) (any, bool) {
	return lookup(obj, strings.Split(path, "."))
}

func lookup(obj any, parts []string) (any, bool) {
	if len(parts) == 0 {
		return obj, true
	}
	if m, ok := AsMap(obj); ok {
		v, exists := m[parts[0]]
		if !exists {
			return nil, false
		}
		return lookup(v, parts[1:])
	}
	if arr, ok := AsSlice(obj); ok {
		if IsIndex(parts[0]) {
			i, _ := strconv.Atoi(parts[0])
			if i >= len(arr) {
				return nil, false
			}
			return lookup(arr[i], parts[1:])
		}
		out := make([]any, 0, len(arr))
		for _, el := range arr {
			v, _ := lookup(el, parts)
			out = append(out, v)
		}
		return out, true
	}
	return nil, false
}

// Set writes val at the dotted path, creating intermediate documents as needed.
// When a non-numeric segment meets an array, an array val is distributed over
// the elements position by position; any other val is written to every element.
// fn, when non-nil, is applied to every value as it is written.
func Set(obj any, path string, val any, fn func(any) any) {
	set(obj, strings.Split(path, "."), val, fn)
}

func set(obj any, parts []string, val any, fn func(any) any) any {
	if len(parts) == 0 {
		return obj
	}
	head, rest := parts[0], parts[1:]
	if m, ok := AsMap(obj); ok {
		if len(rest) == 0 {
			if fn != nil {
				val = fn(val)
			}
			m[head] = val
			return obj
		}
		next, exists := m[head]
		if !exists || next == nil {
			if IsIndex(rest[0]) {
				next = []any{}
			} else {
				next = bson.M{}
			}
		}
		m[head] = set(next, rest, val, fn)
		return obj
	}
	if arr, ok := AsSlice(obj); ok {
		if IsIndex(head) {
			i, _ := strconv.Atoi(head)
			for len(arr) <= i {
				arr = append(arr, nil)
			}
			if len(rest) == 0 {
				if fn != nil {
					val = fn(val)
				}
				arr[i] = val
				return arr
			}
			next := arr[i]
			if next == nil {
				next = bson.M{}
			}
			arr[i] = set(next, rest, val, fn)
			return arr
		}
		vals, spread := AsSlice(val)
		for j := range arr {
			v := val
			if spread {
				if j >= len(vals) {
					break
				}
				v = vals[j]
			}
			if _, isMap := AsMap(arr[j]); !isMap {
				continue
			}
			arr[j] = set(arr[j], parts, v, fn)
		}
		return arr
	}
	return obj
}

// Delete removes the value at the dotted path. Missing paths are ignored.
func Delete(obj any, path string) {
	parts := strings.Split(path, ".")
	cur := obj
	for i, p := range parts {
		last := i == len(parts)-1
		if m, ok := AsMap(cur); ok {
			if last {
				delete(m, p)
				return
			}
			cur = m[p]
			continue
		}
		if arr, ok := AsSlice(cur); ok && IsIndex(p) {
			idx, _ := strconv.Atoi(p)
			if idx >= len(arr) {
				return
			}
			if last {
				arr[idx] = nil
				return
			}
			cur = arr[idx]
			continue
		}
		return
	}
}
