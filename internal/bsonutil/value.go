package bsonutil

import (
	"bytes"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Identifiable is implemented by document-like values that can be reduced to
// their identity (hydrated documents).
type Identifiable interface {
	ID() any
}

// Clone deep-copies maps and arrays. Leaf values and wrapped trees are shared.
func Clone(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(bson.M, len(t))
		for k, x := range t {
			out[k] = Clone(x)
		}
		return out
	case map[string]any:
		out := make(bson.M, len(t))
		for k, x := range t {
			out[k] = Clone(x)
		}
		return out
	case primitive.D:
		out := make(bson.M, len(t))
		for _, e := range t {
			out[e.Key] = Clone(e.Value)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = Clone(x)
		}
		return out
	case primitive.A:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = Clone(x)
		}
		return out
	}
	return v
}

// CloneMap deep-copies a document.
func CloneMap(m bson.M) bson.M {
	if m == nil {
		return nil
	}
	return Clone(m).(bson.M)
}

// Normalize converts driver container types (primitive.D, primitive.A,
// map[string]any) into the bson.M / []any shapes used throughout the module.
func Normalize(v any) any {
	return Clone(v)
}

// Key returns the string form used to match identities across documents:
// hex for object ids, the identity for document-like values, fmt for the rest.
func Key(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case primitive.ObjectID:
		return t.Hex()
	case Identifiable:
		return Key(t.ID())
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case primitive.DateTime:
		return t.Time().UTC().Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	}
	if m, ok := AsMap(v); ok {
		if id, exists := m["_id"]; exists {
			return Key(id)
		}
	}
	return fmt.Sprint(v)
}

// ToFloat converts numeric values.
func ToFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

// Equal compares two values with numeric widening and identity awareness.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := ToFloat(a); ok {
		fb, ok := ToFloat(b)
		return ok && fa == fb
	}
	if oa, ok := a.(primitive.ObjectID); ok {
		ob, ok := b.(primitive.ObjectID)
		return ok && oa == ob
	}
	if sa, ok := AsSlice(a); ok {
		sb, ok := AsSlice(b)
		if !ok || len(sa) != len(sb) {
			return false
		}
		for i := range sa {
			if !Equal(sa[i], sb[i]) {
				return false
			}
		}
		return true
	}
	if ma, ok := AsMap(a); ok {
		mb, ok := AsMap(b)
		if !ok || len(ma) != len(mb) {
			return false
		}
		for k, v := range ma {
			w, exists := mb[k]
			if !exists || !Equal(v, w) {
				return false
			}
		}
		return true
	}
	if ta, ok := toTime(a); ok {
		tb, ok := toTime(b)
		return ok && ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}

// Compare orders two values of the same kind. ok is false when the values are
// not comparable.
func Compare(a, b any) (int, bool) {
	if fa, ok := ToFloat(a); ok {
		fb, ok := ToFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	switch ta := a.(type) {
	case string:
		tb, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(ta, tb), true
	case primitive.ObjectID:
		tb, ok := b.(primitive.ObjectID)
		if !ok {
			return 0, false
		}
		return bytes.Compare(ta[:], tb[:]), true
	case bool:
		tb, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case ta == tb:
			return 0, true
		case !ta:
			return -1, true
		}
		return 1, true
	}
	if ta, ok := toTime(a); ok {
		tb, ok := toTime(b)
		if !ok {
			return 0, false
		}
		return ta.Compare(tb), true
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case primitive.DateTime:
		return t.Time(), true
	}
	return time.Time{}, false
}
