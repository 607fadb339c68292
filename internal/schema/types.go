package schema

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/gogotex/gogotex/backend/odm/internal/bsonutil"
)

// Caster coerces a raw value into the declared type of a path.
type Caster interface {
	Name() string
	Cast(v any) (any, error)
}

// CastError reports a value that cannot be coerced to the declared type of a path.
type CastError struct {
	Path   string
	Type   string
	Value  any
	Reason error
}

func (e *CastError) Error() string {
	msg := fmt.Sprintf("schema: cast to %s failed for value %v (%T) at path %q", e.Type, e.Value, e.Value, e.Path)
	if e.Reason != nil {
		msg += ": " + e.Reason.Error()
	}
	return msg
}

func (e *CastError) Unwrap() error { return e.Reason }

var errUnsupported = errors.New("unsupported value")

type casterFunc struct {
	name string
	fn   func(any) (any, error)
}

func (c casterFunc) Name() string { return c.name }

// Cast reduces populated documents to their identity before casting, except
// for Mixed paths which keep any value.
func (c casterFunc) Cast(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if id, ok := v.(bsonutil.Identifiable); ok && c.name != "Mixed" {
		v = id.ID()
	}
	return c.fn(v)
}

var (
	String   Caster = casterFunc{"String", castString}
	Number   Caster = casterFunc{"Number", castNumber}
	Boolean  Caster = casterFunc{"Boolean", castBoolean}
	Date     Caster = casterFunc{"Date", castDate}
	ObjectID Caster = casterFunc{"ObjectId", castObjectID}
	Mixed    Caster = casterFunc{"Mixed", func(v any) (any, error) { return bsonutil.Clone(v), nil }}
)

func castString(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case primitive.ObjectID:
		return t.Hex(), nil
	case bool:
		return strconv.FormatBool(t), nil
	case fmt.Stringer:
		return t.String(), nil
	}
	if f, ok := bsonutil.ToFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	return nil, errUnsupported
}

func castNumber(v any) (any, error) {
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case float32:
		return float64(t), nil
	case float64:
		return t, nil
	case bool:
		if t {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		s := strings.TrimSpace(t)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	return nil, errUnsupported
}

func castBoolean(v any) (any, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
		return nil, fmt.Errorf("invalid boolean %q", t)
	}
	if f, ok := bsonutil.ToFloat(v); ok {
		switch f {
		case 1:
			return true, nil
		case 0:
			return false, nil
		}
	}
	return nil, errUnsupported
}

func castDate(v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case primitive.DateTime:
		return t.Time(), nil
	case string:
		return time.Parse(time.RFC3339, t)
	}
	if f, ok := bsonutil.ToFloat(v); ok {
		return time.UnixMilli(int64(f)).UTC(), nil
	}
	return nil, errUnsupported
}

func castObjectID(v any) (any, error) {
	switch t := v.(type) {
	case primitive.ObjectID:
		return t, nil
	case string:
		return primitive.ObjectIDFromHex(t)
	case bsonutil.Identifiable:
		return castObjectID(t.ID())
	}
	if m, ok := bsonutil.AsMap(v); ok {
		if id, exists := m["_id"]; exists && id != nil {
			return castObjectID(id)
		}
	}
	return nil, errUnsupported
}

// arrayCaster casts every element of an array. A single value is wrapped.
type arrayCaster struct {
	elem Caster
}

// ArrayOf declares an array whose elements are cast with elem.
func ArrayOf(elem Caster) Caster { return arrayCaster{elem: elem} }

// DocArray declares an array of embedded documents.
func DocArray(sub *Schema) Caster { return arrayCaster{elem: Embedded(sub)} }

func (c arrayCaster) Name() string { return "[" + c.elem.Name() + "]" }

func (c arrayCaster) Cast(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	arr, ok := bsonutil.AsSlice(v)
	if !ok {
		arr = []any{v}
	}
	out := make([]any, len(arr))
	for i, el := range arr {
		x, err := c.elem.Cast(el)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = x
	}
	return out, nil
}

// Element returns the caster of the array elements.
func Element(c Caster) (Caster, bool) {
	a, ok := c.(arrayCaster)
	if !ok {
		return nil, false
	}
	return a.elem, true
}

type embeddedCaster struct {
	sub *Schema
}

// Embedded declares a single sub-document with its own schema.
func Embedded(sub *Schema) Caster { return embeddedCaster{sub: sub} }

func (c embeddedCaster) Name() string { return "Embedded" }

func (c embeddedCaster) Cast(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	m, ok := bsonutil.AsMap(v)
	if !ok {
		return nil, errUnsupported
	}
	out := make(bson.M, len(m))
	for k, x := range m {
		if pt := c.sub.Path(k); pt != nil && pt.Caster != nil {
			cast, err := pt.Caster.Cast(x)
			if err != nil {
				return nil, &CastError{Path: k, Type: pt.Caster.Name(), Value: x, Reason: err}
			}
			out[k] = cast
			continue
		}
		out[k] = bsonutil.Clone(x)
	}
	return out, nil
}

func subSchema(c Caster) (sub *Schema, array bool) {
	switch t := c.(type) {
	case embeddedCaster:
		return t.sub, false
	case arrayCaster:
		if e, ok := t.elem.(embeddedCaster); ok {
			return e.sub, true
		}
	}
	return nil, false
}
