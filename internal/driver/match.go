package driver

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/gogotex/gogotex/backend/odm/internal/bsonutil"
)

// Match reports whether doc satisfies a query filter. It understands the
// subset of the query language the ODM emits.
func Match(doc bson.M, filter bson.M) (bool, error) {
	for k, cond := range filter {
		ok, err := matchKey(doc, k, cond)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchKey(doc bson.M, key string, cond any) (bool, error) {
	switch key {
	case "$and", "$or", "$nor":
		subs, ok := bsonutil.AsSlice(cond)
		if !ok {
			return false, fmt.Errorf("driver: %s requires an array", key)
		}
		matched := false
		for _, s := range subs {
			m, ok := bsonutil.AsMap(s)
			if !ok {
				return false, fmt.Errorf("driver: %s entries must be documents", key)
			}
			hit, err := Match(doc, bson.M(m))
			if err != nil {
				return false, err
			}
			if key == "$and" && !hit {
				return false, nil
			}
			matched = matched || hit
		}
		switch key {
		case "$or":
			return matched, nil
		case "$nor":
			return !matched, nil
		}
		return true, nil
	}
	if strings.HasPrefix(key, "$") {
		return false, fmt.Errorf("driver: unsupported query operator %s", key)
	}

	v, exists := bsonutil.Lookup(doc, key)
	if ops, ok := operators(cond); ok {
		for op, arg := range ops {
			hit, err := matchOp(v, exists, op, arg)
			if err != nil || !hit {
				return false, err
			}
		}
		return true, nil
	}
	return matchEq(v, cond), nil
}

// operators returns cond as an operator document ({$gt: 1, $lt: 5}).
func operators(cond any) (map[string]any, bool) {
	m, ok := bsonutil.AsMap(cond)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

// matchEq is equality with array containment: an array value matches when it
// equals want or one of its elements does.
func matchEq(v, want any) bool {
	if bsonutil.Equal(v, want) {
		return true
	}
	if arr, ok := bsonutil.AsSlice(v); ok {
		for _, el := range arr {
			if matchEq(el, want) {
				return true
			}
		}
	}
	return false
}

func matchOp(v any, exists bool, op string, arg any) (bool, error) {
	switch op {
	case "$eq":
		return matchEq(v, arg), nil
	case "$ne":
		return !matchEq(v, arg), nil
	case "$in", "$nin":
		list, ok := bsonutil.AsSlice(arg)
		if !ok {
			return false, fmt.Errorf("driver: %s requires an array", op)
		}
		in := false
		for _, x := range list {
			if matchEq(v, x) {
				in = true
				break
			}
		}
		return in == (op == "$in"), nil
	case "$gt", "$gte", "$lt", "$lte":
		return matchCompare(v, op, arg), nil
	case "$exists":
		want := truthy(arg)
		return exists == want, nil
	case "$size":
		arr, ok := bsonutil.AsSlice(v)
		n, isNum := bsonutil.ToFloat(arg)
		return ok && isNum && float64(len(arr)) == n, nil
	case "$elemMatch":
		arr, ok := bsonutil.AsSlice(v)
		if !ok {
			return false, nil
		}
		for _, el := range arr {
			hit, err := elemMatches(el, arg)
			if err != nil {
				return false, err
			}
			if hit {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("driver: unsupported query operator %s", op)
}

// elemMatches applies an $elemMatch condition to one array element: a
// document condition for sub-documents, an operator document for scalars.
func elemMatches(el, cond any) (bool, error) {
	if ops, ok := operators(cond); ok {
		for op, arg := range ops {
			hit, err := matchOp(el, true, op, arg)
			if err != nil || !hit {
				return false, err
			}
		}
		return true, nil
	}
	m, isDoc := bsonutil.AsMap(el)
	c, isCond := bsonutil.AsMap(cond)
	if !isDoc || !isCond {
		return false, nil
	}
	return Match(bson.M(m), bson.M(c))
}

func matchCompare(v any, op string, arg any) bool {
	if arr, ok := bsonutil.AsSlice(v); ok {
		for _, el := range arr {
			if matchCompare(el, op, arg) {
				return true
			}
		}
		return false
	}
	c, ok := bsonutil.Compare(v, arg)
	if !ok {
		return false
	}
	switch op {
	case "$gt":
		return c > 0
	case "$gte":
		return c >= 0
	case "$lt":
		return c < 0
	}
	return c <= 0
}

func truthy(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	if f, ok := bsonutil.ToFloat(v); ok {
		return f != 0
	}
	return v != nil
}
