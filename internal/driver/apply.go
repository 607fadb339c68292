package driver

import (
	"fmt"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/gogotex/gogotex/backend/odm/internal/bsonutil"
	"github.com/gogotex/gogotex/backend/odm/internal/query"
)

// operator application order, so $unset and $set on sibling paths behave the
// same across runs
var updateOrder = []string{"$setOnInsert", "$set", "$unset", "$inc", "$push", "$pushAll", "$addToSet", "$pull", "$pullAll", "$pop"}

// Apply executes an update document against doc in place. filter resolves
// positional "$" segments. inserting enables $setOnInsert.
func Apply(doc bson.M, upd bson.M, filter bson.M, inserting bool) error {
	for k := range upd {
		if !strings.HasPrefix(k, "$") {
			return fmt.Errorf("driver: replacement updates are not supported (field %q)", k)
		}
		if !known(k) {
			return fmt.Errorf("driver: unsupported update operator %s", k)
		}
	}
	for _, op := range updateOrder {
		raw, ok := upd[op]
		if !ok {
			continue
		}
		if op == "$setOnInsert" && !inserting {
			continue
		}
		fields, ok := bsonutil.AsMap(raw)
		if !ok {
			return fmt.Errorf("driver: %s requires a document", op)
		}
		paths := make([]string, 0, len(fields))
		for p := range fields {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			path, err := resolvePositional(doc, p, filter)
			if err != nil {
				return err
			}
			if err := applyOp(doc, op, path, fields[p]); err != nil {
				return err
			}
		}
	}
	return nil
}

func known(op string) bool {
	for _, o := range updateOrder {
		if o == op {
			return true
		}
	}
	return false
}

func applyOp(doc bson.M, op, path string, arg any) error {
	cur, exists := bsonutil.Lookup(doc, path)
	switch op {
	case "$set", "$setOnInsert":
		bsonutil.Set(doc, path, bsonutil.Clone(arg), nil)
	case "$unset":
		bsonutil.Delete(doc, path)
	case "$inc":
		if !exists || cur == nil {
			bsonutil.Set(doc, path, arg, nil)
			return nil
		}
		sum, err := add(cur, arg)
		if err != nil {
			return fmt.Errorf("driver: $inc %s: %w", path, err)
		}
		bsonutil.Set(doc, path, sum, nil)
	case "$push", "$pushAll", "$addToSet":
		arr, err := arrayAt(cur, exists, op, path)
		if err != nil {
			return err
		}
		var values []any
		if op == "$pushAll" {
			values, _ = bsonutil.AsSlice(arg)
		} else if m, ok := bsonutil.AsMap(arg); ok && m["$each"] != nil {
			values, _ = bsonutil.AsSlice(m["$each"])
		} else {
			values = []any{arg}
		}
		for _, v := range values {
			if op == "$addToSet" && contains(arr, v) {
				continue
			}
			arr = append(arr, bsonutil.Clone(v))
		}
		bsonutil.Set(doc, path, arr, nil)
	case "$pull", "$pullAll":
		arr, err := arrayAt(cur, exists, op, path)
		if err != nil {
			return err
		}
		out := make([]any, 0, len(arr))
		for _, el := range arr {
			drop, err := pulls(op, el, arg)
			if err != nil {
				return err
			}
			if !drop {
				out = append(out, el)
			}
		}
		bsonutil.Set(doc, path, out, nil)
	case "$pop":
		arr, err := arrayAt(cur, exists, op, path)
		if err != nil || len(arr) == 0 {
			return err
		}
		if n, _ := bsonutil.ToFloat(arg); n < 0 {
			arr = arr[1:]
		} else {
			arr = arr[:len(arr)-1]
		}
		bsonutil.Set(doc, path, append([]any{}, arr...), nil)
	}
	return nil
}

func arrayAt(cur any, exists bool, op, path string) ([]any, error) {
	if !exists || cur == nil {
		return []any{}, nil
	}
	arr, ok := bsonutil.AsSlice(cur)
	if !ok {
		return nil, fmt.Errorf("driver: %s on non-array field %s", op, path)
	}
	return arr, nil
}

func contains(arr []any, v any) bool {
	for _, el := range arr {
		if bsonutil.Equal(el, v) {
			return true
		}
	}
	return false
}

// pulls reports whether el is removed by a $pull or $pullAll argument.
func pulls(op string, el, arg any) (bool, error) {
	if op == "$pullAll" {
		list, _ := bsonutil.AsSlice(arg)
		return contains(list, el), nil
	}
	if _, ok := operators(arg); ok {
		return elemMatches(el, arg)
	}
	if cond, ok := bsonutil.AsMap(arg); ok {
		if _, isDoc := bsonutil.AsMap(el); isDoc {
			return elemMatches(el, bson.M(cond))
		}
	}
	return bsonutil.Equal(el, arg), nil
}

func add(a, b any) (any, error) {
	ai, aInt := integer(a)
	bi, bInt := integer(b)
	if aInt && bInt {
		if _, ok := a.(int); ok {
			if _, ok := b.(int); ok {
				return int(ai + bi), nil
			}
		}
		return ai + bi, nil
	}
	af, ok1 := bsonutil.ToFloat(a)
	bf, ok2 := bsonutil.ToFloat(b)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("cannot increment %T by %T", a, b)
	}
	return af + bf, nil
}

func integer(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	}
	return 0, false
}

// resolvePositional replaces a "$" segment with the position of the first
// array element matched by filter.
func resolvePositional(doc bson.M, path string, filter bson.M) (string, error) {
	parts := strings.Split(path, ".")
	for i, p := range parts {
		if p != "$" {
			continue
		}
		prefix := strings.Join(parts[:i], ".")
		idx := positionalIndex(doc, prefix, filter)
		if idx < 0 {
			return "", fmt.Errorf("driver: the positional operator did not find the match needed from the query (%s)", path)
		}
		parts[i] = fmt.Sprint(idx)
		return strings.Join(parts, "."), nil
	}
	return path, nil
}

func positionalIndex(doc bson.M, prefix string, filter bson.M) int {
	arr, ok := bsonutil.AsSlice(bsonutil.Get(doc, prefix))
	if !ok {
		return -1
	}
	for key, cond := range filter {
		switch {
		case key == prefix:
			for i, el := range arr {
				var hit bool
				if ops, isOps := operators(cond); isOps {
					if em, ok := ops["$elemMatch"]; ok {
						hit, _ = elemMatches(el, em)
					} else {
						hit, _ = elemMatches(el, cond)
					}
				} else {
					hit = bsonutil.Equal(el, cond)
				}
				if hit {
					return i
				}
			}
		case strings.HasPrefix(key, prefix+"."):
			sub := strings.TrimPrefix(key, prefix+".")
			for i, el := range arr {
				m, isDoc := bsonutil.AsMap(el)
				if !isDoc {
					continue
				}
				if hit, _ := matchKey(bson.M(m), sub, cond); hit {
					return i
				}
			}
		}
	}
	return -1
}

// Project applies a projection to a stored document, returning a copy.
// "field.$" keeps the array element matched by filter.
func Project(doc bson.M, proj bson.M, filter bson.M) bson.M {
	if len(proj) == 0 {
		return bsonutil.CloneMap(doc)
	}
	p := query.Projection(proj)
	if !p.Inclusive() && !hasOperators(proj) {
		out := bsonutil.CloneMap(doc)
		for k := range proj {
			bsonutil.Delete(out, k)
		}
		return out
	}

	out := bson.M{}
	if id, ok := doc["_id"]; ok && !p.ExcludesID() {
		out["_id"] = bsonutil.Clone(id)
	}
	for k, v := range proj {
		if k == "_id" {
			continue
		}
		if strings.HasSuffix(k, ".$") {
			top := strings.TrimSuffix(k, ".$")
			if i := positionalIndex(doc, top, filter); i >= 0 {
				arr, _ := bsonutil.AsSlice(bsonutil.Get(doc, top))
				bsonutil.Set(out, top, []any{bsonutil.Clone(arr[i])}, nil)
			}
			continue
		}
		if m, ok := bsonutil.AsMap(v); ok {
			if em, ok := m["$elemMatch"]; ok {
				arr, _ := bsonutil.AsSlice(doc[k])
				for _, el := range arr {
					if hit, _ := elemMatches(el, em); hit {
						out[k] = []any{bsonutil.Clone(el)}
						break
					}
				}
			}
			continue
		}
		if truthy(v) {
			copyPath(out, doc, strings.Split(k, "."))
		}
	}
	return out
}

func hasOperators(proj bson.M) bool {
	for k, v := range proj {
		if strings.HasSuffix(k, ".$") {
			return true
		}
		if _, ok := operators(v); ok {
			return true
		}
	}
	return false
}

// copyPath copies the value at parts from src into dst, descending into
// sub-documents and arrays of sub-documents.
func copyPath(dst, src map[string]any, parts []string) {
	v, ok := src[parts[0]]
	if !ok {
		return
	}
	if len(parts) == 1 {
		dst[parts[0]] = bsonutil.Clone(v)
		return
	}
	if sm, ok := bsonutil.AsMap(v); ok {
		dm, ok := bsonutil.AsMap(dst[parts[0]])
		if !ok {
			dm = bson.M{}
		}
		copyPath(dm, sm, parts[1:])
		dst[parts[0]] = bson.M(dm)
		return
	}
	if arr, ok := bsonutil.AsSlice(v); ok {
		prev, _ := bsonutil.AsSlice(dst[parts[0]])
		out := make([]any, 0, len(arr))
		n := 0
		for _, el := range arr {
			sm, ok := bsonutil.AsMap(el)
			if !ok {
				continue
			}
			dm := bson.M{}
			if n < len(prev) {
				if m, ok := bsonutil.AsMap(prev[n]); ok {
					dm = bson.M(m)
				}
			}
			copyPath(dm, sm, parts[1:])
			out = append(out, dm)
			n++
		}
		dst[parts[0]] = out
	}
}

// sortDocs orders docs by a multi-key sort. Missing values sort first.
func sortDocs(docs []bson.M, spec bson.D) {
	if len(spec) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, e := range spec {
			dir := 1
			if n, ok := bsonutil.ToFloat(e.Value); ok && n < 0 {
				dir = -1
			}
			a, b := bsonutil.Get(docs[i], e.Key), bsonutil.Get(docs[j], e.Key)
			var c int
			switch {
			case a == nil && b == nil:
				c = 0
			case a == nil:
				c = -1
			case b == nil:
				c = 1
			default:
				c, _ = bsonutil.Compare(a, b)
			}
			if c != 0 {
				return c*dir < 0
			}
		}
		return false
	})
}
