// Package update models the wire form of document updates: operator documents
// keyed by dotted paths.
package update

import (
	"fmt"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/gogotex/gogotex/backend/odm/internal/bsonutil"
)

// Op is an update operator.
type Op string

const (
	Set         Op = "$set"
	Unset       Op = "$unset"
	Inc         Op = "$inc"
	Push        Op = "$push"
	PushAll     Op = "$pushAll"
	Pull        Op = "$pull"
	PullAll     Op = "$pullAll"
	AddToSet    Op = "$addToSet"
	Pop         Op = "$pop"
	SetOnInsert Op = "$setOnInsert"
)

// Versioned reports whether the operator takes part in optimistic versioning.
func (op Op) Versioned() bool {
	switch op {
	case Set, Unset, Pop, Pull, PullAll, Push, PushAll, AddToSet:
		return true
	}
	return false
}

// Appends reports whether the operator only appends to an array.
func (op Op) Appends() bool {
	return op == Push || op == PushAll || op == AddToSet
}

// Positional reports whether the operator may shift array positions.
func (op Op) Positional() bool {
	return op == Pop || op == Pull || op == PullAll
}

// Update is an operator -> {path: value} document.
type Update map[Op]bson.M

// Put records value for path under op, replacing a previous value.
func (u Update) Put(op Op, path string, value any) {
	fields, ok := u[op]
	if !ok {
		fields = bson.M{}
		u[op] = fields
	}
	fields[path] = value
}

// Get returns the value recorded for path under op.
func (u Update) Get(op Op, path string) (any, bool) {
	fields, ok := u[op]
	if !ok {
		return nil, false
	}
	v, ok := fields[path]
	return v, ok
}

func (u Update) Has(op Op, path string) bool {
	_, ok := u.Get(op, path)
	return ok
}

func (u Update) Empty() bool {
	for _, fields := range u {
		if len(fields) > 0 {
			return false
		}
	}
	return true
}

// Paths lists every path touched by the update, sorted.
func (u Update) Paths() []string {
	var out []string
	for _, fields := range u {
		for p := range fields {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// BSON returns the update in driver form.
func (u Update) BSON() bson.M {
	out := bson.M{}
	for op, fields := range u {
		if len(fields) == 0 {
			continue
		}
		out[string(op)] = fields
	}
	return out
}

// FromBSON reads an update document. Top-level keys that are not operators are
// treated as $set fields.
func FromBSON(m bson.M) (Update, error) {
	u := Update{}
	for k, v := range m {
		if !strings.HasPrefix(k, "$") {
			u.Put(Set, k, bsonutil.Clone(v))
			continue
		}
		fields, ok := bsonutil.AsMap(v)
		if !ok {
			return nil, fmt.Errorf("update: operator %s expects a document, got %T", k, v)
		}
		for p, x := range fields {
			u.Put(Op(k), p, bsonutil.Clone(x))
		}
	}
	return u, nil
}
