package document

import (
	"strings"

	"github.com/gogotex/gogotex/backend/odm/internal/bsonutil"
	"github.com/gogotex/gogotex/backend/odm/internal/schema"
	"github.com/gogotex/gogotex/backend/odm/internal/update"
)

// Atomic is one queued array operation.
type Atomic struct {
	Op     update.Op
	Values []any
}

// Push appends values to the array at path.
func (d *Document) Push(path string, values ...any) error {
	cast, err := d.castElements(path, values)
	if err != nil {
		return err
	}
	arr := d.array(path)
	arr = append(arr, cast...)
	d.SetRaw(path, arr)
	d.registerAtomic(path, update.Push, cast)
	return nil
}

// AddToSet appends the values not already present in the array at path.
func (d *Document) AddToSet(path string, values ...any) error {
	cast, err := d.castElements(path, values)
	if err != nil {
		return err
	}
	arr := d.array(path)
	idField := d.elementIDField(path)
	var added []any
	for _, v := range cast {
		if indexOf(arr, v, idField) < 0 && indexOf(added, v, idField) < 0 {
			added = append(added, v)
		}
	}
	if len(added) == 0 {
		return nil
	}
	d.SetRaw(path, append(arr, added...))
	d.registerAtomic(path, update.AddToSet, added)
	return nil
}

// Pull removes every element equal to one of values. Documents match by identity.
func (d *Document) Pull(path string, values ...any) error {
	return d.remove(path, update.Pull, values)
}

// PullAll is Pull persisted with $pullAll.
func (d *Document) PullAll(path string, values ...any) error {
	return d.remove(path, update.PullAll, values)
}

func (d *Document) remove(path string, op update.Op, values []any) error {
	cast, err := d.castElements(path, values)
	if err != nil {
		return err
	}
	arr := d.array(path)
	idField := d.elementIDField(path)
	kept := make([]any, 0, len(arr))
	for _, el := range arr {
		if indexOf(cast, el, idField) < 0 {
			kept = append(kept, el)
		}
	}
	if len(kept) == len(arr) {
		return nil
	}
	d.SetRaw(path, kept)
	d.registerAtomic(path, op, cast)
	return nil
}

// Pop removes the last element, or the first when fromEnd is false.
// Popping a path twice in one save cycle persists the whole array.
func (d *Document) Pop(path string, fromEnd bool) any {
	arr := d.array(path)
	if len(arr) == 0 {
		return nil
	}
	var (
		out  any
		dir  = 1
		rest []any
	)
	if fromEnd {
		out, rest = arr[len(arr)-1], arr[:len(arr)-1]
	} else {
		out, rest, dir = arr[0], arr[1:], -1
	}
	d.SetRaw(path, append([]any(nil), rest...))
	d.registerAtomic(path, update.Pop, []any{dir})
	return out
}

// registerAtomic queues op for path. A path holds one kind of operator per
// save cycle; mixing operators, popping twice or mutating under a path that is
// already replaced collapses to a whole-value write.
func (d *Document) registerAtomic(path string, op update.Op, values []any) {
	for _, p := range d.dirty {
		if p != path && strings.HasPrefix(path, p+".") {
			d.markDirty(p)
			return
		}
	}
	log, queued := d.atomics[path]
	if d.isDirty(path) && !queued {
		return
	}
	if queued && (log[0].Op != op || op == update.Pop) {
		d.markDirty(path)
		return
	}
	if d.atomics == nil {
		d.atomics = map[string][]Atomic{}
	}
	d.atomics[path] = append(log, Atomic{Op: op, Values: values})
	d.addDirty(path)
}

// Atomics returns the queued operations of path.
func (d *Document) Atomics(path string) []Atomic {
	return append([]Atomic(nil), d.atomics[path]...)
}

func (d *Document) array(path string) []any {
	arr, _ := bsonutil.AsSlice(d.Get(path))
	return arr
}

func (d *Document) castElements(path string, values []any) ([]any, error) {
	pt := d.schema.PathType(path + ".0")
	if pt.Kind != schema.Real || pt.Caster == nil {
		return values, nil
	}
	out := make([]any, len(values))
	for i, v := range values {
		cast, err := pt.Caster.Cast(v)
		if err != nil {
			return nil, &schema.CastError{Path: path, Type: pt.Caster.Name(), Value: v, Reason: err}
		}
		out[i] = cast
	}
	return out, nil
}

func indexOf(arr []any, v any, idField string) int {
	for i, el := range arr {
		if bsonutil.Equal(el, v) || sameIdentity(el, v, idField) {
			return i
		}
	}
	return -1
}

// elementIDField is the identity field of the documents stored in the array
// at path: the embedded schema's when declared, otherwise the document's.
func (d *Document) elementIDField(path string) string {
	if pt := d.schema.PathType(path + ".0"); pt.Schema != nil {
		return pt.Schema.IDField
	}
	return d.schema.IDField
}

func identity(v any, idField string) (any, bool) {
	if doc, ok := v.(*Document); ok {
		id := doc.ID()
		return id, id != nil
	}
	m, ok := bsonutil.AsMap(v)
	if !ok {
		return nil, false
	}
	id, has := m[idField]
	return id, has
}

func sameIdentity(a, b any, idField string) bool {
	aid, aHas := identity(a, idField)
	bid, bHas := identity(b, idField)
	return aHas && bHas && bsonutil.Equal(aid, bid)
}
