// Package document implements the in-memory, change-tracked form of a stored
// record: its value tree, the original snapshot, dirty paths, the queued
// atomic array operations and the metadata gathered while it was loaded.
package document

import (
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/gogotex/gogotex/backend/odm/internal/bsonutil"
	"github.com/gogotex/gogotex/backend/odm/internal/query"
	"github.com/gogotex/gogotex/backend/odm/internal/schema"
	"github.com/gogotex/gogotex/backend/odm/internal/version"
)

// DirtyPath is a modified path with its current value. Absent is set when the
// path was removed. A path carrying Atomics is persisted through those
// operators instead of a whole-value replacement.
type DirtyPath struct {
	Path    string
	Value   any
	Absent  bool
	Atomics []Atomic
}

// Populated records how a path was populated.
type Populated struct {
	// IDs are the reference values that were replaced.
	IDs     []any
	Match   bson.M
	Select  query.Projection
	Options query.Options
	// IDField is the identity field of the populated model, "_id" when empty.
	IDField string
}

// Restrictive reports whether the populate query may have returned a subset
// of the referenced documents, or documents without their identity.
func (p *Populated) Restrictive() bool {
	if p == nil {
		return false
	}
	idField := p.IDField
	if idField == "" {
		idField = "_id"
	}
	return len(p.Match) > 0 || p.Options.Limit > 0 || p.Options.Skip > 0 || p.Select.ExcludesField(idField)
}

type Document struct {
	schema   *schema.Schema
	values   bson.M
	original bson.M

	dirty   []string
	atomics map[string][]Atomic

	selected     query.Projection
	populated    map[string]*Populated
	ver          version.Controller
	isNew        bool
	wasPopulated bool
}

// New builds an unsaved document, casting values through the schema.
func New(s *schema.Schema, values bson.M) (*Document, error) {
	d := &Document{schema: s, values: bson.M{}, isNew: true}
	if err := d.castInto("", values); err != nil {
		return nil, err
	}
	d.original = bson.M{}
	return d, nil
}

func (d *Document) castInto(prefix string, values map[string]any) error {
	for k, v := range values {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if d.schema.PathType(path).Kind == schema.Nested {
			if m, ok := bsonutil.AsMap(v); ok {
				if err := d.castInto(path, m); err != nil {
					return err
				}
				continue
			}
		}
		cast, err := d.schema.Cast(path, v)
		if err != nil {
			return err
		}
		bsonutil.Set(d.values, path, cast, nil)
	}
	return nil
}

// Hydrate wraps a stored record loaded with the given selection. Stored values
// are trusted and not cast.
func Hydrate(s *schema.Schema, raw bson.M, selected query.Projection) *Document {
	values := bsonutil.CloneMap(raw)
	if values == nil {
		values = bson.M{}
	}
	return &Document{
		schema:   s,
		values:   values,
		original: bsonutil.CloneMap(values),
		selected: selected,
	}
}

func (d *Document) Schema() *schema.Schema { return d.schema }

// ID returns the identity value.
func (d *Document) ID() any { return d.values[d.schema.IDField] }

// Tree exposes the live value tree.
func (d *Document) Tree() bson.M { return d.values }

// Get reads a dotted path. Paths crossing arrays yield one value per element.
func (d *Document) Get(path string) any { return bsonutil.Get(d.values, path) }

// Lookup is Get that also reports presence.
func (d *Document) Lookup(path string) (any, bool) { return bsonutil.Lookup(d.values, path) }

// Original reads a path from the last persisted snapshot.
func (d *Document) Original(path string) any { return bsonutil.Get(d.original, path) }

// Set casts v and writes it at path. Writing an equal value to a clean path
// is a no-op.
func (d *Document) Set(path string, v any) error {
	if d.schema.IsVirtual(path) {
		bsonutil.Set(d.values, path, v, nil)
		return nil
	}
	cast, err := d.schema.Cast(path, v)
	if err != nil {
		return err
	}
	prior, exists := bsonutil.Lookup(d.values, path)
	if exists && !d.IsModified(path) && bsonutil.Equal(prior, cast) {
		return nil
	}
	// Replacing a populated array keeps its populate record so a save can
	// detect that the stored array may hold elements this view never loaded.
	if !bsonutil.IsArray(cast) {
		d.depopulate(path)
	}
	bsonutil.Set(d.values, path, cast, nil)
	d.markDirty(path)
	return nil
}

// Unset removes path.
func (d *Document) Unset(path string) {
	if _, exists := bsonutil.Lookup(d.values, path); !exists {
		return
	}
	d.depopulate(path)
	bsonutil.Delete(d.values, path)
	d.markDirty(path)
}

// MarkModified flags path for a whole-value write, e.g. after mutating a
// Mixed value in place.
func (d *Document) MarkModified(path string) { d.markDirty(path) }

// IsModified reports whether path, one of its ancestors or descendants is dirty.
func (d *Document) IsModified(path string) bool {
	for _, p := range d.dirty {
		if p == path || strings.HasPrefix(path, p+".") || strings.HasPrefix(p, path+".") {
			return true
		}
	}
	return false
}

func (d *Document) isDirty(path string) bool {
	for _, p := range d.dirty {
		if p == path {
			return true
		}
	}
	return false
}

// markDirty records a whole-value write of path. Queued atomics of the path
// and its descendants are discarded; an ancestor with queued atomics is
// collapsed into a replacement of the ancestor.
func (d *Document) markDirty(path string) {
	for p := range d.atomics {
		if strings.HasPrefix(path, p+".") {
			delete(d.atomics, p)
			d.addDirty(p)
			return
		}
	}
	for p := range d.atomics {
		if p == path || strings.HasPrefix(p, path+".") {
			delete(d.atomics, p)
		}
	}
	d.addDirty(path)
}

func (d *Document) addDirty(path string) {
	if !d.isDirty(path) {
		d.dirty = append(d.dirty, path)
	}
}

// Dirty returns the minimal set of modified paths in modification order:
// paths under another dirty path are covered by it and omitted.
func (d *Document) Dirty() []DirtyPath {
	var out []DirtyPath
	for _, p := range d.dirty {
		if d.coveredByAncestor(p) {
			continue
		}
		v, exists := bsonutil.Lookup(d.values, p)
		dp := DirtyPath{Path: p, Value: v, Absent: !exists}
		if log, ok := d.atomics[p]; ok {
			dp.Atomics = append([]Atomic(nil), log...)
		}
		out = append(out, dp)
	}
	return out
}

func (d *Document) coveredByAncestor(path string) bool {
	for _, p := range d.dirty {
		if p != path && strings.HasPrefix(path, p+".") {
			return true
		}
	}
	return false
}

// DirtyPaths lists the modified path names.
func (d *Document) DirtyPaths() []string {
	dirty := d.Dirty()
	out := make([]string, len(dirty))
	for i, dp := range dirty {
		out[i] = dp.Path
	}
	return out
}

// Reset forgets all pending changes after a successful persist: the dirty set,
// queued atomics and version state are cleared together and the current tree
// becomes the original.
func (d *Document) Reset() {
	d.dirty = nil
	d.atomics = nil
	d.ver.Reset()
	d.isNew = false
	d.original = bsonutil.CloneMap(d.values)
}

// Version exposes the version controller of the current save cycle.
func (d *Document) Version() *version.Controller { return &d.ver }

// Increment requests a conflict check and a version increment on the next save.
func (d *Document) Increment() { d.ver.RequestAll() }

// VersionValue returns the stored version, if the schema versions documents
// and the value is loaded.
func (d *Document) VersionValue() (any, bool) {
	if d.schema.VersionKey == "" {
		return nil, false
	}
	return bsonutil.Lookup(d.values, d.schema.VersionKey)
}

// SetRaw writes v at path without casting or change tracking.
func (d *Document) SetRaw(path string, v any) { bsonutil.Set(d.values, path, v, nil) }

// DeleteRaw removes path without change tracking.
func (d *Document) DeleteRaw(path string) { bsonutil.Delete(d.values, path) }

func (d *Document) IsNew() bool { return d.isNew }

// Selected returns the projection the document was loaded with.
func (d *Document) Selected() query.Projection { return d.selected }

// IsSelected reports whether path was loaded.
func (d *Document) IsSelected(path string) bool { return d.selected.Selects(path) }

// Populated returns the populate record of path, or nil.
func (d *Document) Populated(path string) *Populated {
	return d.populated[path]
}

// SetPopulated records that path holds populated documents.
func (d *Document) SetPopulated(path string, p *Populated) {
	if d.populated == nil {
		d.populated = map[string]*Populated{}
	}
	d.populated[path] = p
}

// PopulatedPaths lists populated paths, sorted.
func (d *Document) PopulatedPaths() []string {
	out := make([]string, 0, len(d.populated))
	for p := range d.populated {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (d *Document) depopulate(path string) {
	for p := range d.populated {
		if p == path || strings.HasPrefix(p, path+".") {
			delete(d.populated, p)
		}
	}
}

// WasPopulated reports whether the document was loaded by a populate query.
func (d *Document) WasPopulated() bool { return d.wasPopulated }

func (d *Document) MarkPopulatedResult() { d.wasPopulated = true }

// ToMap returns a deep copy of the document for storage: populated documents
// are reduced to their identity and virtual paths are dropped.
func (d *Document) ToMap() bson.M {
	out := Depopulate(d.values).(bson.M)
	for _, p := range d.schema.Virtuals() {
		bsonutil.Delete(out, p)
	}
	return out
}

// Depopulate deep-copies v, reducing populated documents to their identity.
func Depopulate(v any) any {
	switch t := v.(type) {
	case bsonutil.Identifiable:
		return bsonutil.Clone(t.ID())
	case bson.M:
		out := make(bson.M, len(t))
		for k, x := range t {
			out[k] = Depopulate(x)
		}
		return out
	case map[string]any:
		out := make(bson.M, len(t))
		for k, x := range t {
			out[k] = Depopulate(x)
		}
		return out
	}
	if arr, ok := bsonutil.AsSlice(v); ok {
		out := make([]any, len(arr))
		for i, x := range arr {
			out[i] = Depopulate(x)
		}
		return out
	}
	return bsonutil.Clone(v)
}
