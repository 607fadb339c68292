package populate

import (
	"fmt"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/gogotex/gogotex/backend/odm/internal/bsonutil"
	"github.com/gogotex/gogotex/backend/odm/internal/document"
	"github.com/gogotex/gogotex/backend/odm/internal/schema"
)

// IDValue is the reference value read off one document. Arrays keep their
// nesting; populated documents are reduced to their identity.
type IDValue struct {
	Value   any
	IsArray bool
}

func newIDValue(raw any) IDValue {
	v := reduce(raw)
	return IDValue{Value: v, IsArray: bsonutil.IsArray(v)}
}

func reduce(v any) any {
	if id, ok := v.(bsonutil.Identifiable); ok {
		return id.ID()
	}
	if arr, ok := bsonutil.AsSlice(v); ok {
		out := make([]any, len(arr))
		for i, x := range arr {
			out[i] = reduce(x)
		}
		return out
	}
	return v
}

// Flatten lists the scalar ids, dropping nils.
func (v IDValue) Flatten() []any {
	var out []any
	var walk func(any)
	walk = func(x any) {
		if arr, ok := bsonutil.AsSlice(x); ok {
			for _, el := range arr {
				walk(el)
			}
			return
		}
		if x != nil {
			out = append(out, x)
		}
	}
	walk(v.Value)
	return out
}

// ModelGroup collects the documents whose references at one path point to the
// same model. Docs, IDs and Positions are parallel.
type ModelGroup struct {
	Model Model
	// Descriptor carries the effective options: the virtual's declared match
	// and options with the caller's on top.
	Descriptor Descriptor
	Docs       []any
	IDs        []IDValue
	// Positions is the array position a per-element target model applies to,
	// -1 when the whole value belongs to this model.
	Positions    []int
	LocalField   string
	ForeignField string
	JustOne      bool
	IsVirtual    bool
}

type getter struct{ v any }

func (g getter) Get(path string) any { return bsonutil.Get(g.v, path) }

// Plan groups docs by target model for one descriptor. Documents whose
// target model cannot be determined are left out.
func Plan(r Resolver, source Model, docs []any, d Descriptor) ([]*ModelGroup, error) {
	base := source.Schema()
	var (
		groups = map[string]*ModelGroup{}
		order  []*ModelGroup
	)
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		g := getter{doc}
		s, err := schemaFor(base, doc)
		if err != nil {
			return nil, err
		}
		pt := s.Path(d.Path)
		virtual := s.Virtual(d.Path)
		if pt != nil && pt.UnderneathDocArray && len(d.Options.Sort) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrSortUnderDocArray, d.Path)
		}

		names, perElement := modelNames(source, s, pt, virtual, d, g)
		if len(names) == 0 {
			continue
		}

		var (
			local, foreign string
			justOne        bool
		)
		if virtual != nil {
			local = virtual.LocalField.Resolve(g)
			foreign = virtual.ForeignField.Resolve(g)
			if local == "" || foreign == "" {
				return nil, fmt.Errorf("%w: %s", ErrMissingJoinFields, d.Path)
			}
			justOne = virtual.JustOne
		} else {
			local = d.LocalField.Resolve(g)
			if local == "" {
				local = d.Path
			}
			foreign = d.ForeignField.Resolve(g)
		}
		if d.JustOne != nil {
			justOne = *d.JustOne
		}

		ids := newIDValue(g.Get(local))
		var elems []any
		if perElement {
			elems, _ = bsonutil.AsSlice(ids.Value)
		}

		for k, name := range names {
			if name == "" {
				continue
			}
			grp, ok := groups[name]
			if !ok {
				m, err := r.Lookup(name)
				if err != nil {
					return nil, fmt.Errorf("populate %s: %w", d.Path, err)
				}
				f := foreign
				if f == "" {
					f = m.Schema().IDField
				}
				grp = &ModelGroup{
					Model:        m,
					Descriptor:   effective(d, virtual),
					LocalField:   local,
					ForeignField: f,
					JustOne:      justOne,
					IsVirtual:    virtual != nil,
				}
				groups[name] = grp
				order = append(order, grp)
			}
			id, pos := ids, -1
			if perElement {
				if k >= len(elems) {
					continue
				}
				id, pos = newIDValue(elems[k]), k
			}
			grp.Docs = append(grp.Docs, doc)
			grp.IDs = append(grp.IDs, id)
			grp.Positions = append(grp.Positions, pos)
		}
	}
	return order, nil
}

// schemaFor picks the schema describing doc: its own for hydrated documents,
// the variant named by the stored tag for plain maps.
func schemaFor(base *schema.Schema, doc any) (*schema.Schema, error) {
	if d, ok := doc.(*document.Document); ok {
		return d.Schema(), nil
	}
	root := base.Base()
	if !root.HasVariants() {
		return base, nil
	}
	tag, _ := bsonutil.Get(doc, root.DiscriminatorKey()).(string)
	if tag == "" {
		return base, nil
	}
	v, ok := root.Variant(tag)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDiscriminator, tag)
	}
	return v, nil
}

// modelNames returns the target model names for one document. perElement is
// set when the names were read from an array and apply position-wise.
func modelNames(source Model, s *schema.Schema, pt *schema.PathType, virtual *schema.VirtualSpec, d Descriptor, g getter) (names []string, perElement bool) {
	switch {
	case d.Model != "":
		return []string{d.Model}, false
	case pt != nil && pt.RefPath != "":
		v := g.Get(pt.RefPath)
		if arr, ok := bsonutil.AsSlice(v); ok {
			names = make([]string, len(arr))
			for i, x := range arr {
				names[i], _ = x.(string)
			}
			return names, true
		}
		if name, _ := v.(string); name != "" {
			return []string{name}, false
		}
		return nil, false
	case pt != nil && !pt.Ref.IsZero():
		return []string{pt.Ref.Resolve(g)}, false
	case virtual != nil && !virtual.Ref.IsZero():
		return []string{virtual.Ref.Resolve(g)}, false
	case s.Base().HasVariants():
		return nil, false
	}
	return []string{source.Name()}, false
}

func effective(d Descriptor, v *schema.VirtualSpec) Descriptor {
	if v == nil {
		return d
	}
	d.Options = d.Options.Merge(v.Options)
	if len(v.Match) > 0 {
		m := bsonutil.CloneMap(v.Match)
		for k, x := range d.Match {
			m[k] = x
		}
		d.Match = m
	}
	return d
}

// positional returns path with position k inserted after the first array
// crossed on doc: "items" -> "items.k", "blocks.item" -> "blocks.k.item".
func positional(doc any, path string, k int) string {
	parts := strings.Split(path, ".")
	idx := strconv.Itoa(k)
	for i := 1; i < len(parts); i++ {
		if bsonutil.IsArray(bsonutil.Get(doc, strings.Join(parts[:i], "."))) {
			out := append(append(append([]string{}, parts[:i]...), idx), parts[i:]...)
			return strings.Join(out, ".")
		}
	}
	return path + "." + idx
}

func cloneMatch(m bson.M) bson.M {
	if m == nil {
		return bson.M{}
	}
	return bsonutil.CloneMap(m)
}
