package populate

import (
	"sort"

	"github.com/gogotex/gogotex/backend/odm/internal/bsonutil"
	"github.com/gogotex/gogotex/backend/odm/internal/document"
)

// assembler writes the results of one group back onto its documents.
type assembler struct {
	g    *ModelGroup
	opts assignOptions
	// found maps the key of a foreign value to its document, or to a []any of
	// documents for multi-valued joins.
	found map[string]any
	// rank holds the result positions of each found document.
	rank map[string][]int
}

func newAssembler(g *ModelGroup, opts assignOptions) *assembler {
	return &assembler{g: g, opts: opts, found: map[string]any{}, rank: map[string][]int{}}
}

func (a *assembler) index(results []any) {
	for i, res := range results {
		if res == nil {
			continue
		}
		if d, ok := res.(*document.Document); ok && !a.opts.lean {
			d.MarkPopulatedResult()
		}
		fv := reduce(bsonutil.Get(res, a.g.ForeignField))
		if arr, ok := bsonutil.AsSlice(fv); ok {
			for _, v := range arr {
				a.add(v, res, i)
			}
			continue
		}
		a.add(fv, res, i)
	}
}

func (a *assembler) add(v, res any, i int) {
	if v == nil {
		return
	}
	k := bsonutil.Key(v)
	prev, exists := a.found[k]
	switch {
	case !exists && a.g.IsVirtual && !a.g.JustOne:
		a.found[k] = []any{res}
	case !exists:
		a.found[k] = res
	default:
		if list, ok := prev.([]any); ok {
			a.found[k] = append(list, res)
		} else {
			a.found[k] = []any{prev, res}
		}
	}
	a.rank[k] = append(a.rank[k], i)
}

func (a *assembler) assign(path string, results []any) {
	a.index(results)
	for i, doc := range a.g.Docs {
		id := a.g.IDs[i]
		if pos := a.g.Positions[i]; pos >= 0 {
			v := a.first(a.found[bsonutil.Key(id.Value)])
			if v == nil || id.Value == nil {
				continue
			}
			bsonutil.Set(doc, positional(doc, path, pos), v, a.filter)
			a.markPopulated(doc, path, id, true)
			continue
		}
		if !a.g.IsVirtual && bsonutil.Get(doc, path) == nil {
			continue
		}

		var val any
		if id.IsArray {
			arr, _ := bsonutil.AsSlice(id.Value)
			val = a.resolveArray(arr)
		} else if id.Value != nil {
			val = a.found[bsonutil.Key(id.Value)]
		}

		single := (a.g.IsVirtual && a.g.JustOne) || (!a.g.IsVirtual && !id.IsArray)
		switch {
		case single:
			val = a.first(val)
		case !a.g.IsVirtual:
		case bsonutil.IsArray(val):
			arr, _ := bsonutil.AsSlice(val)
			val = flatten(arr)
		case val == nil:
			val = []any{}
		default:
			val = []any{val}
		}

		bsonutil.Set(doc, path, val, a.filter)
		a.markPopulated(doc, path, id, false)
	}
}

type ranked struct {
	rank int
	doc  any
}

// resolveArray maps an array of ids to their documents. Without a sort the
// id order is kept and unmatched ids stay in place; with a sort the documents
// follow result order and unmatched ids are dropped.
func (a *assembler) resolveArray(ids []any) []any {
	sorting := a.opts.sort && len(ids) > 1
	out := make([]any, 0, len(ids))
	var (
		byRank []ranked
		nested []any
		seen   = map[int]bool{}
	)
	for _, id := range ids {
		if sub, ok := bsonutil.AsSlice(id); ok {
			r := a.resolveArray(sub)
			if sorting {
				nested = append(nested, r)
			} else {
				out = append(out, r)
			}
			continue
		}
		var (
			doc   any
			found bool
		)
		if id != nil {
			doc, found = a.found[bsonutil.Key(id)]
		}
		if !sorting {
			if found {
				out = append(out, doc)
			} else {
				out = append(out, id)
			}
			continue
		}
		if !found {
			continue
		}
		k := bsonutil.Key(id)
		docs, isList := doc.([]any)
		if !isList {
			docs = []any{doc}
		}
		for j, d := range docs {
			r := a.rank[k][j]
			if seen[r] {
				continue
			}
			seen[r] = true
			byRank = append(byRank, ranked{rank: r, doc: d})
		}
	}
	if sorting {
		sort.SliceStable(byRank, func(i, j int) bool { return byRank[i].rank < byRank[j].rank })
		for _, r := range byRank {
			out = append(out, r.doc)
		}
		out = append(out, nested...)
	}
	return out
}

// flatten merges the per-id match lists of a multi-valued virtual, keeping
// each document once.
func flatten(vals []any) []any {
	out := make([]any, 0, len(vals))
	seen := map[string]bool{}
	var walk func(any)
	walk = func(v any) {
		if list, ok := bsonutil.AsSlice(v); ok {
			for _, x := range list {
				walk(x)
			}
			return
		}
		if isDoc(v) {
			k := bsonutil.Key(v)
			if seen[k] {
				return
			}
			seen[k] = true
		}
		out = append(out, v)
	}
	walk(vals)
	return out
}

func (a *assembler) first(v any) any {
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return nil
		}
		return list[0]
	}
	return v
}

// filter runs on every value written: arrays keep documents only, up to the
// caller's limit, scalars that did not resolve become nil.
func (a *assembler) filter(v any) any {
	if arr, ok := bsonutil.AsSlice(v); ok {
		out := make([]any, 0, len(arr))
		for _, el := range arr {
			if a.opts.originalLimit > 0 && int64(len(out)) >= a.opts.originalLimit {
				break
			}
			if bsonutil.IsArray(el) {
				out = append(out, a.filter(el))
				continue
			}
			if !isDoc(el) {
				continue
			}
			out = append(out, a.stripID(el))
		}
		return out
	}
	if isDoc(v) {
		return a.stripID(v)
	}
	return nil
}

func isDoc(v any) bool {
	_, ok := bsonutil.AsMap(v)
	return ok
}

func (a *assembler) stripID(v any) any {
	if !a.opts.excludeID {
		return v
	}
	if d, ok := v.(*document.Document); ok {
		d.DeleteRaw(a.opts.idField)
		return d
	}
	if m, ok := bsonutil.AsMap(v); ok {
		delete(m, a.opts.idField)
	}
	return v
}

func (a *assembler) markPopulated(doc any, path string, id IDValue, merge bool) {
	d, ok := doc.(*document.Document)
	if !ok || a.opts.lean {
		return
	}
	if p := d.Populated(path); merge && p != nil {
		p.IDs = append(p.IDs, id.Flatten()...)
		return
	}
	d.SetPopulated(path, &document.Populated{
		IDs:     id.Flatten(),
		Match:   a.g.Descriptor.Match,
		Select:  a.g.Descriptor.Select,
		Options: a.g.Descriptor.Options,
		IDField: a.opts.idField,
	})
}
