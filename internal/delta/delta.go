// Package delta compiles the pending changes of a document into the filter and
// update operators that persist them, applying optimistic versioning.
package delta

import (
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/gogotex/gogotex/backend/odm/internal/bsonutil"
	"github.com/gogotex/gogotex/backend/odm/internal/document"
	"github.com/gogotex/gogotex/backend/odm/internal/update"
	"github.com/gogotex/gogotex/backend/odm/internal/version"
)

// ErrMissingID is returned for documents without an identity value.
var ErrMissingID = errors.New("delta: document has no identity")

// DivergentArrayError names arrays whose in-memory form is a filtered view of
// the stored array, so writing them would lose or corrupt stored elements.
type DivergentArrayError struct {
	Paths []string
}

func (e *DivergentArrayError) Error() string {
	return fmt.Sprintf("delta: cannot save arrays loaded through an $elemMatch projection or a restrictive populate "+
		"(match, skip, limit or excluded _id) when they are replaced or popped: %s", strings.Join(e.Paths, ", "))
}

// Delta is the write for one document.
type Delta struct {
	Where  bson.M
	Update update.Update
}

// Compute returns the write persisting doc's pending changes, or nil when
// there is nothing to write. Version requirements observed while compiling are
// recorded on the document and kept until it is reset.
func Compute(doc *document.Document) (*Delta, error) {
	dirty := doc.Dirty()
	if len(dirty) == 0 && doc.Version().State() != version.All {
		return nil, nil
	}

	s := doc.Schema()
	id := doc.ID()
	if id == nil {
		return nil, ErrMissingID
	}
	c := &compiler{
		doc:   doc,
		where: bson.M{s.IDField: document.Depopulate(id)},
		upd:   update.Update{},
	}

	var divergent []string
	selected := doc.Selected()
	for _, dp := range dirty {
		if p := checkDivergent(doc, dp); p != "" {
			divergent = append(divergent, p)
			continue
		}

		path := dp.Path
		if doc.Populated(path) == nil && selected != nil {
			parts := strings.Split(path, ".")
			top := parts[0]
			if sel, ok := bsonutil.AsMap(selected[top]); ok {
				if _, elemMatch := sel["$elemMatch"]; elemMatch {
					if _, constrained := c.where[top]; len(parts) > 1 && parts[1] == "0" && !constrained {
						c.where[top] = selected[top]
						parts[1] = "$"
						path = strings.Join(parts, ".")
					} else {
						divergent = append(divergent, path)
						continue
					}
				}
			}
		}
		if len(divergent) > 0 {
			continue
		}

		switch {
		case dp.Absent:
			c.operand(update.Unset, path, 1)
		case dp.Value == nil:
			c.operand(update.Set, path, nil)
		case len(dp.Atomics) > 0:
			c.atomics(path, dp.Atomics)
		default:
			c.operand(update.Set, path, c.storable(dp.Path, dp.Value))
		}
	}
	if len(divergent) > 0 {
		return nil, &DivergentArrayError{Paths: divergent}
	}

	if doc.Version().State() != 0 {
		c.version()
	}
	// an increment on a document loaded without its version key adds nothing
	if c.upd.Empty() {
		return nil, nil
	}
	return &Delta{Where: c.where, Update: c.upd}, nil
}

type compiler struct {
	doc   *document.Document
	where bson.M
	upd   update.Update
}

// operand records one operator and applies its versioning rule.
func (c *compiler) operand(op update.Op, path string, value any) {
	c.upd.Put(op, path, value)

	s := c.doc.Schema()
	if s.VersionKey == "" || version.Skipped(s.SkipVersioning, path) {
		return
	}
	c.doc.Version().Observe(op, path, value)
}

// atomics emits the queued operations of path. The log of a path only ever
// holds one kind of operator.
func (c *compiler) atomics(path string, log []document.Atomic) {
	if c.upd.Has(update.Set, path) {
		return
	}
	op := log[0].Op
	var values []any
	for _, a := range log {
		for _, v := range a.Values {
			values = append(values, document.Depopulate(v))
		}
	}
	switch op {
	case update.Pop:
		c.operand(op, path, values[len(values)-1])
	case update.PullAll, update.PushAll:
		c.operand(op, path, values)
	case update.Pull:
		if len(values) == 1 {
			c.operand(op, path, values[0])
		} else {
			c.operand(op, path, bson.M{"$in": values})
		}
	default:
		if len(values) == 1 {
			c.operand(op, path, values[0])
		} else {
			c.operand(op, path, bson.M{"$each": values})
		}
	}
}

// storable deep-copies a value for a whole-value write, reducing populated
// documents to their identity and dropping virtual sub-fields.
func (c *compiler) storable(path string, v any) any {
	out := document.Depopulate(v)
	m, ok := bsonutil.AsMap(out)
	if !ok {
		return out
	}
	for _, vp := range c.doc.Schema().Virtuals() {
		if strings.HasPrefix(vp, path+".") {
			bsonutil.Delete(m, strings.TrimPrefix(vp, path+"."))
		}
	}
	return out
}

// version adds the conflict check and the increment requested for this save.
// Nothing is added unless the version key was loaded: without it the current
// version is unknown.
func (c *compiler) version() {
	key := c.doc.Schema().VersionKey
	if key == "" || !c.doc.IsSelected(key) {
		return
	}
	state := c.doc.Version().State()
	if state.Has(version.Where) {
		if v, ok := c.doc.VersionValue(); ok && v != nil {
			c.where[key] = v
		}
	}
	if state.Has(version.Inc) {
		if v, ok := c.upd.Get(update.Set, key); ok && v != nil {
			c.upd.Put(update.Set, key, increment(v))
		} else {
			c.upd.Put(update.Inc, key, 1)
		}
	}
}

func increment(v any) any {
	switch t := v.(type) {
	case int:
		return t + 1
	case int32:
		return t + 1
	case int64:
		return t + 1
	case float64:
		return t + 1
	}
	if f, ok := bsonutil.ToFloat(v); ok {
		return f + 1
	}
	return v
}

func checkDivergent(doc *document.Document, dp document.DirtyPath) string {
	pop := doc.Populated(dp.Path)
	if pop == nil && doc.Selected() != nil {
		top := strings.Split(dp.Path, ".")[0]
		if _, positional := doc.Selected()[top+".$"]; positional {
			return top
		}
	}
	if pop == nil || !bsonutil.IsArray(dp.Value) {
		return ""
	}
	if !pop.Restrictive() {
		return ""
	}
	if len(dp.Atomics) == 0 {
		return dp.Path
	}
	for _, a := range dp.Atomics {
		if a.Op == update.Pop {
			return dp.Path
		}
	}
	return ""
}
