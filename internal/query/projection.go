// Package query holds the read-side vocabulary shared by documents, models and
// population: field selections and find options.
package query

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/gogotex/gogotex/backend/odm/internal/bsonutil"
)

// Projection is a field selection: path -> 1 (include), 0 (exclude) or a
// projection operator document such as {$elemMatch: ...}.
type Projection bson.M

// ParseSelect accepts a space separated selection string ("name -_id"),
// a map or a Projection.
func ParseSelect(sel any) (Projection, error) {
	switch t := sel.(type) {
	case nil:
		return nil, nil
	case Projection:
		return t.Clone(), nil
	case bson.M:
		return Projection(bsonutil.CloneMap(t)), nil
	case map[string]any:
		return Projection(bsonutil.CloneMap(bson.M(t))), nil
	case string:
		fields := strings.Fields(t)
		if len(fields) == 0 {
			return nil, nil
		}
		p := Projection{}
		for _, f := range fields {
			switch {
			case strings.HasPrefix(f, "-"):
				p[f[1:]] = 0
			case strings.HasPrefix(f, "+"):
				p[f[1:]] = 1
			default:
				p[f] = 1
			}
		}
		return p, nil
	}
	return nil, fmt.Errorf("query: unsupported selection type %T", sel)
}

// MustSelect is ParseSelect for literals known to be valid.
func MustSelect(sel any) Projection {
	p, err := ParseSelect(sel)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Projection) Clone() Projection {
	if p == nil {
		return nil
	}
	return Projection(bsonutil.CloneMap(bson.M(p)))
}

// BSON returns the projection in driver form, nil when empty.
func (p Projection) BSON() bson.M {
	if len(p) == 0 {
		return nil
	}
	return bson.M(p)
}

func flag(v any) (bool, bool) {
	if b, ok := v.(bool); ok {
		return b, true
	}
	if f, ok := bsonutil.ToFloat(v); ok {
		return f != 0, true
	}
	return false, false
}

// Inclusive reports whether the selection lists fields to keep. _id is ignored
// since it may be excluded from either kind of projection.
func (p Projection) Inclusive() bool {
	for k, v := range p {
		if k == "_id" {
			continue
		}
		if on, ok := flag(v); ok {
			return on
		}
	}
	return false
}

// ExcludesID reports whether _id was deselected.
func (p Projection) ExcludesID() bool { return p.ExcludesField("_id") }

// ExcludesField reports whether field was explicitly deselected. Models with a
// custom identity ask this of their identity field.
func (p Projection) ExcludesField(field string) bool {
	v, ok := p[field]
	if !ok {
		return false
	}
	on, isFlag := flag(v)
	return isFlag && !on
}

// IncludesPath reports whether path, or one of its ancestors, is included.
func (p Projection) IncludesPath(path string) bool {
	for k, v := range p {
		on, ok := flag(v)
		if !ok || !on {
			continue
		}
		if k == path || strings.HasPrefix(path, k+".") {
			return true
		}
	}
	return false
}

// Selects reports whether a document loaded with this projection carries path.
func (p Projection) Selects(path string) bool {
	if len(p) == 0 {
		return true
	}
	if path == "_id" {
		return !p.ExcludesID()
	}
	if p.Inclusive() {
		for k, v := range p {
			if on, ok := flag(v); ok && !on {
				continue
			}
			if k == path || strings.HasPrefix(path, k+".") || strings.HasPrefix(k, path+".") {
				return true
			}
		}
		return false
	}
	for k, v := range p {
		if on, ok := flag(v); ok && !on {
			if k == path || strings.HasPrefix(path, k+".") {
				return false
			}
		}
	}
	return true
}
