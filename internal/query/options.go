package query

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Options are the cursor options of a find.
type Options struct {
	Sort  bson.D
	Skip  int64
	Limit int64
	// Lean returns plain bson.M results instead of tracked documents.
	Lean bool
}

// ParseSort turns "-createdAt name" into an ordered sort document.
func ParseSort(s string) bson.D {
	var d bson.D
	for _, f := range strings.Fields(s) {
		dir := 1
		if strings.HasPrefix(f, "-") {
			dir = -1
			f = f[1:]
		} else if strings.HasPrefix(f, "+") {
			f = f[1:]
		}
		d = append(d, bson.E{Key: f, Value: dir})
	}
	return d
}

// Merge fills the unset fields of o from defaults.
func (o Options) Merge(defaults Options) Options {
	if len(o.Sort) == 0 {
		o.Sort = defaults.Sort
	}
	if o.Skip == 0 {
		o.Skip = defaults.Skip
	}
	if o.Limit == 0 {
		o.Limit = defaults.Limit
	}
	if !o.Lean {
		o.Lean = defaults.Lean
	}
	return o
}
