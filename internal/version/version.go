// Package version tracks the optimistic concurrency requirements of a pending
// write: whether the persisted version must gate the write (Where) and whether
// it must be incremented (Inc).
package version

import (
	"github.com/gogotex/gogotex/backend/odm/internal/bsonutil"
	"github.com/gogotex/gogotex/backend/odm/internal/update"
)

type State uint8

const (
	Where State = 1 << iota
	Inc
	All = Where | Inc
)

func (s State) Has(bits State) bool { return bits != 0 && s&bits == bits }

func (s State) String() string {
	switch s {
	case 0:
		return "none"
	case Where:
		return "where"
	case Inc:
		return "inc"
	}
	return "all"
}

// Controller holds the version state of one document for one save cycle.
// Bits only accumulate; the state is cleared by Reset after a successful persist.
type Controller struct {
	state State
}

func (c *Controller) State() State { return c.state }

// Request adds bits to the state.
func (c *Controller) Request(bits State) { c.state |= bits }

// RequestAll forces a conflict check and an increment on the next save.
func (c *Controller) RequestAll() { c.state = All }

func (c *Controller) Reset() { c.state = 0 }

// Observe applies the versioning rules for op written at path with value.
func (c *Controller) Observe(op update.Op, path string, value any) {
	if !op.Versioned() || c.state == All {
		return
	}
	switch {
	case op.Appends():
		c.Request(Inc)
	case op.Positional():
		c.RequestAll()
	case bsonutil.IsArray(value):
		c.RequestAll()
	case bsonutil.HasIndexSegment(path):
		c.Request(Where)
	}
}

// Skipped reports whether path is exempt from versioning. Array positions are
// ignored, so exempting "comments" also exempts "comments.3.body"'s parent.
func Skipped(exempt map[string]bool, path string) bool {
	if len(exempt) == 0 {
		return false
	}
	return exempt[path] || exempt[bsonutil.StripIndexes(path)]
}
