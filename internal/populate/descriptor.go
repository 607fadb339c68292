// Package populate resolves references between documents of different models:
// it plans one query per target model, issues the queries and writes the
// returned documents back onto the referencing documents.
package populate

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/gogotex/gogotex/backend/odm/internal/query"
	"github.com/gogotex/gogotex/backend/odm/internal/schema"
)

var (
	// ErrMissingJoinFields is returned for a virtual without localField or foreignField.
	ErrMissingJoinFields = errors.New("populate: virtual requires localField and foreignField")
	// ErrUnknownDiscriminator is returned when a stored discriminator tag has no variant.
	ErrUnknownDiscriminator = errors.New("populate: unknown discriminator value")
	// ErrSortUnderDocArray is returned when sorting a path inside a document array.
	ErrSortUnderDocArray = errors.New("populate: cannot sort a path underneath a document array")
)

// Descriptor describes one path to populate.
type Descriptor struct {
	Path    string
	Select  query.Projection
	Match   bson.M
	Model   string
	Options query.Options
	// Populate is applied to the populated documents.
	Populate []Descriptor
	// LocalField and ForeignField override the join of a stored reference.
	LocalField   schema.Field
	ForeignField schema.Field
	JustOne      *bool
}

// Expand splits descriptors whose Path lists several space separated paths
// into one descriptor per path sharing the other options.
func Expand(ds ...Descriptor) []Descriptor {
	var out []Descriptor
	for _, d := range ds {
		paths := strings.Fields(d.Path)
		for _, p := range paths {
			c := d
			c.Path = p
			out = append(out, c)
		}
	}
	return out
}

// Paths builds plain descriptors from "author comments.author".
func Paths(s string) []Descriptor {
	return Expand(Descriptor{Path: s})
}

// Query is what a target model is asked to load.
type Query struct {
	Select   query.Projection
	Options  query.Options
	Populate []Descriptor
}

// Model is a populate target. Find returns hydrated documents, or bson.M
// values for lean queries.
type Model interface {
	Name() string
	Schema() *schema.Schema
	Find(ctx context.Context, filter bson.M, q Query) ([]any, error)
}

// Resolver finds models by name.
type Resolver interface {
	Lookup(name string) (Model, error)
}
