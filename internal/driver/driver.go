// Package driver is the storage boundary of the ODM. Collections are addressed
// by name; filters, updates and results are bson.M values whose arrays are
// []any.
package driver

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
)

var (
	ErrNotFound     = errors.New("driver: document not found")
	ErrDuplicateKey = errors.New("driver: duplicate key")
)

type FindOptions struct {
	Projection bson.M
	Sort       bson.D
	Skip       int64
	Limit      int64
}

type UpdateOptions struct {
	Upsert bool
	Multi  bool
}

type UpdateResult struct {
	Matched  int64
	Modified int64
	// UpsertedID is set when the update inserted a document.
	UpsertedID any
}

type FindAndModifyOptions struct {
	Projection bson.M
	Sort       bson.D
	Upsert     bool
	// ReturnNew returns the document after the update instead of before it.
	ReturnNew bool
}

// Driver executes queries against a store.
type Driver interface {
	Find(ctx context.Context, coll string, filter bson.M, opts FindOptions) ([]bson.M, error)
	// FindAndModify updates the first matching document. ErrNotFound is
	// returned when nothing matched and nothing was upserted.
	FindAndModify(ctx context.Context, coll string, filter, update bson.M, opts FindAndModifyOptions) (bson.M, error)
	Update(ctx context.Context, coll string, filter, update bson.M, opts UpdateOptions) (UpdateResult, error)
	Insert(ctx context.Context, coll string, doc bson.M) error
	// Delete removes the matching documents and reports how many there were.
	Delete(ctx context.Context, coll string, filter bson.M) (int64, error)
}
