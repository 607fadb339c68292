package driver

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/gogotex/gogotex/backend/odm/internal/bsonutil"
)

// Memory is an in-memory Driver used by tests and by the service when no
// MongoDB URI is configured. Documents keep insertion order.
type Memory struct {
	mu    sync.RWMutex
	colls map[string][]bson.M
}

func NewMemory() *Memory {
	return &Memory{colls: make(map[string][]bson.M)}
}

func (m *Memory) Find(_ context.Context, coll string, filter bson.M, opts FindOptions) ([]bson.M, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hits, err := m.match(coll, filter)
	if err != nil {
		return nil, err
	}
	sortDocs(hits, opts.Sort)
	if opts.Skip > 0 {
		if opts.Skip >= int64(len(hits)) {
			hits = nil
		} else {
			hits = hits[opts.Skip:]
		}
	}
	if opts.Limit > 0 && int64(len(hits)) > opts.Limit {
		hits = hits[:opts.Limit]
	}
	out := make([]bson.M, 0, len(hits))
	for _, d := range hits {
		out = append(out, Project(d, opts.Projection, filter))
	}
	return out, nil
}

// match returns the stored documents matching filter, in storage order.
// Callers hold the lock.
func (m *Memory) match(coll string, filter bson.M) ([]bson.M, error) {
	var out []bson.M
	for _, d := range m.colls[coll] {
		ok, err := Match(d, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *Memory) FindAndModify(_ context.Context, coll string, filter, update bson.M, opts FindAndModifyOptions) (bson.M, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hits, err := m.match(coll, filter)
	if err != nil {
		return nil, err
	}
	sortDocs(hits, opts.Sort)
	if len(hits) == 0 {
		if !opts.Upsert {
			return nil, ErrNotFound
		}
		d, err := m.upsert(coll, filter, update)
		if err != nil {
			return nil, err
		}
		if !opts.ReturnNew {
			return nil, ErrNotFound
		}
		return Project(d, opts.Projection, filter), nil
	}
	d := hits[0]
	before := bsonutil.CloneMap(d)
	if err := m.applyTo(d, update, filter); err != nil {
		return nil, err
	}
	if opts.ReturnNew {
		return Project(d, opts.Projection, filter), nil
	}
	return Project(before, opts.Projection, filter), nil
}

func (m *Memory) Update(_ context.Context, coll string, filter, update bson.M, opts UpdateOptions) (UpdateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hits, err := m.match(coll, filter)
	if err != nil {
		return UpdateResult{}, err
	}
	if len(hits) == 0 {
		if !opts.Upsert {
			return UpdateResult{}, nil
		}
		d, err := m.upsert(coll, filter, update)
		if err != nil {
			return UpdateResult{}, err
		}
		return UpdateResult{UpsertedID: d["_id"]}, nil
	}
	if !opts.Multi {
		hits = hits[:1]
	}
	var res UpdateResult
	for _, d := range hits {
		before := bsonutil.CloneMap(d)
		if err := m.applyTo(d, update, filter); err != nil {
			return res, err
		}
		res.Matched++
		if !bsonutil.Equal(before, d) {
			res.Modified++
		}
	}
	return res, nil
}

// applyTo updates a stored document atomically: on error it is left as it was.
func (m *Memory) applyTo(d bson.M, update, filter bson.M) error {
	work := bsonutil.CloneMap(d)
	if err := Apply(work, update, filter, false); err != nil {
		return err
	}
	for k := range d {
		delete(d, k)
	}
	for k, v := range work {
		d[k] = v
	}
	return nil
}

// upsert inserts the document described by the equality fields of filter
// with update applied.
func (m *Memory) upsert(coll string, filter, update bson.M) (bson.M, error) {
	d := bson.M{}
	for k, cond := range filter {
		if len(k) > 0 && k[0] == '$' {
			continue
		}
		if ops, ok := operators(cond); ok {
			if eq, has := ops["$eq"]; has {
				bsonutil.Set(d, k, bsonutil.Clone(eq), nil)
			}
			continue
		}
		bsonutil.Set(d, k, bsonutil.Clone(cond), nil)
	}
	if err := Apply(d, update, filter, true); err != nil {
		return nil, err
	}
	if _, ok := d["_id"]; !ok {
		d["_id"] = primitive.NewObjectID()
	}
	if m.exists(coll, d["_id"]) {
		return nil, ErrDuplicateKey
	}
	m.colls[coll] = append(m.colls[coll], d)
	return d, nil
}

func (m *Memory) exists(coll string, id any) bool {
	for _, d := range m.colls[coll] {
		if bsonutil.Equal(d["_id"], id) {
			return true
		}
	}
	return false
}

// Insert stores a copy of doc, assigning an ObjectID when _id is missing.
func (m *Memory) Insert(_ context.Context, coll string, doc bson.M) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := bsonutil.CloneMap(doc)
	if d == nil {
		d = bson.M{}
	}
	if _, ok := d["_id"]; !ok {
		d["_id"] = primitive.NewObjectID()
	}
	if m.exists(coll, d["_id"]) {
		return ErrDuplicateKey
	}
	m.colls[coll] = append(m.colls[coll], d)
	return nil
}

func (m *Memory) Delete(_ context.Context, coll string, filter bson.M) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := make([]bson.M, 0, len(m.colls[coll]))
	var n int64
	for _, d := range m.colls[coll] {
		ok, err := Match(d, filter)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
			continue
		}
		kept = append(kept, d)
	}
	m.colls[coll] = kept
	return n, nil
}
