package odm

import (
	"context"
	"errors"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/gogotex/gogotex/backend/odm/internal/bsonutil"
	"github.com/gogotex/gogotex/backend/odm/internal/delta"
	"github.com/gogotex/gogotex/backend/odm/internal/document"
	"github.com/gogotex/gogotex/backend/odm/internal/driver"
	"github.com/gogotex/gogotex/backend/odm/internal/populate"
	"github.com/gogotex/gogotex/backend/odm/internal/query"
	"github.com/gogotex/gogotex/backend/odm/internal/schema"
	"github.com/gogotex/gogotex/backend/odm/internal/update"
	"github.com/gogotex/gogotex/backend/odm/internal/version"
	"github.com/gogotex/gogotex/backend/odm/pkg/logger"
	"github.com/gogotex/gogotex/backend/odm/pkg/metrics"
)

// Model is a named schema bound to a collection.
type Model struct {
	name       string
	collection string
	schema     *schema.Schema
	// tag is set on discriminator models.
	tag      string
	registry *Registry
}

func (m *Model) Name() string           { return m.name }
func (m *Model) Collection() string     { return m.collection }
func (m *Model) Schema() *schema.Schema { return m.schema }

// FindOptions shape a find.
type FindOptions struct {
	Select   query.Projection
	Sort     bson.D
	Skip     int64
	Limit    int64
	Populate []populate.Descriptor
}

// UpdateOptions shape FindOneAndUpdate, UpdateOne and UpdateMany.
type UpdateOptions struct {
	Upsert bool
	// New returns the updated document from FindOneAndUpdate.
	New    bool
	Select query.Projection
	Sort   bson.D
}

// New builds an unsaved document. Models with an ObjectID identity get a
// fresh id when none is given.
func (m *Model) New(values bson.M) (*document.Document, error) {
	doc, err := document.New(m.schema, values)
	if err != nil {
		return nil, err
	}
	if doc.ID() == nil && m.schema.IDField == "_id" {
		doc.SetRaw("_id", primitive.NewObjectID())
	}
	if key, tag, ok := m.schema.DiscriminatorKeyAndValue(); ok {
		doc.SetRaw(key, tag)
	}
	return doc, nil
}

// scope adds the discriminator tag of a child model to filter.
func (m *Model) scope(filter bson.M) bson.M {
	out := bsonutil.CloneMap(filter)
	if out == nil {
		out = bson.M{}
	}
	if key, tag, ok := m.schema.DiscriminatorKeyAndValue(); ok {
		if _, set := out[key]; !set {
			out[key] = tag
		}
	}
	return out
}

func (m *Model) driver() driver.Driver { return m.registry.driver }

func (m *Model) find(ctx context.Context, filter bson.M, opts FindOptions) ([]bson.M, error) {
	return m.driver().Find(ctx, m.collection, m.scope(filter), driver.FindOptions{
		Projection: opts.Select.BSON(),
		Sort:       opts.Sort,
		Skip:       opts.Skip,
		Limit:      opts.Limit,
	})
}

// hydrate wraps a stored record in a document of the variant its tag names.
func (m *Model) hydrate(raw bson.M, sel query.Projection) *document.Document {
	s := m.schema
	root := s.Base()
	if root.HasVariants() {
		if tag, ok := raw[root.DiscriminatorKey()].(string); ok {
			if v, found := root.Variant(tag); found {
				s = v
			}
		}
	}
	return document.Hydrate(s, raw, sel)
}

// Find loads matching documents and populates opts.Populate on them.
func (m *Model) Find(ctx context.Context, filter bson.M, opts FindOptions) ([]*document.Document, error) {
	raws, err := m.find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	docs := make([]*document.Document, len(raws))
	all := make([]any, len(raws))
	for i, raw := range raws {
		docs[i] = m.hydrate(raw, opts.Select)
		all[i] = docs[i]
	}
	if len(opts.Populate) > 0 {
		if err := m.registry.populator.Populate(ctx, target{m}, all, opts.Populate...); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

// FindLean is Find returning plain maps without change tracking.
func (m *Model) FindLean(ctx context.Context, filter bson.M, opts FindOptions) ([]bson.M, error) {
	raws, err := m.find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	if len(opts.Populate) > 0 {
		all := make([]any, len(raws))
		for i, raw := range raws {
			all[i] = raw
		}
		if err := m.registry.populator.Populate(ctx, target{m}, all, lean(opts.Populate)...); err != nil {
			return nil, err
		}
	}
	return raws, nil
}

// lean marks descriptors, and their nested descriptors, as lean.
func lean(ds []populate.Descriptor) []populate.Descriptor {
	out := make([]populate.Descriptor, len(ds))
	for i, d := range ds {
		d.Options.Lean = true
		d.Populate = lean(d.Populate)
		out[i] = d
	}
	return out
}

// FindOne returns the first match or ErrNotFound.
func (m *Model) FindOne(ctx context.Context, filter bson.M, opts FindOptions) (*document.Document, error) {
	opts.Limit = 1
	docs, err := m.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

// FindByID casts id to the identity type and loads that document.
func (m *Model) FindByID(ctx context.Context, id any, opts FindOptions) (*document.Document, error) {
	cast, err := m.schema.Cast(m.schema.IDField, id)
	if err != nil {
		return nil, err
	}
	return m.FindOne(ctx, bson.M{m.schema.IDField: cast}, opts)
}

// Populate populates already loaded documents.
func (m *Model) Populate(ctx context.Context, docs []*document.Document, ds ...populate.Descriptor) error {
	all := make([]any, len(docs))
	for i, d := range docs {
		all[i] = d
	}
	return m.registry.populator.Populate(ctx, target{m}, all, ds...)
}

// Save persists doc: new documents are inserted whole, loaded documents are
// written as a delta of their changes guarded by the version checks the
// changes require. On error the pending changes are kept.
func (m *Model) Save(ctx context.Context, doc *document.Document) error {
	if doc.IsNew() {
		return m.insert(ctx, doc)
	}
	d, err := delta.Compute(doc)
	if err != nil {
		return err
	}
	if d == nil {
		doc.Reset()
		return nil
	}
	upd := d.Update.BSON()
	if logger.Enabled("debug") {
		logger.Debugf("save %s %v:\n%s", m.name, doc.ID(), spew.Sdump(d.Where, upd))
	}
	res, err := m.driver().Update(ctx, m.collection, d.Where, upd, driver.UpdateOptions{})
	if err != nil {
		metrics.Saves.WithLabelValues(m.name, "error").Inc()
		return err
	}

	s := doc.Schema()
	state := doc.Version().State()
	if res.Matched == 0 {
		if state != 0 && s.VersionKey != "" && doc.IsSelected(s.VersionKey) {
			v, _ := doc.VersionValue()
			metrics.VersionConflicts.WithLabelValues(m.name).Inc()
			metrics.Saves.WithLabelValues(m.name, "conflict").Inc()
			logger.Warnf("version conflict saving %s %v at version %v", m.name, doc.ID(), v)
			return &VersionError{Model: m.name, ID: doc.ID(), Version: v, ModifiedPaths: doc.DirtyPaths()}
		}
		if s.SaveErrorIfNotFound {
			metrics.Saves.WithLabelValues(m.name, "not_found").Inc()
			return &DocumentNotFoundError{Model: m.name, Filter: d.Where}
		}
	}

	if state.Has(version.Inc) {
		if _, bumped := d.Update[update.Inc][s.VersionKey]; bumped {
			if v, ok := doc.VersionValue(); ok {
				doc.SetRaw(s.VersionKey, nextVersion(v))
			}
		} else if v, ok := d.Update.Get(update.Set, s.VersionKey); ok {
			doc.SetRaw(s.VersionKey, v)
		}
	}
	doc.Reset()
	metrics.Saves.WithLabelValues(m.name, "updated").Inc()
	return nil
}

func (m *Model) insert(ctx context.Context, doc *document.Document) error {
	if doc.ID() == nil {
		return ErrMissingID
	}
	if key := doc.Schema().VersionKey; key != "" {
		if v, ok := doc.VersionValue(); !ok || v == nil {
			doc.SetRaw(key, 0)
		}
	}
	if err := m.driver().Insert(ctx, m.collection, doc.ToMap()); err != nil {
		metrics.Saves.WithLabelValues(m.name, "error").Inc()
		return err
	}
	doc.Reset()
	metrics.Saves.WithLabelValues(m.name, "inserted").Inc()
	return nil
}

func nextVersion(v any) any {
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
	return v
}

// Increment forces a version check and increment on the next save of doc.
func (m *Model) Increment(doc *document.Document) { doc.Increment() }

// Remove deletes doc. ErrNotFound is returned when it no longer exists.
func (m *Model) Remove(ctx context.Context, doc *document.Document) error {
	id := doc.ID()
	if id == nil {
		return ErrMissingID
	}
	n, err := m.driver().Delete(ctx, m.collection, bson.M{doc.Schema().IDField: document.Depopulate(id)})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// castUpdate validates a raw update: plain fields become $set, values of
// value-carrying operators are cast through the schema and upserts seed the
// version key.
func (m *Model) castUpdate(raw bson.M, upsert bool) (bson.M, error) {
	u, err := update.FromBSON(raw)
	if err != nil {
		return nil, err
	}
	for _, op := range []update.Op{update.Set, update.SetOnInsert} {
		for path, v := range u[op] {
			cast, err := m.schema.Cast(castPath(path), v)
			if err != nil {
				return nil, err
			}
			u[op][path] = cast
		}
	}
	for _, op := range []update.Op{update.Push, update.AddToSet} {
		for path, v := range u[op] {
			elem := castPath(path) + ".0"
			if each, ok := bsonutil.AsMap(v); ok && each["$each"] != nil {
				vals, _ := bsonutil.AsSlice(each["$each"])
				out := make([]any, len(vals))
				for i, x := range vals {
					if out[i], err = m.schema.Cast(elem, x); err != nil {
						return nil, err
					}
				}
				u[op][path] = bson.M{"$each": out}
				continue
			}
			if u[op][path], err = m.schema.Cast(elem, v); err != nil {
				return nil, err
			}
		}
	}
	if key := m.schema.VersionKey; upsert && key != "" && !u.Has(update.Set, key) && !u.Has(update.Inc, key) {
		u.Put(update.SetOnInsert, key, 0)
	}
	return u.BSON(), nil
}

// castPath maps positional segments to an element path the schema knows.
func castPath(path string) string {
	return strings.ReplaceAll(strings.ReplaceAll(path, ".$.", ".0."), ".$", ".0")
}

// FindOneAndUpdate updates the first match and returns it, before the update
// unless opts.New. ErrNotFound is returned when nothing matched.
func (m *Model) FindOneAndUpdate(ctx context.Context, filter, upd bson.M, opts UpdateOptions) (*document.Document, error) {
	cast, err := m.castUpdate(upd, opts.Upsert)
	if err != nil {
		return nil, err
	}
	raw, err := m.driver().FindAndModify(ctx, m.collection, m.scope(filter), cast, driver.FindAndModifyOptions{
		Projection: opts.Select.BSON(),
		Sort:       opts.Sort,
		Upsert:     opts.Upsert,
		ReturnNew:  opts.New,
	})
	if errors.Is(err, driver.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m.hydrate(raw, opts.Select), nil
}

// UpdateOne applies upd to the first match.
func (m *Model) UpdateOne(ctx context.Context, filter, upd bson.M, opts UpdateOptions) (driver.UpdateResult, error) {
	return m.update(ctx, filter, upd, opts, false)
}

// UpdateMany applies upd to every match.
func (m *Model) UpdateMany(ctx context.Context, filter, upd bson.M, opts UpdateOptions) (driver.UpdateResult, error) {
	return m.update(ctx, filter, upd, opts, true)
}

func (m *Model) update(ctx context.Context, filter, upd bson.M, opts UpdateOptions, multi bool) (driver.UpdateResult, error) {
	cast, err := m.castUpdate(upd, opts.Upsert)
	if err != nil {
		return driver.UpdateResult{}, err
	}
	return m.driver().Update(ctx, m.collection, m.scope(filter), cast, driver.UpdateOptions{Upsert: opts.Upsert, Multi: multi})
}

// target adapts a Model to the populate package.
type target struct{ m *Model }

func (t target) Name() string           { return t.m.name }
func (t target) Schema() *schema.Schema { return t.m.schema }

func (t target) Find(ctx context.Context, filter bson.M, q populate.Query) ([]any, error) {
	opts := FindOptions{
		Select:   q.Select,
		Sort:     q.Options.Sort,
		Skip:     q.Options.Skip,
		Limit:    q.Options.Limit,
		Populate: q.Populate,
	}
	if q.Options.Lean {
		raws, err := t.m.FindLean(ctx, filter, opts)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(raws))
		for i, r := range raws {
			out[i] = r
		}
		return out, nil
	}
	docs, err := t.m.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(docs))
	for i, d := range docs {
		out[i] = d
	}
	return out, nil
}
