package populate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/gogotex/gogotex/backend/odm/internal/bsonutil"
	"github.com/gogotex/gogotex/backend/odm/internal/document"
	"github.com/gogotex/gogotex/backend/odm/internal/query"
	"github.com/gogotex/gogotex/backend/odm/internal/schema"
)

// fakeModel serves finds from a slice and records every query it receives.
type fakeModel struct {
	name   string
	schema *schema.Schema
	docs   []bson.M
	err    error

	mu      sync.Mutex
	filters []bson.M
	queries []Query
}

func (m *fakeModel) Name() string           { return m.name }
func (m *fakeModel) Schema() *schema.Schema { return m.schema }

func (m *fakeModel) Find(_ context.Context, filter bson.M, q Query) ([]any, error) {
	m.mu.Lock()
	m.filters = append(m.filters, filter)
	m.queries = append(m.queries, q)
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}

	var hits []bson.M
	for _, d := range m.docs {
		if matches(d, filter) {
			hits = append(hits, d)
		}
	}
	if len(q.Options.Sort) > 0 {
		key, dir := q.Options.Sort[0].Key, q.Options.Sort[0].Value.(int)
		sort.SliceStable(hits, func(i, j int) bool {
			c, _ := bsonutil.Compare(hits[i][key], hits[j][key])
			return c*dir < 0
		})
	}
	if q.Options.Limit > 0 && int64(len(hits)) > q.Options.Limit {
		hits = hits[:q.Options.Limit]
	}
	out := make([]any, len(hits))
	for i, h := range hits {
		if q.Options.Lean {
			out[i] = bsonutil.CloneMap(h)
		} else {
			out[i] = document.Hydrate(m.schema, h, q.Select)
		}
	}
	return out, nil
}

func matches(d bson.M, filter bson.M) bool {
	for k, cond := range filter {
		v := bsonutil.Get(d, k)
		if c, ok := cond.(bson.M); ok {
			if in, ok := c["$in"].([]any); ok {
				if !containsAny(in, v) {
					return false
				}
				continue
			}
		}
		if !bsonutil.Equal(v, cond) {
			return false
		}
	}
	return true
}

func containsAny(in []any, v any) bool {
	vals, isArr := bsonutil.AsSlice(v)
	if !isArr {
		vals = []any{v}
	}
	for _, x := range in {
		for _, y := range vals {
			if bsonutil.Equal(x, y) {
				return true
			}
		}
	}
	return false
}

type resolver map[string]*fakeModel

func (r resolver) Lookup(name string) (Model, error) {
	m, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("model %q not registered", name)
	}
	return m, nil
}

func users() *fakeModel {
	s := schema.New()
	s.IDField = "id"
	s.Add("id", schema.Number).Add("name", schema.String).Add("rank", schema.Number).Add("group", schema.String)
	return &fakeModel{name: "User", schema: s, docs: []bson.M{
		{"id": 1, "name": "a", "rank": 2, "group": "x"},
		{"id": 2, "name": "b", "rank": 3, "group": "x"},
		{"id": 3, "name": "c", "rank": 1, "group": "x"},
		{"id": 10, "name": "ten"},
		{"id": 11, "name": "eleven"},
	}}
}

func comments() *fakeModel {
	return &fakeModel{name: "Comment", schema: schema.New().Add("post", schema.Number).Add("body", schema.String), docs: []bson.M{
		{"_id": "c1", "post": 1, "body": "first"},
		{"_id": "c2", "post": 1, "body": "second"},
		{"_id": "c3", "post": 3, "body": "third"},
	}}
}

func posts() *fakeModel {
	s := schema.New().
		Add("author", schema.Number, schema.Ref("User")).
		Add("likes", schema.ArrayOf(schema.Number), schema.Ref("User"))
	return &fakeModel{name: "Post", schema: s}
}

func leanOpts() query.Options { return query.Options{Lean: true} }

func TestPopulateGroupsIdsIntoOneQuery(t *testing.T) {
	u, p := users(), posts()
	pop := &Populator{Resolver: resolver{"User": u}}
	docs := []any{
		bson.M{"_id": "p1", "author": 10},
		bson.M{"_id": "p2", "author": 11},
		bson.M{"_id": "p3", "author": 10},
	}

	err := pop.Populate(context.Background(), p, docs, Descriptor{Path: "author", Options: leanOpts()})
	require.NoError(t, err)

	require.Len(t, u.filters, 1)
	assert.Equal(t, bson.M{"id": bson.M{"$in": []any{10, 11}}}, u.filters[0])

	first := docs[0].(bson.M)["author"].(bson.M)
	assert.Equal(t, "ten", first["name"])
	assert.Equal(t, "eleven", docs[1].(bson.M)["author"].(bson.M)["name"])
	// both documents hold the same populated value
	first["name"] = "changed"
	assert.Equal(t, "changed", docs[2].(bson.M)["author"].(bson.M)["name"])
}

func names(t *testing.T, v any) []string {
	t.Helper()
	arr, ok := bsonutil.AsSlice(v)
	require.True(t, ok, "expected array, got %T", v)
	out := make([]string, 0, len(arr))
	for _, el := range arr {
		out = append(out, fmt.Sprint(bsonutil.Get(el, "name")))
	}
	return out
}

func TestPopulateKeepsReferenceOrder(t *testing.T) {
	u, p := users(), posts()
	pop := &Populator{Resolver: resolver{"User": u}}
	doc := document.Hydrate(p.schema, bson.M{"_id": "p1", "likes": []any{2, 1, 3}}, nil)

	require.NoError(t, pop.Populate(context.Background(), p, []any{doc}, Paths("likes")...))

	assert.Equal(t, []string{"b", "a", "c"}, names(t, doc.Get("likes")))
	pd := doc.Populated("likes")
	require.NotNil(t, pd)
	assert.Equal(t, []any{2, 1, 3}, pd.IDs)

	liked, _ := bsonutil.AsSlice(doc.Get("likes"))
	assert.True(t, liked[0].(*document.Document).WasPopulated())
	// the stored form reduces populated documents to their ids
	assert.Equal(t, []any{2, 1, 3}, doc.ToMap()["likes"])
}

func TestPopulateMissingArrayEntriesAreDropped(t *testing.T) {
	u, p := users(), posts()
	pop := &Populator{Resolver: resolver{"User": u}}
	doc := bson.M{"likes": []any{1, 99, 2}}

	require.NoError(t, pop.Populate(context.Background(), p, []any{doc}, Descriptor{Path: "likes", Options: leanOpts()}))
	assert.Equal(t, []string{"a", "b"}, names(t, doc["likes"]))
}

func TestPopulateSortedFollowsResultOrder(t *testing.T) {
	u, p := users(), posts()
	pop := &Populator{Resolver: resolver{"User": u}}
	doc := bson.M{"likes": []any{1, 2, 3, 99}}

	d := Descriptor{Path: "likes", Options: query.Options{Sort: query.ParseSort("rank"), Lean: true}}
	require.NoError(t, pop.Populate(context.Background(), p, []any{doc}, d))
	assert.Equal(t, []string{"c", "a", "b"}, names(t, doc["likes"]))
}

func TestSingleJoinKeepsFirstMatch(t *testing.T) {
	u, p := users(), posts()
	pop := &Populator{Resolver: resolver{"User": u}}
	doc := bson.M{"author": "x"}

	d := Descriptor{
		Path:         "author",
		ForeignField: schema.FieldName("group"),
		Options:      query.Options{Sort: query.ParseSort("rank"), Lean: true},
	}
	require.NoError(t, pop.Populate(context.Background(), p, []any{doc}, d))
	assert.Equal(t, "c", doc["author"].(bson.M)["name"])
}

func TestSingleJoinMissIsNil(t *testing.T) {
	u, p := users(), posts()
	pop := &Populator{Resolver: resolver{"User": u}}
	doc := bson.M{"author": 42}

	require.NoError(t, pop.Populate(context.Background(), p, []any{doc}, Descriptor{Path: "author", Options: leanOpts()}))
	v, exists := doc["author"]
	assert.True(t, exists)
	assert.Nil(t, v)
}

func TestAbsentPathIsNotWritten(t *testing.T) {
	u, p := users(), posts()
	pop := &Populator{Resolver: resolver{"User": u}}
	doc := bson.M{"_id": "p1"}

	require.NoError(t, pop.Populate(context.Background(), p, []any{doc}, Descriptor{Path: "author", Options: leanOpts()}))
	assert.Empty(t, u.filters)
	assert.NotContains(t, doc, "author")
}

func virtualPosts(justOne bool) *fakeModel {
	p := posts()
	p.schema.AddVirtual(schema.VirtualSpec{
		Path:         "comments",
		Ref:          schema.RefSpec{Name: "Comment"},
		LocalField:   schema.FieldName("_id"),
		ForeignField: schema.FieldName("post"),
		JustOne:      justOne,
	})
	return p
}

func TestPopulateVirtual(t *testing.T) {
	c, p := comments(), virtualPosts(false)
	pop := &Populator{Resolver: resolver{"Comment": c}}
	docs := []any{bson.M{"_id": 1}, bson.M{"_id": 2}, bson.M{"_id": 3}}

	d := Descriptor{Path: "comments", Select: query.MustSelect("body"), Options: leanOpts()}
	require.NoError(t, pop.Populate(context.Background(), p, docs, d))

	require.Len(t, c.queries, 1)
	assert.Equal(t, query.Projection{"body": 1, "post": 1}, c.queries[0].Select)
	assert.Equal(t, bson.M{"post": bson.M{"$in": []any{1, 2, 3}}}, c.filters[0])

	assert.Len(t, docs[0].(bson.M)["comments"], 2)
	assert.Equal(t, []any{}, docs[1].(bson.M)["comments"])
	// a single match still yields an array
	assert.Equal(t, []any{bson.M{"_id": "c3", "post": 3, "body": "third"}}, docs[2].(bson.M)["comments"])
}

func TestPopulateVirtualJustOne(t *testing.T) {
	c, p := comments(), virtualPosts(true)
	pop := &Populator{Resolver: resolver{"Comment": c}}
	docs := []any{bson.M{"_id": 1}, bson.M{"_id": 2}}

	require.NoError(t, pop.Populate(context.Background(), p, docs, Descriptor{Path: "comments", Options: leanOpts()}))
	assert.Equal(t, "first", docs[0].(bson.M)["comments"].(bson.M)["body"])
	assert.Nil(t, docs[1].(bson.M)["comments"])
}

func TestVirtualWithoutJoinFields(t *testing.T) {
	p := posts()
	p.schema.AddVirtual(schema.VirtualSpec{Path: "comments", Ref: schema.RefSpec{Name: "Comment"}, LocalField: schema.FieldName("_id")})
	pop := &Populator{Resolver: resolver{"Comment": comments()}}

	err := pop.Populate(context.Background(), p, []any{bson.M{"_id": 1}}, Paths("comments")...)
	assert.True(t, errors.Is(err, ErrMissingJoinFields))
}

func TestLimitAppliesPerDocument(t *testing.T) {
	u, p := users(), posts()
	pop := &Populator{Resolver: resolver{"User": u}}
	docs := []any{bson.M{"likes": []any{1, 2, 3}}, bson.M{"likes": []any{3}}}

	d := Descriptor{Path: "likes", Options: query.Options{Limit: 2, Lean: true}}
	require.NoError(t, pop.Populate(context.Background(), p, docs, d))

	require.Len(t, u.queries, 1)
	assert.Equal(t, int64(6), u.queries[0].Options.Limit)
	assert.Equal(t, []string{"a", "b"}, names(t, docs[0].(bson.M)["likes"]))
	assert.Equal(t, []string{"c"}, names(t, docs[1].(bson.M)["likes"]))
}

func TestExcludedIdentityIsStripped(t *testing.T) {
	p := posts()
	authors := &fakeModel{name: "Author", schema: schema.New().Add("name", schema.String), docs: []bson.M{
		{"_id": "u1", "name": "ann"},
	}}
	pop := &Populator{Resolver: resolver{"Author": authors}}
	doc := bson.M{"author": "u1"}

	d := Descriptor{Path: "author", Model: "Author", Select: query.MustSelect("name -_id"), Options: leanOpts()}
	require.NoError(t, pop.Populate(context.Background(), p, []any{doc}, d))

	assert.Equal(t, query.Projection{"name": 1}, authors.queries[0].Select)
	assert.Equal(t, bson.M{"name": "ann"}, doc["author"])
}

func TestExcludedCustomIdentityIsStripped(t *testing.T) {
	u, p := users(), posts()
	pop := &Populator{Resolver: resolver{"User": u}}
	lean, hydrated := bson.M{"author": 10}, bson.M{"author": 11}

	d := Descriptor{Path: "author", Select: query.MustSelect("-id"), Options: leanOpts()}
	require.NoError(t, pop.Populate(context.Background(), p, []any{lean}, d))
	require.Len(t, u.queries, 1)
	assert.Empty(t, u.queries[0].Select)
	assert.Equal(t, bson.M{"id": bson.M{"$in": []any{10}}}, u.filters[0])
	assert.Equal(t, bson.M{"name": "ten"}, lean["author"])

	d.Options = query.Options{}
	require.NoError(t, pop.Populate(context.Background(), p, []any{hydrated}, d))
	author, ok := hydrated["author"].(*document.Document)
	require.True(t, ok, "got %#v", hydrated["author"])
	assert.Equal(t, "eleven", author.Get("name"))
	assert.Nil(t, author.Get("id"))
}

func TestSortUnderDocArray(t *testing.T) {
	sub := schema.New().Add("author", schema.Number, schema.Ref("User"))
	p := &fakeModel{name: "Post", schema: schema.New().Add("comments", schema.DocArray(sub))}
	pop := &Populator{Resolver: resolver{"User": users()}}
	doc := bson.M{"comments": []any{bson.M{"author": 1}}}

	d := Descriptor{Path: "comments.author", Options: query.Options{Sort: query.ParseSort("name")}}
	err := pop.Populate(context.Background(), p, []any{doc}, d)
	assert.True(t, errors.Is(err, ErrSortUnderDocArray))
}

func TestPopulateUnderDocArray(t *testing.T) {
	sub := schema.New().Add("author", schema.Number, schema.Ref("User"))
	p := &fakeModel{name: "Post", schema: schema.New().Add("comments", schema.DocArray(sub))}
	u := users()
	pop := &Populator{Resolver: resolver{"User": u}}
	doc := bson.M{"comments": []any{bson.M{"author": 2}, bson.M{"author": 1}}}

	require.NoError(t, pop.Populate(context.Background(), p, []any{doc}, Descriptor{Path: "comments.author", Options: leanOpts()}))
	assert.Equal(t, []string{"b", "a"}, names(t, bsonutil.Get(doc, "comments.author")))
}

func TestPopulateRefPath(t *testing.T) {
	u, c := users(), comments()
	p := &fakeModel{name: "Feed", schema: schema.New().
		Add("kinds", schema.ArrayOf(schema.String)).
		Add("items", schema.ArrayOf(schema.Mixed), schema.RefPath("kinds"))}
	pop := &Populator{Resolver: resolver{"User": u, "Comment": c}}
	doc := bson.M{"kinds": []any{"User", "Comment"}, "items": []any{1, "c2"}}

	require.NoError(t, pop.Populate(context.Background(), p, []any{doc}, Descriptor{Path: "items", Options: leanOpts()}))

	require.Len(t, u.filters, 1)
	require.Len(t, c.filters, 1)
	items := doc["items"].([]any)
	assert.Equal(t, "a", items[0].(bson.M)["name"])
	assert.Equal(t, "second", items[1].(bson.M)["body"])
}

func TestPopulateDiscriminatorVariants(t *testing.T) {
	base := schema.New().Add("at", schema.Date)
	base.Discriminator("Click", schema.New().Add("user", schema.Number, schema.Ref("User")))
	base.Discriminator("Purchase", schema.New().Add("product", schema.Number))
	events := &fakeModel{name: "Event", schema: base}
	u := users()
	pop := &Populator{Resolver: resolver{"User": u}}

	click := bson.M{"__t": "Click", "user": 1}
	purchase := bson.M{"__t": "Purchase", "user": 2}
	require.NoError(t, pop.Populate(context.Background(), events, []any{click, purchase}, Descriptor{Path: "user", Options: leanOpts()}))

	assert.Equal(t, bson.M{"id": bson.M{"$in": []any{1}}}, u.filters[0])
	assert.Equal(t, "a", click["user"].(bson.M)["name"])
	assert.Equal(t, 2, purchase["user"])

	err := pop.Populate(context.Background(), events, []any{bson.M{"__t": "Refund"}}, Paths("user")...)
	assert.True(t, errors.Is(err, ErrUnknownDiscriminator))
}

func TestQueryErrorPropagates(t *testing.T) {
	u, p := users(), posts()
	boom := errors.New("connection reset")
	u.err = boom
	pop := &Populator{Resolver: resolver{"User": u}, Concurrency: 2}
	doc := bson.M{"author": 10}

	err := pop.Populate(context.Background(), p, []any{doc}, Paths("author")...)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 10, doc["author"])
}

func TestUnknownModel(t *testing.T) {
	pop := &Populator{Resolver: resolver{}}
	err := pop.Populate(context.Background(), posts(), []any{bson.M{"author": 1}}, Paths("author")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `model "User" not registered`)
}

func TestExpand(t *testing.T) {
	ds := Expand(Descriptor{Path: "author  likes", Options: leanOpts()})
	require.Len(t, ds, 2)
	assert.Equal(t, "likes", ds[1].Path)
	assert.True(t, ds[1].Options.Lean)
}
