package document

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/gogotex/gogotex/backend/odm/internal/query"
	"github.com/gogotex/gogotex/backend/odm/internal/schema"
	"github.com/gogotex/gogotex/backend/odm/internal/update"
)

func postSchema() *schema.Schema {
	return schema.New().
		Add("title", schema.String).
		Add("views", schema.Number).
		Add("tags", schema.ArrayOf(schema.String)).
		Add("meta.published", schema.Boolean).
		Add("comments", schema.DocArray(schema.New().Add("body", schema.String))).
		AddVirtual(schema.VirtualSpec{Path: "likes", Ref: schema.RefSpec{Name: "Like"}})
}

func loaded() *Document {
	return Hydrate(postSchema(), bson.M{
		"_id":      1,
		"title":    "hello",
		"tags":     []any{"a"},
		"comments": []any{bson.M{"body": "x"}, bson.M{"body": "y"}},
		"__v":      3,
	}, nil)
}

func TestNewCastsValues(t *testing.T) {
	d, err := New(postSchema(), bson.M{"views": "7", "meta": bson.M{"published": "true"}})
	require.NoError(t, err)
	assert.True(t, d.IsNew())
	assert.Equal(t, int64(7), d.Get("views"))
	assert.Equal(t, true, d.Get("meta.published"))

	_, err = New(postSchema(), bson.M{"views": "many"})
	var ce *schema.CastError
	assert.True(t, errors.As(err, &ce))
}

func TestSetTracksChanges(t *testing.T) {
	d := loaded()
	require.NoError(t, d.Set("title", "hello"))
	assert.Empty(t, d.Dirty())

	require.NoError(t, d.Set("title", "bye"))
	require.NoError(t, d.Set("comments.1.body", "z"))
	d.Unset("tags")

	dirty := d.Dirty()
	require.Len(t, dirty, 3)
	assert.Equal(t, DirtyPath{Path: "title", Value: "bye"}, dirty[0])
	assert.Equal(t, "comments.1.body", dirty[1].Path)
	assert.True(t, dirty[2].Absent)
	assert.Equal(t, "hello", d.Original("title"))
	assert.True(t, d.IsModified("comments"))
}

func TestDirtyIsMinimal(t *testing.T) {
	d := loaded()
	require.NoError(t, d.Set("comments.0.body", "q"))
	require.NoError(t, d.Set("comments", []any{bson.M{"body": "only"}}))
	assert.Equal(t, []string{"comments"}, d.DirtyPaths())
}

func TestAtomicLog(t *testing.T) {
	d := loaded()
	require.NoError(t, d.Push("tags", "b"))
	require.NoError(t, d.Push("tags", "c", "d"))
	assert.Equal(t, []any{"a", "b", "c", "d"}, d.Get("tags"))

	dirty := d.Dirty()
	require.Len(t, dirty, 1)
	require.Len(t, dirty[0].Atomics, 2)
	assert.Equal(t, update.Push, dirty[0].Atomics[0].Op)

	// a different operator collapses the path to a replacement
	require.NoError(t, d.Pull("tags", "a"))
	dirty = d.Dirty()
	require.Len(t, dirty, 1)
	assert.Empty(t, dirty[0].Atomics)
	assert.Equal(t, []any{"b", "c", "d"}, dirty[0].Value)
}

func TestSetDiscardsQueuedAtomics(t *testing.T) {
	d := loaded()
	require.NoError(t, d.AddToSet("tags", "a", "b"))
	assert.Equal(t, []Atomic{{Op: update.AddToSet, Values: []any{"b"}}}, d.Atomics("tags"))

	require.NoError(t, d.Set("tags", []any{"z"}))
	assert.Empty(t, d.Atomics("tags"))
	assert.Equal(t, []string{"tags"}, d.DirtyPaths())
}

func TestEmbeddedDocumentsMatchByTheirIdentity(t *testing.T) {
	part := schema.New().Add("key", schema.Number).Add("n", schema.String)
	part.IDField = "key"
	d := Hydrate(schema.New().Add("parts", schema.DocArray(part)), bson.M{
		"_id":   1,
		"parts": []any{bson.M{"key": 1, "n": "a"}, bson.M{"key": 2, "n": "b"}},
	}, nil)

	require.NoError(t, d.AddToSet("parts", bson.M{"key": 1, "n": "renamed"}))
	assert.Empty(t, d.Atomics("parts"))

	require.NoError(t, d.Pull("parts", bson.M{"key": 2}))
	assert.Equal(t, []any{bson.M{"key": 1, "n": "a"}}, d.Get("parts"))
}

func TestWriteInsideAtomicArrayCollapses(t *testing.T) {
	d := loaded()
	require.NoError(t, d.Push("comments", bson.M{"body": "new"}))
	require.NoError(t, d.Set("comments.0.body", "edited"))
	dirty := d.Dirty()
	require.Len(t, dirty, 1)
	assert.Equal(t, "comments", dirty[0].Path)
	assert.Empty(t, dirty[0].Atomics)
}

func TestPopTwiceCollapses(t *testing.T) {
	d := Hydrate(postSchema(), bson.M{"_id": 1, "tags": []any{"a", "b", "c"}}, nil)
	assert.Equal(t, "c", d.Pop("tags", true))
	assert.Len(t, d.Atomics("tags"), 1)
	assert.Equal(t, "a", d.Pop("tags", false))
	assert.Empty(t, d.Atomics("tags"))
	assert.Equal(t, []any{"b"}, d.Get("tags"))
}

func TestResetClearsEverything(t *testing.T) {
	d := loaded()
	require.NoError(t, d.Push("tags", "b"))
	d.Increment()
	d.Reset()
	assert.Empty(t, d.Dirty())
	assert.Empty(t, d.Atomics("tags"))
	assert.Zero(t, d.Version().State())
	assert.Equal(t, []any{"a", "b"}, d.Original("tags"))
}

func TestPopulatedMetadata(t *testing.T) {
	d := loaded()
	author := Hydrate(schema.New(), bson.M{"_id": 10, "name": "ann"}, nil)
	d.SetRaw("author", author)
	d.SetPopulated("author", &Populated{IDs: []any{10}, Options: query.Options{Limit: 1}})
	assert.True(t, d.Populated("author").Restrictive())
	assert.True(t, (&Populated{Select: query.MustSelect("-id"), IDField: "id"}).Restrictive())
	assert.False(t, (&Populated{Select: query.MustSelect("-id")}).Restrictive())
	assert.Equal(t, "ann", d.Get("author.name"))

	d.SetRaw("likes", []any{bson.M{"_id": 5}})
	out := d.ToMap()
	assert.Equal(t, 10, out["author"])
	assert.NotContains(t, out, "likes")

	require.NoError(t, d.Set("author", 11))
	assert.Nil(t, d.Populated("author"))
}

func TestSelection(t *testing.T) {
	d := Hydrate(postSchema(), bson.M{"_id": 1, "title": "t"}, query.Projection{"title": 1})
	assert.True(t, d.IsSelected("title"))
	assert.False(t, d.IsSelected("__v"))
	_, ok := d.VersionValue()
	assert.False(t, ok)
}
