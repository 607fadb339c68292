package bsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestGetMapsOverArrays(t *testing.T) {
	doc := bson.M{
		"title": "post",
		"comments": []any{
			bson.M{"author": 1, "body": "x"},
			bson.M{"author": 2},
		},
	}
	assert.Equal(t, "post", Get(doc, "title"))
	assert.Equal(t, []any{1, 2}, Get(doc, "comments.author"))
	assert.Equal(t, 2, Get(doc, "comments.1.author"))
	assert.Nil(t, Get(doc, "missing.path"))

	_, ok := Lookup(doc, "comments.5")
	assert.False(t, ok)
	v, ok := Lookup(doc, "comments.0.body")
	require.True(t, ok)
	assert.Equal(t, "x", v)
}

func TestSetCreatesIntermediates(t *testing.T) {
	doc := bson.M{}
	Set(doc, "meta.owner.name", "ada", nil)
	assert.Equal(t, bson.M{"meta": bson.M{"owner": bson.M{"name": "ada"}}}, doc)

	Set(doc, "tags.2", "c", nil)
	assert.Equal(t, []any{nil, nil, "c"}, doc["tags"])
}

func TestSetDistributesArrayValues(t *testing.T) {
	doc := bson.M{"comments": []any{bson.M{"author": 1}, bson.M{"author": 2}}}
	Set(doc, "comments.author", []any{"a", "b", "extra"}, nil)
	assert.Equal(t, "a", Get(doc, "comments.0.author"))
	assert.Equal(t, "b", Get(doc, "comments.1.author"))

	Set(doc, "comments.seen", true, func(v any) any { return !v.(bool) })
	assert.Equal(t, []any{false, false}, Get(doc, "comments.seen"))
}

func TestDelete(t *testing.T) {
	doc := bson.M{"a": bson.M{"b": 1, "c": 2}, "list": []any{1, 2}}
	Delete(doc, "a.b")
	Delete(doc, "list.0")
	Delete(doc, "nope.deeper")
	assert.Equal(t, bson.M{"a": bson.M{"c": 2}, "list": []any{nil, 2}}, doc)
}

func TestIndexHelpers(t *testing.T) {
	assert.True(t, HasIndexSegment("comments.3.body"))
	assert.False(t, HasIndexSegment("3.body"))
	assert.False(t, HasIndexSegment("comments.body"))
	assert.Equal(t, "comments.body", StripIndexes("comments.3.body"))
}
