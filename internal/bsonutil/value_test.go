package bsonutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestCloneIsDeep(t *testing.T) {
	src := bson.M{"list": primitive.A{bson.M{"x": 1}}, "d": primitive.D{{Key: "k", Value: "v"}}}
	out := Clone(src).(bson.M)
	out["list"].([]any)[0].(bson.M)["x"] = 2
	assert.Equal(t, 1, src["list"].(primitive.A)[0].(bson.M)["x"])
	assert.Equal(t, bson.M{"k": "v"}, out["d"])
}

func TestKey(t *testing.T) {
	oid := primitive.NewObjectID()
	assert.Equal(t, oid.Hex(), Key(oid))
	assert.Equal(t, oid.Hex(), Key(bson.M{"_id": oid, "name": "x"}))
	assert.Equal(t, "10", Key(int32(10)))
	assert.Equal(t, "10", Key(int64(10)))
	assert.Equal(t, "1.5", Key(1.5))
	assert.Equal(t, "null", Key(nil))
}

func TestEqualAndCompare(t *testing.T) {
	assert.True(t, Equal(int32(3), 3.0))
	assert.True(t, Equal([]any{1, "a"}, primitive.A{int64(1), "a"}))
	assert.True(t, Equal(bson.M{"a": 1}, map[string]any{"a": int64(1)}))
	assert.False(t, Equal(bson.M{"a": 1}, bson.M{"a": 1, "b": 2}))
	assert.False(t, Equal(nil, 0))

	now := time.Now().Truncate(time.Millisecond)
	assert.True(t, Equal(now, primitive.NewDateTimeFromTime(now)))

	c, ok := Compare(2, 10.5)
	assert.True(t, ok)
	assert.Equal(t, -1, c)
	c, ok = Compare("b", "a")
	assert.True(t, ok)
	assert.Equal(t, 1, c)
	_, ok = Compare("a", 1)
	assert.False(t, ok)
}
