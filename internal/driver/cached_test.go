package driver

import (
	"context"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/gogotex/gogotex/backend/odm/internal/cache"
)

type countingDriver struct {
	Driver
	finds int
}

func (c *countingDriver) Find(ctx context.Context, coll string, filter bson.M, opts FindOptions) ([]bson.M, error) {
	c.finds++
	return c.Driver.Find(ctx, coll, filter, opts)
}

func titles(docs []bson.M) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i], _ = d["title"].(string)
	}
	return out
}

func exerciseCache(t *testing.T, c cache.Cache) {
	t.Helper()
	inner := &countingDriver{Driver: seeded(t)}
	d := NewCached(inner, c, time.Minute)
	ctx := context.Background()
	filter := bson.M{"tags": "go"}
	opts := FindOptions{Sort: bson.D{{Key: "title", Value: 1}}}

	first, err := d.Find(ctx, "posts", filter, opts)
	require.NoError(t, err)
	second, err := d.Find(ctx, "posts", bson.M{"tags": "go"}, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.finds)
	assert.Equal(t, []string{"a", "b"}, titles(first))
	assert.Equal(t, titles(first), titles(second))
	// cached copies carry the nested documents in their usual shape
	assert.IsType(t, []any{}, second[0]["tags"])

	// other options are a different entry
	_, err = d.Find(ctx, "posts", filter, FindOptions{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.finds)

	// writes invalidate the collection
	require.NoError(t, d.Insert(ctx, "posts", bson.M{"_id": 4, "title": "d", "tags": []any{"go"}}))
	third, err := d.Find(ctx, "posts", filter, opts)
	require.NoError(t, err)
	assert.Equal(t, 3, inner.finds)
	assert.Equal(t, []string{"a", "b", "d"}, titles(third))

	_, err = d.Update(ctx, "posts", bson.M{"_id": 4}, bson.M{"$set": bson.M{"title": "e"}}, UpdateOptions{})
	require.NoError(t, err)
	fourth, err := d.Find(ctx, "posts", filter, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "e"}, titles(fourth))
}

func TestCachedWithLRU(t *testing.T) {
	c, err := cache.NewLRU(16)
	require.NoError(t, err)
	exerciseCache(t, c)
}

func TestCachedWithRedis(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()
	exerciseCache(t, cache.NewRedis(redis.NewClient(&redis.Options{Addr: m.Addr()}), "test:"))
}

func TestCachedFallsThroughWhenCacheIsDown(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	c := cache.NewRedis(redis.NewClient(&redis.Options{Addr: m.Addr()}), "")
	m.Close()

	inner := &countingDriver{Driver: seeded(t)}
	d := NewCached(inner, c, time.Minute)
	docs, err := d.Find(context.Background(), "posts", bson.M{"_id": 1}, FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, titles(docs))
	assert.Equal(t, 1, inner.finds)
}
