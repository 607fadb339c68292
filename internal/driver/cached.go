package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/davecgh/go-spew/spew"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/gogotex/gogotex/backend/odm/internal/bsonutil"
	"github.com/gogotex/gogotex/backend/odm/internal/cache"
	"github.com/gogotex/gogotex/backend/odm/pkg/logger"
	"github.com/gogotex/gogotex/backend/odm/pkg/metrics"
)

var keyConfig = spew.ConfigState{
	Indent:                  "",
	SortKeys:                true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
}

// Cached is a read-through cache in front of another Driver. Find results
// are cached per collection generation; every write to a collection bumps its
// generation. Cache failures are logged and fall through to the inner driver.
type Cached struct {
	inner Driver
	cache cache.Cache
	ttl   time.Duration
}

func NewCached(inner Driver, c cache.Cache, ttl time.Duration) *Cached {
	return &Cached{inner: inner, cache: c, ttl: ttl}
}

type cachedResult struct {
	Docs []bson.M `bson:"docs"`
}

func (c *Cached) key(ctx context.Context, coll string, filter bson.M, opts FindOptions) (string, error) {
	gen, err := c.cache.Generation(ctx, coll)
	if err != nil {
		return "", err
	}
	h := xxhash.Sum64String(keyConfig.Sdump(filter, opts.Projection, opts.Sort, opts.Skip, opts.Limit))
	return fmt.Sprintf("find:%s:%d:%016x", coll, gen, h), nil
}

func (c *Cached) Find(ctx context.Context, coll string, filter bson.M, opts FindOptions) ([]bson.M, error) {
	key, err := c.key(ctx, coll, filter, opts)
	if err != nil {
		logger.Warnf("cache: generation of %s: %v", coll, err)
		return c.inner.Find(ctx, coll, filter, opts)
	}
	if b, ok, err := c.cache.Get(ctx, key); err != nil {
		logger.Warnf("cache: get %s: %v", key, err)
	} else if ok {
		var res cachedResult
		if err := bson.Unmarshal(b, &res); err == nil {
			metrics.CacheRequests.WithLabelValues("hit").Inc()
			out := make([]bson.M, len(res.Docs))
			for i, d := range res.Docs {
				out[i] = bsonutil.CloneMap(d)
			}
			return out, nil
		}
		logger.Warnf("cache: decode %s: %v", key, err)
	}
	metrics.CacheRequests.WithLabelValues("miss").Inc()

	docs, err := c.inner.Find(ctx, coll, filter, opts)
	if err != nil {
		return nil, err
	}
	b, err := bson.Marshal(cachedResult{Docs: docs})
	if err != nil {
		logger.Warnf("cache: encode %s: %v", key, err)
		return docs, nil
	}
	if err := c.cache.Set(ctx, key, b, c.ttl); err != nil {
		logger.Warnf("cache: set %s: %v", key, err)
	}
	return docs, nil
}

func (c *Cached) invalidate(ctx context.Context, coll string) {
	if err := c.cache.Bump(ctx, coll); err != nil {
		logger.Errorf("cache: invalidate %s: %v", coll, err)
	}
}

func (c *Cached) FindAndModify(ctx context.Context, coll string, filter, update bson.M, opts FindAndModifyOptions) (bson.M, error) {
	defer c.invalidate(ctx, coll)
	return c.inner.FindAndModify(ctx, coll, filter, update, opts)
}

func (c *Cached) Update(ctx context.Context, coll string, filter, update bson.M, opts UpdateOptions) (UpdateResult, error) {
	defer c.invalidate(ctx, coll)
	return c.inner.Update(ctx, coll, filter, update, opts)
}

func (c *Cached) Insert(ctx context.Context, coll string, doc bson.M) error {
	defer c.invalidate(ctx, coll)
	return c.inner.Insert(ctx, coll, doc)
}

func (c *Cached) Delete(ctx context.Context, coll string, filter bson.M) (int64, error) {
	defer c.invalidate(ctx, coll)
	return c.inner.Delete(ctx, coll, filter)
}
