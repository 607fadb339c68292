package driver

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/gogotex/gogotex/backend/odm/internal/bsonutil"
)

// Mongo implements Driver on a MongoDB database.
type Mongo struct {
	db *mongo.Database
}

func NewMongo(db *mongo.Database) *Mongo {
	return &Mongo{db: db}
}

func (m *Mongo) Find(ctx context.Context, coll string, filter bson.M, opts FindOptions) ([]bson.M, error) {
	o := options.Find()
	if len(opts.Projection) > 0 {
		o.SetProjection(opts.Projection)
	}
	if len(opts.Sort) > 0 {
		o.SetSort(opts.Sort)
	}
	if opts.Skip > 0 {
		o.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		o.SetLimit(opts.Limit)
	}
	cur, err := m.db.Collection(coll).Find(ctx, nonNil(filter), o)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []bson.M{}
	for cur.Next(ctx) {
		var d bson.M
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, bsonutil.CloneMap(d))
	}
	return out, cur.Err()
}

func (m *Mongo) FindAndModify(ctx context.Context, coll string, filter, update bson.M, opts FindAndModifyOptions) (bson.M, error) {
	o := options.FindOneAndUpdate().SetUpsert(opts.Upsert)
	if opts.ReturnNew {
		o.SetReturnDocument(options.After)
	}
	if len(opts.Projection) > 0 {
		o.SetProjection(opts.Projection)
	}
	if len(opts.Sort) > 0 {
		o.SetSort(opts.Sort)
	}
	var d bson.M
	err := m.db.Collection(coll).FindOneAndUpdate(ctx, nonNil(filter), update, o).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return bsonutil.CloneMap(d), nil
}

func (m *Mongo) Update(ctx context.Context, coll string, filter, update bson.M, opts UpdateOptions) (UpdateResult, error) {
	o := options.Update().SetUpsert(opts.Upsert)
	var (
		res *mongo.UpdateResult
		err error
	)
	if opts.Multi {
		res, err = m.db.Collection(coll).UpdateMany(ctx, nonNil(filter), update, o)
	} else {
		res, err = m.db.Collection(coll).UpdateOne(ctx, nonNil(filter), update, o)
	}
	if err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount, UpsertedID: res.UpsertedID}, nil
}

func (m *Mongo) Insert(ctx context.Context, coll string, doc bson.M) error {
	_, err := m.db.Collection(coll).InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateKey
	}
	return err
}

func (m *Mongo) Delete(ctx context.Context, coll string, filter bson.M) (int64, error) {
	res, err := m.db.Collection(coll).DeleteMany(ctx, nonNil(filter))
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func nonNil(filter bson.M) bson.M {
	if filter == nil {
		return bson.M{}
	}
	return filter
}
