package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/gogotex/gogotex/backend/odm/internal/config"
	"github.com/gogotex/gogotex/backend/odm/internal/database"
	"github.com/gogotex/gogotex/backend/odm/internal/driver"
)

func TestOpenStoreFallsBackToMemory(t *testing.T) {
	prev := connectMongo
	defer func() { connectMongo = prev }()

	var calls int
	connectMongo = func(_ context.Context, uri string, _ time.Duration, r database.Retry) (*mongo.Client, error) {
		calls++
		assert.Equal(t, "mongodb://unreachable:27017", uri)
		assert.Equal(t, mongoRetry, r)
		return nil, errors.New("could not connect to MongoDB after 5 attempts")
	}

	store, closeStore := openStore(context.Background(), config.MongoDBConfig{URI: "mongodb://unreachable:27017", Database: "odm"})
	defer closeStore()
	assert.Equal(t, 1, calls)
	assert.IsType(t, &driver.Memory{}, store)
}

func TestOpenStoreWithoutURI(t *testing.T) {
	prev := connectMongo
	defer func() { connectMongo = prev }()
	connectMongo = func(context.Context, string, time.Duration, database.Retry) (*mongo.Client, error) {
		t.Fatal("no connection expected")
		return nil, nil
	}

	store, closeStore := openStore(context.Background(), config.MongoDBConfig{})
	defer closeStore()
	assert.IsType(t, &driver.Memory{}, store)
}
