package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectMongoWithRetryBacksOff(t *testing.T) {
	var waits []time.Duration
	prev := sleep
	sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	defer func() { sleep = prev }()

	_, err := ConnectMongoWithRetry(context.Background(), "not-a-mongo-uri", time.Second, Retry{Attempts: 3, Backoff: 10 * time.Millisecond})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, waits)
}

func TestConnectMongoWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ConnectMongoWithRetry(ctx, "not-a-mongo-uri", time.Second, Retry{Attempts: 5, Backoff: time.Hour})
	assert.ErrorIs(t, err, context.Canceled)
}
