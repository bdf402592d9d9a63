package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	redisrepo "github.com/klarasod/studio-go/internal/repository/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyStore_LockLifecycle(t *testing.T) {
	db, mockRedis := redismock.NewClientMock()
	store := redisrepo.NewIdempotencyStore(db, 2*time.Hour)
	ctx := context.Background()

	key := redisrepo.KeyWebhookEvent("evt_1")

	mockRedis.ExpectSetNX(key, "LOCK", time.Minute).SetVal(true)
	locked, err := store.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, locked)

	mockRedis.ExpectSetNX(key, "LOCK", time.Minute).SetVal(false)
	locked, err = store.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, locked)

	assert.NoError(t, mockRedis.ExpectationsWereMet())
}

func TestIdempotencyStore_SaveAndGetResult(t *testing.T) {
	db, mockRedis := redismock.NewClientMock()
	store := redisrepo.NewIdempotencyStore(db, 2*time.Hour)
	ctx := context.Background()

	key := redisrepo.KeyWebhookEvent("evt_1")
	ack := `{"booking_id":"b1"}`

	mockRedis.ExpectSet(key, "RES:"+ack, 2*time.Hour).SetVal("OK")
	require.NoError(t, store.SaveResult(ctx, key, ack))

	mockRedis.ExpectGet(key).SetVal("RES:" + ack)
	got, ok, err := store.GetResult(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ack, got)
}

func TestIdempotencyStore_GetResult_LockIsNotAResult(t *testing.T) {
	db, mockRedis := redismock.NewClientMock()
	store := redisrepo.NewIdempotencyStore(db, time.Hour)

	key := redisrepo.KeyWebhookEvent("evt_1")
	mockRedis.ExpectGet(key).SetVal("LOCK")

	_, ok, err := store.GetResult(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIdempotencyStore_GetResult_Missing(t *testing.T) {
	db, mockRedis := redismock.NewClientMock()
	store := redisrepo.NewIdempotencyStore(db, time.Hour)

	key := redisrepo.KeyWebhookEvent("evt_gone")
	mockRedis.ExpectGet(key).RedisNil()

	_, ok, err := store.GetResult(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok)
}
