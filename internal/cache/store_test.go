package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screener/pkg/model"
)

func sampleBars() []model.Bar {
	day := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	return []model.Bar{
		{Time: day, Open: 100, High: 102, Low: 99, Close: 101, Volume: 1000},
		{Time: day.AddDate(0, 0, 1), Open: 101, High: 104, Low: 100, Close: 103, Volume: 2000},
	}
}

func TestRedisStore_Hit(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, time.Minute)

	data, err := json.Marshal(sampleBars())
	require.NoError(t, err)
	mock.ExpectGet(redisKeyPrefix + "BBCA|22").SetVal(string(data))

	bars, hit, err := store.GetOrLoad(context.Background(), "BBCA|22", func(context.Context) ([]model.Bar, error) {
		t.Fatal("loader must not run on a hit")
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, sampleBars(), bars)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_MissLoadsAndStores(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, time.Minute)

	data, err := json.Marshal(sampleBars())
	require.NoError(t, err)
	key := redisKeyPrefix + "TLKM|22"
	mock.ExpectGet(key).RedisNil()
	mock.ExpectGet(key).RedisNil()
	mock.ExpectSet(key, string(data), time.Minute).SetVal("OK")

	bars, hit, err := store.GetOrLoad(context.Background(), "TLKM|22", func(context.Context) ([]model.Bar, error) {
		return sampleBars(), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Len(t, bars, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_LoaderErrorNotStored(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, time.Minute)

	key := redisKeyPrefix + "GOTO|22"
	mock.ExpectGet(key).RedisNil()
	mock.ExpectGet(key).RedisNil()

	_, _, err := store.GetOrLoad(context.Background(), "GOTO|22", func(context.Context) ([]model.Bar, error) {
		return nil, errors.New("no data")
	})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_RedisErrorFallsBackToLoader(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, time.Minute)

	data, err := json.Marshal(sampleBars())
	require.NoError(t, err)
	key := redisKeyPrefix + "ASII|22"
	mock.ExpectGet(key).SetErr(redis.TxFailedErr)
	mock.ExpectGet(key).SetErr(redis.TxFailedErr)
	mock.ExpectSet(key, string(data), time.Minute).SetErr(redis.TxFailedErr)

	bars, hit, err := store.GetOrLoad(context.Background(), "ASII|22", func(context.Context) ([]model.Bar, error) {
		return sampleBars(), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Len(t, bars, 2)
}

func TestMemoryStoreSatisfiesBarStore(t *testing.T) {
	var store BarStore = NewMemoryStore(time.Minute, nil)
	bars, hit, err := store.GetOrLoad(context.Background(), "k", func(context.Context) ([]model.Bar, error) {
		return sampleBars(), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Len(t, bars, 2)
}
