package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/crypto-subscriptions/internal/config"
)

type testStruct struct {
	Name string
	Age  int
}

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	t.Cleanup(func() { mr.Close() })

	cfg := config.RedisConnection{
		AddressRedis: mr.Addr(),
		Password:     "",
		DB:           0,
		User:         "",
	}

	cache, err := InitServer(context.Background(), cfg)
	require.NoError(t, err)
	return cache, mr
}

func TestSetAndGet(t *testing.T) {
	cache, _ := setupTestCache(t)

	expected := testStruct{Name: "Alice", Age: 30}
	err := cache.Set("user:1", expected, time.Minute)
	require.NoError(t, err)

	var actual testStruct
	found, err := cache.Get("user:1", &actual)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, expected, actual)
}

func TestGetNotFound(t *testing.T) {
	cache, _ := setupTestCache(t)

	var out testStruct
	found, err := cache.Get("no_such_key", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInvalidate(t *testing.T) {
	cache, _ := setupTestCache(t)

	require.NoError(t, cache.Set("key", testStruct{Name: "Bob"}, time.Minute))
	require.NoError(t, cache.Invalidate("key"))

	var out testStruct
	found, err := cache.Get("key", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestThrottle(t *testing.T) {
	cache, mr := setupTestCache(t)

	ok, err := cache.Throttle("check:cp-1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	// Пока ключ занят, повторный вызов отклоняется.
	ok, err = cache.Throttle("check:cp-1", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	// После истечения ttl ключ снова свободен.
	mr.FastForward(31 * time.Second)
	ok, err = cache.Throttle("check:cp-1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}
