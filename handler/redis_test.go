package handler

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/databind"
	dberrors "github.com/tokmz/databind/pkg/errors"
)

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	srv, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	client, err := NewRedisClient(&RedisOptions{Addr: srv.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return srv, NewRedis(client)
}

func redisConfig(key string, kind databind.RedisKind) *databind.Config {
	return &databind.Config{ID: "r", Type: databind.TypeRedis, Redis: &databind.RedisConfig{Key: key, Kind: kind}}
}

func TestRedisString(t *testing.T) {
	srv, h := newMiniRedis(t)
	require.NoError(t, srv.Set("weather", `{"t":72}`))
	require.NoError(t, srv.Set("greeting", "hello"))

	data, err := h.Fetch(context.Background(), redisConfig("weather", ""))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"t": float64(72)}, data)

	data, err = h.Fetch(context.Background(), redisConfig("greeting", databind.RedisString))
	require.NoError(t, err)
	assert.Equal(t, "hello", data)

	data, err = h.Fetch(context.Background(), redisConfig("missing", databind.RedisString))
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestRedisHashAndList(t *testing.T) {
	srv, h := newMiniRedis(t)
	srv.HSet("user:1", "name", "ada", "roles", `["admin"]`)
	_, err := srv.Push("events", "a", "b")
	require.NoError(t, err)

	data, err := h.Fetch(context.Background(), redisConfig("user:1", databind.RedisHash))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "ada", "roles": []any{"admin"}}, data)

	data, err = h.Fetch(context.Background(), redisConfig("events", databind.RedisList))
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, data)

	data, err = h.Fetch(context.Background(), redisConfig("nope", databind.RedisHash))
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestRedisErrors(t *testing.T) {
	srv, h := newMiniRedis(t)
	require.NoError(t, srv.Set("k", "v"))

	_, err := h.Fetch(context.Background(), redisConfig("k", "set"))
	assert.Equal(t, dberrors.KindConfig, dberrors.KindOf(err))

	_, err = h.Fetch(context.Background(), redisConfig("", ""))
	assert.Equal(t, dberrors.KindConfig, dberrors.KindOf(err))

	// 类型不匹配
	_, err = h.Fetch(context.Background(), redisConfig("k", databind.RedisList))
	assert.Equal(t, dberrors.KindNetwork, dberrors.KindOf(err))

	srv.Close()
	_, err = h.Fetch(context.Background(), redisConfig("k", databind.RedisString))
	assert.Equal(t, dberrors.KindNetwork, dberrors.KindOf(err))
}

func TestNewRedisClientModes(t *testing.T) {
	_, err := NewRedisClient(&RedisOptions{Mode: RedisCluster})
	assert.Equal(t, dberrors.KindConfig, dberrors.KindOf(err))

	_, err = NewRedisClient(&RedisOptions{Mode: RedisSentinel, Addrs: []string{"a:1"}})
	assert.Equal(t, dberrors.KindConfig, dberrors.KindOf(err))

	_, err = NewRedisClient(&RedisOptions{Mode: "shard"})
	assert.Equal(t, dberrors.KindConfig, dberrors.KindOf(err))

	c, err := NewRedisClient(&RedisOptions{Mode: RedisCluster, Addrs: []string{"a:1", "b:2"}})
	require.NoError(t, err)
	assert.IsType(t, &redis.ClusterClient{}, c)
	_ = c.Close()
}
