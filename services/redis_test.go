package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisClient_Pings(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), RedisOptions{Address: mr.Addr(), PoolSize: 2})
	require.NoError(t, err)
	defer CloseRedisClient(client)

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestNewRedisClient_FailsAfterRetries(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	start := time.Now()
	_, err = NewRedisClient(context.Background(), RedisOptions{
		Address:     addr,
		DialTimeout: 100 * time.Millisecond,
		PingRetries: 1,
	})
	require.Error(t, err)
	assert.Less(t, time.Since(start), pingTimeout+time.Second)
}

func TestCloseRedisClient_Nil(t *testing.T) {
	assert.NoError(t, CloseRedisClient(nil))
}
