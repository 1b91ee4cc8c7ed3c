package redis

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_NotificationSeen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("unseen notification", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		cache := NewCache(client)

		mock.ExpectExists("notif:corr-1:success").SetVal(0)

		seen, err := cache.NotificationSeen(ctx, "corr-1", "success")
		require.NoError(t, err)
		assert.False(t, seen)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("seen notification", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		cache := NewCache(client)

		mock.ExpectExists("notif:corr-1:success").SetVal(1)

		seen, err := cache.NotificationSeen(ctx, "corr-1", "success")
		require.NoError(t, err)
		assert.True(t, seen)
	})

	t.Run("outcomes are tracked separately", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		cache := NewCache(client)

		mock.ExpectExists("notif:corr-1:failure").SetVal(0)

		seen, err := cache.NotificationSeen(ctx, "corr-1", "failure")
		require.NoError(t, err)
		assert.False(t, seen)
	})
}

func TestIdempotency_GetSet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("miss returns nil without error", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		idemp := NewIdempotency(client)

		mock.ExpectGet("idemp:key-1").RedisNil()

		resp, err := idemp.Get(ctx, "key-1")
		require.NoError(t, err)
		assert.Nil(t, resp)
	})

	t.Run("hit returns the cached response", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		idemp := NewIdempotency(client)

		cached := IdempResponse{Status: http.StatusCreated, Body: []byte(`{"order_id":"abc"}`)}
		data, err := json.Marshal(cached)
		require.NoError(t, err)
		mock.ExpectGet("idemp:key-1").SetVal(string(data))

		resp, err := idemp.Get(ctx, "key-1")
		require.NoError(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusCreated, resp.Status)
		assert.JSONEq(t, `{"order_id":"abc"}`, string(resp.Body))
	})

	t.Run("set stores the marshaled response with ttl", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		idemp := NewIdempotency(client)

		resp := IdempResponse{Status: http.StatusOK, Body: []byte(`{}`)}
		data, err := json.Marshal(resp)
		require.NoError(t, err)
		mock.ExpectSet("idemp:key-1", data, time.Hour).SetVal("OK")

		require.NoError(t, idemp.Set(ctx, "key-1", resp, time.Hour))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
