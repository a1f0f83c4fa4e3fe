package changefeed

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedisFeed はminiredisに接続したRedisFeedを生成する。
func newTestRedisFeed(t *testing.T) (*RedisFeed, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, WithPrefix("test:")), mr
}

func TestRedisFeed(t *testing.T) {
	t.Parallel()

	t.Run("購読したトピックのメッセージを受信できること", func(t *testing.T) {
		t.Parallel()

		feed, _ := newTestRedisFeed(t)
		ctx := context.Background()

		sub, err := feed.Subscribe(ctx, "docstore:notifications")
		require.NoError(t, err)
		defer sub.Close()

		require.NoError(t, feed.Publish(ctx, "docstore:notifications", []byte(`{"event_type":"DocumentInserted"}`)))

		msg := receive(t, sub)
		assert.Equal(t, "docstore:notifications", msg.Topic)
		assert.JSONEq(t, `{"event_type":"DocumentInserted"}`, string(msg.Payload))
	})

	t.Run("接頭辞付きのRedisチャネルに発行されること", func(t *testing.T) {
		t.Parallel()

		feed, mr := newTestRedisFeed(t)
		ctx := context.Background()

		sub, err := feed.Subscribe(ctx, "orders")
		require.NoError(t, err)
		defer sub.Close()

		assert.Contains(t, mr.PubSubChannels(""), "test:orders")
	})

	t.Run("Closeで購読チャネルがクローズされること", func(t *testing.T) {
		t.Parallel()

		feed, _ := newTestRedisFeed(t)
		sub, err := feed.Subscribe(context.Background(), "t")
		require.NoError(t, err)

		require.NoError(t, sub.Close())
		require.NoError(t, sub.Close())
		assertClosed(t, sub)
	})

	t.Run("Redisに接続できない場合はDialRedisがエラーを返すこと", func(t *testing.T) {
		t.Parallel()

		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		_, err := DialRedis(context.Background(), addr, "", 0)
		assert.Error(t, err)
	})

	t.Run("DialRedisで生成したフィードはCloseでクライアントを閉じること", func(t *testing.T) {
		t.Parallel()

		mr := miniredis.RunT(t)
		feed, err := DialRedis(context.Background(), mr.Addr(), "", 0)
		require.NoError(t, err)
		require.NoError(t, feed.Close())

		assert.Error(t, feed.Publish(context.Background(), "t", []byte("x")))
	})
}
