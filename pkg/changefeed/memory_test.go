package changefeed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// receive は購読からメッセージを1件受信する。タイムアウトした場合はテストを失敗させる。
func receive(t *testing.T, sub Subscription) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		require.True(t, ok, "購読チャネルがクローズされている")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("メッセージを受信できなかった")
		return Message{}
	}
}

// assertClosed は購読チャネルがクローズされることを検証する。
func assertClosed(t *testing.T, sub Subscription) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.Messages():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("購読チャネルがクローズされなかった")
		}
	}
}

func TestMemoryFeed(t *testing.T) {
	t.Parallel()

	t.Run("同じトピックの購読者全員に配信されること", func(t *testing.T) {
		t.Parallel()

		feed := NewMemory()
		defer feed.Close()
		ctx := context.Background()

		sub1, err := feed.Subscribe(ctx, "docstore:notifications")
		require.NoError(t, err)
		defer sub1.Close()
		sub2, err := feed.Subscribe(ctx, "docstore:notifications")
		require.NoError(t, err)
		defer sub2.Close()

		require.NoError(t, feed.Publish(ctx, "docstore:notifications", []byte("changed")))

		for _, sub := range []Subscription{sub1, sub2} {
			msg := receive(t, sub)
			assert.Equal(t, "docstore:notifications", msg.Topic)
			assert.Equal(t, []byte("changed"), msg.Payload)
		}
	})

	t.Run("別トピックのメッセージは届かないこと", func(t *testing.T) {
		t.Parallel()

		feed := NewMemory()
		defer feed.Close()
		ctx := context.Background()

		sub, err := feed.Subscribe(ctx, "docstore:userApprovalRequests")
		require.NoError(t, err)
		defer sub.Close()

		require.NoError(t, feed.Publish(ctx, "docstore:notifications", []byte("x")))

		select {
		case msg := <-sub.Messages():
			t.Fatalf("想定外のメッセージを受信: %+v", msg)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("バッファが埋まっても発行がブロックしないこと", func(t *testing.T) {
		t.Parallel()

		feed := NewMemory()
		defer feed.Close()
		ctx := context.Background()

		sub, err := feed.Subscribe(ctx, "t")
		require.NoError(t, err)
		defer sub.Close()

		for i := 0; i < memoryBufferSize*3; i++ {
			require.NoError(t, feed.Publish(ctx, "t", []byte("x")))
		}
		assert.Len(t, sub.Messages(), memoryBufferSize)
	})

	t.Run("Closeで購読チャネルがクローズされ二重Closeも安全なこと", func(t *testing.T) {
		t.Parallel()

		feed := NewMemory()
		defer feed.Close()

		sub, err := feed.Subscribe(context.Background(), "t")
		require.NoError(t, err)
		require.NoError(t, sub.Close())
		require.NoError(t, sub.Close())
		assertClosed(t, sub)

		require.NoError(t, feed.Publish(context.Background(), "t", []byte("x")))
	})

	t.Run("コンテキストのキャンセルで購読が終了すること", func(t *testing.T) {
		t.Parallel()

		feed := NewMemory()
		defer feed.Close()
		ctx, cancel := context.WithCancel(context.Background())

		sub, err := feed.Subscribe(ctx, "t")
		require.NoError(t, err)
		cancel()
		assertClosed(t, sub)
	})

	t.Run("フィードのクローズ後は操作がErrClosedになること", func(t *testing.T) {
		t.Parallel()

		feed := NewMemory()
		sub, err := feed.Subscribe(context.Background(), "t")
		require.NoError(t, err)

		require.NoError(t, feed.Close())
		assertClosed(t, sub)
		require.NoError(t, sub.Close())

		assert.ErrorIs(t, feed.Publish(context.Background(), "t", nil), ErrClosed)
		_, err = feed.Subscribe(context.Background(), "t")
		assert.ErrorIs(t, err, ErrClosed)
	})
}
