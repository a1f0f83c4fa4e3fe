package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	t.Parallel()

	t.Run("バックエンドのエラーが*Errorに包まれること", func(t *testing.T) {
		t.Parallel()

		cause := errors.New("disk I/O error")
		err := Wrap("insert", "notifications", cause)

		var se *Error
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "insert", se.Op)
		assert.Equal(t, "notifications", se.Collection)
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "op=insert")
	})

	t.Run("ErrNotFoundはそのまま返されること", func(t *testing.T) {
		t.Parallel()

		err := Wrap("get", "notifications", fmt.Errorf("id=x: %w", ErrNotFound))
		assert.ErrorIs(t, err, ErrNotFound)
		var se *Error
		assert.False(t, errors.As(err, &se))
	})

	t.Run("nilと*Errorは二重に包まれないこと", func(t *testing.T) {
		t.Parallel()

		assert.NoError(t, Wrap("get", "c", nil))

		inner := &Error{Op: "find", Collection: "c", Err: errors.New("x")}
		assert.Same(t, inner, Wrap("count", "c", inner))
	})
}

func TestServerTimestamp(t *testing.T) {
	t.Parallel()

	assert.True(t, IsServerTimestamp(ServerTimestamp))
	assert.False(t, IsServerTimestamp(time.Now()))

	o := ApplyInsertOptions([]InsertOption{WithServerTimestamp("createdAt"), WithServerTimestamp("updatedAt")})
	assert.Equal(t, []string{"createdAt", "updatedAt"}, o.ServerTimestamps)
}

// fakeSnapshot はテスト用のスナップショット。
type fakeSnapshot struct{ n int }

func (s fakeSnapshot) Len() int         { return s.n }
func (s fakeSnapshot) Decode(any) error { return nil }

func TestStartWatch(t *testing.T) {
	t.Parallel()

	t.Run("開始時と通知ごとにスナップショットが渡されること", func(t *testing.T) {
		t.Parallel()

		notices := make(chan struct{}, 1)
		var mu sync.Mutex
		version := 0
		got := make(chan int, 10)

		sub, err := StartWatch(context.Background(), WatchConfig[struct{}]{
			Collection: "notifications",
			Open:       func(context.Context) (<-chan struct{}, error) { return notices, nil },
			Load: func(context.Context) (Snapshot, error) {
				mu.Lock()
				defer mu.Unlock()
				return fakeSnapshot{n: version}, nil
			},
			Handler: func(s Snapshot) { got <- s.Len() },
		})
		require.NoError(t, err)
		defer sub.Close()

		assert.Equal(t, 0, waitValue(t, got))

		mu.Lock()
		version = 3
		mu.Unlock()
		notices <- struct{}{}
		assert.Equal(t, 3, waitValue(t, got))
	})

	t.Run("読み込みエラーの後も購読が継続すること", func(t *testing.T) {
		t.Parallel()

		notices := make(chan struct{}, 1)
		var mu sync.Mutex
		fail := true
		got := make(chan int, 10)

		sub, err := StartWatch(context.Background(), WatchConfig[struct{}]{
			Collection: "notifications",
			Open:       func(context.Context) (<-chan struct{}, error) { return notices, nil },
			Load: func(context.Context) (Snapshot, error) {
				mu.Lock()
				defer mu.Unlock()
				if fail {
					return nil, errors.New("一時的な障害")
				}
				return fakeSnapshot{n: 1}, nil
			},
			Handler: func(s Snapshot) { got <- s.Len() },
		})
		require.NoError(t, err)
		defer sub.Close()

		mu.Lock()
		fail = false
		mu.Unlock()
		notices <- struct{}{}
		assert.Equal(t, 1, waitValue(t, got))
	})

	t.Run("Openが失敗した場合は*Errorを返すこと", func(t *testing.T) {
		t.Parallel()

		_, err := StartWatch(context.Background(), WatchConfig[struct{}]{
			Collection: "notifications",
			Open:       func(context.Context) (<-chan struct{}, error) { return nil, errors.New("接続不可") },
			Load:       func(context.Context) (Snapshot, error) { return fakeSnapshot{}, nil },
			Handler:    func(Snapshot) {},
		})
		var se *Error
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "watch", se.Op)
	})

	t.Run("Close後はハンドラが呼ばれないこと", func(t *testing.T) {
		t.Parallel()

		notices := make(chan struct{}, 1)
		got := make(chan int, 10)

		sub, err := StartWatch(context.Background(), WatchConfig[struct{}]{
			Collection: "notifications",
			Open:       func(context.Context) (<-chan struct{}, error) { return notices, nil },
			Load:       func(context.Context) (Snapshot, error) { return fakeSnapshot{n: 1}, nil },
			Handler:    func(s Snapshot) { got <- s.Len() },
		})
		require.NoError(t, err)
		waitValue(t, got)

		require.NoError(t, sub.Close())
		require.NoError(t, sub.Close())
		notices <- struct{}{}

		select {
		case v := <-got:
			t.Fatalf("Close後にハンドラが呼ばれた: %d", v)
		case <-time.After(50 * time.Millisecond):
		}
	})
	t.Run("ハンドラ内からCloseしても停止せず以降は呼ばれないこと", func(t *testing.T) {
		t.Parallel()

		notices := make(chan struct{}, 1)
		subCh := make(chan Subscription, 1)
		closed := make(chan struct{})
		var calls atomic.Int32

		sub, err := StartWatch(context.Background(), WatchConfig[struct{}]{
			Collection: "notifications",
			Open:       func(context.Context) (<-chan struct{}, error) { return notices, nil },
			Load:       func(context.Context) (Snapshot, error) { return fakeSnapshot{n: 1}, nil },
			Handler: func(Snapshot) {
				calls.Add(1)
				_ = (<-subCh).Close()
				close(closed)
			},
		})
		require.NoError(t, err)
		subCh <- sub

		select {
		case <-closed:
		case <-time.After(2 * time.Second):
			t.Fatal("ハンドラ内のCloseが戻らなかった")
		}
		require.NoError(t, sub.Close())

		notices <- struct{}{}
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, int32(1), calls.Load())
	})
}

// waitValue はチャネルから値を1つ受け取る。
func waitValue(t *testing.T, ch <-chan int) int {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("ハンドラが呼ばれなかった")
		return 0
	}
}
