package docstore

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/nao1215/shopadmin/pkg/metrics"
)

// WatchConfig はStartWatchの入力。バックエンド実装向け。
type WatchConfig[T any] struct {
	// Collection は対象コレクション名（ログ用）。
	Collection string
	// Open は変更通知のチャネルを開く。ctxのキャンセルで通知を止め、チャネルを閉じること。
	Open func(ctx context.Context) (<-chan T, error)
	// Load は現在のクエリ結果を読み込む。
	Load func(ctx context.Context) (Snapshot, error)
	// Handler はスナップショットを受け取る関数。
	Handler SnapshotHandler
	// Logger は購読中のエラーを記録する。
	Logger *zap.Logger
}

// StartWatch は変更通知ごとにスナップショットを読み直してハンドラに渡す購読を開始する。
// 最初のスナップショットは開始直後に読み込まれる。通知が連続した場合はまとめて1回読み直す。
// 読み込みエラーは記録するだけで購読は継続する。通知チャネルが閉じると購読は終了する。
func StartWatch[T any](parent context.Context, cfg WatchConfig[T]) (Subscription, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(parent)
	notices, err := cfg.Open(ctx)
	if err != nil {
		cancel()
		return nil, Wrap("watch", cfg.Collection, err)
	}

	w := &watch{cancel: cancel, done: make(chan struct{})}
	metrics.ActiveSubscriptions.Inc()
	go func() {
		defer close(w.done)
		defer metrics.ActiveSubscriptions.Dec()

		deliver := func() {
			snap, err := cfg.Load(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Error("スナップショットの読み込みに失敗",
					zap.String("collection", cfg.Collection),
					zap.Error(err),
				)
				return
			}
			w.handling.Store(true)
			defer w.handling.Store(false)
			if ctx.Err() != nil {
				return
			}
			cfg.Handler(snap)
		}

		deliver()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-notices:
				if !ok {
					return
				}
				if !drain(notices) {
					deliver()
					return
				}
				deliver()
			}
		}
	}()
	return w, nil
}

// drain はすでに届いている通知を読み捨てる。チャネルが閉じていた場合はfalseを返す。
func drain[T any](ch <-chan T) bool {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return false
			}
		default:
			return true
		}
	}
}

// watch はStartWatchが返す購読。
type watch struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	// handling はハンドラの実行中にtrueになる。
	handling atomic.Bool
}

// Close は購読を終了する。
// ハンドラの実行中に呼ばれた場合はその完了を待たずに戻る。ハンドラ内から呼んでもよい。
// いずれの場合も、戻った後に新たなハンドラ呼び出しは始まらない。
func (w *watch) Close() error {
	w.once.Do(func() {
		w.cancel()
		if w.handling.Load() {
			return
		}
		<-w.done
	})
	return nil
}
