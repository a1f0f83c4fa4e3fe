// Package changefeed はトピック単位のpublish/subscribeを提供する。
//
// ドキュメントストアは変更のたびにイベントを発行し、ライブ購読は
// そのイベントを合図にスナップショットを読み直す。
// 単一プロセス向けのメモリ実装と、複数プロセス間で共有できるRedis実装がある。
package changefeed

import (
	"context"
	"errors"
)

// ErrClosed はクローズ済みのフィードを操作したことを表す。
var ErrClosed = errors.New("changefeed: フィードはクローズ済みです")

// Message はフィードに流れる1件のメッセージ。
type Message struct {
	// Topic は発行先のトピック名。
	Topic string
	// Payload はメッセージ本体。
	Payload []byte
}

// Subscription はトピックの購読。
type Subscription interface {
	// Messages は受信メッセージのチャネルを返す。購読終了時にクローズされる。
	Messages() <-chan Message
	// Close は購読を終了する。複数回呼び出してもよい。
	Close() error
}

// Feed はトピック単位のメッセージ配信路。
type Feed interface {
	// Publish はトピックにメッセージを発行する。
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe はトピックを購読する。ctxがキャンセルされると購読は終了する。
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	// Close はフィードを終了し、すべての購読を閉じる。
	Close() error
}
