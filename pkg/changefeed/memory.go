package changefeed

import (
	"context"
	"sync"
)

// memoryBufferSize は購読ごとの受信バッファ長。
// バッファが埋まっている購読者へのメッセージは破棄する。購読側は変更の合図として
// 扱うだけなので、取りこぼしても次のメッセージで最新状態を読み直せる。
const memoryBufferSize = 16

// MemoryFeed はプロセス内で完結するFeed実装。
type MemoryFeed struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySubscription]struct{}
	closed bool
}

var _ Feed = (*MemoryFeed)(nil)

// NewMemory は新しいMemoryFeedを生成する。
func NewMemory() *MemoryFeed {
	return &MemoryFeed{
		subs: make(map[string]map[*memorySubscription]struct{}),
	}
}

// Publish はトピックの購読者全員にメッセージを配信する。
func (f *MemoryFeed) Publish(_ context.Context, topic string, payload []byte) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrClosed
	}

	msg := Message{Topic: topic, Payload: payload}
	for sub := range f.subs[topic] {
		select {
		case sub.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe はトピックを購読する。
func (f *MemoryFeed) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}

	sub := &memorySubscription{
		feed:  f,
		topic: topic,
		ch:    make(chan Message, memoryBufferSize),
		done:  make(chan struct{}),
	}
	if f.subs[topic] == nil {
		f.subs[topic] = make(map[*memorySubscription]struct{})
	}
	f.subs[topic][sub] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Close はすべての購読を閉じる。
func (f *MemoryFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	for _, subs := range f.subs {
		for sub := range subs {
			sub.closeLocked()
		}
	}
	f.subs = nil
	return nil
}

// remove は購読をフィードから外す。
func (f *MemoryFeed) remove(sub *memorySubscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if subs, ok := f.subs[sub.topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(f.subs, sub.topic)
		}
	}
	sub.closeLocked()
}

// memorySubscription はMemoryFeedの購読。
type memorySubscription struct {
	feed  *MemoryFeed
	topic string
	ch    chan Message
	done  chan struct{}
	once  sync.Once
}

func (s *memorySubscription) Messages() <-chan Message {
	return s.ch
}

func (s *memorySubscription) Close() error {
	s.feed.remove(s)
	return nil
}

// closeLocked はフィードのロックを保持した状態でチャネルを閉じる。
func (s *memorySubscription) closeLocked() {
	s.once.Do(func() {
		close(s.done)
		close(s.ch)
	})
}
