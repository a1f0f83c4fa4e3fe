package changefeed

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisFeed はRedis pub/subを使うFeed実装。
// 複数のサービスプロセスが同じRedisを参照することで変更通知を共有できる。
type RedisFeed struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
	owned  bool
}

var _ Feed = (*RedisFeed)(nil)

// RedisOption はRedisFeedの設定を変更する。
type RedisOption func(*RedisFeed)

// WithPrefix はチャネル名の接頭辞を設定する。
func WithPrefix(prefix string) RedisOption {
	return func(f *RedisFeed) {
		f.prefix = prefix
	}
}

// WithLogger はロガーを設定する。
func WithLogger(logger *zap.Logger) RedisOption {
	return func(f *RedisFeed) {
		f.logger = logger
	}
}

// NewRedis は既存のRedisクライアントからRedisFeedを生成する。
// クライアントのクローズは呼び出し側の責任。
func NewRedis(client *redis.Client, opts ...RedisOption) *RedisFeed {
	f := &RedisFeed{
		client: client,
		prefix: "shopadmin:",
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// DialRedis はRedisに接続してRedisFeedを生成する。
// 生成したクライアントはFeedのCloseで閉じられる。
func DialRedis(ctx context.Context, addr, password string, db int, opts ...RedisOption) (*RedisFeed, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("Redisへの接続に失敗: addr=%s: %w", addr, err)
	}
	f := NewRedis(client, opts...)
	f.owned = true
	return f, nil
}

// Publish はトピックに対応するRedisチャネルへメッセージを発行する。
func (f *RedisFeed) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := f.client.Publish(ctx, f.prefix+topic, payload).Err(); err != nil {
		return fmt.Errorf("Redisへの発行に失敗: topic=%s: %w", topic, err)
	}
	return nil
}

// Subscribe はトピックに対応するRedisチャネルを購読する。
// 購読がRedisに登録されてから戻るため、戻った直後の発行も受信できる。
func (f *RedisFeed) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	ps := f.client.Subscribe(ctx, f.prefix+topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("Redisの購読に失敗: topic=%s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &redisSubscription{
		ps:     ps,
		ch:     make(chan Message, memoryBufferSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go sub.forward(subCtx, topic, f.logger)
	return sub, nil
}

// Close はFeedが生成したRedisクライアントを閉じる。
func (f *RedisFeed) Close() error {
	if !f.owned {
		return nil
	}
	if err := f.client.Close(); err != nil {
		return fmt.Errorf("Redisクライアントのクローズに失敗: %w", err)
	}
	return nil
}

// redisSubscription はRedisFeedの購読。
type redisSubscription struct {
	ps     *redis.PubSub
	ch     chan Message
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// forward はRedisから受信したメッセージを購読チャネルへ転送する。
func (s *redisSubscription) forward(ctx context.Context, topic string, logger *zap.Logger) {
	defer close(s.done)
	defer close(s.ch)
	defer func() {
		if err := s.ps.Close(); err != nil {
			logger.Warn("Redis購読のクローズに失敗", zap.String("topic", topic), zap.Error(err))
		}
	}()

	in := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.ch <- Message{Topic: topic, Payload: []byte(m.Payload)}:
			default:
				logger.Debug("購読バッファが満杯のためメッセージを破棄", zap.String("topic", topic))
			}
		}
	}
}

func (s *redisSubscription) Messages() <-chan Message {
	return s.ch
}

func (s *redisSubscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}
