// Package mongostore はMongoDB上に実装したドキュメントストア。
//
// 識別子は文字列の_id（UUID）として保存し、サーバー時刻は$currentDateで書き込む。
// Watchはチェンジストリームを合図にクエリを読み直す。UpdateManyはトランザクションを
// 使うため、レプリカセット構成のMongoDBが必要。
package mongostore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/nao1215/shopadmin/pkg/docstore"
)

// backend はメトリクスのラベルに使うバックエンド名。
const backend = "mongo"

// Store はMongoDBドキュメントストア。
type Store struct {
	// client はMongoDBクライアント。
	client *mongo.Client
	// db は対象データベース。
	db *mongo.Database
	// owned はclientをStoreが生成したかどうか。
	owned bool
	// logger はロガー。
	logger *zap.Logger
	// newID はドキュメントの識別子を生成する関数。
	newID func() string
	// retryDelay はチェンジストリームの再接続間隔。
	retryDelay time.Duration
}

var _ docstore.Store = (*Store)(nil)

// Option はStoreの設定を変更する。
type Option func(*Store)

// WithLogger はロガーを設定する。
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithIDGenerator は識別子の生成関数を設定する。
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		s.newID = newID
	}
}

// WithRetryDelay はチェンジストリームが切断されたときの再接続間隔を設定する。
func WithRetryDelay(d time.Duration) Option {
	return func(s *Store) {
		s.retryDelay = d
	}
}

// New は既存のクライアントからStoreを生成する。クライアントの切断は呼び出し側の責任。
func New(client *mongo.Client, database string, opts ...Option) *Store {
	s := &Store{
		client:     client,
		db:         client.Database(database),
		logger:     zap.NewNop(),
		newID:      func() string { return uuid.New().String() },
		retryDelay: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect はMongoDBに接続してStoreを生成する。
func Connect(ctx context.Context, uri, database string, opts ...Option) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("MongoDBへの接続に失敗: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("MongoDBへの疎通確認に失敗: %w", err)
	}
	s := New(client, database, opts...)
	s.owned = true
	return s, nil
}

// Collection は名前に対応するコレクションを返す。
func (s *Store) Collection(name string) docstore.Collection {
	return &collection{store: s, coll: s.db.Collection(name), name: name}
}

// Ping はMongoDBへの疎通を確認する。
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return docstore.Wrap("ping", "", err)
	}
	return nil
}

// Close はStoreが生成したクライアントを切断する。
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("MongoDBの切断に失敗: %w", err)
	}
	return nil
}
