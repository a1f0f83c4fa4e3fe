// Package sqlitestore はSQLite上に実装したドキュメントストア。
//
// ドキュメントはJSONとして1テーブルに保存し、フィールド条件はjson_extractで評価する。
// 変更はchangefeedに発行され、Watchはそれを合図にクエリを読み直す。
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nao1215/shopadmin/pkg/changefeed"
	"github.com/nao1215/shopadmin/pkg/docstore"
	"github.com/nao1215/shopadmin/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// backend はメトリクスのラベルに使うバックエンド名。
const backend = "sqlite"

// Store はSQLiteドキュメントストア。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
	// feed は変更イベントの発行先。
	feed changefeed.Feed
	// ownsFeed はfeedをStoreが生成したかどうか。
	ownsFeed bool
	// logger はロガー。
	logger *zap.Logger
	// now は現在時刻を返す関数。
	now func() time.Time
	// newID はドキュメントの識別子を生成する関数。
	newID func() string
}

var _ docstore.Store = (*Store)(nil)

// Option はStoreの設定を変更する。
type Option func(*Store)

// WithFeed は変更イベントの発行先を設定する。
// 指定しない場合はプロセス内のメモリフィードを使う。
func WithFeed(feed changefeed.Feed) Option {
	return func(s *Store) {
		s.feed = feed
	}
}

// WithLogger はロガーを設定する。
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock はサーバー時刻の取得元を設定する。
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator は識別子の生成関数を設定する。
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		s.newID = newID
	}
}

// Open はSQLiteデータベースを開き、スキーマを適用したStoreを返す。
// dsnに":memory:"を含む場合は接続を1本に制限する。
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	s := &Store{
		db:     db,
		logger: zap.NewNop(),
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.feed == nil {
		s.feed = changefeed.NewMemory()
		s.ownsFeed = true
	}

	if _, err := migration.Run(ctx, db, migrationsFS, "migrations", s.logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return s, nil
}

// Collection は名前に対応するコレクションを返す。
func (s *Store) Collection(name string) docstore.Collection {
	return &collection{store: s, name: name}
}

// Ping はデータベースへの疎通を確認する。
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return docstore.Wrap("ping", "", err)
	}
	return nil
}

// Close はデータベース接続を閉じる。Storeが生成したフィードも閉じる。
func (s *Store) Close() error {
	if s.ownsFeed {
		_ = s.feed.Close()
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("データベースのクローズに失敗: %w", err)
	}
	return nil
}

// topic はコレクションの変更イベントを流すトピック名を返す。
func topic(collection string) string {
	return "docstore:" + collection
}
