// Package storage は設定からドキュメントストアとチェンジフィードを組み立てる。
package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nao1215/shopadmin/pkg/changefeed"
	"github.com/nao1215/shopadmin/pkg/config"
	"github.com/nao1215/shopadmin/pkg/docstore"
	"github.com/nao1215/shopadmin/pkg/docstore/mongostore"
	"github.com/nao1215/shopadmin/pkg/docstore/sqlitestore"
)

// OpenFeed は設定に応じたチェンジフィードを生成する。
func OpenFeed(ctx context.Context, cfg config.FeedConfig, logger *zap.Logger) (changefeed.Feed, error) {
	switch cfg.Driver {
	case "memory", "":
		return changefeed.NewMemory(), nil
	case "redis":
		feed, err := changefeed.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, changefeed.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return feed, nil
	default:
		return nil, fmt.Errorf("不明なフィードドライバ: %q", cfg.Driver)
	}
}

// OpenStore は設定に応じたドキュメントストアを生成する。
// SQLiteストアは変更イベントをfeedに発行する。MongoDBストアはチェンジストリームを使うためfeedを使わない。
func OpenStore(ctx context.Context, cfg config.StoreConfig, feed changefeed.Feed, logger *zap.Logger) (docstore.Store, error) {
	switch cfg.Driver {
	case "sqlite", "":
		opts := []sqlitestore.Option{sqlitestore.WithLogger(logger)}
		if feed != nil {
			opts = append(opts, sqlitestore.WithFeed(feed))
		}
		s, err := sqlitestore.Open(ctx, cfg.SQLitePath, opts...)
		if err != nil {
			return nil, err
		}
		logger.Info("SQLiteドキュメントストアを開きました", zap.String("path", cfg.SQLitePath))
		return s, nil
	case "mongo":
		s, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, mongostore.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		logger.Info("MongoDBドキュメントストアに接続しました", zap.String("database", cfg.MongoDatabase))
		return s, nil
	default:
		return nil, fmt.Errorf("不明なストアドライバ: %q", cfg.Driver)
	}
}
