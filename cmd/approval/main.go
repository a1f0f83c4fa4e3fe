// 承認サービスのエントリポイント。
// 管理画面へのアクセス申請を受け付け、管理者による承認・却下を記録する。
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/nao1215/shopadmin/internal/approval"
	"github.com/nao1215/shopadmin/pkg/config"
	"github.com/nao1215/shopadmin/pkg/logger"
	"github.com/nao1215/shopadmin/pkg/storage"
)

func main() {
	cfg, err := config.Load("8087")
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}
	lg, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("ロガーの初期化に失敗: %v", err)
	}
	defer func() { _ = lg.Sync() }()
	lg = lg.With(zap.String("service", "approval"))

	if err := run(cfg, lg); err != nil {
		lg.Fatal("承認サービスの起動に失敗", zap.Error(err))
	}
}

func run(cfg *config.Config, lg *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	feed, err := storage.OpenFeed(ctx, cfg.Feed, lg)
	if err != nil {
		return err
	}
	defer feed.Close()

	store, err := storage.OpenStore(ctx, cfg.Store, feed, lg)
	if err != nil {
		return err
	}
	defer store.Close()

	lg.Info("承認サービスを起動します",
		zap.String("port", cfg.Port),
		zap.String("notification_url", cfg.Services.Notification),
	)
	return approval.NewServer(cfg, store, lg).Run(ctx)
}
