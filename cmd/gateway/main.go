// API Gatewayサービスのエントリポイント。
// 承認済み管理者へのJWT発行と、内部サービスへのリクエスト転送を担当する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線となる。
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/nao1215/shopadmin/internal/gateway"
	"github.com/nao1215/shopadmin/pkg/config"
	"github.com/nao1215/shopadmin/pkg/logger"
)

func main() {
	cfg, err := config.Load("8080")
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}
	lg, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("ロガーの初期化に失敗: %v", err)
	}
	defer func() { _ = lg.Sync() }()
	lg = lg.With(zap.String("service", "gateway"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server, err := gateway.NewServer(cfg, lg)
	if err != nil {
		lg.Fatal("Gatewayサーバーの初期化に失敗", zap.Error(err))
	}

	lg.Info("Gatewayサービスを起動します", zap.String("port", cfg.Port))
	if err := server.Run(ctx); err != nil {
		lg.Fatal("Gatewayサービスの起動に失敗", zap.Error(err))
	}
}
