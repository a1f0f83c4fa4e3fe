package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/shopadmin/pkg/metrics"
)

// RequestLogger はリクエストごとにアクセスログを出力し、処理時間をメトリクスに記録する
// Ginミドルウェアを返す。serviceはメトリクスのラベルに使うサービス名。
func RequestLogger(logger *zap.Logger, service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		// ラベルには実パスではなくルートのパターンを使う
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.ObserveHTTPRequest(service, c.Request.Method, route, status, elapsed)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", elapsed),
			zap.String("client_ip", c.ClientIP()),
		}
		if userID := GetUserID(c); userID != "" {
			fields = append(fields, zap.String("user_id", userID))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case status >= 500:
			logger.Error("リクエスト処理", fields...)
		case status >= 400:
			logger.Warn("リクエスト処理", fields...)
		default:
			logger.Info("リクエスト処理", fields...)
		}
	}
}
