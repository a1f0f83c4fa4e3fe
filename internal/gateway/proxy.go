package gateway

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/shopadmin/pkg/middleware"
)

// newProxy は内部サービスへのリバースプロキシを生成する。
// レスポンスは書き込みごとにフラッシュするため、SSEもそのまま中継される。
func newProxy(rawURL string, logger *zap.Logger) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("転送先URLが不正です: %q: %w", rawURL, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("転送先URLが不正です: %q", rawURL)
	}

	return &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(target)
			r.SetXForwarded()
		},
		FlushInterval: -1,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("プロキシエラー",
				zap.String("target", target.String()),
				zap.String("path", r.URL.Path),
				zap.Error(err),
			)
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"内部サービスとの通信に失敗しました"}`))
		},
	}, nil
}

// handleProxy はリクエストをそのままのパスで転送するハンドラを返す。
// 認証済みのユーザーIDをX-User-IDヘッダーとして付与する。
func handleProxy(proxy *httputil.ReverseProxy) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Header.Set("X-User-ID", middleware.GetUserID(c))
		proxy.ServeHTTP(c.Writer, c.Request)
	}
}
