package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/shopadmin/pkg/config"
	"github.com/nao1215/shopadmin/pkg/docstore"
	"github.com/nao1215/shopadmin/pkg/event"
	"github.com/nao1215/shopadmin/pkg/httpserver"
	"github.com/nao1215/shopadmin/pkg/metrics"
	"github.com/nao1215/shopadmin/pkg/middleware"
)

// serviceName はログとメトリクスで使うサービス名。
const serviceName = "notification"

// maxLimit はクエリパラメータlimitの上限。
const maxLimit = 500

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// service は通知のビジネスロジック。
	service *Service
	// store はヘルスチェックで疎通を確認するドキュメントストア。
	store docstore.Store
	// logger はロガー。
	logger *zap.Logger
}

// NewServer は新しい通知サーバーを生成する。
func NewServer(cfg *config.Config, store docstore.Store, logger *zap.Logger) *Server {
	s := newServer(cfg.Port, store, logger)
	s.setupRoutes(middleware.JWTAuth(cfg.JWTSecret))
	return s
}

func newServer(port string, store docstore.Store, logger *zap.Logger) *Server {
	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger, serviceName))

	return &Server{
		router:  router,
		port:    port,
		service: NewService(store, logger),
		store:   store,
		logger:  logger,
	}
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるまでブロックする。
func (s *Server) Run(ctx context.Context) error {
	return httpserver.Run(ctx, fmt.Sprintf(":%s", s.port), s.router, s.logger)
}

// setupRoutes はAPIルーティングを設定する。authは管理者向けAPIの認証ミドルウェア。
func (s *Server) setupRoutes(auth gin.HandlerFunc) {
	api := s.router.Group("/api/v1")
	{
		notifications := api.Group("/notifications")
		notifications.Use(auth)
		{
			// 通知一覧取得
			notifications.GET("", s.handleList())
			// 未読通知一覧取得
			notifications.GET("/unread", s.handleListUnread())
			// 未読件数取得
			notifications.GET("/unread-count", s.handleUnreadCount())
			// 通知一覧のライブ配信（SSE）
			notifications.GET("/stream", s.handleStream())
			// 通知取得
			notifications.GET("/:id", s.handleGet())
			// 通知を既読にする
			notifications.PUT("/:id/read", s.handleMarkAsRead())
			// 最新100件の通知を既読にする
			notifications.PUT("/read-all", s.handleMarkAllAsRead())
		}

		// 通知作成（内部API - 他サービスから呼び出される）
		internal := api.Group("/internal")
		{
			internal.POST("/notifications", s.handleCreate())
			internal.POST("/orders", s.handleOrderPlaced())
			internal.POST("/signups", s.handleUserSignedUp())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", s.handleHealth())
	// メトリクス
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))
}

// handleHealth はストアへの疎通を含めたヘルスチェックを返すハンドラ。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.store.Ping(c.Request.Context()); err != nil {
			s.logger.Warn("ストアへの疎通確認に失敗", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "service": serviceName})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": serviceName})
	}
}

// handleList は通知一覧を返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := queryLimit(c)
		if !ok {
			return
		}
		list, err := s.service.List(c.Request.Context(), limit)
		if err != nil {
			writeError(c, err, "通知一覧の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

// handleListUnread は未読通知一覧を返すハンドラ。
func (s *Server) handleListUnread() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := queryLimit(c)
		if !ok {
			return
		}
		list, err := s.service.ListUnread(c.Request.Context(), limit)
		if err != nil {
			writeError(c, err, "未読通知一覧の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

// unreadCountResponse は未読件数のJSONレスポンス構造。
type unreadCountResponse struct {
	// Count は未読件数。
	Count int64 `json:"count"`
	// Capped は最新100件だけを数えた結果で、実際の件数がさらに多い可能性があるかどうか。
	Capped bool `json:"capped"`
}

// handleUnreadCount は未読件数を返すハンドラ。
// exact=trueの場合はコレクション全体を集計する。
func (s *Server) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		exact, err := strconv.ParseBool(c.DefaultQuery("exact", "false"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "exactはtrueまたはfalseを指定してください"})
			return
		}

		if exact {
			n, err := s.service.ExactUnreadCount(c.Request.Context())
			if err != nil {
				writeError(c, err, "未読件数の取得に失敗しました")
				return
			}
			c.JSON(http.StatusOK, unreadCountResponse{Count: n})
			return
		}

		n, err := s.service.UnreadCount(c.Request.Context())
		if err != nil {
			writeError(c, err, "未読件数の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, unreadCountResponse{Count: int64(n), Capped: n >= recentWindow})
	}
}

// handleGet は指定された通知を返すハンドラ。
func (s *Server) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := s.service.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err, "通知の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, n)
	}
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.service.MarkAsRead(c.Request.Context(), c.Param("id")); err != nil {
			writeError(c, err, "通知の既読処理に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "通知を既読にしました"})
	}
}

// handleMarkAllAsRead は最新100件の未読通知を既読にするハンドラ。
func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := s.service.MarkAllAsRead(c.Request.Context())
		if err != nil {
			writeError(c, err, "全通知の既読処理に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "全通知を既読にしました", "updated": n})
	}
}

// handleCreate は通知を作成するハンドラ。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateInput
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		n, err := s.service.Create(c.Request.Context(), req)
		if err != nil {
			writeError(c, err, "通知の作成に失敗しました")
			return
		}
		c.JSON(http.StatusCreated, n)
	}
}

// handleOrderPlaced は新規注文の通知を作成するハンドラ。
func (s *Server) handleOrderPlaced() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req event.OrderPlacedData
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if req.OrderID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "注文番号が必要です"})
			return
		}
		n, err := s.service.CreateOrderNotification(c.Request.Context(), req)
		if err != nil {
			writeError(c, err, "注文通知の作成に失敗しました")
			return
		}
		c.JSON(http.StatusCreated, n)
	}
}

// handleUserSignedUp は新規ユーザー登録の通知を作成するハンドラ。
func (s *Server) handleUserSignedUp() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req event.UserSignedUpData
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if req.Email == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "メールアドレスが必要です"})
			return
		}
		n, err := s.service.CreateUserSignupNotification(c.Request.Context(), req)
		if err != nil {
			writeError(c, err, "登録通知の作成に失敗しました")
			return
		}
		c.JSON(http.StatusCreated, n)
	}
}

// queryLimit はクエリパラメータlimitを読む。未指定の場合は0。
// 不正な値の場合は400を返してfalseを返す。
func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 || limit > maxLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("limitは0から%dの整数で指定してください", maxLimit)})
		return 0, false
	}
	return limit, true
}

// writeError はエラーの種類に応じたステータスコードでレスポンスを返す。
// 想定外のエラーはmessageだけを返す。
func writeError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, ErrInvalidNotification):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, docstore.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": message})
	}
}
