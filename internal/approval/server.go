package approval

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/shopadmin/pkg/config"
	"github.com/nao1215/shopadmin/pkg/docstore"
	"github.com/nao1215/shopadmin/pkg/httpserver"
	"github.com/nao1215/shopadmin/pkg/metrics"
	"github.com/nao1215/shopadmin/pkg/middleware"
)

// serviceName はログとメトリクスで使うサービス名。
const serviceName = "approval"

// Server は承認サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// service は承認のビジネスロジック。
	service *Service
	// store はヘルスチェックで疎通を確認するドキュメントストア。
	store docstore.Store
	// logger はロガー。
	logger *zap.Logger
}

// NewServer は新しい承認サーバーを生成する。
// 作成したリクエストは設定された通知サービスに登録通知として送る。
func NewServer(cfg *config.Config, store docstore.Store, logger *zap.Logger) *Server {
	notifier := NewNotificationClient(cfg.Services.Notification)
	s := newServer(cfg.Port, store, notifier, logger)
	s.setupRoutes(middleware.JWTAuth(cfg.JWTSecret))
	return s
}

func newServer(port string, store docstore.Store, notifier SignupNotifier, logger *zap.Logger) *Server {
	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger, serviceName))

	return &Server{
		router:  router,
		port:    port,
		service: NewService(store, notifier, logger),
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
		approvals := api.Group("/approvals")
		approvals.Use(auth, middleware.RequireRole(defaultRole))
		{
			// 承認リクエスト一覧取得（status で絞り込み）
			approvals.GET("", s.handleList())
			// 審査待ち一覧取得
			approvals.GET("/pending", s.handleListPending())
			// 承認リクエスト取得
			approvals.GET("/:id", s.handleGet())
			// 承認
			approvals.PUT("/:id/approve", s.handleReview(StatusApproved))
			// 却下
			approvals.PUT("/:id/reject", s.handleReview(StatusRejected))
			// 削除
			approvals.DELETE("/:id", s.handleDelete())
		}

		// 申請と状態確認（内部API - gatewayから呼び出される）
		internal := api.Group("/internal/approvals")
		{
			internal.POST("", s.handleCreate())
			internal.GET("/status", s.handleStatus())
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

// handleList は承認リクエスト一覧を返すハンドラ。
// クエリパラメータstatusを省略するか"all"を指定するとすべて返す。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			list []Request
			err  error
		)
		switch status := c.Query("status"); status {
		case "", "all":
			list, err = s.service.ListAll(c.Request.Context())
		default:
			list, err = s.service.ListByStatus(c.Request.Context(), Status(status))
		}
		if err != nil {
			writeError(c, err, "承認リクエスト一覧の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

// handleListPending は審査待ちの承認リクエスト一覧を返すハンドラ。
func (s *Server) handleListPending() gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := s.service.ListPending(c.Request.Context())
		if err != nil {
			writeError(c, err, "審査待ち一覧の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

// handleGet は指定された承認リクエストを返すハンドラ。
func (s *Server) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := s.service.GetByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err, "承認リクエストの取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, req)
	}
}

// reviewRequest は承認・却下リクエストのJSON構造。
type reviewRequest struct {
	// Notes は審査時のメモ。
	Notes string `json:"notes"`
}

// handleReview は承認または却下を行うハンドラ。審査者は認証済みのメールアドレス。
func (s *Server) handleReview(decision Status) gin.HandlerFunc {
	return func(c *gin.Context) {
		reviewer := middleware.GetEmail(c)
		if reviewer == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "審査者のメールアドレスが取得できません"})
			return
		}

		var body reviewRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
				return
			}
		}

		review := s.service.Approve
		if decision == StatusRejected {
			review = s.service.Reject
		}
		req, err := review(c.Request.Context(), c.Param("id"), reviewer, body.Notes)
		if err != nil {
			writeError(c, err, "承認リクエストの審査に失敗しました")
			return
		}
		c.JSON(http.StatusOK, req)
	}
}

// handleDelete は承認リクエストを削除するハンドラ。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
			writeError(c, err, "承認リクエストの削除に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "承認リクエストを削除しました"})
	}
}

// handleCreate は承認リクエストを作成するハンドラ。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body CreateInput
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		req, err := s.service.CreateRequest(c.Request.Context(), body)
		if err != nil {
			writeError(c, err, "承認リクエストの作成に失敗しました")
			return
		}
		c.JSON(http.StatusCreated, req)
	}
}

// handleStatus はメールアドレスに対応する承認リクエストを返すハンドラ。
func (s *Server) handleStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		email := c.Query("email")
		if email == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "emailが必要です"})
			return
		}
		req, err := s.service.GetStatus(c.Request.Context(), email)
		if err != nil {
			writeError(c, err, "承認状態の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, req)
	}
}

// writeError はエラーの種類に応じたステータスコードでレスポンスを返す。
// 想定外のエラーはmessageだけを返す。
func writeError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrAlreadyReviewed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, docstore.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "承認リクエストが見つかりません"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": message})
	}
}
