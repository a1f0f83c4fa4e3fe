package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/shopadmin/pkg/config"
	"github.com/nao1215/shopadmin/pkg/httpserver"
	"github.com/nao1215/shopadmin/pkg/metrics"
	"github.com/nao1215/shopadmin/pkg/middleware"
)

// serviceName はログとメトリクスで使うサービス名。
const serviceName = "gateway"

// bootstrapRole は初期管理者に付与するロール。
const bootstrapRole = "admin"

// Server はAPI GatewayサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// jwtSecret はJWT署名用の秘密鍵。
	jwtSecret string
	// devAuth は開発用トークン発行エンドポイントを公開するかどうか。
	devAuth bool
	// bootstrapAdmins は承認なしでトークンを発行するメールアドレス。
	bootstrapAdmins []string
	// approvals は承認サービスのクライアント。
	approvals *approvalClient
	// notificationProxy は通知サービスへのリバースプロキシ。
	notificationProxy *httputil.ReverseProxy
	// approvalProxy は承認サービスへのリバースプロキシ。
	approvalProxy *httputil.ReverseProxy
	// logger はロガー。
	logger *zap.Logger
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	notificationProxy, err := newProxy(cfg.Services.Notification, logger)
	if err != nil {
		return nil, fmt.Errorf("通知サービスのプロキシ作成に失敗: %w", err)
	}
	approvalProxy, err := newProxy(cfg.Services.Approval, logger)
	if err != nil {
		return nil, fmt.Errorf("承認サービスのプロキシ作成に失敗: %w", err)
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger, serviceName))
	router.Use(middleware.CORS([]string{cfg.FrontendURL}))

	admins := make([]string, 0, len(cfg.BootstrapAdmins))
	for _, a := range cfg.BootstrapAdmins {
		if a = normalizeEmail(a); a != "" {
			admins = append(admins, a)
		}
	}

	s := &Server{
		router:            router,
		port:              cfg.Port,
		jwtSecret:         cfg.JWTSecret,
		devAuth:           cfg.DevAuth,
		bootstrapAdmins:   admins,
		approvals:         newApprovalClient(cfg.Services.Approval),
		notificationProxy: notificationProxy,
		approvalProxy:     approvalProxy,
		logger:            logger,
	}
	s.setupRoutes()
	if s.devAuth {
		logger.Warn("開発用トークン発行が有効です。本番環境では無効にしてください", zap.String("endpoint", "/auth/dev-token"))
	}

	return s, nil
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるまでブロックする。
func (s *Server) Run(ctx context.Context) error {
	return httpserver.Run(ctx, fmt.Sprintf(":%s", s.port), s.router, s.logger)
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	// 開発用トークン発行（認証不要、DevAuthが有効な場合のみ）
	if s.devAuth {
		auth := s.router.Group("/auth")
		{
			auth.POST("/dev-token", s.handleDevToken())
		}
	}

	// 認証必須のAPIエンドポイント
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.jwtSecret))
	{
		// 認証済み管理者の情報
		api.GET("/me", s.handleGetCurrentUser())

		// 通知（プロキシ）
		notify := handleProxy(s.notificationProxy)
		notifications := api.Group("/notifications")
		{
			notifications.GET("", notify)
			notifications.GET("/unread", notify)
			notifications.GET("/unread-count", notify)
			notifications.GET("/stream", notify)
			notifications.GET("/:id", notify)
			notifications.PUT("/:id/read", notify)
			notifications.PUT("/read-all", notify)
		}

		// 承認リクエスト（プロキシ）
		approve := handleProxy(s.approvalProxy)
		approvals := api.Group("/approvals")
		{
			approvals.GET("", approve)
			approvals.GET("/pending", approve)
			approvals.GET("/:id", approve)
			approvals.PUT("/:id/approve", approve)
			approvals.PUT("/:id/reject", approve)
			approvals.DELETE("/:id", approve)
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": serviceName})
	})
	// メトリクス
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))
}

// tokenRequest はトークン発行リクエストのJSON構造。
type tokenRequest struct {
	// Email は管理者のメールアドレス。
	Email string `json:"email" binding:"required"`
	// DisplayName は申請時に使う表示名。
	DisplayName string `json:"displayName"`
	// Reason は申請時に使う申請理由。
	Reason string `json:"reason"`
}

// tokenResponse はトークン発行レスポンスのJSON構造。
type tokenResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// handleDevToken は承認状態に応じてJWTを発行する開発用ハンドラ。
// メールアドレスの所有確認を行わないため、DevAuthが有効な場合だけ登録される。
//
//   - approved: トークンを発行して200
//   - pending, rejected: 403
//   - 申請なし: 承認リクエストを作成して202
func (s *Server) handleDevToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req tokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		email := normalizeEmail(req.Email)
		ctx := c.Request.Context()

		if slices.Contains(s.bootstrapAdmins, email) {
			s.issueToken(c, email, email, bootstrapRole)
			return
		}

		rec, err := s.approvals.status(ctx, email)
		if err != nil {
			s.logger.Error("承認状態の取得に失敗", zap.String("email", email), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "承認サービスとの通信に失敗しました"})
			return
		}

		if rec == nil {
			created, err := s.approvals.request(ctx, accessRequest{
				Email:       email,
				DisplayName: req.DisplayName,
				Reason:      req.Reason,
			})
			if err != nil {
				s.logger.Error("承認リクエストの作成に失敗", zap.String("email", email), zap.Error(err))
				c.JSON(http.StatusBadGateway, gin.H{"error": "承認サービスとの通信に失敗しました"})
				return
			}
			s.logger.Info("アクセス申請を受け付け", zap.String("email", email), zap.String("request_id", created.ID))
			c.JSON(http.StatusAccepted, gin.H{
				"message":    "アクセス申請を受け付けました。管理者の承認をお待ちください",
				"status":     created.Status,
				"request_id": created.ID,
			})
			return
		}

		switch rec.Status {
		case "approved":
			s.issueToken(c, rec.ID, email, rec.Role)
		case "pending":
			c.JSON(http.StatusForbidden, gin.H{"error": "アクセス申請は承認待ちです", "status": rec.Status})
		case "rejected":
			c.JSON(http.StatusForbidden, gin.H{"error": "アクセス申請は却下されました", "status": rec.Status})
		default:
			s.logger.Warn("不明な承認状態", zap.String("email", email), zap.String("status", rec.Status))
			c.JSON(http.StatusForbidden, gin.H{"error": "アクセスが許可されていません", "status": rec.Status})
		}
	}
}

// issueToken はJWTを発行してレスポンスを返す。
func (s *Server) issueToken(c *gin.Context, userID, email, role string) {
	if role == "" {
		role = bootstrapRole
	}
	token, err := middleware.GenerateJWT(s.jwtSecret, userID, email, role)
	if err != nil {
		s.logger.Error("JWT生成エラー", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
		return
	}
	c.JSON(http.StatusOK, tokenResponse{Token: token, UserID: userID, Email: email, Role: role})
}

// handleGetCurrentUser は認証済み管理者の情報を返すハンドラ。
func (s *Server) handleGetCurrentUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id": middleware.GetUserID(c),
			"email":   middleware.GetEmail(c),
			"role":    middleware.GetRole(c),
		})
	}
}

// normalizeEmail は比較用にメールアドレスを正規化する。
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
