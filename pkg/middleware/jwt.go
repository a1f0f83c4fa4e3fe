package middleware

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// tokenIssuer はgatewayが発行するトークンのiss。
const tokenIssuer = "shopadmin-gateway"

// tokenTTL はトークンの有効期間。
const tokenTTL = 12 * time.Hour

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
// 承認済み管理者の情報をサービス間で伝播するために使用する。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は管理者の識別子（承認リクエストのID）。
	UserID string `json:"user_id"`
	// Email は管理者のメールアドレス。承認・却下の記録者として使う。
	Email string `json:"email"`
	// Role はアクセス権限のロール。
	Role string `json:"role"`
}

// コンテキストとヘッダーのキー。
const (
	contextKeyUserID = "user_id"
	contextKeyEmail  = "email"
	contextKeyRole   = "role"

	headerKeyUserID = "X-User-ID"
)

// GenerateJWT は管理者情報からJWTトークンを生成する。
// gatewayサービスが承認状態を確認した後に呼び出す。
func GenerateJWT(secret, userID, email, role string) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
		UserID: userID,
		Email:  email,
		Role:   role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// ParseJWT はトークン文字列を検証してクレームを返す。HS256以外の署名は拒否する。
func ParseJWT(secret, tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
	)
	if err != nil {
		return nil, fmt.Errorf("トークンの検証に失敗: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("トークンが無効です")
	}
	return claims, nil
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに "user_id"、"email"、"role" を設定する。
// SSEを購読するEventSourceはヘッダーを付けられないため、クエリパラメータ"token"も受け付ける。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			return
		}

		claims, err := ParseJWT(secret, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		c.Set(contextKeyUserID, claims.UserID)
		c.Set(contextKeyEmail, claims.Email)
		c.Set(contextKeyRole, claims.Role)
		c.Header(headerKeyUserID, claims.UserID)
		c.Next()
	}
}

// bearerToken はリクエストからトークン文字列を取り出す。
// 取り出せない場合はレスポンスを書き込んでfalseを返す。
func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if q := c.Query("token"); q != "" {
			return q, true
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "Authorizationヘッダーが必要です",
		})
		return "", false
	}

	tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
	if !found || tokenString == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "Bearer トークン形式が不正です",
		})
		return "", false
	}
	return tokenString, true
}

// RequireRole は指定ロールのいずれかを持つ場合のみ通過させるGinミドルウェアを返す。
// JWTAuthの後に適用する。
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !slices.Contains(roles, GetRole(c)) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "この操作を行う権限がありません",
			})
			return
		}
		c.Next()
	}
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	return c.GetString(contextKeyUserID)
}

// GetEmail はGinコンテキストからメールアドレスを取得する。
func GetEmail(c *gin.Context) string {
	return c.GetString(contextKeyEmail)
}

// GetRole はGinコンテキストからロールを取得する。
func GetRole(c *gin.Context) string {
	return c.GetString(contextKeyRole)
}
