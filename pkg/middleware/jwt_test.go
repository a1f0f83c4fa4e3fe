package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testSecret はテスト用のJWTシークレット。
const testSecret = "test-secret-key-for-unit-tests"

// TestGenerateJWT はGenerateJWT関数を検証する。
func TestGenerateJWT(t *testing.T) {
	t.Parallel()

	t.Run("クレームにユーザー情報とロールが入ること", func(t *testing.T) {
		t.Parallel()

		before := time.Now()
		tokenStr, err := GenerateJWT(testSecret, "req-123", "admin@example.com", "admin")
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}

		claims, err := ParseJWT(testSecret, tokenStr)
		if err != nil {
			t.Fatalf("ParseJWT()でエラーが発生: %v", err)
		}
		if claims.UserID != "req-123" {
			t.Errorf("UserID = %q, want %q", claims.UserID, "req-123")
		}
		if claims.Email != "admin@example.com" {
			t.Errorf("Email = %q, want %q", claims.Email, "admin@example.com")
		}
		if claims.Role != "admin" {
			t.Errorf("Role = %q, want %q", claims.Role, "admin")
		}
		if claims.Issuer != "shopadmin-gateway" {
			t.Errorf("Issuer = %q, want %q", claims.Issuer, "shopadmin-gateway")
		}

		expected := before.Add(tokenTTL)
		if d := claims.ExpiresAt.Time.Sub(expected); d < -time.Minute || d > time.Minute {
			t.Errorf("ExpiresAt = %v, 期待値 %v から1分以上ずれている", claims.ExpiresAt.Time, expected)
		}
	})
}

// TestParseJWT はトークン検証の拒否条件を検証する。
func TestParseJWT(t *testing.T) {
	t.Parallel()

	t.Run("異なるシークレットで署名されたトークンは拒否されること", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateJWT("other-secret", "u", "a@example.com", "admin")
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}
		if _, err := ParseJWT(testSecret, tokenStr); err == nil {
			t.Fatal("エラーが返されるべきだが、nilが返された")
		}
	})

	t.Run("期限切れのトークンは拒否されること", func(t *testing.T) {
		t.Parallel()

		claims := JWTClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
				Issuer:    tokenIssuer,
			},
			UserID: "u",
		}
		tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		if err != nil {
			t.Fatalf("トークンの署名に失敗: %v", err)
		}
		if _, err := ParseJWT(testSecret, tokenStr); err == nil {
			t.Fatal("エラーが返されるべきだが、nilが返された")
		}
	})

	t.Run("発行者が異なるトークンは拒否されること", func(t *testing.T) {
		t.Parallel()

		claims := JWTClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				Issuer:    "someone-else",
			},
		}
		tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		if err != nil {
			t.Fatalf("トークンの署名に失敗: %v", err)
		}
		if _, err := ParseJWT(testSecret, tokenStr); err == nil {
			t.Fatal("エラーが返されるべきだが、nilが返された")
		}
	})

	t.Run("HS512で署名されたトークンは拒否されること", func(t *testing.T) {
		t.Parallel()

		claims := JWTClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				Issuer:    tokenIssuer,
			},
		}
		tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
		if err != nil {
			t.Fatalf("トークンの署名に失敗: %v", err)
		}
		if _, err := ParseJWT(testSecret, tokenStr); err == nil {
			t.Fatal("エラーが返されるべきだが、nilが返された")
		}
	})
}

// newAuthRouter はJWTAuthを適用したテスト用ルーターを生成する。
func newAuthRouter() *gin.Engine {
	router := gin.New()
	router.Use(JWTAuth(testSecret))
	router.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id": GetUserID(c),
			"email":   GetEmail(c),
			"role":    GetRole(c),
		})
	})
	return router
}

// TestJWTAuth はJWTAuthミドルウェアを検証する。
func TestJWTAuth(t *testing.T) {
	t.Parallel()

	validToken, err := GenerateJWT(testSecret, "req-1", "admin@example.com", "admin")
	if err != nil {
		t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
	}

	t.Run("有効なトークンでコンテキストにクレームが設定されること", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+validToken)
		w := httptest.NewRecorder()
		newAuthRouter().ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}
		var body map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("レスポンスボディのパースに失敗: %v", err)
		}
		if body["email"] != "admin@example.com" || body["role"] != "admin" || body["user_id"] != "req-1" {
			t.Errorf("クレームが一致しない: %v", body)
		}
		if got := w.Header().Get("X-User-ID"); got != "req-1" {
			t.Errorf("X-User-ID = %q, want %q", got, "req-1")
		}
	})

	t.Run("クエリパラメータのトークンも受け付けること", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet, "/me?token="+validToken, nil)
		w := httptest.NewRecorder()
		newAuthRouter().ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}
	})

	tests := []struct {
		name   string
		header string
	}{
		{name: "Authorizationヘッダーがない場合は401になること", header: ""},
		{name: "Bearer形式でない場合は401になること", header: "Basic abc"},
		{name: "Bearerの後が空の場合は401になること", header: "Bearer "},
		{name: "不正なトークンの場合は401になること", header: "Bearer not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			newAuthRouter().ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusUnauthorized)
			}
		})
	}
}

// TestRequireRole はロールによるアクセス制御を検証する。
func TestRequireRole(t *testing.T) {
	t.Parallel()

	newRouter := func(role string) *gin.Engine {
		router := gin.New()
		router.Use(func(c *gin.Context) {
			c.Set(contextKeyRole, role)
			c.Next()
		})
		router.Use(RequireRole("admin", "owner"))
		router.GET("/approvals", func(c *gin.Context) {
			c.Status(http.StatusOK)
		})
		return router
	}

	tests := []struct {
		name string
		role string
		want int
	}{
		{name: "adminロールは通過すること", role: "admin", want: http.StatusOK},
		{name: "ownerロールは通過すること", role: "owner", want: http.StatusOK},
		{name: "その他のロールは403になること", role: "viewer", want: http.StatusForbidden},
		{name: "ロールがない場合は403になること", role: "", want: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := httptest.NewRecorder()
			newRouter(tt.role).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/approvals", nil))
			if w.Code != tt.want {
				t.Errorf("ステータスコード: got %d, want %d", w.Code, tt.want)
			}
		})
	}
}
