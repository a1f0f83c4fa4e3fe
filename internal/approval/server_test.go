package approval

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/shopadmin/pkg/config"
	"github.com/nao1215/shopadmin/pkg/event"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// reviewerEmail はテスト用の認証済み管理者のメールアドレス。
const reviewerEmail = "reviewer@example.com"

// setupTestServer はテスト用の承認サーバーをインメモリSQLiteで構築する。
// JWTミドルウェアの代わりにX-Test-Roleヘッダーのロールで認証済みとして扱う。
func setupTestServer(t *testing.T, notifier SignupNotifier) *Server {
	t.Helper()
	s := newServer("0", setupStore(t), notifier, zap.NewNop())
	s.service.now = (&stepClock{now: baseTime}).Now
	s.setupRoutes(func(c *gin.Context) {
		role := c.GetHeader("X-Test-Role")
		if role == "" {
			role = "admin"
		}
		c.Set("email", reviewerEmail)
		c.Set("role", role)
		c.Next()
	})
	return s
}

// doRequest はテスト用のHTTPリクエストを実行し、レスポンスを返すヘルパー関数。
func doRequest(s *Server, method, path string, body any) *httptest.ResponseRecorder {
	var reqBody *bytes.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewReader(jsonBytes)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

// createViaAPI は内部APIで承認リクエストを作成する。
func createViaAPI(t *testing.T, s *Server, email string) Request {
	t.Helper()
	w := doRequest(s, http.MethodPost, "/api/v1/internal/approvals", map[string]string{
		"email":       email,
		"displayName": "テストユーザー",
		"reason":      "売上確認",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("作成のステータスコード: got %d, want %d, body: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	var req Request
	if err := json.Unmarshal(w.Body.Bytes(), &req); err != nil {
		t.Fatalf("レスポンスのパースに失敗: %v", err)
	}
	return req
}

// decodeList はレスポンスを承認リクエストの一覧としてパースする。
func decodeList(t *testing.T, w *httptest.ResponseRecorder) []Request {
	t.Helper()
	var list []Request
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("レスポンスのパースに失敗: %v", err)
	}
	return list
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("ヘルスチェックが200を返すこと", func(t *testing.T) {
		t.Parallel()
		s := setupTestServer(t, nil)

		w := doRequest(s, http.MethodGet, "/health", nil)

		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}
	})
}

func TestInternalEndpoints(t *testing.T) {
	t.Parallel()

	t.Run("作成したリクエストがpendingで返ること", func(t *testing.T) {
		t.Parallel()
		s := setupTestServer(t, nil)

		req := createViaAPI(t, s, "new@example.com")

		if req.ID == "" {
			t.Error("IDが空です")
		}
		if req.Status != StatusPending {
			t.Errorf("status: got %q, want %q", req.Status, StatusPending)
		}
		if req.Role != "admin" {
			t.Errorf("role: got %q, want %q", req.Role, "admin")
		}
	})

	t.Run("メールアドレスが不正な場合は400を返すこと", func(t *testing.T) {
		t.Parallel()
		s := setupTestServer(t, nil)

		w := doRequest(s, http.MethodPost, "/api/v1/internal/approvals", map[string]string{"email": "invalid"})

		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("メールアドレスで状態を取得できること", func(t *testing.T) {
		t.Parallel()
		s := setupTestServer(t, nil)
		created := createViaAPI(t, s, "status@example.com")

		w := doRequest(s, http.MethodGet, "/api/v1/internal/approvals/status?email=status@example.com", nil)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}
		var got Request
		if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if got.ID != created.ID {
			t.Errorf("id: got %q, want %q", got.ID, created.ID)
		}
	})

	t.Run("大文字で作成したリクエストも小文字のメールアドレスで取得できること", func(t *testing.T) {
		t.Parallel()
		s := setupTestServer(t, nil)
		created := createViaAPI(t, s, "Jiro@Example.com")
		if created.Email != "jiro@example.com" {
			t.Errorf("email: got %q, want %q", created.Email, "jiro@example.com")
		}

		w := doRequest(s, http.MethodGet, "/api/v1/internal/approvals/status?email=jiro@example.com", nil)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}
		var got Request
		if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if got.ID != created.ID {
			t.Errorf("id: got %q, want %q", got.ID, created.ID)
		}
	})

	t.Run("申請がないメールアドレスは404を返すこと", func(t *testing.T) {
		t.Parallel()
		s := setupTestServer(t, nil)

		w := doRequest(s, http.MethodGet, "/api/v1/internal/approvals/status?email=none@example.com", nil)

		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("emailがない場合は400を返すこと", func(t *testing.T) {
		t.Parallel()
		s := setupTestServer(t, nil)

		w := doRequest(s, http.MethodGet, "/api/v1/internal/approvals/status", nil)

		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

func TestReviewEndpoints(t *testing.T) {
	t.Parallel()

	t.Run("承認すると審査者とメモが記録されること", func(t *testing.T) {
		t.Parallel()
		s := setupTestServer(t, nil)
		created := createViaAPI(t, s, "user@example.com")

		w := doRequest(s, http.MethodPut, "/api/v1/approvals/"+created.ID+"/approve", map[string]string{"notes": "ok"})
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d, body: %s", w.Code, http.StatusOK, w.Body.String())
		}

		w = doRequest(s, http.MethodGet, "/api/v1/approvals/"+created.ID, nil)
		var got Request
		if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if got.Status != StatusApproved {
			t.Errorf("status: got %q, want %q", got.Status, StatusApproved)
		}
		if got.ReviewedBy != reviewerEmail {
			t.Errorf("reviewedBy: got %q, want %q", got.ReviewedBy, reviewerEmail)
		}
		if got.Notes != "ok" {
			t.Errorf("notes: got %q, want %q", got.Notes, "ok")
		}
		if got.ReviewedAt == nil {
			t.Error("reviewedAtが設定されていません")
		}
	})

	t.Run("ボディなしで却下できること", func(t *testing.T) {
		t.Parallel()
		s := setupTestServer(t, nil)
		created := createViaAPI(t, s, "user@example.com")

		w := doRequest(s, http.MethodPut, "/api/v1/approvals/"+created.ID+"/reject", nil)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d, body: %s", w.Code, http.StatusOK, w.Body.String())
		}
	})

	t.Run("審査済みのリクエストは409を返すこと", func(t *testing.T) {
		t.Parallel()
		s := setupTestServer(t, nil)
		created := createViaAPI(t, s, "user@example.com")
		doRequest(s, http.MethodPut, "/api/v1/approvals/"+created.ID+"/reject", nil)

		w := doRequest(s, http.MethodPut, "/api/v1/approvals/"+created.ID+"/approve", nil)

		if w.Code != http.StatusConflict {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusConflict)
		}
	})

	t.Run("存在しないリクエストは404を返すこと", func(t *testing.T) {
		t.Parallel()
		s := setupTestServer(t, nil)

		w := doRequest(s, http.MethodPut, "/api/v1/approvals/missing/approve", nil)

		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("adminロール以外は403を返すこと", func(t *testing.T) {
		t.Parallel()
		s := setupTestServer(t, nil)
		created := createViaAPI(t, s, "user@example.com")

		req := httptest.NewRequest(http.MethodPut, "/api/v1/approvals/"+created.ID+"/approve", nil)
		req.Header.Set("X-Test-Role", "viewer")
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusForbidden)
		}
	})
}

func TestListEndpoints(t *testing.T) {
	t.Parallel()

	t.Run("状態で絞り込めること", func(t *testing.T) {
		t.Parallel()
		s := setupTestServer(t, nil)
		first := createViaAPI(t, s, "first@example.com")
		middle := createViaAPI(t, s, "middle@example.com")
		last := createViaAPI(t, s, "last@example.com")
		doRequest(s, http.MethodPut, "/api/v1/approvals/"+middle.ID+"/reject", nil)

		all := decodeList(t, doRequest(s, http.MethodGet, "/api/v1/approvals", nil))
		if len(all) != 3 || all[0].ID != last.ID || all[2].ID != first.ID {
			t.Errorf("全件一覧が不正です: %+v", all)
		}

		pending := decodeList(t, doRequest(s, http.MethodGet, "/api/v1/approvals/pending", nil))
		if len(pending) != 2 {
			t.Errorf("審査待ち件数: got %d, want 2", len(pending))
		}

		rejected := decodeList(t, doRequest(s, http.MethodGet, "/api/v1/approvals?status=rejected", nil))
		if len(rejected) != 1 || rejected[0].ID != middle.ID {
			t.Errorf("却下一覧が不正です: %+v", rejected)
		}

		w := doRequest(s, http.MethodGet, "/api/v1/approvals?status=all", nil)
		if got := decodeList(t, w); len(got) != 3 {
			t.Errorf("status=all の件数: got %d, want 3", len(got))
		}
	})

	t.Run("不明な状態は400を返すこと", func(t *testing.T) {
		t.Parallel()
		s := setupTestServer(t, nil)

		w := doRequest(s, http.MethodGet, "/api/v1/approvals?status=archived", nil)

		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

func TestDeleteEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("削除後は404を返すこと", func(t *testing.T) {
		t.Parallel()
		s := setupTestServer(t, nil)
		created := createViaAPI(t, s, "user@example.com")

		w := doRequest(s, http.MethodDelete, "/api/v1/approvals/"+created.ID, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}

		w = doRequest(s, http.MethodDelete, "/api/v1/approvals/"+created.ID, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

func TestNotificationClient(t *testing.T) {
	t.Parallel()

	t.Run("作成したリクエストが通知サービスの登録通知APIに送られること", func(t *testing.T) {
		t.Parallel()

		var (
			mu       sync.Mutex
			gotPath  string
			received event.UserSignedUpData
		)
		notification := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			defer mu.Unlock()
			gotPath = r.URL.Path
			_ = json.NewDecoder(r.Body).Decode(&received)
			w.WriteHeader(http.StatusCreated)
		}))
		t.Cleanup(notification.Close)

		s := NewServer(&config.Config{
			Port:      "0",
			JWTSecret: "test-secret",
			Services:  config.ServiceURLs{Notification: notification.URL},
		}, setupStore(t), zap.NewNop())
		created := createViaAPI(t, s, "signup@example.com")

		mu.Lock()
		defer mu.Unlock()
		if gotPath != "/api/v1/internal/signups" {
			t.Errorf("パス: got %q, want %q", gotPath, "/api/v1/internal/signups")
		}
		if received.UID != created.ID || received.Email != "signup@example.com" {
			t.Errorf("送信データが不正です: %+v", received)
		}
	})

	t.Run("通知サービスが失敗しても作成は201を返すこと", func(t *testing.T) {
		t.Parallel()

		notification := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		t.Cleanup(notification.Close)

		s := setupTestServer(t, NewNotificationClient(notification.URL))
		createViaAPI(t, s, "signup@example.com")
	})

	t.Run("トークンなしの管理者APIは401を返すこと", func(t *testing.T) {
		t.Parallel()

		s := NewServer(&config.Config{Port: "0", JWTSecret: "test-secret"}, setupStore(t), zap.NewNop())
		w := doRequest(s, http.MethodGet, "/api/v1/approvals", nil)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}
