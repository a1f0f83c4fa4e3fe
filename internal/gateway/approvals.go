package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/nao1215/shopadmin/pkg/httpclient"
)

// approvalRecord は承認サービスが返す承認リクエストのうち、トークン発行に使う項目。
type approvalRecord struct {
	// ID は承認リクエストの識別子。トークンのuser_idになる。
	ID string `json:"id"`
	// Email は申請者のメールアドレス。
	Email string `json:"email"`
	// Role は申請されたロール。
	Role string `json:"role"`
	// Status は審査状態（pending, approved, rejected）。
	Status string `json:"status"`
}

// accessRequest はアクセス申請の内容。
type accessRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Reason      string `json:"reason"`
}

// approvalClient は承認サービスの内部APIクライアント。
type approvalClient struct {
	client *httpclient.Client
}

func newApprovalClient(baseURL string) *approvalClient {
	return &approvalClient{client: httpclient.New(baseURL)}
}

// status はメールアドレスの承認リクエストを返す。申請がない場合は(nil, nil)。
func (a *approvalClient) status(ctx context.Context, email string) (*approvalRecord, error) {
	var rec approvalRecord
	err := a.client.GetJSON(ctx, "/api/v1/internal/approvals/status?email="+url.QueryEscape(email), &rec)
	if httpclient.IsStatus(err, http.StatusNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("承認状態の取得に失敗: %w", err)
	}
	return &rec, nil
}

// request はアクセス申請を作成する。
func (a *approvalClient) request(ctx context.Context, req accessRequest) (*approvalRecord, error) {
	var rec approvalRecord
	if err := a.client.PostJSON(ctx, "/api/v1/internal/approvals", req, &rec); err != nil {
		return nil, fmt.Errorf("承認リクエストの作成に失敗: %w", err)
	}
	return &rec, nil
}
