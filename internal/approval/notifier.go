package approval

import (
	"context"

	"github.com/nao1215/shopadmin/pkg/event"
	"github.com/nao1215/shopadmin/pkg/httpclient"
)

// signupPath は通知サービスの登録通知API。
const signupPath = "/api/v1/internal/signups"

// NotificationClient は通知サービスの内部APIを呼び出すSignupNotifier。
type NotificationClient struct {
	client *httpclient.Client
}

// NewNotificationClient は通知サービスのベースURLからクライアントを生成する。
func NewNotificationClient(baseURL string, opts ...httpclient.Option) *NotificationClient {
	return &NotificationClient{client: httpclient.New(baseURL, opts...)}
}

// NotifySignup は新しい承認リクエストを登録通知として送信する。
func (n *NotificationClient) NotifySignup(ctx context.Context, user event.UserSignedUpData) error {
	return n.client.PostJSON(ctx, signupPath, user, nil)
}
