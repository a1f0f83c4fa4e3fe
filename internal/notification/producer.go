package notification

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/nao1215/shopadmin/pkg/event"
)

// CreateOrderNotification は新規注文の通知を作成する。
func (s *Service) CreateOrderNotification(ctx context.Context, order event.OrderPlacedData) (*Notification, error) {
	return s.Create(ctx, orderNotification(order))
}

// CreateUserSignupNotification は新規ユーザー登録の通知を作成する。
func (s *Service) CreateUserSignupNotification(ctx context.Context, user event.UserSignedUpData) (*Notification, error) {
	return s.Create(ctx, signupNotification(user, s.now()))
}

// orderNotification は注文データから通知の入力を組み立てる。
func orderNotification(order event.OrderPlacedData) CreateInput {
	target := order.ID
	if target == "" {
		target = order.OrderID
	}
	return CreateInput{
		Type:     TypeNewOrder,
		Priority: PriorityHigh,
		Title:    "New Order Received",
		Message:  fmt.Sprintf("New order #%s from %s", order.OrderID, order.FullName),
		Details: map[string]any{
			"orderId":         order.OrderID,
			"customerName":    order.FullName,
			"customerEmail":   order.Email,
			"totalAmount":     order.TotalPrice,
			"productName":     order.ProductName,
			"quantity":        order.Quantity,
			"shippingAddress": order.Address,
			"orderDocId":      order.ID,
		},
		ActionURL: "/orders?orderId=" + url.QueryEscape(target),
		Icon:      "🛒",
		Color:     "#10B981",
	}
}

// signupNotification はユーザー登録データから通知の入力を組み立てる。
// 表示名が空の場合はメールアドレスを使う。
func signupNotification(user event.UserSignedUpData, now time.Time) CreateInput {
	name := user.DisplayName
	if name == "" {
		name = user.Email
	}
	return CreateInput{
		Type:     TypeNewUser,
		Priority: PriorityMedium,
		Title:    "New User Registration",
		Message:  "New user registered: " + name,
		Details: map[string]any{
			"userId":     user.UID,
			"userName":   user.DisplayName,
			"userEmail":  user.Email,
			"signupTime": now.UTC().Format(time.RFC3339),
		},
		ActionURL: "/customers",
		Icon:      "👤",
		Color:     "#3B82F6",
	}
}
