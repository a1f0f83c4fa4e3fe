package notification

import (
	"errors"
	"fmt"
	"time"
)

// CollectionName は通知を保存するコレクション名。
const CollectionName = "notifications"

// ErrInvalidNotification は通知の必須項目が不足していることを表す。
var ErrInvalidNotification = errors.New("通知の内容が不正です")

// Type は通知の種類。
type Type string

const (
	// TypeNewOrder は新規注文の通知。
	TypeNewOrder Type = "new_order"
	// TypeOrderUpdate は注文状態の更新通知。
	TypeOrderUpdate Type = "order_update"
	// TypeNewUser は新規ユーザー登録の通知。
	TypeNewUser Type = "new_user"
	// TypeLowStock は在庫僅少の通知。
	TypeLowStock Type = "low_stock"
	// TypeSystemAlert はシステムからの警告。
	TypeSystemAlert Type = "system_alert"
)

// Valid は定義済みの種類かどうかを返す。
func (t Type) Valid() bool {
	switch t {
	case TypeNewOrder, TypeOrderUpdate, TypeNewUser, TypeLowStock, TypeSystemAlert:
		return true
	}
	return false
}

// Priority は通知の優先度。
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid は定義済みの優先度かどうかを返す。
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Notification は管理者向けの通知。
// ReadAtはIsReadがtrueのときだけ設定される。
type Notification struct {
	// ID はストアが割り当てた識別子。
	ID string `json:"id,omitempty" bson:"_id,omitempty"`
	// Type は通知の種類。
	Type Type `json:"type" bson:"type"`
	// Priority は通知の優先度。
	Priority Priority `json:"priority" bson:"priority"`
	// Title は通知のタイトル。
	Title string `json:"title" bson:"title"`
	// Message は通知の本文。
	Message string `json:"message" bson:"message"`
	// Details は種類ごとの付加情報。
	Details map[string]any `json:"details,omitempty" bson:"details,omitempty"`
	// ActionURL はダッシュボード内の遷移先。
	ActionURL string `json:"actionUrl,omitempty" bson:"actionUrl,omitempty"`
	// Icon は表示用のアイコン。
	Icon string `json:"icon,omitempty" bson:"icon,omitempty"`
	// Color は表示用の色（#RRGGBB）。
	Color string `json:"color,omitempty" bson:"color,omitempty"`
	// CreatedAt はストアが割り当てた作成日時。
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	// IsRead は既読状態。
	IsRead bool `json:"isRead" bson:"isRead"`
	// ReadAt は最初に既読になった日時。
	ReadAt *time.Time `json:"readAt,omitempty" bson:"readAt,omitempty"`
}

// CreateInput は通知作成の入力。
type CreateInput struct {
	Type      Type           `json:"type" binding:"required"`
	Priority  Priority       `json:"priority" binding:"required"`
	Title     string         `json:"title" binding:"required"`
	Message   string         `json:"message" binding:"required"`
	Details   map[string]any `json:"details"`
	ActionURL string         `json:"actionUrl"`
	Icon      string         `json:"icon"`
	Color     string         `json:"color"`
}

// validate は必須項目と列挙値を検証する。
func (in CreateInput) validate() error {
	switch {
	case !in.Type.Valid():
		return fmt.Errorf("%w: 種類が不明です: %q", ErrInvalidNotification, in.Type)
	case !in.Priority.Valid():
		return fmt.Errorf("%w: 優先度が不明です: %q", ErrInvalidNotification, in.Priority)
	case in.Title == "":
		return fmt.Errorf("%w: タイトルが空です", ErrInvalidNotification)
	case in.Message == "":
		return fmt.Errorf("%w: 本文が空です", ErrInvalidNotification)
	}
	return nil
}
