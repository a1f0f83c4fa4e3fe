// Package event はサービス間でやり取りするイベントの型を提供する。
//
// ドキュメントストアの変更通知（挿入・更新・削除）と、通知を生成する
// プロデューサー（注文受付、ユーザー登録）のペイロードを定義する。
package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるコレクションの種類を表す。
type AggregateType string

const (
	// AggregateTypeNotification は通知コレクションを表す。
	AggregateTypeNotification AggregateType = "notifications"
	// AggregateTypeApprovalRequest はアクセス承認リクエストのコレクションを表す。
	AggregateTypeApprovalRequest AggregateType = "userApprovalRequests"
	// AggregateTypeOrder は注文コレクションを表す。
	AggregateTypeOrder AggregateType = "orders"
	// AggregateTypeUser はユーザーを表す。
	AggregateTypeUser AggregateType = "users"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeDocumentInserted はドキュメントが挿入されたことを表す。
	TypeDocumentInserted Type = "DocumentInserted"
	// TypeDocumentUpdated はドキュメントが更新されたことを表す。
	TypeDocumentUpdated Type = "DocumentUpdated"
	// TypeDocumentDeleted はドキュメントが削除されたことを表す。
	TypeDocumentDeleted Type = "DocumentDeleted"
	// TypeOrderPlaced は注文が作成されたことを表す。
	TypeOrderPlaced Type = "OrderPlaced"
	// TypeUserSignedUp はユーザーがアクセスを申請したことを表す。
	TypeUserSignedUp Type = "UserSignedUp"
)

// Event はチェンジフィードに流れる不変のイベントレコードを表す。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象ドキュメントの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象コレクションの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data,omitempty"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// DocumentChangedData はDocumentUpdatedイベントのデータ。
type DocumentChangedData struct {
	// Fields は更新されたフィールド名の一覧。
	Fields []string `json:"fields"`
}

// OrderPlacedData はOrderPlacedイベントのデータ。
// JSONキーはストアフロントが保存する注文ドキュメントのキーに合わせている。
type OrderPlacedData struct {
	// ID は注文ドキュメントの識別子。未保存の場合は空。
	ID string `json:"id,omitempty"`
	// OrderID は顧客に表示される注文番号。
	OrderID string `json:"OrderID"`
	// FullName は注文者の氏名。
	FullName string `json:"FullName"`
	// Email は注文者のメールアドレス。
	Email string `json:"Email"`
	// TotalPrice は合計金額。
	TotalPrice string `json:"TotalPrice"`
	// ProductName は商品名。
	ProductName string `json:"productname"`
	// Quantity は数量。
	Quantity string `json:"Quantity"`
	// Address は配送先住所。
	Address string `json:"Address"`
}

// UserSignedUpData はUserSignedUpイベントのデータ。
type UserSignedUpData struct {
	// UID はユーザーの識別子。
	UID string `json:"uid"`
	// DisplayName は表示名。
	DisplayName string `json:"displayName"`
	// Email はメールアドレス。
	Email string `json:"email"`
}
