package approval

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// CollectionName は承認リクエストを保存するコレクション名。
const CollectionName = "userApprovalRequests"

// defaultRole はロール未指定時に割り当てるロール。
const defaultRole = "admin"

var (
	// ErrInvalidRequest は承認リクエストの入力が不正であることを表す。
	ErrInvalidRequest = errors.New("承認リクエストの内容が不正です")
	// ErrAlreadyReviewed は審査済みのリクエストを再度承認・却下しようとしたことを表す。
	ErrAlreadyReviewed = errors.New("承認リクエストは審査済みです")
)

// Status は承認リクエストの状態。
type Status string

const (
	// StatusPending は審査待ち。初期状態。
	StatusPending Status = "pending"
	// StatusApproved は承認済み。終端状態。
	StatusApproved Status = "approved"
	// StatusRejected は却下済み。終端状態。
	StatusRejected Status = "rejected"
)

// Valid は定義済みの状態かどうかを返す。
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Request は管理者アクセスの承認リクエスト。
// 審査に関するフィールドはStatusがpending以外のときだけ意味を持つ。
type Request struct {
	// ID はストアが割り当てた識別子。
	ID string `json:"id,omitempty" bson:"_id,omitempty"`
	// Email は申請者のメールアドレス。
	Email string `json:"email" bson:"email"`
	// DisplayName は申請者の表示名。
	DisplayName string `json:"displayName" bson:"displayName"`
	// Role は申請するロール。
	Role string `json:"role" bson:"role"`
	// Reason は申請理由。
	Reason string `json:"reason" bson:"reason"`
	// Status は審査状態。
	Status Status `json:"status" bson:"status"`
	// RequestedAt はサービスの時計で記録した申請日時。
	RequestedAt time.Time `json:"requestedAt" bson:"requestedAt"`
	// ReviewedAt は審査日時。
	ReviewedAt *time.Time `json:"reviewedAt" bson:"reviewedAt"`
	// ReviewedBy は審査した管理者のメールアドレス。
	ReviewedBy string `json:"reviewedBy" bson:"reviewedBy"`
	// Notes は審査時のメモ。
	Notes string `json:"notes" bson:"notes"`
}

// CreateInput は承認リクエスト作成の入力。
type CreateInput struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	Reason      string `json:"reason"`
}

// normalize は入力を検証し、既定値を補った入力を返す。
// メールアドレスは小文字に揃える。
func (in CreateInput) normalize() (CreateInput, error) {
	in.Email = normalizeEmail(in.Email)
	if in.Email == "" || !strings.Contains(in.Email, "@") {
		return in, fmt.Errorf("%w: メールアドレスが不正です: %q", ErrInvalidRequest, in.Email)
	}
	if in.Role == "" {
		in.Role = defaultRole
	}
	return in, nil
}

// normalizeEmail は保存と検索に使う形にメールアドレスを揃える。
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
