package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nao1215/shopadmin/pkg/docstore"
	"github.com/nao1215/shopadmin/pkg/event"
	"github.com/nao1215/shopadmin/pkg/metrics"
)

// SignupNotifier は新しい承認リクエストを通知サービスに伝える。
type SignupNotifier interface {
	NotifySignup(ctx context.Context, user event.UserSignedUpData) error
}

// Service は承認リクエストの作成と審査を行う。
type Service struct {
	// requests は承認リクエストのコレクション。
	requests docstore.Collection
	// notifier は作成時の通知先。nilの場合は通知しない。
	notifier SignupNotifier
	// logger はロガー。
	logger *zap.Logger
	// now は現在時刻を返す。テストで差し替える。
	now func() time.Time
}

// NewService は新しい承認サービスを生成する。notifierはnilでもよい。
func NewService(store docstore.Store, notifier SignupNotifier, logger *zap.Logger) *Service {
	return &Service{
		requests: store.Collection(CollectionName),
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateRequest はpendingの承認リクエストを作成する。
// ロール未指定の場合は"admin"、申請日時はサービスの現在時刻になる。
// 作成後の通知サービスへの連絡に失敗してもリクエストの作成は成功扱いにする。
func (s *Service) CreateRequest(ctx context.Context, in CreateInput) (*Request, error) {
	in, err := in.normalize()
	if err != nil {
		return nil, err
	}

	req := Request{
		Email:       in.Email,
		DisplayName: in.DisplayName,
		Role:        in.Role,
		Reason:      in.Reason,
		Status:      StatusPending,
		RequestedAt: s.now().UTC(),
	}
	id, err := s.requests.Insert(ctx, req)
	if err != nil {
		s.logger.Error("承認リクエストの作成に失敗", zap.String("email", in.Email), zap.Error(err))
		return nil, err
	}
	req.ID = id
	s.logger.Info("承認リクエストを作成", zap.String("id", id), zap.String("email", req.Email))

	if s.notifier != nil {
		if err := s.notifier.NotifySignup(ctx, event.UserSignedUpData{
			UID:         id,
			DisplayName: req.DisplayName,
			Email:       req.Email,
		}); err != nil {
			s.logger.Warn("登録通知の送信に失敗", zap.String("id", id), zap.Error(err))
		}
	}
	return &req, nil
}

// ListPending はpendingのリクエストを申請日時の新しい順に返す。
func (s *Service) ListPending(ctx context.Context) ([]Request, error) {
	return s.ListByStatus(ctx, StatusPending)
}

// ListAll はすべてのリクエストを申請日時の新しい順に返す。
func (s *Service) ListAll(ctx context.Context) ([]Request, error) {
	return s.find(ctx, newestFirst())
}

// ListByStatus は指定した状態のリクエストを申請日時の新しい順に返す。
func (s *Service) ListByStatus(ctx context.Context, status Status) ([]Request, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: 状態が不明です: %q", ErrInvalidRequest, status)
	}
	q := newestFirst()
	q.Filters = []docstore.Filter{docstore.Eq("status", string(status))}
	return s.find(ctx, q)
}

// Approve はリクエストを承認する。
// pending以外のリクエストにはErrAlreadyReviewedを返し、審査内容を上書きしない。
func (s *Service) Approve(ctx context.Context, id, reviewer, notes string) (*Request, error) {
	return s.review(ctx, id, StatusApproved, reviewer, notes)
}

// Reject はリクエストを却下する。
// pending以外のリクエストにはErrAlreadyReviewedを返し、審査内容を上書きしない。
func (s *Service) Reject(ctx context.Context, id, reviewer, notes string) (*Request, error) {
	return s.review(ctx, id, StatusRejected, reviewer, notes)
}

func (s *Service) review(ctx context.Context, id string, decision Status, reviewer, notes string) (*Request, error) {
	if reviewer == "" {
		return nil, fmt.Errorf("%w: 審査者が必要です", ErrInvalidRequest)
	}
	req, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, fmt.Errorf("%w: id=%s, status=%s", ErrAlreadyReviewed, id, req.Status)
	}

	reviewedAt := s.now().UTC()
	err = s.requests.UpdateIf(ctx, id,
		[]docstore.Filter{docstore.Eq("status", string(StatusPending))},
		docstore.Fields{
			"status":     string(decision),
			"reviewedAt": reviewedAt,
			"reviewedBy": reviewer,
			"notes":      notes,
		},
	)
	if errors.Is(err, docstore.ErrConditionFailed) {
		// 読み取り後に別の審査が先に確定した
		return nil, fmt.Errorf("%w: id=%s", ErrAlreadyReviewed, id)
	}
	if err != nil {
		s.logger.Error("承認リクエストの審査に失敗",
			zap.String("id", id),
			zap.String("decision", string(decision)),
			zap.Error(err),
		)
		return nil, err
	}
	metrics.IncApprovalDecision(string(decision))
	s.logger.Info("承認リクエストを審査",
		zap.String("id", id),
		zap.String("decision", string(decision)),
		zap.String("reviewer", reviewer),
	)

	req.Status = decision
	req.ReviewedAt = &reviewedAt
	req.ReviewedBy = reviewer
	req.Notes = notes
	return req, nil
}

// GetStatus はメールアドレスに一致するリクエストを1件返す。
// メールアドレスは大文字小文字を区別しない。存在しない場合はdocstore.ErrNotFound。
// 同じメールアドレスのリクエストが複数ある場合はストアの並びで最初のものを返す。
func (s *Service) GetStatus(ctx context.Context, email string) (*Request, error) {
	list, err := s.find(ctx, docstore.Query{
		Filters: []docstore.Filter{docstore.Eq("email", normalizeEmail(email))},
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, docstore.ErrNotFound
	}
	return &list[0], nil
}

// GetByID は識別子でリクエストを取得する。存在しない場合はdocstore.ErrNotFound。
func (s *Service) GetByID(ctx context.Context, id string) (*Request, error) {
	var req Request
	if err := s.requests.Get(ctx, id, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// Delete はリクエストを削除する。存在しない場合はdocstore.ErrNotFound。
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.requests.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("承認リクエストを削除", zap.String("id", id))
	return nil
}

func (s *Service) find(ctx context.Context, q docstore.Query) ([]Request, error) {
	list := []Request{}
	if err := s.requests.Find(ctx, q, &list); err != nil {
		s.logger.Error("承認リクエスト一覧の取得に失敗", zap.Error(err))
		return nil, err
	}
	if list == nil {
		list = []Request{}
	}
	return list, nil
}

// newestFirst は申請日時の新しい順のクエリを返す。
func newestFirst() docstore.Query {
	return docstore.Query{
		OrderBy:   "requestedAt",
		Direction: docstore.Descending,
	}
}
