package notification

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nao1215/shopadmin/pkg/docstore"
	"github.com/nao1215/shopadmin/pkg/metrics"
)

const (
	// defaultListLimit はList/ListUnreadの既定件数。
	defaultListLimit = 50
	// defaultSubscribeLimit はSubscribeの既定件数。
	defaultSubscribeLimit = 20
	// recentWindow はMarkAllAsRead/UnreadCountが対象にする最新件数。
	// これより古い未読通知は対象外になる。
	recentWindow = 100
)

// Service は通知の作成・取得・既読管理を行う。
type Service struct {
	// notifications は通知コレクション。
	notifications docstore.Collection
	// logger はロガー。
	logger *zap.Logger
	// now は現在時刻を返す。テストで差し替える。
	now func() time.Time
}

// NewService は新しい通知サービスを生成する。
func NewService(store docstore.Store, logger *zap.Logger) *Service {
	return &Service{
		notifications: store.Collection(CollectionName),
		logger:        logger,
		now:           time.Now,
	}
}

// Create は未読の通知を保存し、保存後の通知を返す。
// 作成日時はストアが割り当てる。
func (s *Service) Create(ctx context.Context, in CreateInput) (*Notification, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	n := Notification{
		Type:      in.Type,
		Priority:  in.Priority,
		Title:     in.Title,
		Message:   in.Message,
		Details:   in.Details,
		ActionURL: in.ActionURL,
		Icon:      in.Icon,
		Color:     in.Color,
		IsRead:    false,
	}
	id, err := s.notifications.Insert(ctx, n, docstore.WithServerTimestamp("createdAt"))
	if err != nil {
		s.logger.Error("通知の作成に失敗", zap.String("type", string(in.Type)), zap.Error(err))
		return nil, err
	}
	metrics.IncNotificationCreated(string(in.Type))

	created, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("通知を作成",
		zap.String("id", id),
		zap.String("type", string(created.Type)),
		zap.String("priority", string(created.Priority)),
	)
	return created, nil
}

// Get は識別子で通知を取得する。存在しない場合はdocstore.ErrNotFound。
func (s *Service) Get(ctx context.Context, id string) (*Notification, error) {
	var n Notification
	if err := s.notifications.Get(ctx, id, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// List は作成日時の新しい順に通知を返す。limitが0以下の場合は50件。
func (s *Service) List(ctx context.Context, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.find(ctx, recentQuery(limit))
}

// ListUnread は未読の通知を作成日時の新しい順に返す。limitが0以下の場合は50件。
func (s *Service) ListUnread(ctx context.Context, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	q := recentQuery(limit)
	q.Filters = []docstore.Filter{docstore.Eq("isRead", false)}
	return s.find(ctx, q)
}

// Subscribe は最新の通知一覧の購読を開始する。limitが0以下の場合は20件。
// callbackは開始時とコレクションが変更されるたびに、並び順を保った一覧全体を受け取る。
// 呼び出し側は不要になった時点で返り値のCloseを呼ぶこと。
func (s *Service) Subscribe(ctx context.Context, callback func([]Notification), limit int) (docstore.Subscription, error) {
	if limit <= 0 {
		limit = defaultSubscribeLimit
	}
	return s.notifications.Watch(ctx, recentQuery(limit), func(snap docstore.Snapshot) {
		list := make([]Notification, 0, snap.Len())
		if err := snap.Decode(&list); err != nil {
			s.logger.Error("通知スナップショットのデコードに失敗", zap.Error(err))
			return
		}
		callback(list)
	})
}

// MarkAsRead は通知を既読にする。既読の通知には何もしない。
func (s *Service) MarkAsRead(ctx context.Context, id string) error {
	n, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if n.IsRead {
		return nil
	}
	if err := s.notifications.Update(ctx, id, readFields()); err != nil {
		s.logger.Error("通知の既読処理に失敗", zap.String("id", id), zap.Error(err))
		return err
	}
	return nil
}

// MarkAllAsRead は最新100件のうち未読の通知をまとめて既読にし、その件数を返す。
// 更新はすべて適用されるか、どれも適用されないかのいずれか。
// 失敗時の状態は一覧を取り直して確認すること。
func (s *Service) MarkAllAsRead(ctx context.Context) (int, error) {
	recent, err := s.find(ctx, recentQuery(recentWindow))
	if err != nil {
		return 0, err
	}

	ids := make([]string, 0, len(recent))
	for _, n := range recent {
		if !n.IsRead {
			ids = append(ids, n.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := s.notifications.UpdateMany(ctx, ids, readFields()); err != nil {
		s.logger.Error("全通知の既読処理に失敗", zap.Int("count", len(ids)), zap.Error(err))
		return 0, err
	}
	s.logger.Info("全通知を既読に更新", zap.Int("count", len(ids)))
	return len(ids), nil
}

// UnreadCount は最新100件のうち未読の件数を返す。
// 100件より古い未読通知は数えない。
func (s *Service) UnreadCount(ctx context.Context) (int, error) {
	recent, err := s.find(ctx, recentQuery(recentWindow))
	if err != nil {
		return 0, err
	}
	count := 0
	for _, n := range recent {
		if !n.IsRead {
			count++
		}
	}
	return count, nil
}

// ExactUnreadCount はコレクション全体の未読件数をストアで集計して返す。
func (s *Service) ExactUnreadCount(ctx context.Context) (int64, error) {
	n, err := s.notifications.Count(ctx, docstore.Eq("isRead", false))
	if err != nil {
		s.logger.Error("未読件数の集計に失敗", zap.Error(err))
		return 0, err
	}
	return n, nil
}

func (s *Service) find(ctx context.Context, q docstore.Query) ([]Notification, error) {
	list := []Notification{}
	if err := s.notifications.Find(ctx, q, &list); err != nil {
		s.logger.Error("通知一覧の取得に失敗", zap.Int("limit", q.Limit), zap.Error(err))
		return nil, err
	}
	if list == nil {
		list = []Notification{}
	}
	return list, nil
}

// recentQuery は作成日時の新しい順にlimit件を取得するクエリを返す。
func recentQuery(limit int) docstore.Query {
	return docstore.Query{
		OrderBy:   "createdAt",
		Direction: docstore.Descending,
		Limit:     limit,
	}
}

// readFields は既読化で書き込むフィールド。
func readFields() docstore.Fields {
	return docstore.Fields{
		"isRead": true,
		"readAt": docstore.ServerTimestamp,
	}
}
