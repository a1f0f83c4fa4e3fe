package mongostore

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/nao1215/shopadmin/pkg/docstore"
	"github.com/nao1215/shopadmin/pkg/metrics"
)

// collection はMongoDBドキュメントストアのコレクション。
type collection struct {
	store *Store
	coll  *mongo.Collection
	name  string
}

var _ docstore.Collection = (*collection)(nil)

func (c *collection) Name() string {
	return c.name
}

// observe は操作の処理時間を記録し、エラーを*docstore.Errorに包む。
func (c *collection) observe(op string, start time.Time, err *error) {
	*err = docstore.Wrap(op, c.name, *err)
	metrics.ObserveStoreOperation(backend, op, c.name, *err, time.Since(start))
}

// Insert はドキュメントを挿入する。サーバー時刻のフィールドは$currentDateで書き込む。
func (c *collection) Insert(ctx context.Context, doc any, opts ...docstore.InsertOption) (id string, err error) {
	defer c.observe("insert", time.Now(), &err)

	o := docstore.ApplyInsertOptions(opts)
	fields, err := insertDoc(doc, o.ServerTimestamps)
	if err != nil {
		return "", err
	}

	id = c.store.newID()
	update := updateDoc(fields)
	if len(update) == 0 {
		if _, err := c.coll.InsertOne(ctx, bson.D{{Key: idField, Value: id}}); err != nil {
			return "", fmt.Errorf("ドキュメントの挿入に失敗: %w", err)
		}
		return id, nil
	}
	if _, err := c.coll.UpdateOne(ctx, bson.D{{Key: idField, Value: id}}, update, options.Update().SetUpsert(true)); err != nil {
		return "", fmt.Errorf("ドキュメントの挿入に失敗: %w", err)
	}
	return id, nil
}

// Get は識別子でドキュメントを取得する。
func (c *collection) Get(ctx context.Context, id string, out any) (err error) {
	defer c.observe("get", time.Now(), &err)

	err = c.coll.FindOne(ctx, bson.D{{Key: idField, Value: id}}).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("id=%s: %w", id, docstore.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("ドキュメントの取得に失敗: %w", err)
	}
	return nil
}

// Update はドキュメントの指定フィールドを更新する。
func (c *collection) Update(ctx context.Context, id string, fields docstore.Fields) (err error) {
	defer c.observe("update", time.Now(), &err)

	update := updateDoc(fields)
	if len(update) == 0 {
		return c.exists(ctx, id)
	}
	res, err := c.coll.UpdateOne(ctx, bson.D{{Key: idField, Value: id}}, update)
	if err != nil {
		return fmt.Errorf("ドキュメントの更新に失敗: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("id=%s: %w", id, docstore.ErrNotFound)
	}
	return nil
}

// UpdateIf は条件に一致する場合だけドキュメントを更新する。
// 条件は更新のフィルタに含め、一致しなかった場合は存在確認でErrNotFoundと区別する。
func (c *collection) UpdateIf(ctx context.Context, id string, conditions []docstore.Filter, fields docstore.Fields) (err error) {
	defer c.observe("update_if", time.Now(), &err)

	filter := conditionFilter(id, conditions)
	update := updateDoc(fields)
	var matched int64
	if len(update) == 0 {
		matched, err = c.coll.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	} else {
		var res *mongo.UpdateResult
		res, err = c.coll.UpdateOne(ctx, filter, update)
		if res != nil {
			matched = res.MatchedCount
		}
	}
	if err != nil {
		return fmt.Errorf("ドキュメントの更新に失敗: %w", err)
	}
	if matched > 0 {
		return nil
	}
	if err := c.exists(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("id=%s: %w", id, docstore.ErrConditionFailed)
}

// UpdateMany は識別子の集合に同じ更新をトランザクション内で適用する。
func (c *collection) UpdateMany(ctx context.Context, ids []string, fields docstore.Fields) (err error) {
	defer c.observe("update_many", time.Now(), &err)

	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil
	}
	update := updateDoc(fields)
	if len(update) == 0 {
		return nil
	}

	session, err := c.store.client.StartSession()
	if err != nil {
		return fmt.Errorf("セッションの開始に失敗: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		res, err := c.coll.UpdateMany(sc, bson.D{{Key: idField, Value: bson.D{{Key: "$in", Value: ids}}}}, update)
		if err != nil {
			return nil, err
		}
		if res.MatchedCount != int64(len(ids)) {
			return nil, fmt.Errorf("%d件中%d件しか存在しません: %w", len(ids), res.MatchedCount, docstore.ErrNotFound)
		}
		return nil, nil
	})
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return err
		}
		return fmt.Errorf("一括更新に失敗: %w", err)
	}
	return nil
}

// Delete はドキュメントを削除する。
func (c *collection) Delete(ctx context.Context, id string) (err error) {
	defer c.observe("delete", time.Now(), &err)

	res, err := c.coll.DeleteOne(ctx, bson.D{{Key: idField, Value: id}})
	if err != nil {
		return fmt.Errorf("ドキュメントの削除に失敗: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("id=%s: %w", id, docstore.ErrNotFound)
	}
	return nil
}

// Find は条件に合うドキュメントを取得する。
func (c *collection) Find(ctx context.Context, q docstore.Query, out any) (err error) {
	defer c.observe("find", time.Now(), &err)

	cur, err := c.coll.Find(ctx, filterDoc(q.Filters), findOptions(q))
	if err != nil {
		return fmt.Errorf("ドキュメントの検索に失敗: %w", err)
	}
	if err := cur.All(ctx, out); err != nil {
		return fmt.Errorf("検索結果の読み取りに失敗: %w", err)
	}
	return nil
}

// Count は条件に合うドキュメント数を返す。
func (c *collection) Count(ctx context.Context, filters ...docstore.Filter) (n int64, err error) {
	defer c.observe("count", time.Now(), &err)

	n, err = c.coll.CountDocuments(ctx, filterDoc(filters))
	if err != nil {
		return 0, fmt.Errorf("件数の取得に失敗: %w", err)
	}
	return n, nil
}

// Watch はチェンジストリームを使ってクエリ結果の購読を開始する。
func (c *collection) Watch(ctx context.Context, q docstore.Query, handler docstore.SnapshotHandler) (docstore.Subscription, error) {
	return docstore.StartWatch(ctx, docstore.WatchConfig[struct{}]{
		Collection: c.name,
		Open:       c.openChangeStream,
		Load: func(ctx context.Context) (docstore.Snapshot, error) {
			var docs []bson.Raw
			if err := c.Find(ctx, q, &docs); err != nil {
				return nil, err
			}
			return snapshot(docs), nil
		},
		Handler: handler,
		Logger:  c.store.logger,
	})
}

// openChangeStream はチェンジストリームを開き、変更のたびに通知するチャネルを返す。
// ストリームが切断された場合はretryDelay後に開き直す。
func (c *collection) openChangeStream(ctx context.Context) (<-chan struct{}, error) {
	stream, err := c.coll.Watch(ctx, mongo.Pipeline{})
	if err != nil {
		return nil, fmt.Errorf("チェンジストリームの開始に失敗: %w", err)
	}

	notices := make(chan struct{}, 1)
	go func() {
		defer close(notices)
		for {
			for stream.Next(ctx) {
				select {
				case notices <- struct{}{}:
				default:
				}
			}
			streamErr := stream.Err()
			_ = stream.Close(context.Background())
			if ctx.Err() != nil {
				return
			}
			c.store.logger.Warn("チェンジストリームが切断されました。再接続します",
				zap.String("collection", c.name),
				zap.Error(streamErr),
			)

			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(c.store.retryDelay):
				}
				stream, err = c.coll.Watch(ctx, mongo.Pipeline{})
				if err == nil {
					break
				}
				c.store.logger.Error("チェンジストリームの再接続に失敗",
					zap.String("collection", c.name),
					zap.Error(err),
				)
			}
			// 切断中の変更は見えないため、再接続後に一度読み直させる
			select {
			case notices <- struct{}{}:
			default:
			}
		}
	}()
	return notices, nil
}

// exists はドキュメントが存在するかを確認する。
func (c *collection) exists(ctx context.Context, id string) error {
	n, err := c.coll.CountDocuments(ctx, bson.D{{Key: idField, Value: id}}, options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("ドキュメントの取得に失敗: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("id=%s: %w", id, docstore.ErrNotFound)
	}
	return nil
}

// findOptions はクエリの並び替えと件数制限を検索オプションに変換する。
func findOptions(q docstore.Query) *options.FindOptions {
	opts := options.Find().SetSort(sortDoc(q))
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return opts
}

// snapshot はMongoDBストアのスナップショット。
type snapshot []bson.Raw

func (s snapshot) Len() int {
	return len(s)
}

// Decode は結果をoutが指すスライスに書き込む。
func (s snapshot) Decode(out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("スライスへのポインタが必要です: %T", out)
	}
	slice := reflect.MakeSlice(rv.Elem().Type(), len(s), len(s))
	for i, raw := range s {
		if err := bson.Unmarshal(raw, slice.Index(i).Addr().Interface()); err != nil {
			return fmt.Errorf("ドキュメントのデシリアライズに失敗: %w", err)
		}
	}
	rv.Elem().Set(slice)
	return nil
}

// sortedKeys はフィールド名を昇順で返す。
func sortedKeys(fields docstore.Fields) []string {
	keys := fields.Keys()
	sort.Strings(keys)
	return keys
}

// uniqueIDs は重複を除いた識別子を元の順序で返す。
func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
