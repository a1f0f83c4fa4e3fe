package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/nao1215/shopadmin/pkg/changefeed"
	"github.com/nao1215/shopadmin/pkg/docstore"
	"github.com/nao1215/shopadmin/pkg/event"
	"github.com/nao1215/shopadmin/pkg/metrics"
)

// collection はSQLiteドキュメントストアのコレクション。
type collection struct {
	store *Store
	name  string
}

var _ docstore.Collection = (*collection)(nil)

// querier は*sql.DBと*sql.Txの共通インターフェース。
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (c *collection) Name() string {
	return c.name
}

// observe は操作の処理時間を記録し、エラーを*docstore.Errorに包む。
func (c *collection) observe(op string, start time.Time, err *error) {
	*err = docstore.Wrap(op, c.name, *err)
	metrics.ObserveStoreOperation(backend, op, c.name, *err, time.Since(start))
}

// Insert はドキュメントを挿入する。
func (c *collection) Insert(ctx context.Context, doc any, opts ...docstore.InsertOption) (id string, err error) {
	defer c.observe("insert", time.Now(), &err)

	fields, err := encodeDoc(doc)
	if err != nil {
		return "", err
	}
	o := docstore.ApplyInsertOptions(opts)
	ts := formatTime(c.store.now())
	for _, f := range o.ServerTimestamps {
		fields[f] = ts
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("ドキュメントのシリアライズに失敗: %w", err)
	}

	id = c.store.newID()
	if _, err := c.store.db.ExecContext(ctx,
		"INSERT INTO documents (collection, id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		c.name, id, string(data), ts, ts,
	); err != nil {
		return "", fmt.Errorf("ドキュメントの挿入に失敗: %w", err)
	}

	c.publish(ctx, event.TypeDocumentInserted, id, nil)
	return id, nil
}

// Get は識別子でドキュメントを取得する。
func (c *collection) Get(ctx context.Context, id string, out any) (err error) {
	defer c.observe("get", time.Now(), &err)

	data, err := c.load(ctx, c.store.db, id)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(withID(id, data), out); err != nil {
		return fmt.Errorf("ドキュメントのデシリアライズに失敗: %w", err)
	}
	return nil
}

// Update はドキュメントの指定フィールドを更新する。
func (c *collection) Update(ctx context.Context, id string, fields docstore.Fields) (err error) {
	defer c.observe("update", time.Now(), &err)

	if err := c.withTx(ctx, func(tx *sql.Tx) error {
		return c.merge(ctx, tx, id, nil, fields, c.store.now())
	}); err != nil {
		return err
	}
	c.publish(ctx, event.TypeDocumentUpdated, id, event.DocumentChangedData{Fields: sortedKeys(fields)})
	return nil
}

// UpdateIf は条件に一致する場合だけドキュメントを更新する。
// 条件は更新文のWHERE句で評価する。
func (c *collection) UpdateIf(ctx context.Context, id string, conditions []docstore.Filter, fields docstore.Fields) (err error) {
	defer c.observe("update_if", time.Now(), &err)

	if err := c.withTx(ctx, func(tx *sql.Tx) error {
		return c.merge(ctx, tx, id, conditions, fields, c.store.now())
	}); err != nil {
		return err
	}
	c.publish(ctx, event.TypeDocumentUpdated, id, event.DocumentChangedData{Fields: sortedKeys(fields)})
	return nil
}

// UpdateMany は識別子の集合に同じ更新を1トランザクションで適用する。
func (c *collection) UpdateMany(ctx context.Context, ids []string, fields docstore.Fields) (err error) {
	defer c.observe("update_many", time.Now(), &err)

	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil
	}
	now := c.store.now()
	if err := c.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if err := c.merge(ctx, tx, id, nil, fields, now); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	keys := sortedKeys(fields)
	for _, id := range ids {
		c.publish(ctx, event.TypeDocumentUpdated, id, event.DocumentChangedData{Fields: keys})
	}
	return nil
}

// Delete はドキュメントを削除する。
func (c *collection) Delete(ctx context.Context, id string) (err error) {
	defer c.observe("delete", time.Now(), &err)

	res, err := c.store.db.ExecContext(ctx, "DELETE FROM documents WHERE collection = ? AND id = ?", c.name, id)
	if err != nil {
		return fmt.Errorf("ドキュメントの削除に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("id=%s: %w", id, docstore.ErrNotFound)
	}

	c.publish(ctx, event.TypeDocumentDeleted, id, nil)
	return nil
}

// Find は条件に合うドキュメントを取得する。
func (c *collection) Find(ctx context.Context, q docstore.Query, out any) (err error) {
	defer c.observe("find", time.Now(), &err)

	docs, err := c.query(ctx, q)
	if err != nil {
		return err
	}
	return decodeDocs(docs, out)
}

// Count は条件に合うドキュメント数を返す。
func (c *collection) Count(ctx context.Context, filters ...docstore.Filter) (n int64, err error) {
	defer c.observe("count", time.Now(), &err)

	where, args, err := buildWhere(c.name, filters)
	if err != nil {
		return 0, err
	}
	if err := c.store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents WHERE "+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("件数の取得に失敗: %w", err)
	}
	return n, nil
}

// Watch はクエリ結果の購読を開始する。
func (c *collection) Watch(ctx context.Context, q docstore.Query, handler docstore.SnapshotHandler) (docstore.Subscription, error) {
	if _, _, err := buildWhere(c.name, q.Filters); err != nil {
		return nil, docstore.Wrap("watch", c.name, err)
	}
	if _, err := buildOrder(q); err != nil {
		return nil, docstore.Wrap("watch", c.name, err)
	}

	return docstore.StartWatch(ctx, docstore.WatchConfig[changefeed.Message]{
		Collection: c.name,
		Open: func(ctx context.Context) (<-chan changefeed.Message, error) {
			sub, err := c.store.feed.Subscribe(ctx, topic(c.name))
			if err != nil {
				return nil, err
			}
			return sub.Messages(), nil
		},
		Load: func(ctx context.Context) (docstore.Snapshot, error) {
			docs, err := c.query(ctx, q)
			if err != nil {
				return nil, docstore.Wrap("watch", c.name, err)
			}
			return snapshot(docs), nil
		},
		Handler: handler,
		Logger:  c.store.logger,
	})
}

// query はクエリを実行して結果をすべて読み出す。
func (c *collection) query(ctx context.Context, q docstore.Query) ([]rawDoc, error) {
	where, args, err := buildWhere(c.name, q.Filters)
	if err != nil {
		return nil, err
	}
	order, err := buildOrder(q)
	if err != nil {
		return nil, err
	}
	stmt := "SELECT id, data FROM documents WHERE " + where + " ORDER BY " + order
	if q.Limit > 0 {
		stmt += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := c.store.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("ドキュメントの検索に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []rawDoc
	for rows.Next() {
		var d rawDoc
		var data string
		if err := rows.Scan(&d.id, &data); err != nil {
			return nil, fmt.Errorf("検索結果の読み取りに失敗: %w", err)
		}
		d.data = []byte(data)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("検索結果の読み取りに失敗: %w", err)
	}
	return docs, nil
}

// load は1件のドキュメント本体を読み出す。
func (c *collection) load(ctx context.Context, q querier, id string) ([]byte, error) {
	var data string
	err := q.QueryRowContext(ctx, "SELECT data FROM documents WHERE collection = ? AND id = ?", c.name, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("id=%s: %w", id, docstore.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ドキュメントの取得に失敗: %w", err)
	}
	return []byte(data), nil
}

// merge はトランザクション内で1件のドキュメントにフィールドを書き込む。
// conditionsを指定した場合は一致するときだけ書き込み、一致しなければErrConditionFailedを返す。
func (c *collection) merge(ctx context.Context, tx *sql.Tx, id string, conditions []docstore.Filter, fields docstore.Fields, now time.Time) error {
	where, whereArgs, err := buildWhere(c.name, conditions)
	if err != nil {
		return err
	}
	data, err := c.load(ctx, tx, id)
	if err != nil {
		return err
	}
	doc, err := decodeObject(data)
	if err != nil {
		return err
	}
	for k, v := range fields {
		if k == idField {
			continue
		}
		doc[k] = normalizeValue(v, now)
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("ドキュメントのシリアライズに失敗: %w", err)
	}

	args := append([]any{string(b), formatTime(now)}, whereArgs...)
	args = append(args, id)
	res, err := tx.ExecContext(ctx,
		"UPDATE documents SET data = ?, updated_at = ? WHERE "+where+" AND id = ?",
		args...,
	)
	if err != nil {
		return fmt.Errorf("ドキュメントの更新に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("id=%s: %w", id, docstore.ErrConditionFailed)
	}
	return nil
}

// withTx はトランザクション内でfnを実行する。fnがエラーを返した場合はロールバックする。
func (c *collection) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("コミットに失敗: %w", err)
	}
	return nil
}

// publish は変更イベントをフィードに発行する。発行の失敗は記録するだけで操作は成功扱いにする。
func (c *collection) publish(ctx context.Context, eventType event.Type, id string, data any) {
	ev, err := event.New(id, event.AggregateType(c.name), eventType, data)
	if err != nil {
		c.store.logger.Warn("変更イベントの生成に失敗", zap.String("collection", c.name), zap.Error(err))
		return
	}
	payload, err := event.Marshal(ev)
	if err != nil {
		c.store.logger.Warn("変更イベントの生成に失敗", zap.String("collection", c.name), zap.Error(err))
		return
	}
	if err := c.store.feed.Publish(ctx, topic(c.name), payload); err != nil {
		c.store.logger.Warn("変更イベントの発行に失敗",
			zap.String("collection", c.name),
			zap.String("id", id),
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
	}
}

// snapshot はSQLiteストアのスナップショット。
type snapshot []rawDoc

func (s snapshot) Len() int {
	return len(s)
}

func (s snapshot) Decode(out any) error {
	return decodeDocs(s, out)
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
