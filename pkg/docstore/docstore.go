// Package docstore はスキーマレスなドキュメントストアの抽象を提供する。
//
// ドキュメントはコレクション単位で管理され、ストアが識別子と
// サーバー時刻を割り当てる。挿入・取得・部分更新・一括更新・削除・
// 条件付き検索・件数取得に加え、クエリ結果をライブで購読できる（Watch）。
//
// ドキュメントの型はjsonタグ（SQLite実装）とbsonタグ（MongoDB実装）で
// 同じフィールド名を宣言し、識別子フィールドは `json:"id,omitempty" bson:"_id,omitempty"` とする。
package docstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound は指定したドキュメントが存在しないことを表す。
var ErrNotFound = errors.New("docstore: ドキュメントが見つかりません")

// ErrConditionFailed はUpdateIfの条件にドキュメントが一致しなかったことを表す。
var ErrConditionFailed = errors.New("docstore: 更新条件に一致しません")

// Error はドキュメントストアのバックエンドで発生したエラー。
type Error struct {
	// Op は失敗した操作名（insert, get, update, ...）。
	Op string
	// Collection は対象コレクション名。
	Collection string
	// Err は元のエラー。
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ストア操作に失敗: op=%s, collection=%s: %v", e.Op, e.Collection, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap はバックエンドのエラーを*Errorに包む。
// nil、ErrNotFound、ErrConditionFailed、すでに*Errorであるエラーはそのまま返す。
func Wrap(op, collection string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConditionFailed) {
		return err
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Collection: collection, Err: err}
}

// Direction は並び順。
type Direction int

const (
	// Ascending は昇順。
	Ascending Direction = iota
	// Descending は降順。
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// Filter はフィールドの等価条件。
type Filter struct {
	// Field はフィールド名。
	Field string
	// Value は比較する値。文字列、数値、真偽値、nilを扱える。
	Value any
}

// Eq はフィールドが値と等しい条件を返す。
func Eq(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

// Query は検索条件。
type Query struct {
	// Filters はAND結合される等価条件。
	Filters []Filter
	// OrderBy は並び替えに使うフィールド名。空の場合は挿入順。
	OrderBy string
	// Direction は並び順。
	Direction Direction
	// Limit は最大件数。0以下の場合は無制限。
	Limit int
}

// Fields は部分更新するフィールドと値。
// 値にServerTimestampを指定するとストアの現在時刻が書き込まれる。
type Fields map[string]any

// Keys は更新対象のフィールド名を返す。順序は不定。
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	return keys
}

type serverTimestamp struct{}

// ServerTimestamp はFieldsの値として指定するとストアの現在時刻に置き換えられる。
var ServerTimestamp any = serverTimestamp{}

// IsServerTimestamp はvがServerTimestampかどうかを返す。
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// InsertOptions は挿入時のオプション。
type InsertOptions struct {
	// ServerTimestamps はストアの現在時刻で上書きするフィールド名。
	ServerTimestamps []string
}

// InsertOption は挿入時のオプションを設定する。
type InsertOption func(*InsertOptions)

// WithServerTimestamp は指定したフィールドをストアの現在時刻で上書きする。
func WithServerTimestamp(fields ...string) InsertOption {
	return func(o *InsertOptions) {
		o.ServerTimestamps = append(o.ServerTimestamps, fields...)
	}
}

// ApplyInsertOptions はオプションを適用した結果を返す。バックエンド実装向け。
func ApplyInsertOptions(opts []InsertOption) InsertOptions {
	var o InsertOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Snapshot はある時点のクエリ結果。
type Snapshot interface {
	// Len はドキュメント数を返す。
	Len() int
	// Decode は結果をoutが指すスライスに書き込む。
	Decode(out any) error
}

// SnapshotHandler はWatchでスナップショットを受け取る関数。
// 呼び出しは購読ごとに直列で、同時に複数回呼ばれることはない。
// ハンドラ内から購読のCloseを呼んでもよい。
type SnapshotHandler func(Snapshot)

// Subscription はWatchによる購読。
type Subscription interface {
	// Close は購読を終了する。戻った後にハンドラが新たに呼ばれることはない。
	// ハンドラ内から呼んでもよく、その場合は実行中のハンドラの完了を待たない。
	// 複数回呼び出してもよい。
	Close() error
}

// Collection はドキュメントのコレクション。
type Collection interface {
	// Name はコレクション名を返す。
	Name() string
	// Insert はドキュメントを挿入し、割り当てた識別子を返す。
	Insert(ctx context.Context, doc any, opts ...InsertOption) (string, error)
	// Get は識別子でドキュメントを取得してoutに書き込む。存在しない場合はErrNotFound。
	Get(ctx context.Context, id string, out any) error
	// Update はドキュメントの指定フィールドを更新する。存在しない場合はErrNotFound。
	Update(ctx context.Context, id string, fields Fields) error
	// UpdateIf はドキュメントがすべての条件に一致する場合だけ指定フィールドを更新する。
	// 条件の評価と書き込みは不可分に行われる。
	// 存在しない場合はErrNotFound、条件に一致しない場合はErrConditionFailed。
	UpdateIf(ctx context.Context, id string, conditions []Filter, fields Fields) error
	// UpdateMany は識別子の集合に同じ更新を適用する。
	// すべて成功するか、どれも適用されないかのいずれか。1件でも存在しなければErrNotFound。
	UpdateMany(ctx context.Context, ids []string, fields Fields) error
	// Delete はドキュメントを削除する。存在しない場合はErrNotFound。
	Delete(ctx context.Context, id string) error
	// Find は条件に合うドキュメントをoutが指すスライスに書き込む。
	Find(ctx context.Context, q Query, out any) error
	// Count は条件に合うドキュメント数を返す。
	Count(ctx context.Context, filters ...Filter) (int64, error)
	// Watch はクエリ結果の購読を開始する。
	// 開始時と、コレクションが変更されるたびに最新の結果全体がhandlerに渡される。
	// 連続した変更はまとめて1回の通知になることがある。
	Watch(ctx context.Context, q Query, handler SnapshotHandler) (Subscription, error)
}

// Store はドキュメントストア。
type Store interface {
	// Collection は名前に対応するコレクションを返す。
	Collection(name string) Collection
	// Ping はバックエンドへの疎通を確認する。
	Ping(ctx context.Context) error
	// Close はバックエンドとの接続を閉じる。
	Close() error
}
