package sqlitestore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nao1215/shopadmin/pkg/docstore"
)

// timeLayout はストアが書き込む時刻の形式。固定長なので文字列比較でも順序が保たれる。
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// idField はドキュメント本体に保存しない識別子フィールド名。
const idField = "id"

// fieldPattern はフィルタや並び替えに使えるフィールド名。
var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// formatTime はストアの時刻形式に変換する。
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// encodeDoc はドキュメントをJSONオブジェクトのマップに変換する。識別子フィールドは除く。
func encodeDoc(doc any) (map[string]any, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("ドキュメントのシリアライズに失敗: %w", err)
	}
	m, err := decodeObject(b)
	if err != nil {
		return nil, err
	}
	delete(m, idField)
	return m, nil
}

// decodeObject はJSONオブジェクトを数値の精度を保ったままマップに変換する。
func decodeObject(b []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("ドキュメントはJSONオブジェクトである必要があります: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("ドキュメントがnullです")
	}
	return m, nil
}

// normalizeValue は更新値をJSONに保存する形に変換する。
func normalizeValue(v any, now time.Time) any {
	switch tv := v.(type) {
	case nil:
		return nil
	case time.Time:
		return formatTime(tv)
	case *time.Time:
		if tv == nil {
			return nil
		}
		return formatTime(*tv)
	default:
		if docstore.IsServerTimestamp(v) {
			return formatTime(now)
		}
		return v
	}
}

// withID は保存されたJSONに識別子フィールドを付け加える。
func withID(id string, data []byte) []byte {
	idJSON, _ := json.Marshal(id)
	body := bytes.TrimSpace(data)
	var buf bytes.Buffer
	buf.Grow(len(body) + len(idJSON) + 8)
	buf.WriteString(`{"id":`)
	buf.Write(idJSON)
	inner := bytes.TrimSpace(body[1 : len(body)-1])
	if len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

// rawDoc はテーブルから読み出した1件のドキュメント。
type rawDoc struct {
	id   string
	data []byte
}

// decodeDocs は読み出したドキュメントをoutが指すスライスに書き込む。
func decodeDocs(docs []rawDoc, out any) error {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, d := range docs {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(withID(d.id, d.data))
	}
	buf.WriteByte(']')
	if err := json.Unmarshal(buf.Bytes(), out); err != nil {
		return fmt.Errorf("ドキュメントのデシリアライズに失敗: %w", err)
	}
	return nil
}

// fieldExpr はフィールドを取り出すSQL式を返す。
func fieldExpr(field string) (string, error) {
	if !fieldPattern.MatchString(field) {
		return "", fmt.Errorf("不正なフィールド名: %q", field)
	}
	if field == idField {
		return "id", nil
	}
	return "json_extract(data, '$." + field + "')", nil
}

// buildWhere はコレクションとフィルタの条件句と引数を返す。
func buildWhere(collection string, filters []docstore.Filter) (string, []any, error) {
	clauses := []string{"collection = ?"}
	args := []any{collection}
	for _, f := range filters {
		expr, err := fieldExpr(f.Field)
		if err != nil {
			return "", nil, err
		}
		switch v := f.Value.(type) {
		case nil:
			clauses = append(clauses, expr+" IS NULL")
		case bool:
			// json_extractは真偽値を1/0で返す
			n := 0
			if v {
				n = 1
			}
			clauses = append(clauses, expr+" = ?")
			args = append(args, n)
		case time.Time:
			clauses = append(clauses, expr+" = ?")
			args = append(args, formatTime(v))
		case string, int, int32, int64, float64:
			clauses = append(clauses, expr+" = ?")
			args = append(args, v)
		default:
			return "", nil, fmt.Errorf("フィールド %q の条件値の型に対応していません: %T", f.Field, f.Value)
		}
	}
	return strings.Join(clauses, " AND "), args, nil
}

// buildOrder は並び替え句を返す。日時文字列は時刻として、それ以外は値そのもので比較する。
// 同じ値の場合は挿入順で並べる。
func buildOrder(q docstore.Query) (string, error) {
	dir := "ASC"
	if q.Direction == docstore.Descending {
		dir = "DESC"
	}
	if q.OrderBy == "" {
		return "seq " + dir, nil
	}
	expr, err := fieldExpr(q.OrderBy)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("COALESCE(julianday(%[1]s), %[1]s) %[2]s, seq %[2]s", expr, dir), nil
}
