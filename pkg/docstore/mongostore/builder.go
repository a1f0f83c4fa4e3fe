package mongostore

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/nao1215/shopadmin/pkg/docstore"
)

// idField はドキュメント識別子のフィールド名。
const idField = "_id"

// fieldName はdocstoreのフィールド名をMongoDBのフィールド名に変換する。
func fieldName(field string) string {
	if field == "id" {
		return idField
	}
	return field
}

// filterDoc はフィルタをMongoDBの検索条件に変換する。
func filterDoc(filters []docstore.Filter) bson.D {
	d := bson.D{}
	for _, f := range filters {
		d = append(d, bson.E{Key: fieldName(f.Field), Value: f.Value})
	}
	return d
}

// conditionFilter は識別子と追加条件をまとめた検索条件を返す。
func conditionFilter(id string, conditions []docstore.Filter) bson.D {
	return append(bson.D{{Key: idField, Value: id}}, filterDoc(conditions)...)
}

// sortDoc は並び替え条件を返す。同じ値の場合は_idで並べる。
func sortDoc(q docstore.Query) bson.D {
	dir := 1
	if q.Direction == docstore.Descending {
		dir = -1
	}
	if q.OrderBy == "" {
		return bson.D{{Key: "$natural", Value: dir}}
	}
	return bson.D{
		{Key: fieldName(q.OrderBy), Value: dir},
		{Key: idField, Value: dir},
	}
}

// updateDoc はFieldsを$setと$currentDateの更新に変換する。
func updateDoc(fields docstore.Fields) bson.D {
	set := bson.D{}
	current := bson.D{}
	for _, k := range sortedKeys(fields) {
		if k == "id" || k == idField {
			continue
		}
		v := fields[k]
		if docstore.IsServerTimestamp(v) {
			current = append(current, bson.E{Key: k, Value: bson.D{{Key: "$type", Value: "date"}}})
			continue
		}
		set = append(set, bson.E{Key: k, Value: v})
	}

	update := bson.D{}
	if len(set) > 0 {
		update = append(update, bson.E{Key: "$set", Value: set})
	}
	if len(current) > 0 {
		update = append(update, bson.E{Key: "$currentDate", Value: current})
	}
	return update
}

// insertDoc は挿入するドキュメントをFieldsに変換する。
// サーバー時刻を書き込むフィールドはServerTimestampに置き換える。
func insertDoc(doc any, serverTimestamps []string) (docstore.Fields, error) {
	b, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("ドキュメントのシリアライズに失敗: %w", err)
	}
	var m bson.M
	if err := bson.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("ドキュメントのデシリアライズに失敗: %w", err)
	}
	fields := make(docstore.Fields, len(m)+len(serverTimestamps))
	for k, v := range m {
		fields[k] = v
	}
	delete(fields, idField)
	for _, f := range serverTimestamps {
		fields[f] = docstore.ServerTimestamp
	}
	return fields, nil
}
