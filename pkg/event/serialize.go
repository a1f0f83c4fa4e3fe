package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New は新しいイベントを生成する。
// dataにはイベント固有のデータ構造体を渡す。nilの場合はDataを空にする。
func New(aggregateID string, aggregateType AggregateType, eventType Type, data any) (*Event, error) {
	var raw json.RawMessage
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("イベントデータのシリアライズに失敗: %w", err)
		}
		raw = jsonData
	}

	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Data:          raw,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Marshal はイベントをフィードに流すためのJSONに変換する。
func Marshal(e *Event) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("イベントのシリアライズに失敗: %w", err)
	}
	return b, nil
}

// Unmarshal はフィードから受け取ったJSONをイベントに復元する。
func Unmarshal(b []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("イベントのデシリアライズに失敗: %w", err)
	}
	return &e, nil
}

// DecodeData はイベントのDataフィールドを指定された型にデシリアライズする。
func DecodeData[T any](e *Event) (*T, error) {
	var data T
	if len(e.Data) == 0 {
		return &data, nil
	}
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("イベントデータのデシリアライズに失敗: %w", err)
	}
	return &data, nil
}
