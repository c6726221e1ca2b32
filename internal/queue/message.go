// Package queue はRabbitMQを介したクリックイベントの発行と消費を提供する。
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/shortlink/internal/model"
)

// ClickMessage はキューに流すクリックイベントのJSON表現。
type ClickMessage struct {
	ID         string    `json:"id"`
	LinkID     string    `json:"link_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EncodeClick はクリックイベントをメッセージ本文に変換する。
func EncodeClick(event *model.ClickEvent) ([]byte, error) {
	body, err := json.Marshal(ClickMessage{
		ID:         event.ID,
		LinkID:     event.LinkID,
		OccurredAt: event.OccurredAt.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode click message: %w", err)
	}
	return body, nil
}

// DecodeClick はメッセージ本文をクリックイベントに変換する。
// 必須項目の欠落やUUIDでないIDは、何度配信しても記録できないためエラーを返す。
func DecodeClick(body []byte) (*model.ClickEvent, error) {
	var msg ClickMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode click message: %w", err)
	}
	if msg.ID == "" || msg.LinkID == "" || msg.OccurredAt.IsZero() {
		return nil, fmt.Errorf("click message missing required fields")
	}
	if _, err := uuid.Parse(msg.ID); err != nil {
		return nil, fmt.Errorf("invalid click event id %q: %w", msg.ID, err)
	}
	if _, err := uuid.Parse(msg.LinkID); err != nil {
		return nil, fmt.Errorf("invalid link id %q: %w", msg.LinkID, err)
	}
	return &model.ClickEvent{
		ID:         msg.ID,
		LinkID:     msg.LinkID,
		OccurredAt: msg.OccurredAt.UTC(),
	}, nil
}
