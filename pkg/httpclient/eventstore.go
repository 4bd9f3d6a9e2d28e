package httpclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nao1215/onboarding/pkg/event"
)

// AppendEventPath はEvent Storeのイベント追記APIのパス。
const AppendEventPath = "/api/v1/events"

// AppendEventRequest はEvent Storeへのイベント追記リクエストのJSON構造。
type AppendEventRequest struct {
	// ID はイベントID。Event Store側で同じIDの再追記は無視される。
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	Data          json.RawMessage `json:"data"`
}

// AppendEvent はイベントをEvent Storeに追記する。
// ClientのベースURLはEvent Storeを指している必要がある。
func (c *Client) AppendEvent(ctx context.Context, ev *event.Event) error {
	req := AppendEventRequest{
		ID:            ev.ID,
		AggregateID:   ev.AggregateID,
		AggregateType: string(ev.AggregateType),
		EventType:     string(ev.EventType),
		Data:          ev.Data,
	}
	if err := c.PostJSON(ctx, AppendEventPath, req, nil); err != nil {
		return fmt.Errorf("Event Storeへの追記に失敗: %w", err)
	}
	return nil
}
