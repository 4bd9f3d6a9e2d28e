package onboarding

import (
	"context"

	"github.com/nao1215/onboarding/pkg/event"
	"github.com/nao1215/onboarding/pkg/httpclient"
)

// Dispatcher はイベントを非同期処理用のジョブとして投入する送信ポート。
type Dispatcher interface {
	Dispatch(ctx context.Context, ev *event.Event) error
}

// EventStoreDispatcher はEvent Storeへのイベント追記でジョブを投入するDispatcher。
// 購読側（通知サービス等）はEvent Storeをポーリングしてジョブを処理する。
type EventStoreDispatcher struct {
	client *httpclient.Client
}

// NewEventStoreDispatcher は新しいEventStoreDispatcherを生成する。
func NewEventStoreDispatcher(client *httpclient.Client) *EventStoreDispatcher {
	return &EventStoreDispatcher{client: client}
}

// Dispatch はイベントをEvent Storeに追記する。
func (d *EventStoreDispatcher) Dispatch(ctx context.Context, ev *event.Event) error {
	return d.client.AppendEvent(ctx, ev)
}
