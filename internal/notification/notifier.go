package notification

import (
	"context"
	"database/sql"
	"log"

	"github.com/google/uuid"

	"github.com/nao1215/onboarding/pkg/event"
	"github.com/nao1215/onboarding/pkg/httpclient"
)

// Publisher はnotification.sentイベントの送信先。
type Publisher interface {
	Publish(ctx context.Context, ev *event.Event) error
}

// EventStorePublisher はEvent Storeにイベントを追記するPublisher。
type EventStorePublisher struct {
	client *httpclient.Client
}

// NewEventStorePublisher は新しいEventStorePublisherを生成する。
func NewEventStorePublisher(client *httpclient.Client) *EventStorePublisher {
	return &EventStorePublisher{client: client}
}

// Publish はイベントをEvent Storeに追記する。
func (p *EventStorePublisher) Publish(ctx context.Context, ev *event.Event) error {
	return p.client.AppendEvent(ctx, ev)
}

// Message は送信する通知の内容。
type Message struct {
	UserID  string
	Title   string
	Message string
	// SourceEventID は通知の元になったイベントID。空の場合は重複判定を行わない。
	SourceEventID string
}

// Notifier は通知を保存し、notification.sentイベントを発行する。
type Notifier struct {
	store     *Store
	publisher Publisher
}

// NewNotifier は新しいNotifierを生成する。publisherがnilの場合はイベントを発行しない。
func NewNotifier(store *Store, publisher Publisher) *Notifier {
	return &Notifier{store: store, publisher: publisher}
}

// Notify は通知を保存し、保存した通知のIDを返す。
// 同じSourceEventIDの通知が既に存在する場合は何もせず、空文字列を返す。
// イベント発行の失敗はログに記録するのみで、通知の保存結果には影響しない。
func (n *Notifier) Notify(ctx context.Context, msg Message) (string, error) {
	id := uuid.NewString()
	created, err := n.store.Create(ctx, Notification{
		ID:            id,
		UserID:        msg.UserID,
		Title:         msg.Title,
		Message:       msg.Message,
		SourceEventID: sql.NullString{String: msg.SourceEventID, Valid: msg.SourceEventID != ""},
	})
	if err != nil {
		return "", err
	}
	if !created {
		return "", nil
	}

	if n.publisher == nil {
		return id, nil
	}
	ev, err := event.New(msg.UserID, event.AggregateTypeStudent, event.TypeNotificationSent, event.NotificationSentData{
		UserID:  msg.UserID,
		Title:   msg.Title,
		Message: msg.Message,
	})
	if err != nil {
		log.Printf("[Notification] NotificationSentイベントの生成に失敗: %v", err)
		return id, nil
	}
	if err := n.publisher.Publish(ctx, ev); err != nil {
		log.Printf("[Notification] NotificationSentイベントの送信に失敗 (notification_id=%s): %v", id, err)
	}
	return id, nil
}
