package notification

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/nao1215/onboarding/pkg/event"
	"github.com/nao1215/onboarding/pkg/httpclient"
)

const (
	attendedTitle   = "オンボーディング完了"
	attendedMessage = "オンボーディングセッションへの参加が記録されました。"
)

// Subscriber はEvent Storeをポーリングし、onboarding_session.attendedイベントを
// 学生への通知に変換するバックグラウンドプロセス。
type Subscriber struct {
	// notifier は通知の保存とイベント発行を行う。
	notifier *Notifier
	// client はEvent Storeとの通信用HTTPクライアント。
	client *httpclient.Client
	// interval はポーリング間隔。
	interval time.Duration
	// since は次のポーリングで取得を開始する作成日時。
	since time.Time
	// mu はsinceへの並行アクセスを保護するミューテックス。
	mu sync.Mutex
	// cancel はバックグラウンドゴルーチンを停止するためのキャンセル関数。
	cancel context.CancelFunc
	// done はバックグラウンドゴルーチンの終了を通知する。
	done chan struct{}
}

// NewSubscriber は新しいSubscriberを生成する。
// 起動直後はEvent Storeの先頭から読み直すが、通知はイベントIDで重複排除される。
func NewSubscriber(notifier *Notifier, client *httpclient.Client, interval time.Duration) *Subscriber {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Subscriber{
		notifier: notifier,
		client:   client,
		interval: interval,
	}
}

// Start はバックグラウンドでEvent Storeのポーリングを開始する。
func (s *Subscriber) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		log.Println("[Subscriber] Event Storeポーリングを開始します")
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Println("[Subscriber] ポーリングを停止しました")
				return
			case <-ticker.C:
				if _, err := s.Poll(ctx); err != nil {
					log.Printf("[Subscriber] ポーリングエラー: %v", err)
				}
			}
		}
	}()
}

// Stop はバックグラウンドのポーリングを停止し、終了を待つ。
func (s *Subscriber) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// storedEvent はEvent Store APIから返されるイベントのJSON構造。
type storedEvent struct {
	ID          string `json:"id"`
	AggregateID string `json:"aggregate_id"`
	EventType   string `json:"event_type"`
	// Data はイベント固有のデータ（JSON文字列）。
	Data string `json:"data"`
	// CreatedAt はイベントの作成日時（RFC3339Nano形式）。
	CreatedAt string `json:"created_at"`
}

// Poll は前回以降のonboarding_session.attendedイベントを取得して通知を作成し、
// 新たに作成した通知の件数を返す。
// 処理に失敗したイベントがあればそこで中断し、次回のポーリングで同じイベントから再試行する。
func (s *Subscriber) Poll(ctx context.Context) (int, error) {
	s.mu.Lock()
	since := s.since
	s.mu.Unlock()

	path := fmt.Sprintf("/api/v1/events/since?event_type=%s&since=%s",
		url.QueryEscape(string(event.TypeOnboardingSessionAttended)),
		url.QueryEscape(since.UTC().Format(time.RFC3339Nano)))

	var events []storedEvent
	if err := s.client.GetJSON(ctx, path, &events); err != nil {
		return 0, fmt.Errorf("Event Storeからのイベント取得に失敗: %w", err)
	}

	created := 0
	for _, ev := range events {
		createdAt, err := time.Parse(time.RFC3339Nano, ev.CreatedAt)
		if err != nil {
			return created, fmt.Errorf("イベント作成日時の解析に失敗 (id=%s): %w", ev.ID, err)
		}

		ok, err := s.handleAttended(ctx, ev)
		if err != nil {
			return created, fmt.Errorf("イベント処理に失敗 (id=%s): %w", ev.ID, err)
		}
		if ok {
			created++
		}

		s.mu.Lock()
		// 同じイベントを再取得しないように1ナノ秒進める
		s.since = createdAt.Add(time.Nanosecond)
		s.mu.Unlock()
	}

	if created > 0 {
		log.Printf("[Subscriber] %d件の通知を作成しました", created)
	}
	return created, nil
}

// handleAttended はonboarding_session.attendedイベントから学生への通知を作成する。
// 通知が既に存在した場合はfalseを返す。
func (s *Subscriber) handleAttended(ctx context.Context, ev storedEvent) (bool, error) {
	data, err := event.DecodeData[event.OnboardingSessionAttendedData]([]byte(ev.Data))
	if err != nil {
		// 再試行しても解釈できないため読み飛ばす
		log.Printf("[Subscriber] イベントデータを解釈できないためスキップします (id=%s): %v", ev.ID, err)
		return false, nil
	}
	if data.StudentID == "" {
		log.Printf("[Subscriber] student_idが空のイベントをスキップします (id=%s)", ev.ID)
		return false, nil
	}

	id, err := s.notifier.Notify(ctx, Message{
		UserID:        data.StudentID,
		Title:         attendedTitle,
		Message:       attendedMessage,
		SourceEventID: ev.ID,
	})
	if err != nil {
		return false, err
	}
	return id != "", nil
}
