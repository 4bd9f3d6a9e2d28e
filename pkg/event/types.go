package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeOnboardingSession はオンボーディングセッションを表す。
	AggregateTypeOnboardingSession AggregateType = "OnboardingSession"
	// AggregateTypeStudent は学生エンティティを表す。
	AggregateTypeStudent AggregateType = "Student"
)

// Type はイベントの種類を表す。
// 値はジョブキューのトピック名と一致させる。
type Type string

const (
	// TypeOnboardingSessionAttended は学生がオンボーディングセッションに参加したことを表す。
	TypeOnboardingSessionAttended Type = "onboarding_session.attended"
	// TypeNotificationSent は通知が送信されたことを表す。
	TypeNotificationSent Type = "notification.sent"
)

// Event はEvent Storeに永続化される不変のイベントレコードを表す。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// Version はAggregate内でのイベントの順序番号。Event Storeが採番する。
	Version int64 `json:"version"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// OnboardingSessionAttendedData はonboarding_session.attendedイベントのデータ。
type OnboardingSessionAttendedData struct {
	// OnboardingSessionID は参加したセッションのID。
	OnboardingSessionID string `json:"onboarding_session_id"`
	// StudentID は参加した学生のID。
	StudentID string `json:"student_id"`
}

// NotificationSentData はnotification.sentイベントのデータ。
type NotificationSentData struct {
	// UserID は通知先のユーザーID。
	UserID string `json:"user_id"`
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Message は通知メッセージ。
	Message string `json:"message"`
}
