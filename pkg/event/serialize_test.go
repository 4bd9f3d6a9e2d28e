package event

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

// TestNew はNew関数でイベントが正しく生成されることを検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("OnboardingSessionAttendedDataでイベントを正常に生成できること", func(t *testing.T) {
		t.Parallel()

		data := OnboardingSessionAttendedData{
			OnboardingSessionID: "session-1",
			StudentID:           "student-1",
		}

		before := time.Now().UTC()
		ev, err := New("session-1", AggregateTypeOnboardingSession, TypeOnboardingSessionAttended, data)
		after := time.Now().UTC()

		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}
		if ev == nil {
			t.Fatal("New()がnilを返した")
		}

		if ev.ID == "" {
			t.Error("IDが空文字列")
		}
		if ev.AggregateID != "session-1" {
			t.Errorf("AggregateID = %q, want %q", ev.AggregateID, "session-1")
		}
		if ev.AggregateType != AggregateTypeOnboardingSession {
			t.Errorf("AggregateType = %q, want %q", ev.AggregateType, AggregateTypeOnboardingSession)
		}
		if ev.EventType != TypeOnboardingSessionAttended {
			t.Errorf("EventType = %q, want %q", ev.EventType, TypeOnboardingSessionAttended)
		}
		if ev.Version != 0 {
			t.Errorf("Version = %d, want 0", ev.Version)
		}
		if ev.CreatedAt.Before(before) || ev.CreatedAt.After(after) {
			t.Errorf("CreatedAt = %v, 期待する範囲: [%v, %v]", ev.CreatedAt, before, after)
		}

		// ペイロードのキー名はジョブの購読側と共有しているため固定であること
		var raw map[string]string
		if err := json.Unmarshal(ev.Data, &raw); err != nil {
			t.Fatalf("Dataのデシリアライズに失敗: %v", err)
		}
		if raw["onboarding_session_id"] != "session-1" {
			t.Errorf("onboarding_session_id = %q, want %q", raw["onboarding_session_id"], "session-1")
		}
		if raw["student_id"] != "student-1" {
			t.Errorf("student_id = %q, want %q", raw["student_id"], "student-1")
		}
	})

	t.Run("連続して生成したイベントのIDが異なること", func(t *testing.T) {
		t.Parallel()

		data := OnboardingSessionAttendedData{OnboardingSessionID: "session-2", StudentID: "student-2"}

		ev1, err := New("session-2", AggregateTypeOnboardingSession, TypeOnboardingSessionAttended, data)
		if err != nil {
			t.Fatalf("1回目のNew()でエラーが発生: %v", err)
		}
		ev2, err := New("session-2", AggregateTypeOnboardingSession, TypeOnboardingSessionAttended, data)
		if err != nil {
			t.Fatalf("2回目のNew()でエラーが発生: %v", err)
		}

		if ev1.ID == ev2.ID {
			t.Errorf("異なるイベントが同じIDを持っている: %q", ev1.ID)
		}
	})

	t.Run("AggregateIDが空の場合はエラーが返ること", func(t *testing.T) {
		t.Parallel()

		ev, err := New("", AggregateTypeStudent, TypeNotificationSent, NotificationSentData{})
		if !errors.Is(err, ErrEmptyAggregateID) {
			t.Fatalf("err = %v, want %v", err, ErrEmptyAggregateID)
		}
		if ev != nil {
			t.Error("エラー時にnilでないEventが返った")
		}
	})

	t.Run("シリアライズ不可能なデータでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		// json.Marshalでエラーになるチャネル型を渡す
		ev, err := New("session-3", AggregateTypeOnboardingSession, TypeOnboardingSessionAttended, make(chan int))
		if err == nil {
			t.Fatal("New()がエラーを返すべきだが、nilが返った")
		}
		if ev != nil {
			t.Error("エラー時にnilでないEventが返った")
		}
	})
}

// TestDecodeData はDecodeData関数でイベントデータを正しくデシリアライズできることを検証する。
func TestDecodeData(t *testing.T) {
	t.Parallel()

	t.Run("OnboardingSessionAttendedDataを正しくデコードできること", func(t *testing.T) {
		t.Parallel()

		original := OnboardingSessionAttendedData{OnboardingSessionID: "session-10", StudentID: "student-10"}
		ev, err := New("session-10", AggregateTypeOnboardingSession, TypeOnboardingSessionAttended, original)
		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}

		decoded, err := DecodeData[OnboardingSessionAttendedData](ev.Data)
		if err != nil {
			t.Fatalf("DecodeData()でエラーが発生: %v", err)
		}
		if *decoded != original {
			t.Errorf("decoded = %+v, want %+v", *decoded, original)
		}
	})

	t.Run("不正なJSONの場合はエラーが返ること", func(t *testing.T) {
		t.Parallel()

		if _, err := DecodeData[NotificationSentData]([]byte("{invalid")); err == nil {
			t.Fatal("DecodeData()がエラーを返すべきだが、nilが返った")
		}
	})
}
