package onboarding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nao1215/onboarding/pkg/event"
	"github.com/nao1215/onboarding/pkg/httpclient"
)

// TestEventStoreDispatcher はEvent Storeへのイベント追記を検証する。
func TestEventStoreDispatcher(t *testing.T) {
	t.Parallel()

	t.Run("イベントがEvent Storeの追記APIに送信されること", func(t *testing.T) {
		t.Parallel()

		var (
			gotPath string
			gotReq  httpclient.AppendEventRequest
		)
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			_ = json.NewDecoder(r.Body).Decode(&gotReq)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"stored"}`))
		}))
		defer ts.Close()

		ev, err := event.New("session-1", event.AggregateTypeOnboardingSession, event.TypeOnboardingSessionAttended,
			event.OnboardingSessionAttendedData{OnboardingSessionID: "session-1", StudentID: "s1"})
		if err != nil {
			t.Fatalf("event.New()でエラーが発生: %v", err)
		}

		d := NewEventStoreDispatcher(httpclient.New(ts.URL, httpclient.WithHTTPClient(ts.Client())))
		if err := d.Dispatch(context.Background(), ev); err != nil {
			t.Fatalf("Dispatch()でエラーが発生: %v", err)
		}

		if gotPath != "/api/v1/events" {
			t.Errorf("Path = %q, want %q", gotPath, "/api/v1/events")
		}
		if gotReq.ID != ev.ID {
			t.Errorf("id = %q, want %q", gotReq.ID, ev.ID)
		}
		if gotReq.AggregateID != "session-1" {
			t.Errorf("aggregate_id = %q, want %q", gotReq.AggregateID, "session-1")
		}
		if gotReq.AggregateType != "OnboardingSession" {
			t.Errorf("aggregate_type = %q, want %q", gotReq.AggregateType, "OnboardingSession")
		}
		if gotReq.EventType != "onboarding_session.attended" {
			t.Errorf("event_type = %q, want %q", gotReq.EventType, "onboarding_session.attended")
		}
		data, err := event.DecodeData[event.OnboardingSessionAttendedData](gotReq.Data)
		if err != nil {
			t.Fatalf("dataのデコードに失敗: %v", err)
		}
		if data.StudentID != "s1" {
			t.Errorf("data.student_id = %q, want %q", data.StudentID, "s1")
		}
	})

	t.Run("Event Storeがエラーを返した場合はエラーになること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer ts.Close()

		ev, _ := event.New("session-2", event.AggregateTypeOnboardingSession, event.TypeOnboardingSessionAttended,
			event.OnboardingSessionAttendedData{OnboardingSessionID: "session-2", StudentID: "s2"})

		d := NewEventStoreDispatcher(httpclient.New(ts.URL, httpclient.WithHTTPClient(ts.Client())))
		if err := d.Dispatch(context.Background(), ev); err == nil {
			t.Fatal("Dispatch()がエラーを返すべきだが、nilが返った")
		}
	})
}
