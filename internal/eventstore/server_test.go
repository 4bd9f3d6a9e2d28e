package eventstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// setupTestServer はテスト用のサーバーをインメモリSQLiteで構築するヘルパー関数。
// 各テストケースで独立したデータベースを使用するため、テスト間の干渉が発生しない。
func setupTestServer(t *testing.T) *Server {
	t.Helper()

	db, err := OpenDB(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s := &Server{
		router: gin.New(),
		port:   "0",
		db:     db,
		store:  NewStore(db),
	}
	s.setupRoutes()
	return s
}

// appendTestEvent はテスト用にイベントをPOSTするヘルパー関数。
func appendTestEvent(t *testing.T, s *Server, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()

	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("リクエストのJSON変換に失敗: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func attendedBody(id, sessionID, studentID string) map[string]any {
	return map[string]any{
		"id":             id,
		"aggregate_id":   sessionID,
		"aggregate_type": "OnboardingSession",
		"event_type":     "onboarding_session.attended",
		"data":           map[string]string{"onboarding_session_id": sessionID, "student_id": studentID},
	}
}

func getJSON[T any](t *testing.T, s *Server, path string) (int, T) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var v T
	if w.Code == http.StatusOK {
		if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
			t.Fatalf("JSONのデコードに失敗: %v, body=%s", err, w.Body.String())
		}
	}
	return w.Code, v
}

// TestHealthCheck はヘルスチェックエンドポイントを検証する。
func TestHealthCheck(t *testing.T) {
	t.Parallel()

	s := setupTestServer(t)
	code, resp := getJSON[map[string]string](t, s, "/health")
	if code != http.StatusOK {
		t.Fatalf("ステータスコード = %d; 期待値 = %d", code, http.StatusOK)
	}
	if resp["service"] != "eventstore" {
		t.Errorf("service = %q; 期待値 = %q", resp["service"], "eventstore")
	}
}

// TestHandleAppendEvent はイベント追記エンドポイントを検証する。
func TestHandleAppendEvent(t *testing.T) {
	t.Parallel()

	t.Run("新規イベントは201でバージョンが採番されること", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		w := appendTestEvent(t, s, attendedBody("e1", "sess-1", "s1"))
		if w.Code != http.StatusCreated {
			t.Fatalf("ステータスコード = %d; 期待値 = %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
		}
		var resp eventResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("JSONのデコードに失敗: %v", err)
		}
		if resp.ID != "e1" || resp.Version != 1 {
			t.Errorf("レスポンス = %+v; 期待値 id=e1 version=1", resp)
		}
		if _, err := time.Parse(time.RFC3339Nano, resp.CreatedAt); err != nil {
			t.Errorf("created_at = %q がRFC3339形式でない: %v", resp.CreatedAt, err)
		}
	})

	t.Run("同じIDの再追記は200で既存イベントを返すこと", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		if w := appendTestEvent(t, s, attendedBody("e1", "sess-1", "s1")); w.Code != http.StatusCreated {
			t.Fatalf("ステータスコード = %d; 期待値 = %d", w.Code, http.StatusCreated)
		}
		w := appendTestEvent(t, s, attendedBody("e1", "sess-1", "s1"))
		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d; 期待値 = %d", w.Code, http.StatusOK)
		}

		_, events := getJSON[[]eventResponse](t, s, "/api/v1/events")
		if len(events) != 1 {
			t.Errorf("イベント数 = %d; 期待値 = 1", len(events))
		}
	})

	t.Run("IDを省略した場合はEvent Storeが採番すること", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t)
		body := attendedBody("", "sess-1", "s1")
		delete(body, "id")
		w := appendTestEvent(t, s, body)
		if w.Code != http.StatusCreated {
			t.Fatalf("ステータスコード = %d; 期待値 = %d", w.Code, http.StatusCreated)
		}
		var resp eventResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("JSONのデコードに失敗: %v", err)
		}
		if resp.ID == "" {
			t.Error("idが空文字列")
		}
	})

	t.Run("必須項目が欠けている場合は400を返すこと", func(t *testing.T) {
		t.Parallel()

		for _, field := range []string{"aggregate_id", "aggregate_type", "event_type", "data"} {
			field := field
			t.Run(field, func(t *testing.T) {
				t.Parallel()

				s := setupTestServer(t)
				body := attendedBody("e1", "sess-1", "s1")
				delete(body, field)
				if w := appendTestEvent(t, s, body); w.Code != http.StatusBadRequest {
					t.Errorf("ステータスコード = %d; 期待値 = %d", w.Code, http.StatusBadRequest)
				}
			})
		}
	})
}

// TestHandleGetEvents は各取得エンドポイントを検証する。
func TestHandleGetEvents(t *testing.T) {
	t.Parallel()

	s := setupTestServer(t)
	base := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	s.store.now = fixedClock(base)

	appendTestEvent(t, s, attendedBody("e1", "sess-1", "s1"))
	appendTestEvent(t, s, attendedBody("e2", "sess-1", "s2"))
	appendTestEvent(t, s, map[string]any{
		"id":             "e3",
		"aggregate_id":   "s1",
		"aggregate_type": "Student",
		"event_type":     "notification.sent",
		"data":           map[string]string{"user_id": "s1"},
	})

	tests := []struct {
		name string
		path string
		want []string
	}{
		{name: "全件", path: "/api/v1/events", want: []string{"e1", "e2", "e3"}},
		{name: "AggregateID", path: "/api/v1/events/aggregate/sess-1", want: []string{"e1", "e2"}},
		{name: "イベントタイプ", path: "/api/v1/events/type/notification.sent", want: []string{"e3"}},
		{
			name: "since",
			path: "/api/v1/events/since?since=" + url.QueryEscape(base.Add(time.Second).Format(time.RFC3339Nano)),
			want: []string{"e2", "e3"},
		},
		{
			name: "sinceとイベントタイプ",
			path: "/api/v1/events/since?event_type=onboarding_session.attended&since=" + url.QueryEscape(base.Format(time.RFC3339Nano)),
			want: []string{"e1", "e2"},
		},
		{name: "件数上限", path: "/api/v1/events?limit=1", want: []string{"e1"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			code, events := getJSON[[]eventResponse](t, s, tt.path)
			if code != http.StatusOK {
				t.Fatalf("ステータスコード = %d; 期待値 = %d", code, http.StatusOK)
			}
			if len(events) != len(tt.want) {
				t.Fatalf("イベント数 = %d; 期待値 = %d", len(events), len(tt.want))
			}
			for i, id := range tt.want {
				if events[i].ID != id {
					t.Errorf("events[%d].id = %q; 期待値 = %q", i, events[i].ID, id)
				}
			}
		})
	}

	t.Run("sinceが不正な場合は400を返すこと", func(t *testing.T) {
		for _, q := range []string{"", "?since=yesterday"} {
			code, _ := getJSON[[]eventResponse](t, s, "/api/v1/events/since"+q)
			if code != http.StatusBadRequest {
				t.Errorf("%q: ステータスコード = %d; 期待値 = %d", q, code, http.StatusBadRequest)
			}
		}
	})

	t.Run("最新バージョンを返すこと", func(t *testing.T) {
		code, resp := getJSON[map[string]any](t, s, "/api/v1/events/aggregate/sess-1/version")
		if code != http.StatusOK {
			t.Fatalf("ステータスコード = %d; 期待値 = %d", code, http.StatusOK)
		}
		if got := fmt.Sprint(resp["latest_version"]); got != "2" {
			t.Errorf("latest_version = %s; 期待値 = 2", got)
		}
	})
}
