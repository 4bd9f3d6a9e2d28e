package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newCORSRouter(handled *bool) *gin.Engine {
	router := gin.New()
	router.Use(CORS([]string{"http://localhost:3000", "https://admin.example.com"}))
	handler := func(c *gin.Context) {
		*handled = true
		c.Status(http.StatusOK)
	}
	router.GET("/test", handler)
	router.OPTIONS("/test", handler)
	return router
}

// TestCORS はCORSミドルウェアを検証する。
func TestCORS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		method      string
		origin      string
		wantCode    int
		wantAllow   string
		wantHandled bool
	}{
		{
			name:        "許可されたオリジンのGETにヘッダーが設定されること",
			method:      http.MethodGet,
			origin:      "https://admin.example.com",
			wantCode:    http.StatusOK,
			wantAllow:   "https://admin.example.com",
			wantHandled: true,
		},
		{
			name:        "許可されていないオリジンにはヘッダーが設定されないこと",
			method:      http.MethodGet,
			origin:      "https://evil.example.com",
			wantCode:    http.StatusOK,
			wantAllow:   "",
			wantHandled: true,
		},
		{
			name:        "Originヘッダーが無い場合はヘッダーが設定されないこと",
			method:      http.MethodGet,
			origin:      "",
			wantCode:    http.StatusOK,
			wantAllow:   "",
			wantHandled: true,
		},
		{
			name:        "OPTIONSは204で中断されハンドラが呼ばれないこと",
			method:      http.MethodOptions,
			origin:      "http://localhost:3000",
			wantCode:    http.StatusNoContent,
			wantAllow:   "http://localhost:3000",
			wantHandled: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var handled bool
			router := newCORSRouter(&handled)

			req := httptest.NewRequest(tt.method, "/test", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("ステータスコード = %d, want %d", w.Code, tt.wantCode)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
			if got := w.Header().Get("Vary"); got != "Origin" {
				t.Errorf("Vary = %q, want %q", got, "Origin")
			}
			if handled != tt.wantHandled {
				t.Errorf("ハンドラ呼び出し = %v, want %v", handled, tt.wantHandled)
			}
		})
	}
}
