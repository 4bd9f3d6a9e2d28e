package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/onboarding/pkg/middleware"
)

// Server はAPI GatewayサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// db はSQLiteデータベース接続。
	db *sql.DB
	// users はusersテーブルへのアクセス。
	users *UserStore
	// jwtSecret はJWT署名用の秘密鍵。
	jwtSecret string
	// serviceURLs は内部サービスのURL。
	serviceURLs serviceURLConfig
	// client は内部サービスへの転送に使うHTTPクライアント。
	client *http.Client
	// devToken が有効な場合のみ開発用トークンを発行する。
	devToken bool
}

// serviceURLConfig は内部サービスのURL設定。
type serviceURLConfig struct {
	Onboarding   string
	Notification string
	EventStore   string
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(port string) (*Server, error) {
	sqlDB, err := OpenDB(context.Background(), getEnvOr("DATABASE_PATH", "/data/gateway.db"))
	if err != nil {
		return nil, fmt.Errorf("データベース初期化に失敗: %w", err)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS([]string{getEnvOr("FRONTEND_URL", "http://localhost:3000")}))

	s := &Server{
		router:    router,
		port:      port,
		db:        sqlDB,
		users:     NewUserStore(sqlDB),
		jwtSecret: getEnvOr("JWT_SECRET", "dev-secret-key"),
		serviceURLs: serviceURLConfig{
			Onboarding:   getEnvOr("ONBOARDING_URL", "http://localhost:8081"),
			Notification: getEnvOr("NOTIFICATION_URL", "http://localhost:8086"),
			EventStore:   getEnvOr("EVENTSTORE_URL", "http://localhost:8084"),
		},
		client:   &http.Client{Timeout: 30 * time.Second},
		devToken: devTokenEnabled(),
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// Close はデータベース接続を閉じる。
func (s *Server) Close() error {
	return s.db.Close()
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	auth := s.router.Group("/auth")
	{
		// 開発用トークン発行
		auth.POST("/dev-token", s.handleDevToken())
	}

	// 認証必須のAPIエンドポイント
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.jwtSecret))
	{
		// ユーザー情報
		api.GET("/me", s.handleGetCurrentUser())

		// オンボーディング（運営者のみ）
		admin := api.Group("")
		admin.Use(middleware.RequireRole(middleware.RoleAdmin))
		{
			admin.POST("/onboarding-sessions", s.handleProxy(s.serviceURLs.Onboarding))
			admin.GET("/onboarding-sessions", s.handleProxy(s.serviceURLs.Onboarding))
			admin.GET("/onboarding-sessions/:id", s.handleProxy(s.serviceURLs.Onboarding))
			admin.POST("/students", s.handleProxy(s.serviceURLs.Onboarding))
			admin.GET("/students/:id", s.handleProxy(s.serviceURLs.Onboarding))

			// イベントログ
			admin.GET("/events", s.handleProxy(s.serviceURLs.EventStore))
			admin.GET("/events/aggregate/:aggregate_id", s.handleProxy(s.serviceURLs.EventStore))
		}

		// 通知
		api.GET("/notifications", s.handleProxy(s.serviceURLs.Notification))
		api.GET("/notifications/unread", s.handleProxy(s.serviceURLs.Notification))
		api.PUT("/notifications/:id/read", s.handleProxy(s.serviceURLs.Notification))
		api.PUT("/notifications/read-all", s.handleProxy(s.serviceURLs.Notification))
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})
}

// devTokenRequest は開発用トークン発行リクエストのJSON構造。
type devTokenRequest struct {
	// UserID は新規作成時に使うユーザーID。学生の場合は学生IDを指定する。
	UserID string `json:"user_id"`
	Email  string `json:"email" binding:"required,email"`
	Role   string `json:"role" binding:"required,oneof=admin student"`
}

// handleDevToken は開発用JWTトークンを発行するハンドラを返す。
func (s *Server) handleDevToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.devToken {
			c.JSON(http.StatusNotFound, gin.H{"error": "開発用トークンは無効化されています"})
			return
		}

		var req devTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		role := middleware.Role(req.Role)
		user, err := s.users.Login(c.Request.Context(), req.UserID, req.Email, role)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの登録に失敗しました"})
			log.Printf("[Gateway] ユーザー登録エラー: %v", err)
			return
		}

		token, err := middleware.GenerateJWT(s.jwtSecret, user.ID, user.Email, role)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			log.Printf("[Gateway] JWT生成エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":   token,
			"user_id": user.ID,
		})
	}
}

// handleGetCurrentUser は認証済みユーザーの情報を返すハンドラを返す。
func (s *Server) handleGetCurrentUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := s.users.Get(c.Request.Context(), middleware.GetUserID(c))
		if errors.Is(err, ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "ユーザーが見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの取得に失敗しました"})
			log.Printf("[Gateway] ユーザー取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"id":            user.ID,
			"email":         user.Email,
			"role":          user.Role,
			"last_login_at": user.LastLoginAt.UTC().Format(time.RFC3339),
		})
	}
}

// handleProxy はリクエストのパスとクエリをそのまま指定サービスに転送するハンドラを返す。
func (s *Server) handleProxy(baseURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		proxyURL := strings.TrimRight(baseURL, "/") + c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			proxyURL += "?" + c.Request.URL.RawQuery
		}
		s.doProxy(c, proxyURL)
	}
}

// doProxy はリクエストを内部サービスに転送する共通処理。
// JWTトークンとユーザーIDヘッダーを転送する。
func (s *Server) doProxy(c *gin.Context, url string) {
	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, url, c.Request.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "プロキシリクエストの作成に失敗しました"})
		return
	}

	if ct := c.GetHeader("Content-Type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	req.Header.Set("Authorization", c.GetHeader("Authorization"))
	req.Header.Set("X-User-ID", middleware.GetUserID(c))

	resp, err := s.client.Do(req)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "内部サービスとの通信に失敗しました"})
		log.Printf("[Gateway] プロキシエラー: url=%s, error=%v", url, err)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "レスポンスの読み取りに失敗しました"})
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.StatusCode, contentType, body)
}

// devTokenEnabled は開発用トークン発行が有効かどうかを返す。
// GATEWAY_DEV_TOKEN=true を明示した場合のみ有効になる。
func devTokenEnabled() bool {
	return getEnvOr("GATEWAY_DEV_TOKEN", "false") == "true"
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
