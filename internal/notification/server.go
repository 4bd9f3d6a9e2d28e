package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/onboarding/pkg/httpclient"
	"github.com/nao1215/onboarding/pkg/middleware"
)

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// db はSQLiteデータベース接続。
	db *sql.DB
	// store はnotificationsテーブルへのアクセス。
	store *Store
	// notifier は通知の保存とNotificationSentイベントの発行を行う。
	notifier *Notifier
	// subscriber はEvent Storeを購読して通知を作成するバックグラウンドプロセス。
	subscriber *Subscriber
}

// NewServer は新しい通知サーバーを生成する。
// SQLiteデータベースの初期化、Subscriberのバックグラウンド起動、ルーティングの設定を行う。
func NewServer(port string) (*Server, error) {
	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "/data/notification.db"
	}

	sqlDB, err := OpenDB(context.Background(), dbPath)
	if err != nil {
		return nil, fmt.Errorf("データベース初期化に失敗: %w", err)
	}

	eventStoreURL := os.Getenv("EVENTSTORE_URL")
	if eventStoreURL == "" {
		eventStoreURL = "http://localhost:8084"
	}

	interval := 2 * time.Second
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		interval, err = time.ParseDuration(v)
		if err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("POLL_INTERVAL %q の解析に失敗: %w", v, err)
		}
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "dev-secret-key"
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())

	client := httpclient.New(eventStoreURL, httpclient.WithTimeout(10*time.Second))
	store := NewStore(sqlDB)
	notifier := NewNotifier(store, NewEventStorePublisher(client))

	s := &Server{
		router:     router,
		port:       port,
		db:         sqlDB,
		store:      store,
		notifier:   notifier,
		subscriber: NewSubscriber(notifier, client, interval),
	}
	s.setupRoutes(jwtSecret)
	s.subscriber.Start(context.Background())

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// Close はSubscriberを停止し、データベース接続を閉じる。
func (s *Server) Close() error {
	if s.subscriber != nil {
		s.subscriber.Stop()
	}
	return s.db.Close()
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes(jwtSecret string) {
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(jwtSecret))
	{
		notifications := api.Group("/notifications")
		{
			// 通知一覧取得
			notifications.GET("", s.handleList(false))
			// 未読通知一覧取得
			notifications.GET("/unread", s.handleList(true))
			// 通知を既読にする
			notifications.PUT("/:id/read", s.handleMarkAsRead())
			// 全通知を既読にする
			notifications.PUT("/read-all", s.handleMarkAllAsRead())
		}

		// 通知の手動送信（運営者のみ）
		internal := api.Group("/internal")
		internal.Use(middleware.RequireRole(middleware.RoleAdmin))
		{
			internal.POST("/send", s.handleSend())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	})
}

// notificationResponse は通知のJSONレスポンス構造。
type notificationResponse struct {
	ID      string `json:"id"`
	UserID  string `json:"user_id"`
	Title   string `json:"title"`
	Message string `json:"message"`
	IsRead  bool   `json:"is_read"`
	// CreatedAt は通知の作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
}

func toNotificationResponses(notifications []Notification) []notificationResponse {
	responses := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		responses = append(responses, notificationResponse{
			ID:        n.ID,
			UserID:    n.UserID,
			Title:     n.Title,
			Message:   n.Message,
			IsRead:    n.IsRead,
			CreatedAt: n.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return responses
}

// handleList は認証済みユーザーの通知一覧を返すハンドラ。unreadOnlyがtrueの場合は未読のみ。
func (s *Server) handleList(unreadOnly bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		notifications, err := s.store.ListByUser(c.Request.Context(), userID, unreadOnly)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知一覧の取得に失敗しました"})
			log.Printf("[Notification] 通知一覧取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, toNotificationResponses(notifications))
	}
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		// 通知の存在確認と所有者チェック
		n, err := s.store.Get(c.Request.Context(), c.Param("id"))
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の取得に失敗しました"})
			log.Printf("[Notification] 通知取得エラー: %v", err)
			return
		}
		if n.UserID != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "この通知を操作する権限がありません"})
			return
		}

		if err := s.store.MarkAsRead(c.Request.Context(), n.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の既読処理に失敗しました"})
			log.Printf("[Notification] 通知既読処理エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "通知を既読にしました"})
	}
}

// handleMarkAllAsRead は認証済みユーザーの全通知を既読にするハンドラ。
func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		updated, err := s.store.MarkAllAsRead(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "全通知の既読処理に失敗しました"})
			log.Printf("[Notification] 全通知既読処理エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "全通知を既読にしました", "updated": updated})
	}
}

// sendRequest は通知送信リクエストのJSON構造。
type sendRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	Title   string `json:"title" binding:"required"`
	Message string `json:"message" binding:"required"`
}

// handleSend は通知を作成しNotificationSentイベントを発行するハンドラ。
func (s *Server) handleSend() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		id, err := s.notifier.Notify(c.Request.Context(), Message{
			UserID:  req.UserID,
			Title:   req.Title,
			Message: req.Message,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の作成に失敗しました"})
			log.Printf("[Notification] 通知作成エラー: %v", err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"id": id, "message": "通知を送信しました"})
	}
}
