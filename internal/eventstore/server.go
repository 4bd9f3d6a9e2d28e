package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nao1215/onboarding/pkg/event"
	"github.com/nao1215/onboarding/pkg/middleware"
)

// Server はイベントストアサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// db はSQLiteデータベース接続。
	db *sql.DB
	// store はeventsテーブルへのアクセス。
	store *Store
}

// NewServer は新しいイベントストアサーバーを生成する。
func NewServer(port string) (*Server, error) {
	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "/data/eventstore.db"
	}

	sqlDB, err := OpenDB(context.Background(), dbPath)
	if err != nil {
		return nil, fmt.Errorf("データベース初期化に失敗: %w", err)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router: router,
		port:   port,
		db:     sqlDB,
		store:  NewStore(sqlDB),
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
// Event Storeは内部ネットワークからのみ呼び出されるため認証は行わない。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	{
		events := api.Group("/events")
		{
			// イベントの追記
			events.POST("", s.handleAppendEvent())
			// 全イベント取得
			events.GET("", s.handleGetAllEvents())
			// AggregateIDによるイベント取得
			events.GET("/aggregate/:aggregate_id", s.handleGetEventsByAggregateID())
			// AggregateIDの最新バージョン取得
			events.GET("/aggregate/:aggregate_id/version", s.handleGetLatestVersion())
			// イベントタイプによるイベント取得
			events.GET("/type/:event_type", s.handleGetEventsByType())
			// 日時指定によるイベント取得（クエリパラメータ: since, event_type）
			events.GET("/since", s.handleGetEventsSince())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "eventstore"})
	})
}

// appendEventRequest はイベント追記リクエストのJSON構造。
type appendEventRequest struct {
	// ID は投入側が採番したイベントID。省略時はEvent Storeが採番する。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id" binding:"required"`
	// AggregateType は対象エンティティの種類。
	AggregateType string `json:"aggregate_type" binding:"required"`
	// EventType はイベントの種類。
	EventType string `json:"event_type" binding:"required"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data" binding:"required"`
}

// eventResponse はイベントのJSONレスポンス構造。
type eventResponse struct {
	ID            string `json:"id"`
	AggregateID   string `json:"aggregate_id"`
	AggregateType string `json:"aggregate_type"`
	EventType     string `json:"event_type"`
	// Data はイベント固有のデータ（JSON文字列）。
	Data    string `json:"data"`
	Version int64  `json:"version"`
	// CreatedAt は作成日時（RFC3339Nano形式）。sinceにそのまま渡せる。
	CreatedAt string `json:"created_at"`
}

func toEventResponse(e event.Event) eventResponse {
	return eventResponse{
		ID:            e.ID,
		AggregateID:   e.AggregateID,
		AggregateType: string(e.AggregateType),
		EventType:     string(e.EventType),
		Data:          string(e.Data),
		Version:       e.Version,
		CreatedAt:     e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func toEventResponses(events []event.Event) []eventResponse {
	responses := make([]eventResponse, 0, len(events))
	for _, e := range events {
		responses = append(responses, toEventResponse(e))
	}
	return responses
}

// handleAppendEvent はイベントの追記を処理するハンドラを返す。
// 新規追記は201、同じIDの再追記は200で既存イベントを返す。
func (s *Server) handleAppendEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req appendEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if !json.Valid(req.Data) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "dataがJSONではありません"})
			return
		}

		id := req.ID
		if id == "" {
			id = uuid.New().String()
		}

		stored, created, err := s.store.Append(c.Request.Context(), event.Event{
			ID:            id,
			AggregateID:   req.AggregateID,
			AggregateType: event.AggregateType(req.AggregateType),
			EventType:     event.Type(req.EventType),
			Data:          req.Data,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの追記に失敗しました"})
			log.Printf("[EventStore] イベント追記エラー: %v", err)
			return
		}

		status := http.StatusCreated
		if !created {
			status = http.StatusOK
		}
		c.JSON(status, toEventResponse(stored))
	}
}

// listEvents は条件に一致するイベントを返す共通処理。
func (s *Server) listEvents(c *gin.Context, q Query) {
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limitが不正です"})
			return
		}
		q.Limit = uint(limit)
	}

	events, err := s.store.List(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの取得に失敗しました"})
		log.Printf("[EventStore] イベント取得エラー: %v", err)
		return
	}
	c.JSON(http.StatusOK, toEventResponses(events))
}

// handleGetAllEvents は全イベントを作成順に返すハンドラを返す。
func (s *Server) handleGetAllEvents() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.listEvents(c, Query{})
	}
}

// handleGetEventsByAggregateID はAggregateIDによるイベント取得を処理するハンドラを返す。
func (s *Server) handleGetEventsByAggregateID() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.listEvents(c, Query{AggregateID: c.Param("aggregate_id")})
	}
}

// handleGetEventsByType はイベントタイプによるイベント取得を処理するハンドラを返す。
func (s *Server) handleGetEventsByType() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.listEvents(c, Query{EventType: c.Param("event_type")})
	}
}

// handleGetEventsSince は日時指定によるイベント取得を処理するハンドラを返す。
// sinceはRFC3339形式（小数秒可）で必須。event_typeで絞り込める。
func (s *Server) handleGetEventsSince() gin.HandlerFunc {
	return func(c *gin.Context) {
		sinceStr := c.Query("since")
		if sinceStr == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sinceパラメータが必要です"})
			return
		}
		since, err := time.Parse(time.RFC3339Nano, sinceStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sinceはRFC3339形式で指定してください"})
			return
		}
		s.listEvents(c, Query{EventType: c.Query("event_type"), Since: since})
	}
}

// handleGetLatestVersion はAggregateIDの最新バージョン取得を処理するハンドラを返す。
func (s *Server) handleGetLatestVersion() gin.HandlerFunc {
	return func(c *gin.Context) {
		aggregateID := c.Param("aggregate_id")
		version, err := s.store.LatestVersion(c.Request.Context(), aggregateID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "最新バージョンの取得に失敗しました"})
			log.Printf("[EventStore] 最新バージョン取得エラー: %v", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"aggregate_id": aggregateID, "latest_version": version})
	}
}
