package onboarding

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/onboarding/pkg/httpclient"
	"github.com/nao1215/onboarding/pkg/middleware"
)

// Server はオンボーディングサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// db はSQLiteデータベース接続。
	db *sql.DB
	// store はオンボーディング関連テーブルへのアクセス。
	store *Store
	// recorder はセッション記録のユースケース。
	recorder *Recorder
}

// NewServer は新しいオンボーディングサーバーを生成する。
// SQLiteデータベースの初期化、Event Storeへのディスパッチャ、ルーティングの設定を行う。
func NewServer(port string) (*Server, error) {
	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "/data/onboarding.db"
	}

	sqlDB, err := OpenDB(context.Background(), dbPath)
	if err != nil {
		return nil, fmt.Errorf("データベース初期化に失敗: %w", err)
	}

	eventStoreURL := os.Getenv("EVENTSTORE_URL")
	if eventStoreURL == "" {
		eventStoreURL = "http://localhost:8084"
	}

	loc := time.UTC
	if tz := os.Getenv("ONBOARDING_TIMEZONE"); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("タイムゾーン %q の読み込みに失敗: %w", tz, err)
		}
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "dev-secret-key"
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS(allowedOrigins()))

	store := NewStore(sqlDB)
	dispatcher := NewEventStoreDispatcher(httpclient.New(eventStoreURL, httpclient.WithTimeout(10*time.Second)))

	s := &Server{
		router:   router,
		port:     port,
		db:       sqlDB,
		store:    store,
		recorder: NewRecorder(store, dispatcher, WithLocation(loc)),
	}
	s.setupRoutes(jwtSecret)

	return s, nil
}

// allowedOrigins はCORS_ALLOWED_ORIGINS（カンマ区切り）から許可オリジンを返す。
func allowedOrigins() []string {
	v := os.Getenv("CORS_ALLOWED_ORIGINS")
	if v == "" {
		return []string{"http://localhost:3000"}
	}
	var origins []string
	for _, o := range strings.Split(v, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
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
func (s *Server) setupRoutes(jwtSecret string) {
	// オンボーディングの記録は運営者のみが行う
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(jwtSecret), middleware.RequireRole(middleware.RoleAdmin))
	{
		sessions := api.Group("/onboarding-sessions")
		{
			// セッションの記録
			sessions.POST("", s.handleRecord())
			// セッション一覧取得
			sessions.GET("", s.handleListSessions())
			// セッション詳細取得（参加者含む）
			sessions.GET("/:id", s.handleGetSession())
		}

		students := api.Group("/students")
		{
			// 学生の登録（内部API - 学生管理サービスからの同期用）
			students.POST("", s.handleCreateStudent())
			// 学生のオンボーディング状態取得
			students.GET("/:id", s.handleGetStudent())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "onboarding"})
	})
}

// recordRequest はセッション記録リクエストのJSON構造。
type recordRequest struct {
	// Attendees は参加した学生IDのリスト。空のリストも受け付ける。
	Attendees []string `json:"attendees" binding:"required,dive,required"`
	// Date はセッションの開催日。
	Date string `json:"date" binding:"required"`
}

// handleRecord はオンボーディングセッションを記録するハンドラ。
func (s *Server) handleRecord() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req recordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		sessionID, err := s.recorder.Record(c.Request.Context(), RecordInput{
			Attendees: req.Attendees,
			Date:      req.Date,
		})
		switch {
		case errors.Is(err, ErrInvalidDate):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		case errors.Is(err, ErrUnknownStudent):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "オンボーディングセッションの記録に失敗しました"})
			log.Printf("[Onboarding] セッション記録エラー: %v", err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"id": sessionID})
	}
}

// sessionResponse はセッションのJSONレスポンス構造。
type sessionResponse struct {
	ID        string   `json:"id"`
	Date      string   `json:"date"`
	Attendees []string `json:"attendees,omitempty"`
}

// handleListSessions はセッション一覧を返すハンドラ。
func (s *Server) handleListSessions() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions, err := s.store.ListSessions(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "セッション一覧の取得に失敗しました"})
			log.Printf("[Onboarding] セッション一覧取得エラー: %v", err)
			return
		}

		resp := make([]sessionResponse, 0, len(sessions))
		for _, ss := range sessions {
			resp = append(resp, sessionResponse{ID: ss.ID, Date: ss.Date})
		}
		c.JSON(http.StatusOK, resp)
	}
}

// handleGetSession はセッション詳細を返すハンドラ。
func (s *Server) handleGetSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		detail, err := s.store.GetSession(c.Request.Context(), c.Param("id"))
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "セッションが見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "セッションの取得に失敗しました"})
			log.Printf("[Onboarding] セッション取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, sessionResponse{
			ID:        detail.ID,
			Date:      detail.Date,
			Attendees: detail.StudentIDs,
		})
	}
}

// createStudentRequest は学生登録リクエストのJSON構造。
type createStudentRequest struct {
	ID    string `json:"id" binding:"required"`
	Email string `json:"email"`
}

// studentResponse は学生のJSONレスポンス構造。
type studentResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	// OnboardedAt はRFC3339形式。未オンボーディングの場合はnull。
	OnboardedAt *string `json:"onboarded_at"`
}

// handleCreateStudent は学生を登録するハンドラ。
func (s *Server) handleCreateStudent() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createStudentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		err := s.store.CreateStudent(c.Request.Context(), req.ID, req.Email)
		if errors.Is(err, ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "学生は既に登録されています"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "学生の登録に失敗しました"})
			log.Printf("[Onboarding] 学生登録エラー: %v", err)
			return
		}

		c.JSON(http.StatusCreated, studentResponse{ID: req.ID, Email: req.Email})
	}
}

// handleGetStudent は学生のオンボーディング状態を返すハンドラ。
func (s *Server) handleGetStudent() gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := s.store.GetStudent(c.Request.Context(), c.Param("id"))
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "学生が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "学生の取得に失敗しました"})
			log.Printf("[Onboarding] 学生取得エラー: %v", err)
			return
		}

		resp := studentResponse{ID: st.ID, Email: st.Email}
		if st.OnboardedAt.Valid {
			v := st.OnboardedAt.Time.UTC().Format(time.RFC3339)
			resp.OnboardedAt = &v
		}
		c.JSON(http.StatusOK, resp)
	}
}
