package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
)

const tableNotifications = "notifications"

// ErrNotFound は対象の通知が存在しないことを表す。
var ErrNotFound = errors.New("通知が見つかりません")

// Notification は保存された通知を表す。
type Notification struct {
	ID      string `db:"id"`
	UserID  string `db:"user_id"`
	Title   string `db:"title"`
	Message string `db:"message"`
	// SourceEventID は通知の元になったイベントID。手動送信の場合は無効値。
	SourceEventID sql.NullString `db:"source_event_id"`
	IsRead        bool           `db:"is_read"`
	CreatedAt     time.Time      `db:"created_at"`
}

// Store はnotificationsテーブルへのアクセスを提供する。
type Store struct {
	db *goqu.Database
}

// NewStore はSQLite接続からStoreを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{db: goqu.New("sqlite3", db)}
}

// Create は通知を保存する。
// SourceEventIDが既存の通知と重複する場合は保存せず、createdはfalseになる。
func (s *Store) Create(ctx context.Context, n Notification) (created bool, err error) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.Insert(tableNotifications).
		Rows(n).
		OnConflict(goqu.DoNothing()).
		Prepared(true).
		Executor().
		ExecContext(ctx)
	if err != nil {
		return false, fmt.Errorf("通知の保存に失敗: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("保存件数の取得に失敗: %w", err)
	}
	return affected > 0, nil
}

// Get はIDで通知を取得する。
func (s *Store) Get(ctx context.Context, id string) (Notification, error) {
	var n Notification
	found, err := s.db.From(tableNotifications).
		Where(goqu.C("id").Eq(id)).
		Prepared(true).
		ScanStructContext(ctx, &n)
	if err != nil {
		return Notification{}, fmt.Errorf("通知の取得に失敗: %w", err)
	}
	if !found {
		return Notification{}, ErrNotFound
	}
	return n, nil
}

// ListByUser はユーザーの通知を新しい順に返す。unreadOnlyがtrueの場合は未読のみ。
func (s *Store) ListByUser(ctx context.Context, userID string, unreadOnly bool) ([]Notification, error) {
	ds := s.db.From(tableNotifications).
		Where(goqu.C("user_id").Eq(userID)).
		Order(goqu.C("created_at").Desc(), goqu.C("id").Asc())
	if unreadOnly {
		ds = ds.Where(goqu.C("is_read").Eq(0))
	}

	notifications := []Notification{}
	if err := ds.Prepared(true).ScanStructsContext(ctx, &notifications); err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}
	return notifications, nil
}

// MarkAsRead は通知を既読にする。
func (s *Store) MarkAsRead(ctx context.Context, id string) error {
	_, err := s.db.Update(tableNotifications).
		Set(goqu.Record{"is_read": 1}).
		Where(goqu.C("id").Eq(id)).
		Prepared(true).
		Executor().
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("通知の既読処理に失敗: %w", err)
	}
	return nil
}

// MarkAllAsRead はユーザーの全通知を既読にし、更新件数を返す。
func (s *Store) MarkAllAsRead(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.Update(tableNotifications).
		Set(goqu.Record{"is_read": 1}).
		Where(goqu.C("user_id").Eq(userID), goqu.C("is_read").Eq(0)).
		Prepared(true).
		Executor().
		ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("全通知の既読処理に失敗: %w", err)
	}
	return res.RowsAffected()
}
