package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/google/uuid"

	"github.com/nao1215/onboarding/pkg/middleware"
)

const tableUsers = "users"

// ErrUserNotFound はユーザーが存在しないことを表す。
var ErrUserNotFound = errors.New("ユーザーが見つかりません")

// User はトークンを発行したユーザー。
type User struct {
	ID          string    `db:"id"`
	Email       string    `db:"email"`
	Role        string    `db:"role"`
	CreatedAt   time.Time `db:"created_at"`
	LastLoginAt time.Time `db:"last_login_at"`
}

// UserStore はusersテーブルへのアクセスを提供する。
type UserStore struct {
	db *goqu.Database
}

// NewUserStore はSQLite接続からUserStoreを生成する。
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: goqu.New("sqlite3", db)}
}

// Login はメールアドレスに対応するユーザーを返す。存在しなければidで作成する。
// idが空の場合は採番する。既存ユーザーの場合は権限と最終ログイン日時を更新する。
func (s *UserStore) Login(ctx context.Context, id, email string, role middleware.Role) (User, error) {
	now := time.Now().UTC()

	td, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer td.Rollback() //nolint:errcheck

	var u User
	found, err := td.From(tableUsers).
		Where(goqu.C("email").Eq(email)).
		Prepared(true).
		ScanStructContext(ctx, &u)
	if err != nil {
		return User{}, fmt.Errorf("ユーザー取得に失敗: %w", err)
	}

	if found {
		_, err = td.Update(tableUsers).
			Set(goqu.Record{"role": string(role), "last_login_at": now}).
			Where(goqu.C("id").Eq(u.ID)).
			Prepared(true).
			Executor().
			ExecContext(ctx)
		if err != nil {
			return User{}, fmt.Errorf("ユーザー更新に失敗: %w", err)
		}
		u.Role = string(role)
		u.LastLoginAt = now
	} else {
		if id == "" {
			id = uuid.NewString()
		}
		u = User{
			ID:          id,
			Email:       email,
			Role:        string(role),
			CreatedAt:   now,
			LastLoginAt: now,
		}
		if _, err := td.Insert(tableUsers).Rows(u).Prepared(true).Executor().ExecContext(ctx); err != nil {
			return User{}, fmt.Errorf("ユーザー作成に失敗: %w", err)
		}
	}

	if err := td.Commit(); err != nil {
		return User{}, fmt.Errorf("コミットに失敗: %w", err)
	}
	return u, nil
}

// Get はIDでユーザーを取得する。
func (s *UserStore) Get(ctx context.Context, id string) (User, error) {
	var u User
	found, err := s.db.From(tableUsers).
		Where(goqu.C("id").Eq(id)).
		Prepared(true).
		ScanStructContext(ctx, &u)
	if err != nil {
		return User{}, fmt.Errorf("ユーザー取得に失敗: %w", err)
	}
	if !found {
		return User{}, ErrUserNotFound
	}
	return u, nil
}
