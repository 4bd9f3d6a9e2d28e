package onboarding

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	tableStudents  = "students"
	tableSessions  = "onboarding_sessions"
	tableAttendees = "onboarding_session_attendees"
)

var (
	// ErrNotFound は指定された行が存在しないことを表す。
	ErrNotFound = errors.New("not found")
	// ErrDuplicate は主キーが既に存在することを表す。
	ErrDuplicate = errors.New("duplicate")
	// ErrUnknownStudent は参加者に登録されていない学生が含まれることを表す。
	ErrUnknownStudent = errors.New("登録されていない学生です")
)

// Session はオンボーディングセッションの行。
type Session struct {
	ID   string `db:"id"`
	Date string `db:"date"`
}

// Attendee はセッションと学生の参加リンクの行。
type Attendee struct {
	ID        string `db:"id"`
	SessionID string `db:"session_id"`
	StudentID string `db:"student_id"`
}

// Student は学生の行。OnboardedAtは未オンボーディングの場合Validがfalseになる。
type Student struct {
	ID          string       `db:"id"`
	Email       string       `db:"email"`
	OnboardedAt sql.NullTime `db:"onboarded_at"`
}

// SessionDetail はセッションとその参加学生ID（記録順）。
type SessionDetail struct {
	Session
	StudentIDs []string
}

// Store はオンボーディング関連テーブルへのアクセスを提供する。
// SQLはgoquのsqlite3方言で組み立て、プレースホルダ付きで実行する。
type Store struct {
	db *goqu.Database
}

// NewStore はSQLite接続からStoreを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{db: goqu.New("sqlite3", db)}
}

// Tx はトランザクション内で使用する書き込み操作。
// 同一トランザクションに対して複数のgoroutineから呼び出してよい。
type Tx struct {
	td *goqu.TxDatabase
}

// WithTx はトランザクションを開始してfnを実行する。
// fnがnilを返した場合のみコミットし、エラーやパニックの場合はロールバックする。
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	td, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer td.Rollback() //nolint:errcheck

	if err := fn(&Tx{td: td}); err != nil {
		return err
	}
	if err := td.Commit(); err != nil {
		return fmt.Errorf("コミットに失敗: %w", err)
	}
	return nil
}

// InsertSession はセッション行を挿入する。
func (tx *Tx) InsertSession(ctx context.Context, session Session) error {
	_, err := tx.td.Insert(tableSessions).
		Rows(goqu.Record{"id": session.ID, "date": session.Date}).
		Prepared(true).
		Executor().
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("セッションの挿入に失敗: %w", err)
	}
	return nil
}

// MarkStudentOnboarded はonboarded_atが未設定の学生に限りatを設定する。
// 更新した場合はtrue、既に設定済みまたは該当なしの場合はfalseを返す。
func (tx *Tx) MarkStudentOnboarded(ctx context.Context, studentID string, at time.Time) (bool, error) {
	res, err := tx.td.Update(tableStudents).
		Set(goqu.Record{"onboarded_at": at}).
		Where(
			goqu.C("id").Eq(studentID),
			goqu.C("onboarded_at").IsNull(),
		).
		Prepared(true).
		Executor().
		ExecContext(ctx)
	if err != nil {
		return false, fmt.Errorf("学生 %s のonboarded_at更新に失敗: %w", studentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	return n > 0, nil
}

// InsertAttendee は参加者リンク行を挿入する。
func (tx *Tx) InsertAttendee(ctx context.Context, a Attendee) error {
	_, err := tx.td.Insert(tableAttendees).
		Rows(goqu.Record{"id": a.ID, "session_id": a.SessionID, "student_id": a.StudentID}).
		Prepared(true).
		Executor().
		ExecContext(ctx)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("%w: %s", ErrUnknownStudent, a.StudentID)
	}
	if err != nil {
		return fmt.Errorf("学生 %s の参加者リンク挿入に失敗: %w", a.StudentID, err)
	}
	return nil
}

// GetSession はセッションと参加学生IDを取得する。
func (s *Store) GetSession(ctx context.Context, id string) (*SessionDetail, error) {
	var session Session
	found, err := s.db.From(tableSessions).
		Select("id", "date").
		Where(goqu.C("id").Eq(id)).
		Prepared(true).
		ScanStructContext(ctx, &session)
	if err != nil {
		return nil, fmt.Errorf("セッションの取得に失敗: %w", err)
	}
	if !found {
		return nil, ErrNotFound
	}

	studentIDs := []string{}
	err = s.db.From(tableAttendees).
		Select("student_id").
		Where(goqu.C("session_id").Eq(id)).
		Order(goqu.I("rowid").Asc()).
		Prepared(true).
		ScanValsContext(ctx, &studentIDs)
	if err != nil {
		return nil, fmt.Errorf("参加者の取得に失敗: %w", err)
	}

	return &SessionDetail{Session: session, StudentIDs: studentIDs}, nil
}

// ListSessions はセッションを開催日の新しい順に取得する。
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	sessions := []Session{}
	err := s.db.From(tableSessions).
		Select("id", "date").
		Order(goqu.C("date").Desc(), goqu.C("created_at").Desc()).
		Prepared(true).
		ScanStructsContext(ctx, &sessions)
	if err != nil {
		return nil, fmt.Errorf("セッション一覧の取得に失敗: %w", err)
	}
	return sessions, nil
}

// CountAttendees はセッションの参加者リンク数を返す。
func (s *Store) CountAttendees(ctx context.Context, sessionID string) (int64, error) {
	n, err := s.db.From(tableAttendees).
		Where(goqu.C("session_id").Eq(sessionID)).
		Prepared(true).
		CountContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("参加者数の取得に失敗: %w", err)
	}
	return n, nil
}

// CreateStudent は学生を登録する。IDが既に存在する場合はErrDuplicateを返す。
func (s *Store) CreateStudent(ctx context.Context, id, email string) error {
	_, err := s.db.Insert(tableStudents).
		Rows(goqu.Record{"id": id, "email": email}).
		Prepared(true).
		Executor().
		ExecContext(ctx)
	if isPrimaryKeyViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("学生の登録に失敗: %w", err)
	}
	return nil
}

// GetStudent は学生を取得する。
func (s *Store) GetStudent(ctx context.Context, id string) (*Student, error) {
	var st Student
	found, err := s.db.From(tableStudents).
		Select("id", "email", "onboarded_at").
		Where(goqu.C("id").Eq(id)).
		Prepared(true).
		ScanStructContext(ctx, &st)
	if err != nil {
		return nil, fmt.Errorf("学生の取得に失敗: %w", err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return &st, nil
}

func isPrimaryKeyViolation(err error) bool {
	code, ok := sqliteCode(err)
	return ok && (code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE)
}

func isForeignKeyViolation(err error) bool {
	code, ok := sqliteCode(err)
	return ok && code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
}

// sqliteCode はSQLiteの拡張結果コードを取り出す。
func sqliteCode(err error) (int, bool) {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return 0, false
	}
	return sqliteErr.Code(), true
}
