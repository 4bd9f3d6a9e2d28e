package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"

	"github.com/nao1215/onboarding/pkg/event"
)

const tableEvents = "events"

// eventRow はeventsテーブルの行。
type eventRow struct {
	ID            string `db:"id"`
	AggregateID   string `db:"aggregate_id"`
	AggregateType string `db:"aggregate_type"`
	EventType     string `db:"event_type"`
	Data          string `db:"data"`
	Version       int64  `db:"version"`
	CreatedAt     int64  `db:"created_at"`
}

func (r eventRow) toEvent() event.Event {
	return event.Event{
		ID:            r.ID,
		AggregateID:   r.AggregateID,
		AggregateType: event.AggregateType(r.AggregateType),
		EventType:     event.Type(r.EventType),
		Data:          []byte(r.Data),
		Version:       r.Version,
		CreatedAt:     time.Unix(0, r.CreatedAt).UTC(),
	}
}

// Store はeventsテーブルへのアクセスを提供する。
type Store struct {
	db  *goqu.Database
	now func() time.Time
}

// NewStore はSQLite接続からStoreを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:  goqu.New("sqlite3", db),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Append はイベントを追記し、採番後のイベントを返す。
// ev.IDのイベントが既に存在する場合は追記せずに既存のイベントを返し、createdはfalseになる。
func (s *Store) Append(ctx context.Context, ev event.Event) (stored event.Event, created bool, err error) {
	td, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return event.Event{}, false, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer td.Rollback() //nolint:errcheck

	var existing eventRow
	found, err := td.From(tableEvents).
		Where(goqu.C("id").Eq(ev.ID)).
		Prepared(true).
		ScanStructContext(ctx, &existing)
	if err != nil {
		return event.Event{}, false, fmt.Errorf("既存イベントの確認に失敗: %w", err)
	}
	if found {
		return existing.toEvent(), false, nil
	}

	var latest sql.NullInt64
	_, err = td.From(tableEvents).
		Select(goqu.MAX("version")).
		Where(goqu.C("aggregate_id").Eq(ev.AggregateID)).
		Prepared(true).
		ScanValContext(ctx, &latest)
	if err != nil {
		return event.Event{}, false, fmt.Errorf("最新バージョンの取得に失敗: %w", err)
	}

	row := eventRow{
		ID:            ev.ID,
		AggregateID:   ev.AggregateID,
		AggregateType: string(ev.AggregateType),
		EventType:     string(ev.EventType),
		Data:          string(ev.Data),
		Version:       latest.Int64 + 1,
		CreatedAt:     s.now().UnixNano(),
	}
	if _, err := td.Insert(tableEvents).Rows(row).Prepared(true).Executor().ExecContext(ctx); err != nil {
		return event.Event{}, false, fmt.Errorf("イベントの挿入に失敗: %w", err)
	}
	if err := td.Commit(); err != nil {
		return event.Event{}, false, fmt.Errorf("コミットに失敗: %w", err)
	}
	return row.toEvent(), true, nil
}

// Query はイベント取得の条件。ゼロ値の項目は条件に含めない。
type Query struct {
	AggregateID string
	EventType   string
	// Since 以降（この時刻を含む）に作成されたイベントに限定する。
	Since time.Time
	// Limit は取得件数の上限。0の場合は上限なし。
	Limit uint
}

// List は条件に一致するイベントを作成順に返す。
func (s *Store) List(ctx context.Context, q Query) ([]event.Event, error) {
	ds := s.db.From(tableEvents).Order(goqu.C("created_at").Asc(), goqu.C("version").Asc())
	if q.AggregateID != "" {
		ds = ds.Where(goqu.C("aggregate_id").Eq(q.AggregateID))
	}
	if q.EventType != "" {
		ds = ds.Where(goqu.C("event_type").Eq(q.EventType))
	}
	if !q.Since.IsZero() {
		ds = ds.Where(goqu.C("created_at").Gte(q.Since.UnixNano()))
	}
	if q.Limit > 0 {
		ds = ds.Limit(q.Limit)
	}

	var rows []eventRow
	if err := ds.Prepared(true).ScanStructsContext(ctx, &rows); err != nil {
		return nil, fmt.Errorf("イベントの取得に失敗: %w", err)
	}

	events := make([]event.Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.toEvent())
	}
	return events, nil
}

// LatestVersion はAggregateの最新バージョンを返す。イベントが無い場合は0。
func (s *Store) LatestVersion(ctx context.Context, aggregateID string) (int64, error) {
	var latest sql.NullInt64
	_, err := s.db.From(tableEvents).
		Select(goqu.MAX("version")).
		Where(goqu.C("aggregate_id").Eq(aggregateID)).
		Prepared(true).
		ScanValContext(ctx, &latest)
	if err != nil {
		return 0, fmt.Errorf("最新バージョンの取得に失敗: %w", err)
	}
	return latest.Int64, nil
}
