package migration

import (
	"context"
	"database/sql"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// TestRun はマイグレーションの適用順序と冪等性を検証する。
func TestRun(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"migrations/000002_add_email.up.sql":      {Data: []byte("ALTER TABLE items ADD COLUMN email TEXT;")},
		"migrations/000001_create_items.up.sql":   {Data: []byte("CREATE TABLE items (id TEXT PRIMARY KEY);")},
		"migrations/000001_create_items.down.sql": {Data: []byte("DROP TABLE items;")},
		"migrations/README.md":                    {Data: []byte("ignored")},
		"migrations/bad_name.up.sql":              {Data: []byte("SELECT 1;")},
	}

	t.Run("バージョン順に適用され、2回目は何も適用されないこと", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		ctx := context.Background()

		done, err := Run(ctx, db, fsys, "migrations")
		if err != nil {
			t.Fatalf("Run()でエラーが発生: %v", err)
		}
		if len(done) != 2 || done[0] != 1 || done[1] != 2 {
			t.Fatalf("適用されたバージョン = %v, want [1 2]", done)
		}

		if _, err := db.Exec("INSERT INTO items (id, email) VALUES ('a', 'a@example.com')"); err != nil {
			t.Fatalf("マイグレーション後のテーブルへの挿入に失敗: %v", err)
		}

		done, err = Run(ctx, db, fsys, "migrations")
		if err != nil {
			t.Fatalf("2回目のRun()でエラーが発生: %v", err)
		}
		if len(done) != 0 {
			t.Errorf("2回目に適用されたバージョン = %v, want none", done)
		}
	})

	t.Run("SQLが失敗した場合はバージョンが記録されないこと", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		broken := fstest.MapFS{
			"m/000001_broken.up.sql": {Data: []byte("CREATE TABLE oops (;")},
		}

		if _, err := Run(context.Background(), db, broken, "m"); err == nil {
			t.Fatal("Run()がエラーを返すべきだが、nilが返った")
		}

		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
			t.Fatalf("schema_migrationsの参照に失敗: %v", err)
		}
		if count != 0 {
			t.Errorf("記録されたバージョン数 = %d, want 0", count)
		}
	})
}
