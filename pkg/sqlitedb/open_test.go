package sqlitedb

import (
	"context"
	"testing"
	"testing/fstest"
)

// TestOpen は接続時のマイグレーション適用と外部キー制約の有効化を検証する。
func TestOpen(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"m/000001_init.up.sql": {Data: []byte(`
			CREATE TABLE parents (id TEXT PRIMARY KEY);
			CREATE TABLE children (id TEXT PRIMARY KEY, parent_id TEXT NOT NULL REFERENCES parents(id));
		`)},
	}

	db, err := Open(context.Background(), Memory, fsys, "m")
	if err != nil {
		t.Fatalf("Open()でエラーが発生: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.Exec("INSERT INTO parents (id) VALUES ('p1')"); err != nil {
		t.Fatalf("親の挿入に失敗: %v", err)
	}
	if _, err := db.Exec("INSERT INTO children (id, parent_id) VALUES ('c1', 'p1')"); err != nil {
		t.Fatalf("子の挿入に失敗: %v", err)
	}
	if _, err := db.Exec("INSERT INTO children (id, parent_id) VALUES ('c2', 'missing')"); err == nil {
		t.Error("存在しない親を参照する挿入が成功した（foreign_keysが無効）")
	}
}
