// Package sqlitedb は各サービスが使用するSQLite接続の生成を提供する。
//
// 接続時にforeign_keysとbusy_timeoutを有効にし、ファイルDBではWALを使用する。
// 接続は1本に制限する。
package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	_ "modernc.org/sqlite"

	"github.com/nao1215/onboarding/pkg/migration"
)

// Memory はインメモリDBを表すパス。
const Memory = ":memory:"

// Open はSQLiteデータベースを開き、fsysのdir配下にあるマイグレーションを適用する。
func Open(ctx context.Context, path string, fsys fs.FS, dir string) (*sql.DB, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != Memory {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	// インメモリDBは接続ごとに別のDBになるため、接続を1本に固定する
	db.SetMaxOpenConns(1)

	if _, err := migration.Run(ctx, db, fsys, dir); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return db, nil
}
