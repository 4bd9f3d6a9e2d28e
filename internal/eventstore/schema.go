package eventstore

import (
	"context"
	"database/sql"
	"embed"

	"github.com/nao1215/onboarding/pkg/sqlitedb"
)

//go:embed migrations/*.up.sql
var migrations embed.FS

// OpenDB はEvent Store用のSQLiteデータベースを開き、マイグレーションを適用する。
func OpenDB(ctx context.Context, path string) (*sql.DB, error) {
	return sqlitedb.Open(ctx, path, migrations, "migrations")
}
