package database

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect は接続先のSQL方言を表す。
type Dialect string

const (
	// Postgres は本番環境で使用するPostgreSQL。
	Postgres Dialect = "postgres"
	// SQLite はローカル開発とテストで使用するSQLite（modernc.org/sqlite、cgo不要）。
	SQLite Dialect = "sqlite"
)

// sqlitePragmas はSQLite接続時に適用するプラグマ。
const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

// ParseURL はDATABASE_URLから方言とドライバ用DSNを取り出す。
// postgres:// と postgresql:// はそのままlib/pqへ、sqlite://path はpath部分をmodernc sqliteへ渡す。
func ParseURL(databaseURL string) (Dialect, string, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return Postgres, databaseURL, nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		path := strings.TrimPrefix(databaseURL, "sqlite://")
		if path == "" {
			return "", "", fmt.Errorf("empty sqlite path in database URL")
		}
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return SQLite, path + sep + sqlitePragmas, nil
	default:
		return "", "", fmt.Errorf("unsupported database URL scheme: %q", databaseURL)
	}
}

// Open はDATABASE_URLのスキームに応じたデータベース接続を開く。
// sql.Openは接続を試行しないため、実際の接続確認にはdb.Ping()を使用すること。
// SQLiteは書き込みが直列化されるため接続数を1に制限する（:memory: の共有も兼ねる）。
func Open(databaseURL string) (*sql.DB, Dialect, error) {
	dialect, dsn, err := ParseURL(databaseURL)
	if err != nil {
		return nil, "", err
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == SQLite {
		db.SetMaxOpenConns(1)
	}

	return db, dialect, nil
}
