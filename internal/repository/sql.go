package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Lemmeyg/redditresearch/internal/database"
	"github.com/Lemmeyg/redditresearch/internal/model"
)

// sqlStore は方言ごとの差異を吸収する共通部分。
// クエリは ? プレースホルダで記述し、PostgreSQLでは $n に置換する。
type sqlStore struct {
	db      *sql.DB
	dialect database.Dialect
	now     func() time.Time
}

func newSQLStore(db *sql.DB, dialect database.Dialect) sqlStore {
	return sqlStore{db: db, dialect: dialect, now: time.Now}
}

// rebind は ? プレースホルダを方言に合わせて置換する。
func (s sqlStore) rebind(query string) string {
	if s.dialect != database.Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// inTx はfnを1つのトランザクション内で実行する。fnがエラーを返した場合はロールバックする。
func (s sqlStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// upsertBatch はquery（1行分のINSERT ... ON CONFLICT）を各行に対して実行する。
// argsはi番目の行の引数とエラー表示用のidを返す。
func (s sqlStore) upsertBatch(ctx context.Context, kind, query string, n int, args func(i int) (string, []any, error)) error {
	if n == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.rebind(query))
		if err != nil {
			return fmt.Errorf("failed to prepare %s upsert: %w", kind, err)
		}
		defer stmt.Close()

		for i := 0; i < n; i++ {
			id, a, err := args(i)
			if err != nil {
				return fmt.Errorf("failed to upsert %s %s: %w", kind, id, err)
			}
			if _, err := stmt.ExecContext(ctx, a...); err != nil {
				return fmt.Errorf("failed to upsert %s %s: %w", kind, id, err)
			}
		}
		return nil
	})
}

// deleteFetchedBefore はtableからfetched_at_msがcutoffより前の行を削除する。
func (s sqlStore) deleteFetchedBefore(ctx context.Context, table string, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM `+table+` WHERE fetched_at_ms < ?`),
		cutoff.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale rows from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted rows from %s: %w", table, err)
	}
	return n, nil
}

// fromMillis はエポックミリ秒をUTCの時刻に変換する。
func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// parseMetadata は保存済みmetadataを復元する。失敗はErrCorruptMetadataとして扱う。
func parseMetadata(kind, id, raw string) (model.Metadata, error) {
	m, err := model.ParseMetadata(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrCorruptMetadata, kind, id, err)
	}
	return m, nil
}

// nullStringValue はsql.NullStringから*stringへ変換する。
func nullStringValue(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
