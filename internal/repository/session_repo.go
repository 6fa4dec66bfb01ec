package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Lemmeyg/redditresearch/internal/database"
	"github.com/Lemmeyg/redditresearch/internal/model"
)

// SQLSessionRepo はsessionsテーブルを使用したセッションリポジトリ。
type SQLSessionRepo struct {
	sqlStore
}

// NewSQLSessionRepo はSQLSessionRepoを生成する。
func NewSQLSessionRepo(db *sql.DB, dialect database.Dialect) *SQLSessionRepo {
	return &SQLSessionRepo{sqlStore: newSQLStore(db, dialect)}
}

// FindByID は指定IDの有効なセッションをusersとJOINして取得する。
// 見つからない場合、または期限切れの場合はnilを返す。
func (r *SQLSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	session := &model.Session{}
	var expiresAt, createdAt int64
	err := r.db.QueryRowContext(ctx, r.rebind(
		`SELECT s.id, s.user_id, u.email, s.expires_at_ms, s.created_at_ms
		 FROM sessions s
		 JOIN users u ON u.id = s.user_id
		 WHERE s.id = ? AND s.expires_at_ms > ?`),
		id, r.now().UnixMilli(),
	).Scan(&session.ID, &session.UserID, &session.UserEmail, &expiresAt, &createdAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	session.ExpiresAt = fromMillis(expiresAt)
	session.CreatedAt = fromMillis(createdAt)
	return session, nil
}

// DeleteExpired は期限切れのセッションを削除する。
func (r *SQLSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		r.rebind(`DELETE FROM sessions WHERE expires_at_ms <= ?`),
		r.now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count expired sessions: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ SessionRepository = (*SQLSessionRepo)(nil)
