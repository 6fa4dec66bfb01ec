package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/Lemmeyg/redditresearch/internal/database"
	"github.com/Lemmeyg/redditresearch/internal/model"
)

// SQLSearchHistoryRepo はuser_search_historyテーブルを使用した検索履歴リポジトリ。
type SQLSearchHistoryRepo struct {
	sqlStore
}

// NewSQLSearchHistoryRepo はSQLSearchHistoryRepoを生成する。
func NewSQLSearchHistoryRepo(db *sql.DB, dialect database.Dialect) *SQLSearchHistoryRepo {
	return &SQLSearchHistoryRepo{sqlStore: newSQLStore(db, dialect)}
}

// Create は検索履歴を作成する。IDとSearchedAtが未設定の場合は補完する。
func (r *SQLSearchHistoryRepo) Create(ctx context.Context, h *model.SearchHistory) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	if h.SearchedAt.IsZero() {
		h.SearchedAt = r.now().UTC()
	}

	_, err := r.db.ExecContext(ctx, r.rebind(
		`INSERT INTO user_search_history (id, user_id, query, result_count, searched_at_ms)
		 VALUES (?, ?, ?, ?, ?)`),
		h.ID, h.UserID, h.Query, h.ResultCount, h.SearchedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to create search history: %w", err)
	}
	return nil
}

// ListByUserID はユーザーの検索履歴を新しい順に取得する。
func (r *SQLSearchHistoryRepo) ListByUserID(ctx context.Context, userID string, limit int) ([]model.SearchHistory, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(
		`SELECT id, user_id, query, result_count, searched_at_ms
		 FROM user_search_history
		 WHERE user_id = ?
		 ORDER BY searched_at_ms DESC, id ASC
		 LIMIT ?`),
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list search history: %w", err)
	}
	defer rows.Close()

	history := []model.SearchHistory{}
	for rows.Next() {
		var h model.SearchHistory
		var searchedAt int64
		if err := rows.Scan(&h.ID, &h.UserID, &h.Query, &h.ResultCount, &searchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan search history: %w", err)
		}
		h.SearchedAt = fromMillis(searchedAt)
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate search history: %w", err)
	}

	return history, nil
}

// compile-time interface check
var _ SearchHistoryRepository = (*SQLSearchHistoryRepo)(nil)
