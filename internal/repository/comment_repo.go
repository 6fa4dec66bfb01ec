package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Lemmeyg/redditresearch/internal/database"
	"github.com/Lemmeyg/redditresearch/internal/model"
)

const upsertCommentSQL = `INSERT INTO reddit_comments (
	id, post_id, parent_comment_id, body, author, score, created_at_ms, depth, metadata, fetched_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	post_id = excluded.post_id,
	parent_comment_id = excluded.parent_comment_id,
	body = excluded.body,
	author = excluded.author,
	score = excluded.score,
	created_at_ms = excluded.created_at_ms,
	depth = excluded.depth,
	metadata = excluded.metadata,
	fetched_at_ms = excluded.fetched_at_ms`

// SQLCommentRepo はreddit_commentsテーブルを使用したコメントリポジトリ。
type SQLCommentRepo struct {
	sqlStore
}

// NewSQLCommentRepo はSQLCommentRepoを生成する。
func NewSQLCommentRepo(db *sql.DB, dialect database.Dialect) *SQLCommentRepo {
	return &SQLCommentRepo{sqlStore: newSQLStore(db, dialect)}
}

// UpsertComments はコメントをidで一括UPSERTする。
func (r *SQLCommentRepo) UpsertComments(ctx context.Context, comments []model.Comment) error {
	fetchedAt := r.now().UnixMilli()
	return r.upsertBatch(ctx, "comment", upsertCommentSQL, len(comments), func(i int) (string, []any, error) {
		c := &comments[i]
		meta, err := c.Metadata.Marshal()
		if err != nil {
			return c.ID, nil, err
		}
		var parent sql.NullString
		if c.ParentCommentID != nil {
			parent = sql.NullString{String: *c.ParentCommentID, Valid: true}
		}
		return c.ID, []any{
			c.ID, c.PostID, parent, c.Body, c.Author, c.Score,
			c.CreatedAt.UnixMilli(), c.Depth, meta, fetchedAt,
		}, nil
	})
}

// ListComments は指定投稿のコメントをscore降順で取得する。
// 同点の場合は古いコメントを先にする。
func (r *SQLCommentRepo) ListComments(ctx context.Context, postID string, limit, offset int) ([]model.Comment, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(
		`SELECT id, post_id, parent_comment_id, body, author, score, created_at_ms, depth, metadata
		 FROM reddit_comments
		 WHERE post_id = ?
		 ORDER BY score DESC, created_at_ms ASC, id ASC
		 LIMIT ? OFFSET ?`),
		postID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	comments := []model.Comment{}
	for rows.Next() {
		var c model.Comment
		var parent sql.NullString
		var createdAt int64
		var meta string
		if err := rows.Scan(
			&c.ID, &c.PostID, &parent, &c.Body, &c.Author, &c.Score, &createdAt, &c.Depth, &meta,
		); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		c.ParentCommentID = nullStringValue(parent)
		c.CreatedAt = fromMillis(createdAt)
		if c.Metadata, err = parseMetadata("comment", c.ID, meta); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate comments: %w", err)
	}

	return comments, nil
}

// DeleteFetchedBefore はcutoffより前に最後に取得されたコメントを削除する。
func (r *SQLCommentRepo) DeleteFetchedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.deleteFetchedBefore(ctx, "reddit_comments", cutoff)
}

// compile-time interface check
var _ CommentRepository = (*SQLCommentRepo)(nil)
