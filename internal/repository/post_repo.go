package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Lemmeyg/redditresearch/internal/database"
	"github.com/Lemmeyg/redditresearch/internal/model"
)

const upsertPostSQL = `INSERT INTO reddit_posts (
	id, title, body, author, subreddit, score, upvote_ratio, created_at_ms,
	comment_count, url, is_self, is_video, is_stickied, metadata, fetched_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	title = excluded.title,
	body = excluded.body,
	author = excluded.author,
	subreddit = excluded.subreddit,
	score = excluded.score,
	upvote_ratio = excluded.upvote_ratio,
	created_at_ms = excluded.created_at_ms,
	comment_count = excluded.comment_count,
	url = excluded.url,
	is_self = excluded.is_self,
	is_video = excluded.is_video,
	is_stickied = excluded.is_stickied,
	metadata = excluded.metadata,
	fetched_at_ms = excluded.fetched_at_ms`

const selectPostColumns = `id, title, body, author, subreddit, score, upvote_ratio, created_at_ms,
	comment_count, url, is_self, is_video, is_stickied, metadata`

// SQLPostRepo はreddit_postsテーブルを使用した投稿リポジトリ。
type SQLPostRepo struct {
	sqlStore
}

// NewSQLPostRepo はSQLPostRepoを生成する。
func NewSQLPostRepo(db *sql.DB, dialect database.Dialect) *SQLPostRepo {
	return &SQLPostRepo{sqlStore: newSQLStore(db, dialect)}
}

// UpsertPosts は投稿をidで一括UPSERTする。
func (r *SQLPostRepo) UpsertPosts(ctx context.Context, posts []model.Post) error {
	fetchedAt := r.now().UnixMilli()
	return r.upsertBatch(ctx, "post", upsertPostSQL, len(posts), func(i int) (string, []any, error) {
		p := &posts[i]
		meta, err := p.Metadata.Marshal()
		if err != nil {
			return p.ID, nil, err
		}
		return p.ID, []any{
			p.ID, p.Title, p.Body, p.Author, p.Subreddit, p.Score, p.UpvoteRatio,
			p.CreatedAt.UnixMilli(), p.CommentCount, p.URL, p.IsSelf, p.IsVideo,
			p.IsStickied, meta, fetchedAt,
		}, nil
	})
}

// ListPosts はcreated_at降順で投稿を取得する。
func (r *SQLPostRepo) ListPosts(ctx context.Context, subreddit string, limit, offset int) ([]model.Post, error) {
	query := `SELECT ` + selectPostColumns + ` FROM reddit_posts`
	args := []any{}
	if subreddit != "" {
		query += ` WHERE subreddit = ?`
		args = append(args, subreddit)
	}
	query += ` ORDER BY created_at_ms DESC, id ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	posts := []model.Post{}
	for rows.Next() {
		var p model.Post
		var createdAt int64
		var meta string
		if err := rows.Scan(
			&p.ID, &p.Title, &p.Body, &p.Author, &p.Subreddit, &p.Score, &p.UpvoteRatio,
			&createdAt, &p.CommentCount, &p.URL, &p.IsSelf, &p.IsVideo, &p.IsStickied, &meta,
		); err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		p.CreatedAt = fromMillis(createdAt)
		if p.Metadata, err = parseMetadata("post", p.ID, meta); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate posts: %w", err)
	}

	return posts, nil
}

// DeleteFetchedBefore はcutoffより前に最後に取得された投稿を削除する。
func (r *SQLPostRepo) DeleteFetchedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.deleteFetchedBefore(ctx, "reddit_posts", cutoff)
}

// compile-time interface check
var _ PostRepository = (*SQLPostRepo)(nil)
