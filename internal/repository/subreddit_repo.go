package repository

import (
	"context"
	"database/sql"

	"github.com/Lemmeyg/redditresearch/internal/database"
	"github.com/Lemmeyg/redditresearch/internal/model"
)

const upsertSubredditSQL = `INSERT INTO subreddits (
	id, name, title, description, subscriber_count, created_at_ms, is_nsfw,
	public_description, metadata, fetched_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	name = excluded.name,
	title = excluded.title,
	description = excluded.description,
	subscriber_count = excluded.subscriber_count,
	created_at_ms = excluded.created_at_ms,
	is_nsfw = excluded.is_nsfw,
	public_description = excluded.public_description,
	metadata = excluded.metadata,
	fetched_at_ms = excluded.fetched_at_ms`

// SQLSubredditRepo はsubredditsテーブルを使用したサブレディットリポジトリ。
type SQLSubredditRepo struct {
	sqlStore
}

// NewSQLSubredditRepo はSQLSubredditRepoを生成する。
func NewSQLSubredditRepo(db *sql.DB, dialect database.Dialect) *SQLSubredditRepo {
	return &SQLSubredditRepo{sqlStore: newSQLStore(db, dialect)}
}

// UpsertSubreddits はサブレディットをidで一括UPSERTする。
func (r *SQLSubredditRepo) UpsertSubreddits(ctx context.Context, subreddits []model.Subreddit) error {
	fetchedAt := r.now().UnixMilli()
	return r.upsertBatch(ctx, "subreddit", upsertSubredditSQL, len(subreddits), func(i int) (string, []any, error) {
		s := &subreddits[i]
		meta, err := s.Metadata.Marshal()
		if err != nil {
			return s.ID, nil, err
		}
		return s.ID, []any{
			s.ID, s.Name, s.Title, s.Description, s.SubscriberCount, s.CreatedAt.UnixMilli(),
			s.IsNSFW, s.PublicDescription, meta, fetchedAt,
		}, nil
	})
}

// compile-time interface check
var _ SubredditRepository = (*SQLSubredditRepo)(nil)
