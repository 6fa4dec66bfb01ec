package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Lemmeyg/redditresearch/internal/database"
	"github.com/Lemmeyg/redditresearch/internal/model"
)

// SQLStatsRepo は保存済み投稿とコメントを集計するリポジトリ。
type SQLStatsRepo struct {
	sqlStore
}

// NewSQLStatsRepo はSQLStatsRepoを生成する。
func NewSQLStatsRepo(db *sql.DB, dialect database.Dialect) *SQLStatsRepo {
	return &SQLStatsRepo{sqlStore: newSQLStore(db, dialect)}
}

// Aggregate は投稿の件数と平均値、コメント数を集計する。
func (r *SQLStatsRepo) Aggregate(ctx context.Context, subreddit string) (*PostAggregate, error) {
	postsQuery := `SELECT COUNT(*), COUNT(DISTINCT subreddit),
		COALESCE(AVG(score), 0), COALESCE(AVG(comment_count), 0), COALESCE(AVG(upvote_ratio), 0)
		FROM reddit_posts`
	commentsQuery := `SELECT COUNT(*) FROM reddit_comments`
	var args []any
	if subreddit != "" {
		postsQuery += ` WHERE subreddit = ?`
		commentsQuery += ` WHERE post_id IN (SELECT id FROM reddit_posts WHERE subreddit = ?)`
		args = append(args, subreddit)
	}

	agg := &PostAggregate{}
	err := r.db.QueryRowContext(ctx, r.rebind(postsQuery), args...).Scan(
		&agg.TotalPosts, &agg.ActiveSubreddits, &agg.AvgScore, &agg.AvgComments, &agg.AvgUpvoteRatio,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate posts: %w", err)
	}

	if err := r.db.QueryRowContext(ctx, r.rebind(commentsQuery), args...).Scan(&agg.TotalComments); err != nil {
		return nil, fmt.Errorf("failed to count comments: %w", err)
	}

	return agg, nil
}

// TopSubreddits は保存済み投稿数の多い順にサブレディットを返す。同数の場合は名前順。
func (r *SQLStatsRepo) TopSubreddits(ctx context.Context, limit int) ([]model.SubredditCount, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(
		`SELECT subreddit, COUNT(*) AS n
		 FROM reddit_posts
		 GROUP BY subreddit
		 ORDER BY n DESC, subreddit ASC
		 LIMIT ?`),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list top subreddits: %w", err)
	}
	defer rows.Close()

	counts := []model.SubredditCount{}
	for rows.Next() {
		var c model.SubredditCount
		if err := rows.Scan(&c.Subreddit, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan subreddit count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subreddit counts: %w", err)
	}

	return counts, nil
}

// compile-time interface check
var _ StatsRepository = (*SQLStatsRepo)(nil)
