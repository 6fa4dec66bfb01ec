// Package cleanup は保存済みデータの自動削除ジョブを提供する。
// 保持期間（デフォルト90日）の間に再取得されなかった投稿とコメント、
// 期限切れのセッションを日次バッチで削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lemmeyg/redditresearch/internal/logger"
)

// DefaultRetentionDays は投稿とコメントのデフォルト保持日数。
const DefaultRetentionDays = 90

// FetchedPurger は最終取得日時が基準より古い行を削除するインターフェース。
// repository.PostRepositoryとrepository.CommentRepositoryが実装する。
type FetchedPurger interface {
	DeleteFetchedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionPurger は期限切れセッションを削除するインターフェース。
type SessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// CleanupJob は保持期間を超過したデータの自動削除ジョブ。
// 冪等であり、削除対象がない場合でもエラーにならない。
type CleanupJob struct {
	posts         FetchedPurger
	comments      FetchedPurger
	sessions      SessionPurger
	logger        *slog.Logger
	now           func() time.Time
	RetentionDays int // 保持日数（デフォルト: 90）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// retentionDaysが0以下の場合はデフォルト値を使用する。
func NewCleanupJob(posts, comments FetchedPurger, sessions SessionPurger, log *slog.Logger, retentionDays int) *CleanupJob {
	if log == nil {
		log = logger.Discard()
	}
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &CleanupJob{
		posts:         posts,
		comments:      comments,
		sessions:      sessions,
		logger:        log,
		now:           time.Now,
		RetentionDays: retentionDays,
	}
}

// Run は保持期間を超過した投稿・コメントと期限切れセッションを削除する。
// コメントは投稿と外部キーで結ばれていないため、それぞれ独立に削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.now().Add(-time.Duration(j.RetentionDays) * 24 * time.Hour)

	// 1. コメントの削除
	deletedComments, err := j.comments.DeleteFetchedBefore(ctx, cutoff)
	if err != nil {
		j.logFailure("reddit_comments", err)
		return fmt.Errorf("failed to purge comments: %w", err)
	}

	// 2. 投稿の削除
	deletedPosts, err := j.posts.DeleteFetchedBefore(ctx, cutoff)
	if err != nil {
		j.logFailure("reddit_posts", err)
		return fmt.Errorf("failed to purge posts: %w", err)
	}

	// 3. 期限切れセッションの削除
	deletedSessions, err := j.sessions.DeleteExpired(ctx)
	if err != nil {
		j.logFailure("sessions", err)
		return fmt.Errorf("failed to purge sessions: %w", err)
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_posts", deletedPosts),
		slog.Int64("deleted_comments", deletedComments),
		slog.Int64("deleted_sessions", deletedSessions),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

func (j *CleanupJob) logFailure(table string, err error) {
	j.logger.Error("クリーンアップジョブの実行に失敗しました",
		slog.String("table", table),
		slog.String("error", err.Error()),
		slog.Int("retention_days", j.RetentionDays),
	)
}
