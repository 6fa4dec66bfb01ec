// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Lemmeyg/redditresearch/internal/model"
)

// ErrCorruptMetadata は保存済みのmetadata列がJSONとして復元できない場合のエラー。
// 読み出し全体を失敗させる。
var ErrCorruptMetadata = errors.New("corrupt metadata")

// PostRepository は投稿データの永続化インターフェース。
type PostRepository interface {
	// UpsertPosts は投稿をidで一括UPSERTする。既存行はすべての列を上書きする。
	// 1件でも失敗した場合はバッチ全体をロールバックし、失敗した行のidを含むエラーを返す。
	UpsertPosts(ctx context.Context, posts []model.Post) error

	// ListPosts はcreated_at降順で投稿を取得する。subredditが空の場合は全件が対象。
	ListPosts(ctx context.Context, subreddit string, limit, offset int) ([]model.Post, error)

	// DeleteFetchedBefore はcutoffより前に最後に取得された投稿を削除し、削除件数を返す。
	DeleteFetchedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CommentRepository はコメントデータの永続化インターフェース。
type CommentRepository interface {
	// UpsertComments はコメントをidで一括UPSERTする。
	UpsertComments(ctx context.Context, comments []model.Comment) error

	// ListComments は指定投稿のコメントをscore降順で取得する。
	ListComments(ctx context.Context, postID string, limit, offset int) ([]model.Comment, error)

	// DeleteFetchedBefore はcutoffより前に最後に取得されたコメントを削除し、削除件数を返す。
	DeleteFetchedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SubredditRepository はサブレディットデータの永続化インターフェース。
type SubredditRepository interface {
	// UpsertSubreddits はサブレディットをidで一括UPSERTする。
	UpsertSubreddits(ctx context.Context, subreddits []model.Subreddit) error
}

// SessionRepository はセッションデータの参照インターフェース。
// セッションの発行は外部の認証基盤が行う。
type SessionRepository interface {
	// FindByID は指定IDのセッションをユーザーのメールアドレス付きで取得する。
	// 見つからない場合、または期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)

	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// SearchHistoryRepository はサブレディット検索履歴の永続化インターフェース。
type SearchHistoryRepository interface {
	// Create は検索履歴を作成する。IDが空の場合はUUIDを採番する。
	Create(ctx context.Context, h *model.SearchHistory) error

	// ListByUserID はユーザーの検索履歴を新しい順に取得する。
	ListByUserID(ctx context.Context, userID string, limit int) ([]model.SearchHistory, error)
}

// PostAggregate は保存済み投稿の集計値。丸めは呼び出し側で行う。
type PostAggregate struct {
	TotalPosts       int
	TotalComments    int
	ActiveSubreddits int
	AvgScore         float64
	AvgComments      float64
	AvgUpvoteRatio   float64
}

// StatsRepository は保存済みデータの集計インターフェース。
type StatsRepository interface {
	// Aggregate は投稿の集計値を返す。subredditが空の場合は全件が対象。
	Aggregate(ctx context.Context, subreddit string) (*PostAggregate, error)

	// TopSubreddits は保存済み投稿数の多い順にサブレディットを返す。
	TopSubreddits(ctx context.Context, limit int) ([]model.SubredditCount, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
