// Package ingest は上流からの取得と永続化を組み合わせたサービス層を提供する。
package ingest

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Lemmeyg/redditresearch/internal/logger"
	"github.com/Lemmeyg/redditresearch/internal/metrics"
	"github.com/Lemmeyg/redditresearch/internal/model"
	"github.com/Lemmeyg/redditresearch/internal/repository"
)

// metricsテーブル名
const (
	tablePosts      = "reddit_posts"
	tableComments   = "reddit_comments"
	tableSubreddits = "subreddits"
)

// Fetcher は上流クライアントのインターフェース。
type Fetcher interface {
	GetSubredditPosts(ctx context.Context, subreddit string, sort model.PostSort, limit, skip int) ([]model.Post, error)
	GetPost(ctx context.Context, postID string) (*model.Post, error)
	GetPostComments(ctx context.Context, postID string, sort model.CommentSort, limit int) ([]model.Comment, error)
	SearchSubreddits(ctx context.Context, query string) ([]model.Subreddit, error)
}

// Service は取得結果をidでUPSERTして返すサービス層。
// 保存に成功した場合のみ結果を返し、失敗時に他方の保存を取り消すことはしない。
type Service struct {
	fetcher    Fetcher
	posts      repository.PostRepository
	comments   repository.CommentRepository
	subreddits repository.SubredditRepository
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	fetcher Fetcher,
	posts repository.PostRepository,
	comments repository.CommentRepository,
	subreddits repository.SubredditRepository,
	log *slog.Logger,
	mc metrics.MetricsCollector,
) *Service {
	if log == nil {
		log = logger.Discard()
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		fetcher:    fetcher,
		posts:      posts,
		comments:   comments,
		subreddits: subreddits,
		logger:     log,
		metrics:    mc,
	}
}

// FetchAndStoreSubredditPosts はサブレディットの投稿を取得して保存する。
func (s *Service) FetchAndStoreSubredditPosts(ctx context.Context, subreddit string, sort model.PostSort, limit int) ([]model.Post, error) {
	posts, err := s.fetcher.GetSubredditPosts(ctx, subreddit, sort, limit, 0)
	if err != nil {
		s.logger.Error("Error fetching and storing subreddit posts",
			slog.String("subreddit", subreddit),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if err := s.storePosts(ctx, posts); err != nil {
		s.logger.Error("Error fetching and storing subreddit posts",
			slog.String("subreddit", subreddit),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.logger.Info("stored subreddit posts",
		slog.String("subreddit", subreddit),
		slog.Int("count", len(posts)),
	)
	return posts, nil
}

// FetchAndStorePostWithComments は投稿とコメントを並行して取得し、並行して保存する。
// どちらかの取得に失敗した場合は何も保存しない。
// どちらかの保存に失敗した場合は結果を返さない（成功した側はそのまま残る）。
func (s *Service) FetchAndStorePostWithComments(ctx context.Context, postID string, sort model.CommentSort, limit int) (*model.PostWithComments, error) {
	// 1. 投稿とコメントを並行取得
	var (
		post     *model.Post
		comments []model.Comment
	)
	var fetch errgroup.Group
	fetch.Go(func() error {
		p, err := s.fetcher.GetPost(ctx, postID)
		post = p
		return err
	})
	fetch.Go(func() error {
		c, err := s.fetcher.GetPostComments(ctx, postID, sort, limit)
		comments = c
		return err
	})
	if err := fetch.Wait(); err != nil {
		s.logFetchStoreError(postID, err)
		return nil, err
	}

	// 2. 両方の取得に成功した場合のみ並行保存
	var store errgroup.Group
	store.Go(func() error {
		return s.storePosts(ctx, []model.Post{*post})
	})
	store.Go(func() error {
		return s.storeComments(ctx, comments)
	})
	if err := store.Wait(); err != nil {
		s.logFetchStoreError(postID, err)
		return nil, err
	}

	s.logger.Info("stored post with comments",
		slog.String("post_id", postID),
		slog.Int("comments", len(comments)),
	)
	return &model.PostWithComments{Post: post, Comments: comments}, nil
}

// SearchAndStoreSubreddits はサブレディットを検索して保存する。
func (s *Service) SearchAndStoreSubreddits(ctx context.Context, query string) ([]model.Subreddit, error) {
	subs, err := s.fetcher.SearchSubreddits(ctx, query)
	if err != nil {
		s.logger.Error("Error searching and storing subreddits",
			slog.String("query", query),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if err := s.subreddits.UpsertSubreddits(ctx, subs); err != nil {
		wrapped := model.NewStorageError("store subreddits", err)
		s.logger.Error("Error searching and storing subreddits",
			slog.String("query", query),
			slog.String("error", wrapped.Error()),
		)
		return nil, wrapped
	}
	s.metrics.RecordRowsUpserted(tableSubreddits, len(subs))

	return subs, nil
}

// GetStoredPosts は保存済みの投稿をcreated_at降順で返す。
func (s *Service) GetStoredPosts(ctx context.Context, subreddit string, limit, offset int) ([]model.Post, error) {
	posts, err := s.posts.ListPosts(ctx, subreddit, limit, offset)
	if err != nil {
		wrapped := readError("read stored posts", err)
		s.logger.Error("Error getting stored posts",
			slog.String("subreddit", subreddit),
			slog.String("error", wrapped.Error()),
		)
		return nil, wrapped
	}
	return posts, nil
}

// GetStoredComments は保存済みのコメントをscore降順で返す。
func (s *Service) GetStoredComments(ctx context.Context, postID string, limit, offset int) ([]model.Comment, error) {
	comments, err := s.comments.ListComments(ctx, postID, limit, offset)
	if err != nil {
		wrapped := readError("read stored comments", err)
		s.logger.Error("Error getting stored comments",
			slog.String("post_id", postID),
			slog.String("error", wrapped.Error()),
		)
		return nil, wrapped
	}
	return comments, nil
}

func (s *Service) storePosts(ctx context.Context, posts []model.Post) error {
	if err := s.posts.UpsertPosts(ctx, posts); err != nil {
		return model.NewStorageError("store posts", err)
	}
	s.metrics.RecordRowsUpserted(tablePosts, len(posts))
	return nil
}

func (s *Service) storeComments(ctx context.Context, comments []model.Comment) error {
	if err := s.comments.UpsertComments(ctx, comments); err != nil {
		return model.NewStorageError("store comments", err)
	}
	s.metrics.RecordRowsUpserted(tableComments, len(comments))
	return nil
}

func (s *Service) logFetchStoreError(postID string, err error) {
	s.logger.Error("Error fetching and storing post with comments",
		slog.String("post_id", postID),
		slog.String("error", err.Error()),
	)
}

// readError は読み出し失敗をStorageErrorに変換する。
// 破損したmetadataは原因として保持し、errors.Isで判別できるようにする。
func readError(op string, err error) *model.APIError {
	if errors.Is(err, repository.ErrCorruptMetadata) {
		return model.NewStorageError(op+" (corrupt metadata)", err)
	}
	return model.NewStorageError(op, err)
}
