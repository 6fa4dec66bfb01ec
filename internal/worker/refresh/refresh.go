// Package refresh は監視対象サブレディットの投稿を定期的に再取得して保存するワーカーを提供する。
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Lemmeyg/redditresearch/internal/logger"
	"github.com/Lemmeyg/redditresearch/internal/metrics"
	"github.com/Lemmeyg/redditresearch/internal/model"
)

// デフォルト値
const (
	DefaultLimit         = 25
	DefaultMaxConcurrent = 2
	DefaultAPIInterval   = 2 * time.Second
)

// SubredditIngester はサブレディットの投稿を取得して保存するインターフェース。
// ingest.Serviceが実装する。
type SubredditIngester interface {
	FetchAndStoreSubredditPosts(ctx context.Context, subreddit string, sort model.PostSort, limit int) ([]model.Post, error)
}

// Config はRefresherの設定を保持する。
type Config struct {
	Subreddits    []string
	Sort          model.PostSort
	Limit         int
	MaxConcurrent int
	// APIInterval は上流呼び出しの最小間隔。上流クライアントの固定ウィンドウを使い切らないよう歩調を合わせる。
	APIInterval time.Duration
}

// Refresher は監視対象サブレディットを1サイクルずつ再取得する。
// 1サイクル内では各サブレディットを1回ずつ、最大MaxConcurrent並列で処理する。
type Refresher struct {
	ingester SubredditIngester
	config   Config
	limiter  *rate.Limiter
	logger   *slog.Logger
	metrics  metrics.MetricsCollector
}

// NewRefresher はRefresherの新しいインスタンスを生成する。
func NewRefresher(ingester SubredditIngester, config Config, log *slog.Logger, mc metrics.MetricsCollector) *Refresher {
	if config.Sort == "" {
		config.Sort = model.PostSortHot
	}
	if config.Limit <= 0 {
		config.Limit = DefaultLimit
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultMaxConcurrent
	}
	if config.APIInterval <= 0 {
		config.APIInterval = DefaultAPIInterval
	}
	if log == nil {
		log = logger.Discard()
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Refresher{
		ingester: ingester,
		config:   config,
		limiter:  rate.NewLimiter(rate.Every(config.APIInterval), 1),
		logger:   log,
		metrics:  mc,
	}
}

// RunOnce は監視対象の全サブレディットを1回ずつ取得して保存する。
// 個々の失敗は他のサブレディットの処理を止めず、すべての失敗をまとめて返す。
func (r *Refresher) RunOnce(ctx context.Context) error {
	if len(r.config.Subreddits) == 0 {
		r.logger.Info("監視対象のサブレディットはありません")
		return nil
	}

	start := time.Now()
	r.logger.Info("リフレッシュサイクルを開始します",
		slog.Int("subreddit_count", len(r.config.Subreddits)),
	)

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, r.config.MaxConcurrent)
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		errs   []error
		stored int
	)

	for _, sub := range r.config.Subreddits {
		// 上流呼び出しの間隔を空ける
		if err := r.limiter.Wait(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("refresh cancelled before %s: %w", sub, err))
			mu.Unlock()
			break
		}

		wg.Add(1)
		sem <- struct{}{}

		go func(subreddit string) {
			defer wg.Done()
			defer func() { <-sem }()

			posts, err := r.ingester.FetchAndStoreSubredditPosts(ctx, subreddit, r.config.Sort, r.config.Limit)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.logger.Error("サブレディットのリフレッシュに失敗しました",
					slog.String("subreddit", subreddit),
					slog.String("error", err.Error()),
				)
				errs = append(errs, fmt.Errorf("refresh %s: %w", subreddit, err))
				return
			}
			stored += len(posts)
		}(sub)
	}

	wg.Wait()

	err := errors.Join(errs...)
	r.metrics.RecordRefreshRun(err == nil)

	r.logger.Info("リフレッシュサイクルが完了しました",
		slog.Int("subreddit_count", len(r.config.Subreddits)),
		slog.Int("stored_posts", stored),
		slog.Int("failed", len(errs)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return err
}
