// Package analytics は保存済みデータの統計とダッシュボード表示を提供する。
package analytics

import (
	"context"
	"io"
	"log/slog"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"github.com/Lemmeyg/redditresearch/internal/logger"
	"github.com/Lemmeyg/redditresearch/internal/model"
	"github.com/Lemmeyg/redditresearch/internal/repository"
)

// TopSubredditLimit は統計に含める上位サブレディット数。
const TopSubredditLimit = 5

// Service は統計の集計とダッシュボード描画を行う。
type Service struct {
	repo   repository.StatsRepository
	logger *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.StatsRepository, log *slog.Logger) *Service {
	if log == nil {
		log = logger.Discard()
	}
	return &Service{repo: repo, logger: log}
}

// PostStats は保存済み投稿の統計を返す。subredditが空の場合は全件が対象。
// 平均スコアと平均コメント数は整数に、平均upvote率は小数第2位に丸める。
// 上位サブレディットは常に全件から集計する。
func (s *Service) PostStats(ctx context.Context, subreddit string) (*model.PostStats, error) {
	agg, err := s.repo.Aggregate(ctx, subreddit)
	if err != nil {
		s.logger.Error("Error aggregating post stats",
			slog.String("subreddit", subreddit),
			slog.String("error", err.Error()),
		)
		return nil, model.NewStorageError("aggregate post stats", err)
	}

	top, err := s.repo.TopSubreddits(ctx, TopSubredditLimit)
	if err != nil {
		s.logger.Error("Error listing top subreddits", slog.String("error", err.Error()))
		return nil, model.NewStorageError("list top subreddits", err)
	}

	return &model.PostStats{
		TotalPosts:         agg.TotalPosts,
		TotalComments:      agg.TotalComments,
		ActiveSubreddits:   agg.ActiveSubreddits,
		AverageScore:       int(math.Round(agg.AvgScore)),
		AverageComments:    int(math.Round(agg.AvgComments)),
		AverageUpvoteRatio: math.Round(agg.AvgUpvoteRatio*100) / 100,
		TopSubreddits:      top,
	}, nil
}

// RenderDashboard は統計をEChartsのHTMLページとして書き出す。
func (s *Service) RenderDashboard(ctx context.Context, w io.Writer) error {
	stats, err := s.PostStats(ctx, "")
	if err != nil {
		return err
	}

	page := components.NewPage()
	page.PageTitle = "Reddit Analytics"
	page.AddCharts(topSubredditsPie(stats), averagesBar(stats))
	return page.Render(w)
}

// topSubredditsPie は上位サブレディットの投稿数を円グラフにする。
func topSubredditsPie(stats *model.PostStats) *charts.Pie {
	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Top Subreddits",
			Subtitle: "stored posts per subreddit",
		}),
		charts.WithInitializationOpts(opts.Initialization{Theme: types.ThemeWesteros}),
	)

	items := make([]opts.PieData, 0, len(stats.TopSubreddits))
	for _, c := range stats.TopSubreddits {
		items = append(items, opts.PieData{Name: c.Subreddit, Value: c.Count})
	}
	pie.AddSeries("Posts", items)
	return pie
}

// averagesBar は件数と平均値を棒グラフにする。
func averagesBar(stats *model.PostStats) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(charts.WithTitleOpts(opts.Title{Title: "Post Statistics"}))

	bar.SetXAxis([]string{"Total Posts", "Total Comments", "Active Subreddits", "Average Score", "Average Comments"}).
		AddSeries("Value", []opts.BarData{
			{Value: stats.TotalPosts},
			{Value: stats.TotalComments},
			{Value: stats.ActiveSubreddits},
			{Value: stats.AverageScore},
			{Value: stats.AverageComments},
		})
	return bar
}
