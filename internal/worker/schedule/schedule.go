// Package schedule はcron式でバックグラウンドジョブを定期実行するスケジューラを提供する。
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Lemmeyg/redditresearch/internal/logger"
)

// DefaultJobTimeout は1回のジョブ実行に許可する最大時間。
const DefaultJobTimeout = 30 * time.Minute

// Job は定期実行されるジョブ。
type Job func(ctx context.Context) error

// Scheduler はcron式でジョブを定期実行する。
// 同じジョブの実行が重なった場合、後続の実行はスキップされる。
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	timeout time.Duration

	mu   sync.Mutex
	jobs map[string]cron.EntryID
}

// New はUTCで動作するSchedulerを生成する。
func New(log *slog.Logger) *Scheduler {
	if log == nil {
		log = logger.Discard()
	}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		logger:  log,
		timeout: DefaultJobTimeout,
		jobs:    make(map[string]cron.EntryID),
	}
}

// AddJob はcron式（5フィールド、例: "*/15 * * * *"）でジョブを登録する。
// ジョブにはparentから派生したタイムアウト付きコンテキストが渡される。
func (s *Scheduler) AddJob(parent context.Context, name, spec string, job Job) error {
	entryID, err := s.cron.AddFunc(spec, func() {
		s.RunNow(parent, name, job)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.mu.Lock()
	s.jobs[name] = entryID
	s.mu.Unlock()

	s.logger.Info("ジョブを登録しました",
		slog.String("job", name),
		slog.String("schedule", spec),
	)
	return nil
}

// RunNow はジョブを即時に1回実行し、結果をログに記録する。
func (s *Scheduler) RunNow(parent context.Context, name string, job Job) error {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	start := time.Now()
	if err := job(ctx); err != nil {
		s.logger.Error("ジョブの実行に失敗しました",
			slog.String("job", name),
			slog.String("error", err.Error()),
		)
		return err
	}

	s.logger.Info("ジョブが完了しました",
		slog.String("job", name),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// NextRun は登録済みジョブの次回実行予定時刻を返す。未登録の場合はfalse。
// Start前はゼロ値を返す。
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Start はスケジューラをバックグラウンドで開始する。
func (s *Scheduler) Start() {
	s.logger.Info("スケジューラを開始しました")
	s.cron.Start()
}

// Stop は新規実行を止め、実行中のジョブの完了を待つ。
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("スケジューラを停止しました")
}
