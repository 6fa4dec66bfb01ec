package refresh

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Lemmeyg/redditresearch/internal/metrics"
	"github.com/Lemmeyg/redditresearch/internal/model"
)

// --- モック定義 ---

type mockIngester struct {
	fetchFn func(ctx context.Context, subreddit string, sort model.PostSort, limit int) ([]model.Post, error)

	mu    sync.Mutex
	calls []string
}

func (m *mockIngester) FetchAndStoreSubredditPosts(ctx context.Context, subreddit string, sort model.PostSort, limit int) ([]model.Post, error) {
	m.mu.Lock()
	m.calls = append(m.calls, subreddit)
	m.mu.Unlock()
	if m.fetchFn != nil {
		return m.fetchFn(ctx, subreddit, sort, limit)
	}
	return []model.Post{{ID: subreddit + "-1"}}, nil
}

type mockMetrics struct {
	metrics.Nop
	mu   sync.Mutex
	runs []bool
}

func (m *mockMetrics) RecordRefreshRun(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, success)
}

func fastConfig(subs ...string) Config {
	return Config{Subreddits: subs, APIInterval: time.Millisecond}
}

func TestNewRefresher_Defaults(t *testing.T) {
	r := NewRefresher(&mockIngester{}, Config{}, nil, nil)
	if r.config.Sort != model.PostSortHot || r.config.Limit != DefaultLimit ||
		r.config.MaxConcurrent != DefaultMaxConcurrent || r.config.APIInterval != DefaultAPIInterval {
		t.Errorf("config = %+v", r.config)
	}
}

func TestRefresher_RunOnce_FetchesEverySubreddit(t *testing.T) {
	ing := &mockIngester{
		fetchFn: func(ctx context.Context, subreddit string, sort model.PostSort, limit int) ([]model.Post, error) {
			if sort != model.PostSortNew || limit != 10 {
				t.Errorf("sort/limit = %s/%d, want new/10", sort, limit)
			}
			return []model.Post{{ID: "a"}, {ID: "b"}}, nil
		},
	}
	mc := &mockMetrics{}
	var buf bytes.Buffer
	cfg := fastConfig("golang", "rust", "python")
	cfg.Sort = model.PostSortNew
	cfg.Limit = 10
	r := NewRefresher(ing, cfg, slog.New(slog.NewJSONHandler(&buf, nil)), mc)

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(ing.calls) != 3 {
		t.Errorf("calls = %v, want 3", ing.calls)
	}
	if len(mc.runs) != 1 || !mc.runs[0] {
		t.Errorf("refresh runs = %v, want [true]", mc.runs)
	}
	if !strings.Contains(buf.String(), `"stored_posts":6`) {
		t.Errorf("completion log should report 6 stored posts: %s", buf.String())
	}
}

func TestRefresher_RunOnce_EmptyWatchList(t *testing.T) {
	ing := &mockIngester{}
	mc := &mockMetrics{}
	r := NewRefresher(ing, Config{}, nil, mc)

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(ing.calls) != 0 || len(mc.runs) != 0 {
		t.Errorf("nothing should run: calls=%v runs=%v", ing.calls, mc.runs)
	}
}

// TestRefresher_RunOnce_PartialFailure は1件の失敗が他のサブレディットの処理を止めないことを検証する。
func TestRefresher_RunOnce_PartialFailure(t *testing.T) {
	upstream := model.NewUpstreamError(503, "Service Unavailable")
	ing := &mockIngester{
		fetchFn: func(ctx context.Context, subreddit string, sort model.PostSort, limit int) ([]model.Post, error) {
			if subreddit == "rust" {
				return nil, upstream
			}
			return []model.Post{{ID: subreddit}}, nil
		},
	}
	mc := &mockMetrics{}
	r := NewRefresher(ing, fastConfig("golang", "rust", "python"), nil, mc)

	err := r.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, upstream) || !strings.Contains(err.Error(), "rust") {
		t.Errorf("err = %v, want wrapped upstream error naming rust", err)
	}
	if len(ing.calls) != 3 {
		t.Errorf("calls = %v, want all 3 subreddits attempted", ing.calls)
	}
	if len(mc.runs) != 1 || mc.runs[0] {
		t.Errorf("refresh runs = %v, want [false]", mc.runs)
	}
}

func TestRefresher_RunOnce_RespectsMaxConcurrent(t *testing.T) {
	var inFlight, peak atomic.Int32
	ing := &mockIngester{
		fetchFn: func(ctx context.Context, subreddit string, sort model.PostSort, limit int) ([]model.Post, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return nil, nil
		},
	}
	cfg := fastConfig("a", "b", "c", "d", "e", "f")
	cfg.MaxConcurrent = 2
	r := NewRefresher(ing, cfg, nil, nil)

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
}

func TestRefresher_RunOnce_PacesUpstreamCalls(t *testing.T) {
	cfg := Config{Subreddits: []string{"a", "b", "c"}, APIInterval: 30 * time.Millisecond, MaxConcurrent: 3}
	r := NewRefresher(&mockIngester{}, cfg, nil, nil)

	start := time.Now()
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	// 1件目は即時、残り2件はそれぞれ30ms間隔
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("elapsed = %v, want >= 60ms of pacing", elapsed)
	}
}

func TestRefresher_RunOnce_CancelledContext(t *testing.T) {
	ing := &mockIngester{}
	cfg := Config{Subreddits: []string{"a", "b"}, APIInterval: time.Hour}
	r := NewRefresher(ing, cfg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.RunOnce(ctx)
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if len(ing.calls) != 0 {
		t.Errorf("calls = %v, want none", ing.calls)
	}
}
