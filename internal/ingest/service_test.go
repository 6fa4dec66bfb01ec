package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Lemmeyg/redditresearch/internal/model"
	"github.com/Lemmeyg/redditresearch/internal/repository"
)

// --- モック ---

type mockFetcher struct {
	getSubredditPostsFn func(ctx context.Context, subreddit string, sort model.PostSort, limit, skip int) ([]model.Post, error)
	getPostFn           func(ctx context.Context, postID string) (*model.Post, error)
	getPostCommentsFn   func(ctx context.Context, postID string, sort model.CommentSort, limit int) ([]model.Comment, error)
	searchSubredditsFn  func(ctx context.Context, query string) ([]model.Subreddit, error)
}

func (m *mockFetcher) GetSubredditPosts(ctx context.Context, subreddit string, sort model.PostSort, limit, skip int) ([]model.Post, error) {
	return m.getSubredditPostsFn(ctx, subreddit, sort, limit, skip)
}
func (m *mockFetcher) GetPost(ctx context.Context, postID string) (*model.Post, error) {
	return m.getPostFn(ctx, postID)
}
func (m *mockFetcher) GetPostComments(ctx context.Context, postID string, sort model.CommentSort, limit int) ([]model.Comment, error) {
	return m.getPostCommentsFn(ctx, postID, sort, limit)
}
func (m *mockFetcher) SearchSubreddits(ctx context.Context, query string) ([]model.Subreddit, error) {
	return m.searchSubredditsFn(ctx, query)
}

type mockPostRepo struct {
	upsertPostsFn func(ctx context.Context, posts []model.Post) error
	listPostsFn   func(ctx context.Context, subreddit string, limit, offset int) ([]model.Post, error)
	upserted      atomic.Int32
}

func (m *mockPostRepo) UpsertPosts(ctx context.Context, posts []model.Post) error {
	m.upserted.Add(1)
	if m.upsertPostsFn != nil {
		return m.upsertPostsFn(ctx, posts)
	}
	return nil
}
func (m *mockPostRepo) ListPosts(ctx context.Context, subreddit string, limit, offset int) ([]model.Post, error) {
	return m.listPostsFn(ctx, subreddit, limit, offset)
}
func (m *mockPostRepo) DeleteFetchedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type mockCommentRepo struct {
	upsertCommentsFn func(ctx context.Context, comments []model.Comment) error
	listCommentsFn   func(ctx context.Context, postID string, limit, offset int) ([]model.Comment, error)
	upserted         atomic.Int32
}

func (m *mockCommentRepo) UpsertComments(ctx context.Context, comments []model.Comment) error {
	m.upserted.Add(1)
	if m.upsertCommentsFn != nil {
		return m.upsertCommentsFn(ctx, comments)
	}
	return nil
}
func (m *mockCommentRepo) ListComments(ctx context.Context, postID string, limit, offset int) ([]model.Comment, error) {
	return m.listCommentsFn(ctx, postID, limit, offset)
}
func (m *mockCommentRepo) DeleteFetchedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type mockSubredditRepo struct {
	upsertSubredditsFn func(ctx context.Context, subreddits []model.Subreddit) error
}

func (m *mockSubredditRepo) UpsertSubreddits(ctx context.Context, subreddits []model.Subreddit) error {
	if m.upsertSubredditsFn != nil {
		return m.upsertSubredditsFn(ctx, subreddits)
	}
	return nil
}

type mockMetrics struct {
	mu   sync.Mutex
	rows map[string]int
}

func (m *mockMetrics) RecordUpstreamRequest(string)        {}
func (m *mockMetrics) RecordUpstreamLatency(time.Duration) {}
func (m *mockMetrics) RecordRateLimited(string)            {}
func (m *mockMetrics) RecordHTTPStatus(int)                {}
func (m *mockMetrics) RecordRefreshRun(bool)               {}
func (m *mockMetrics) RecordRowsUpserted(table string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows == nil {
		m.rows = map[string]int{}
	}
	m.rows[table] += n
}

// --- ヘルパー ---

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func okFetcher() *mockFetcher {
	parent := "c1"
	return &mockFetcher{
		getSubredditPostsFn: func(ctx context.Context, subreddit string, sort model.PostSort, limit, skip int) ([]model.Post, error) {
			return []model.Post{{ID: "p1", Subreddit: subreddit}, {ID: "p2", Subreddit: subreddit}}, nil
		},
		getPostFn: func(ctx context.Context, postID string) (*model.Post, error) {
			return &model.Post{ID: postID, Title: "t"}, nil
		},
		getPostCommentsFn: func(ctx context.Context, postID string, sort model.CommentSort, limit int) ([]model.Comment, error) {
			return []model.Comment{
				{ID: "c1", PostID: postID},
				{ID: "c2", PostID: postID, ParentCommentID: &parent, Depth: 1},
			}, nil
		},
		searchSubredditsFn: func(ctx context.Context, query string) ([]model.Subreddit, error) {
			return []model.Subreddit{{ID: "2rc7j", Name: "golang"}}, nil
		},
	}
}

type fixture struct {
	svc        *Service
	fetcher    *mockFetcher
	posts      *mockPostRepo
	comments   *mockCommentRepo
	subreddits *mockSubredditRepo
	metrics    *mockMetrics
	logs       *bytes.Buffer
}

func newFixture() *fixture {
	f := &fixture{
		fetcher:    okFetcher(),
		posts:      &mockPostRepo{},
		comments:   &mockCommentRepo{},
		subreddits: &mockSubredditRepo{},
		metrics:    &mockMetrics{},
		logs:       &bytes.Buffer{},
	}
	f.svc = NewService(f.fetcher, f.posts, f.comments, f.subreddits, newTestLogger(f.logs), f.metrics)
	return f
}

// --- テスト ---

func TestFetchAndStoreSubredditPosts_Success(t *testing.T) {
	f := newFixture()
	var gotSkip = -1
	f.fetcher.getSubredditPostsFn = func(ctx context.Context, subreddit string, sort model.PostSort, limit, skip int) ([]model.Post, error) {
		gotSkip = skip
		if subreddit != "golang" || sort != model.PostSortTop || limit != 5 {
			t.Errorf("fetch args = %s/%s/%d", subreddit, sort, limit)
		}
		return []model.Post{{ID: "p1"}, {ID: "p2"}}, nil
	}
	var stored []model.Post
	f.posts.upsertPostsFn = func(ctx context.Context, posts []model.Post) error {
		stored = posts
		return nil
	}

	posts, err := f.svc.FetchAndStoreSubredditPosts(context.Background(), "golang", model.PostSortTop, 5)
	if err != nil {
		t.Fatalf("FetchAndStoreSubredditPosts: %v", err)
	}
	if len(posts) != 2 || len(stored) != 2 {
		t.Errorf("returned %d, stored %d, want 2/2", len(posts), len(stored))
	}
	if gotSkip != 0 {
		t.Errorf("skip = %d, want 0", gotSkip)
	}
	if f.metrics.rows[tablePosts] != 2 {
		t.Errorf("rows upserted = %d, want 2", f.metrics.rows[tablePosts])
	}
}

func TestFetchAndStoreSubredditPosts_FetchErrorSkipsStore(t *testing.T) {
	f := newFixture()
	rateErr := model.NewRateLimitExceededError()
	f.fetcher.getSubredditPostsFn = func(ctx context.Context, subreddit string, sort model.PostSort, limit, skip int) ([]model.Post, error) {
		return nil, rateErr
	}

	_, err := f.svc.FetchAndStoreSubredditPosts(context.Background(), "golang", model.PostSortHot, 10)
	if !errors.Is(err, rateErr) {
		t.Fatalf("err = %v, want the fetch error unchanged", err)
	}
	if f.posts.upserted.Load() != 0 {
		t.Error("nothing should be stored when the fetch fails")
	}
	if !strings.Contains(f.logs.String(), `"subreddit":"golang"`) {
		t.Errorf("error log should carry the subreddit: %s", f.logs.String())
	}
}

func TestFetchAndStoreSubredditPosts_StoreErrorReturnsNoPosts(t *testing.T) {
	f := newFixture()
	f.posts.upsertPostsFn = func(ctx context.Context, posts []model.Post) error {
		return fmt.Errorf("failed to upsert post p2: disk full")
	}

	posts, err := f.svc.FetchAndStoreSubredditPosts(context.Background(), "golang", model.PostSortHot, 10)
	if posts != nil {
		t.Errorf("posts = %v, want nil", posts)
	}
	apiErr, ok := model.AsAPIError(err)
	if !ok || apiErr.Code != model.ErrCodeStorage {
		t.Fatalf("err = %v, want STORAGE_ERROR", err)
	}
	if !strings.Contains(err.Error(), "p2") {
		t.Errorf("error should name the failing row: %v", err)
	}
}

func TestFetchAndStorePostWithComments_Success(t *testing.T) {
	f := newFixture()
	var gotSort model.CommentSort
	var gotLimit int
	f.fetcher.getPostCommentsFn = func(ctx context.Context, postID string, sort model.CommentSort, limit int) ([]model.Comment, error) {
		gotSort, gotLimit = sort, limit
		return []model.Comment{{ID: "c1", PostID: postID}}, nil
	}

	res, err := f.svc.FetchAndStorePostWithComments(context.Background(), "abc", model.CommentSortNew, 50)
	if err != nil {
		t.Fatalf("FetchAndStorePostWithComments: %v", err)
	}
	if res.Post == nil || res.Post.ID != "abc" {
		t.Errorf("post = %+v", res.Post)
	}
	if len(res.Comments) != 1 {
		t.Errorf("comments = %d, want 1", len(res.Comments))
	}
	if gotSort != model.CommentSortNew || gotLimit != 50 {
		t.Errorf("comment fetch args = %s/%d", gotSort, gotLimit)
	}
	if f.posts.upserted.Load() != 1 || f.comments.upserted.Load() != 1 {
		t.Errorf("upserts posts=%d comments=%d, want 1/1", f.posts.upserted.Load(), f.comments.upserted.Load())
	}
}

func TestFetchAndStorePostWithComments_FetchFailurePersistsNothing(t *testing.T) {
	tests := []struct {
		name  string
		setup func(m *mockFetcher)
		code  string
	}{
		{
			name: "post fetch fails",
			setup: func(m *mockFetcher) {
				m.getPostFn = func(ctx context.Context, postID string) (*model.Post, error) {
					return nil, model.NewPostNotFoundError(postID)
				}
			},
			code: model.ErrCodePostNotFound,
		},
		{
			name: "comment fetch fails",
			setup: func(m *mockFetcher) {
				m.getPostCommentsFn = func(ctx context.Context, postID string, sort model.CommentSort, limit int) ([]model.Comment, error) {
					return nil, model.NewCommentsNotFoundError(postID)
				}
			},
			code: model.ErrCodeCommentsNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setup(f.fetcher)

			res, err := f.svc.FetchAndStorePostWithComments(context.Background(), "abc", model.CommentSortConfidence, 100)
			if res != nil {
				t.Errorf("result = %+v, want nil", res)
			}
			apiErr, ok := model.AsAPIError(err)
			if !ok || apiErr.Code != tt.code {
				t.Fatalf("err = %v, want %s", err, tt.code)
			}
			if f.posts.upserted.Load() != 0 || f.comments.upserted.Load() != 0 {
				t.Error("nothing should be persisted when a fetch fails")
			}
			if !strings.Contains(f.logs.String(), `"post_id":"abc"`) {
				t.Errorf("error log should carry the post id: %s", f.logs.String())
			}
		})
	}
}

func TestFetchAndStorePostWithComments_CommentStoreFailure(t *testing.T) {
	f := newFixture()
	f.comments.upsertCommentsFn = func(ctx context.Context, comments []model.Comment) error {
		return errors.New("failed to upsert comment c2: constraint")
	}

	res, err := f.svc.FetchAndStorePostWithComments(context.Background(), "abc", model.CommentSortConfidence, 100)
	if res != nil {
		t.Errorf("result = %+v, want nil", res)
	}
	apiErr, ok := model.AsAPIError(err)
	if !ok || apiErr.Code != model.ErrCodeStorage {
		t.Fatalf("err = %v, want STORAGE_ERROR", err)
	}
	// 投稿側の保存は試行され、取り消されない
	if f.posts.upserted.Load() != 1 {
		t.Errorf("post upserts = %d, want 1", f.posts.upserted.Load())
	}
}

func TestSearchAndStoreSubreddits(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := newFixture()
		subs, err := f.svc.SearchAndStoreSubreddits(context.Background(), "go lang")
		if err != nil {
			t.Fatalf("SearchAndStoreSubreddits: %v", err)
		}
		if len(subs) != 1 || subs[0].Name != "golang" {
			t.Errorf("subs = %+v", subs)
		}
		if f.metrics.rows[tableSubreddits] != 1 {
			t.Errorf("rows upserted = %d, want 1", f.metrics.rows[tableSubreddits])
		}
	})

	t.Run("store failure", func(t *testing.T) {
		f := newFixture()
		f.subreddits.upsertSubredditsFn = func(ctx context.Context, subreddits []model.Subreddit) error {
			return errors.New("boom")
		}
		subs, err := f.svc.SearchAndStoreSubreddits(context.Background(), "go")
		if subs != nil || err == nil {
			t.Fatalf("subs=%v err=%v, want nil and error", subs, err)
		}
		if !strings.Contains(f.logs.String(), `"query":"go"`) {
			t.Errorf("error log should carry the query: %s", f.logs.String())
		}
	})
}

func TestGetStoredPosts(t *testing.T) {
	f := newFixture()
	f.posts.listPostsFn = func(ctx context.Context, subreddit string, limit, offset int) ([]model.Post, error) {
		if subreddit != "golang" || limit != 10 || offset != 20 {
			t.Errorf("args = %s/%d/%d", subreddit, limit, offset)
		}
		return []model.Post{{ID: "p1"}}, nil
	}

	posts, err := f.svc.GetStoredPosts(context.Background(), "golang", 10, 20)
	if err != nil {
		t.Fatalf("GetStoredPosts: %v", err)
	}
	if len(posts) != 1 {
		t.Errorf("posts = %d, want 1", len(posts))
	}
}

func TestGetStoredComments_CorruptMetadata(t *testing.T) {
	f := newFixture()
	f.comments.listCommentsFn = func(ctx context.Context, postID string, limit, offset int) ([]model.Comment, error) {
		return nil, fmt.Errorf("%w: comment c1: bad json", repository.ErrCorruptMetadata)
	}

	_, err := f.svc.GetStoredComments(context.Background(), "abc", 10, 0)
	if !errors.Is(err, repository.ErrCorruptMetadata) {
		t.Fatalf("err = %v, want ErrCorruptMetadata in chain", err)
	}
	apiErr, ok := model.AsAPIError(err)
	if !ok || apiErr.Status != 500 {
		t.Errorf("err = %v, want 500 storage error", err)
	}
}

func TestNewService_NilLoggerAndMetrics(t *testing.T) {
	svc := NewService(okFetcher(), &mockPostRepo{}, &mockCommentRepo{}, &mockSubredditRepo{}, nil, nil)
	if _, err := svc.FetchAndStoreSubredditPosts(context.Background(), "golang", model.PostSortHot, 1); err != nil {
		t.Fatalf("FetchAndStoreSubredditPosts: %v", err)
	}
}
