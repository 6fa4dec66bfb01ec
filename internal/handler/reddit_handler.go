package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Lemmeyg/redditresearch/internal/logger"
	"github.com/Lemmeyg/redditresearch/internal/middleware"
	"github.com/Lemmeyg/redditresearch/internal/model"
)

// リクエストパラメータのデフォルト値と上限
const (
	defaultListingLimit       = 10
	defaultSubredditPostLimit = 25
	defaultCommentLimit       = 100
	defaultStoredPostLimit    = 25
	maxLimit                  = 100
	searchHistoryLimit        = 20
	maxQueryLength            = 256
	maxPage                   = 10000
	maxSkip                   = 10000
)

// PostLister は上流から投稿一覧を取得するインターフェース。
// reddit.Clientが実装する。
type PostLister interface {
	GetSubredditPosts(ctx context.Context, subreddit string, sort model.PostSort, limit, skip int) ([]model.Post, error)
}

// IngestServiceInterface は取得・保存サービスのインターフェース。
type IngestServiceInterface interface {
	FetchAndStoreSubredditPosts(ctx context.Context, subreddit string, sort model.PostSort, limit int) ([]model.Post, error)
	FetchAndStorePostWithComments(ctx context.Context, postID string, sort model.CommentSort, limit int) (*model.PostWithComments, error)
	SearchAndStoreSubreddits(ctx context.Context, query string) ([]model.Subreddit, error)
	GetStoredPosts(ctx context.Context, subreddit string, limit, offset int) ([]model.Post, error)
	GetStoredComments(ctx context.Context, postID string, limit, offset int) ([]model.Comment, error)
}

// SearchHistoryStore は検索履歴の記録と参照に必要なインターフェース。
// repository.SearchHistoryRepositoryが実装する。
type SearchHistoryStore interface {
	Create(ctx context.Context, h *model.SearchHistory) error
	ListByUserID(ctx context.Context, userID string, limit int) ([]model.SearchHistory, error)
}

// RedditHandler はReddit関連APIのHTTPハンドラー。
type RedditHandler struct {
	lister  PostLister
	ingest  IngestServiceInterface
	history SearchHistoryStore
	logger  *slog.Logger
}

// NewRedditHandler はRedditHandlerを生成する。
func NewRedditHandler(lister PostLister, ingest IngestServiceInterface, history SearchHistoryStore, log *slog.Logger) *RedditHandler {
	if log == nil {
		log = logger.Discard()
	}
	return &RedditHandler{
		lister:  lister,
		ingest:  ingest,
		history: history,
		logger:  log,
	}
}

// listingMetadata はGET /api/reddit/postsのレスポンスに含める検証済みパラメータ。
type listingMetadata struct {
	Limit     int    `json:"limit"`
	Skip      int    `json:"skip"`
	Sort      string `json:"sort"`
	Subreddit string `json:"subreddit,omitempty"`
}

// fetchPostRequest はPOST /api/reddit/postsのリクエストボディ。
type fetchPostRequest struct {
	PostID       string `json:"postId"`
	CommentSort  string `json:"commentSort,omitempty"`
	CommentLimit *int   `json:"commentLimit,omitempty"`
}

// fetchSubredditPostsRequest はPOST /api/reddit/subreddits/{name}/postsのリクエストボディ。
type fetchSubredditPostsRequest struct {
	Sort  string `json:"sort,omitempty"`
	Limit *int   `json:"limit,omitempty"`
}

// searchRequest はPOST /api/reddit/subreddits/searchのリクエストボディ。
type searchRequest struct {
	Query string `json:"query"`
}

// ListPosts は上流から投稿一覧を取得する。保存は行わない。
// GET /api/reddit/posts?sort=hot&limit=10&skip=0&subreddit=golang
func (h *RedditHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// 1. パラメータ検証（上流呼び出しの前に行う）
	sort, err := parsePostSort(q.Get("sort"))
	if err != nil {
		middleware.WriteErrorResponse(w, model.NewValidationError(err.Error()))
		return
	}
	limit, err := intParam(q, "limit", defaultListingLimit, 1, maxLimit)
	if err != nil {
		middleware.WriteErrorResponse(w, model.NewValidationError(err.Error()))
		return
	}
	skip, err := intParam(q, "skip", 0, 0, maxSkip)
	if err != nil {
		middleware.WriteErrorResponse(w, model.NewValidationError(err.Error()))
		return
	}
	subreddit := strings.TrimSpace(q.Get("subreddit"))

	// 2. 上流から取得
	posts, err := h.lister.GetSubredditPosts(r.Context(), subreddit, sort, limit, skip)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, dataResponse{
		Data: toPostResponses(posts),
		Metadata: listingMetadata{
			Limit:     limit,
			Skip:      skip,
			Sort:      string(sort),
			Subreddit: subreddit,
		},
	})
}

// FetchPost は投稿とコメントを取得して保存する。
// POST /api/reddit/posts
func (h *RedditHandler) FetchPost(w http.ResponseWriter, r *http.Request) {
	var req fetchPostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, model.NewValidationError("request body must be valid JSON"))
		return
	}

	req.PostID = strings.TrimSpace(req.PostID)
	if req.PostID == "" {
		middleware.WriteErrorResponse(w, model.NewValidationError("postId is required"))
		return
	}

	sort := model.CommentSortConfidence
	if req.CommentSort != "" {
		sort = model.CommentSort(req.CommentSort)
		if !sort.Valid() {
			middleware.WriteErrorResponse(w, model.NewValidationError(fmt.Sprintf("unsupported commentSort %q", req.CommentSort)))
			return
		}
	}

	limit := defaultCommentLimit
	if req.CommentLimit != nil {
		limit = *req.CommentLimit
		if limit < 1 || limit > maxLimit {
			middleware.WriteErrorResponse(w, model.NewValidationError(fmt.Sprintf("commentLimit must be between 1 and %d", maxLimit)))
			return
		}
	}

	h.logger.Info("Reddit post fetch request",
		slog.String("user_id", userIDOf(r)),
		slog.String("post_id", req.PostID),
		slog.String("comment_sort", string(sort)),
		slog.Int("comment_limit", limit),
	)

	result, err := h.ingest.FetchAndStorePostWithComments(r.Context(), req.PostID, sort, limit)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, dataResponse{
		Data: postWithCommentsResponse{
			Post:     toPostResponse(*result.Post),
			Comments: toCommentResponses(result.Comments),
		},
	})
}

// FetchSubredditPosts はサブレディットの投稿を取得して保存する。
// POST /api/reddit/subreddits/{name}/posts
func (h *RedditHandler) FetchSubredditPosts(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if name == "" {
		middleware.WriteErrorResponse(w, model.NewValidationError("subreddit name is required"))
		return
	}

	// ボディは省略可能
	var req fetchSubredditPostsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteErrorResponse(w, model.NewValidationError("request body must be valid JSON"))
		return
	}

	sort, err := parsePostSort(req.Sort)
	if err != nil {
		middleware.WriteErrorResponse(w, model.NewValidationError(err.Error()))
		return
	}
	limit := defaultSubredditPostLimit
	if req.Limit != nil {
		limit = *req.Limit
		if limit < 1 || limit > maxLimit {
			middleware.WriteErrorResponse(w, model.NewValidationError(fmt.Sprintf("limit must be between 1 and %d", maxLimit)))
			return
		}
	}

	posts, err := h.ingest.FetchAndStoreSubredditPosts(r.Context(), name, sort, limit)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, dataResponse{Data: toPostResponses(posts)})
}

// SearchSubreddits はサブレディットを検索して保存し、検索履歴を記録する。
// POST /api/reddit/subreddits/search
func (h *RedditHandler) SearchSubreddits(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, model.NewValidationError("request body must be valid JSON"))
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		middleware.WriteErrorResponse(w, model.NewValidationError("query is required"))
		return
	}
	if len(query) > maxQueryLength {
		middleware.WriteErrorResponse(w, model.NewValidationError(fmt.Sprintf("query must be at most %d bytes", maxQueryLength)))
		return
	}

	subs, err := h.ingest.SearchAndStoreSubreddits(r.Context(), query)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	// 検索履歴の記録失敗は検索結果の返却を妨げない
	entry := &model.SearchHistory{
		UserID:      userIDOf(r),
		Query:       query,
		ResultCount: len(subs),
	}
	if err := h.history.Create(r.Context(), entry); err != nil {
		h.logger.Error("failed to record search history",
			slog.String("user_id", entry.UserID),
			slog.String("query", query),
			slog.String("error", err.Error()),
		)
	}

	writeJSON(w, http.StatusOK, dataResponse{Data: toSubredditResponses(subs)})
}

// SearchHistory は呼び出しユーザーの検索履歴を新しい順に返す。
// GET /api/reddit/search-history
func (h *RedditHandler) SearchHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, model.NewUnauthorizedError())
		return
	}

	entries, err := h.history.ListByUserID(r.Context(), userID, searchHistoryLimit)
	if err != nil {
		middleware.WriteError(w, h.logger, model.NewStorageError("read search history", err))
		return
	}

	writeJSON(w, http.StatusOK, dataResponse{Data: toSearchHistoryResponses(entries)})
}

// StoredPosts は保存済みの投稿を返す。
// GET /api/reddit/stored/posts?subreddit=golang&limit=25&page=0
func (h *RedditHandler) StoredPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, err := pageParams(q, defaultStoredPostLimit)
	if err != nil {
		middleware.WriteErrorResponse(w, model.NewValidationError(err.Error()))
		return
	}

	posts, err := h.ingest.GetStoredPosts(r.Context(), strings.TrimSpace(q.Get("subreddit")), limit, offset)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, dataResponse{Data: toPostResponses(posts)})
}

// StoredComments は保存済みのコメントをscore降順で返す。
// GET /api/reddit/stored/posts/{id}/comments?limit=100&page=0
func (h *RedditHandler) StoredComments(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "id")
	limit, offset, err := pageParams(r.URL.Query(), defaultCommentLimit)
	if err != nil {
		middleware.WriteErrorResponse(w, model.NewValidationError(err.Error()))
		return
	}

	comments, err := h.ingest.GetStoredComments(r.Context(), postID, limit, offset)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, dataResponse{Data: toCommentResponses(comments)})
}

// parsePostSort は並び順を検証する。空文字はhotとして扱う。
func parsePostSort(raw string) (model.PostSort, error) {
	if raw == "" {
		return model.PostSortHot, nil
	}
	sort := model.PostSort(raw)
	if !sort.Valid() {
		return "", fmt.Errorf("unsupported sort %q", raw)
	}
	return sort, nil
}

// intParam は整数のクエリパラメータを検証する。maxが負の場合は上限なし。
func intParam(q url.Values, name string, def, lo, hi int) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if n < lo || (hi >= 0 && n > hi) {
		if hi < 0 {
			return 0, fmt.Errorf("%s must be at least %d", name, lo)
		}
		return 0, fmt.Errorf("%s must be between %d and %d", name, lo, hi)
	}
	return n, nil
}

// pageParams はlimitとpageからoffsetを算出する。
func pageParams(q url.Values, defaultLimit int) (limit, offset int, err error) {
	limit, err = intParam(q, "limit", defaultLimit, 1, maxLimit)
	if err != nil {
		return 0, 0, err
	}
	page, err := intParam(q, "page", 0, 0, maxPage)
	if err != nil {
		return 0, 0, err
	}
	return limit, page * limit, nil
}

// userIDOf はセッションミドルウェアが注入したユーザーIDを返す。
func userIDOf(r *http.Request) string {
	userID, _ := middleware.UserIDFromContext(r.Context())
	return userID
}
