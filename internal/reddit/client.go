package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/Lemmeyg/redditresearch/internal/logger"
	"github.com/Lemmeyg/redditresearch/internal/model"
)

const (
	// DefaultBaseURL はReddit公開JSON APIのベースURL。
	DefaultBaseURL = "https://www.reddit.com"
	// MaxListingLimit はRedditの一覧APIが1回で返す最大件数。
	MaxListingLimit = 100
	// searchLimit はサブレディット検索の取得件数。
	searchLimit = 25
	// defaultSubreddit はサブレディット未指定時に使う全体フィード。
	defaultSubreddit = "all"
)

// JSONGetter はGETしたレスポンスをデコードするHTTPクライアント。
// apiclient.Client が実装する。
type JSONGetter interface {
	GetJSON(ctx context.Context, url string, out any) error
}

// listing はRedditの一覧レスポンス { kind, data: { children: [...] } }。
type listing struct {
	Kind string `json:"kind"`
	Data *struct {
		Children []thing `json:"children"`
	} `json:"data"`
}

// thing は一覧の各要素 { kind, data }。
type thing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// children はdata.childrenを返す。形状が契約と異なる場合はfalse。
func (l *listing) children() ([]thing, bool) {
	if l == nil || l.Data == nil || l.Data.Children == nil {
		return nil, false
	}
	return l.Data.Children, true
}

// Client はReddit公開APIのクライアント。
// HTTP呼び出しはJSONGetter（レート制限付き）に、変換はNormalizerに委譲する。
type Client struct {
	api        JSONGetter
	normalizer *Normalizer
	logger     *slog.Logger
	baseURL    string
}

// NewClient は新しいClientを生成する。
func NewClient(api JSONGetter, normalizer *Normalizer, log *slog.Logger, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if normalizer == nil {
		normalizer = NewNormalizer(nil)
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Client{
		api:        api,
		normalizer: normalizer,
		logger:     log,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// GetSubredditPosts はサブレディットの投稿一覧を取得する。
// skip件を読み飛ばすため limit+skip 件（最大100件）を要求し、先頭skip件を除いて返す。
// skipが100件以上の場合は結果が必ず空になるため、上流へ要求せずに空を返す。
// data.children が欠けたレスポンスは形状の契約違反としてリトライせずエラーにする。
func (c *Client) GetSubredditPosts(ctx context.Context, subreddit string, sort model.PostSort, limit, skip int) ([]model.Post, error) {
	if subreddit == "" {
		subreddit = defaultSubreddit
	}
	if !sort.Valid() {
		return nil, model.NewValidationError(fmt.Sprintf("sort must be one of hot, new, top, rising: %q", sort))
	}
	if limit < 1 || limit > MaxListingLimit || skip < 0 {
		return nil, model.NewValidationError("limit must be 1-100 and skip must be >= 0")
	}

	if skip >= MaxListingLimit {
		return []model.Post{}, nil
	}
	fetch := min(limit+skip, MaxListingLimit)

	endpoint := fmt.Sprintf("%s/r/%s/%s.json?limit=%d", c.baseURL, url.PathEscape(subreddit), sort, fetch)

	var resp listing
	if err := c.getShaped(ctx, endpoint, &resp); err != nil {
		c.logFailure("failed to fetch subreddit posts", err, slog.String("subreddit", subreddit))
		return nil, err
	}
	kids, ok := resp.children()
	if !ok {
		err := model.NewInvalidResponseError("missing data.children")
		c.logFailure("failed to fetch subreddit posts", err, slog.String("subreddit", subreddit))
		return nil, err
	}

	posts := make([]model.Post, 0, len(kids))
	for _, k := range kids {
		p, err := c.normalizer.NormalizePost(k.Data)
		if err != nil {
			apiErr := model.NewInvalidResponseError(err.Error())
			c.logFailure("failed to normalize post", apiErr, slog.String("subreddit", subreddit))
			return nil, apiErr
		}
		posts = append(posts, *p)
	}

	if skip >= len(posts) {
		return []model.Post{}, nil
	}
	posts = posts[skip:]
	if len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

// GetPost は投稿を1件取得する。
// レスポンス [0].data.children[0] が存在しない場合はPOST_NOT_FOUNDを返す。
func (c *Client) GetPost(ctx context.Context, postID string) (*model.Post, error) {
	endpoint := fmt.Sprintf("%s/comments/%s.json", c.baseURL, url.PathEscape(postID))

	pair, err := c.getPostPair(ctx, endpoint)
	if err != nil {
		c.logFailure("failed to fetch post", err, slog.String("post_id", postID))
		return nil, err
	}

	var kids []thing
	if len(pair) > 0 {
		kids, _ = pair[0].children()
	}
	if len(kids) == 0 {
		apiErr := model.NewPostNotFoundError(postID)
		c.logFailure("failed to fetch post", apiErr, slog.String("post_id", postID))
		return nil, apiErr
	}

	p, err := c.normalizer.NormalizePost(kids[0].Data)
	if err != nil {
		apiErr := model.NewInvalidResponseError(err.Error())
		c.logFailure("failed to normalize post", apiErr, slog.String("post_id", postID))
		return nil, apiErr
	}
	return p, nil
}

// GetPostComments は投稿のコメントを取得する。
// 子要素のうちコメント(t1)のみを正規化し、"more"等の他の種別は黙って除外する。
func (c *Client) GetPostComments(ctx context.Context, postID string, sort model.CommentSort, limit int) ([]model.Comment, error) {
	if !sort.Valid() {
		return nil, model.NewValidationError(fmt.Sprintf("comment sort must be one of confidence, top, new, controversial: %q", sort))
	}
	if limit < 1 {
		return nil, model.NewValidationError("comment limit must be >= 1")
	}

	q := url.Values{}
	q.Set("sort", string(sort))
	q.Set("limit", fmt.Sprint(limit))
	endpoint := fmt.Sprintf("%s/comments/%s.json?%s", c.baseURL, url.PathEscape(postID), q.Encode())

	pair, err := c.getPostPair(ctx, endpoint)
	if err != nil {
		c.logFailure("failed to fetch comments", err, slog.String("post_id", postID))
		return nil, err
	}

	var (
		kids []thing
		ok   bool
	)
	if len(pair) > 1 {
		kids, ok = pair[1].children()
	}
	if !ok {
		apiErr := model.NewCommentsNotFoundError(postID)
		c.logFailure("failed to fetch comments", apiErr, slog.String("post_id", postID))
		return nil, apiErr
	}

	comments := make([]model.Comment, 0, len(kids))
	for _, k := range kids {
		if k.Kind != kindComment {
			continue
		}
		cm, err := c.normalizer.NormalizeComment(k.Data)
		if err != nil {
			apiErr := model.NewInvalidResponseError(err.Error())
			c.logFailure("failed to normalize comment", apiErr, slog.String("post_id", postID))
			return nil, apiErr
		}
		comments = append(comments, *cm)
	}
	return comments, nil
}

// SearchSubreddits はサブレディットを検索する。クエリはパーセントエンコードして送信する。
func (c *Client) SearchSubreddits(ctx context.Context, query string) ([]model.Subreddit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, model.NewValidationError("query must not be empty")
	}

	endpoint := fmt.Sprintf("%s/subreddits/search.json?q=%s&limit=%d", c.baseURL, url.QueryEscape(query), searchLimit)

	var resp listing
	if err := c.getShaped(ctx, endpoint, &resp); err != nil {
		c.logFailure("failed to search subreddits", err, slog.String("query", query))
		return nil, err
	}
	kids, ok := resp.children()
	if !ok {
		err := model.NewInvalidResponseError("missing data.children")
		c.logFailure("failed to search subreddits", err, slog.String("query", query))
		return nil, err
	}

	subs := make([]model.Subreddit, 0, len(kids))
	for _, k := range kids {
		s, err := c.normalizer.NormalizeSubreddit(k.Data)
		if err != nil {
			apiErr := model.NewInvalidResponseError(err.Error())
			c.logFailure("failed to normalize subreddit", apiErr, slog.String("query", query))
			return nil, apiErr
		}
		subs = append(subs, *s)
	}
	return subs, nil
}

// getShaped はレスポンスを取得して構造体へデコードする。
// 構文的に正しいJSONだが形状が異なる場合はREDDIT_API_ERRORとして扱う。
func (c *Client) getShaped(ctx context.Context, endpoint string, out any) error {
	var raw json.RawMessage
	if err := c.api.GetJSON(ctx, endpoint, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return model.NewInvalidResponseError(err.Error())
	}
	return nil
}

// getPostPair は /comments/{id}.json の2要素配列（投稿, コメントツリー）を取得する。
// 配列でないレスポンスは空として扱い、呼び出し元で未検出エラーにする。
func (c *Client) getPostPair(ctx context.Context, endpoint string) ([]listing, error) {
	var raw json.RawMessage
	if err := c.api.GetJSON(ctx, endpoint, &raw); err != nil {
		return nil, err
	}
	var pair []listing
	if err := json.Unmarshal(raw, &pair); err != nil {
		return nil, nil
	}
	return pair, nil
}

func (c *Client) logFailure(msg string, err error, attrs ...any) {
	attrs = append(attrs, slog.String("error", err.Error()))
	c.logger.Error(msg, attrs...)
}
