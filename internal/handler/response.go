package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Lemmeyg/redditresearch/internal/model"
)

// postResponse は投稿のAPIレスポンス。
type postResponse struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Body         string         `json:"body"`
	Author       string         `json:"author"`
	Subreddit    string         `json:"subreddit"`
	Score        int            `json:"score"`
	UpvoteRatio  float64        `json:"upvote_ratio"`
	CreatedAt    time.Time      `json:"created_at"`
	CommentCount int            `json:"comment_count"`
	URL          string         `json:"url"`
	IsSelf       bool           `json:"is_self"`
	IsVideo      bool           `json:"is_video"`
	IsStickied   bool           `json:"is_stickied"`
	Metadata     model.Metadata `json:"metadata"`
}

// commentResponse はコメントのAPIレスポンス。
// parent_comment_idはトップレベルコメントの場合null。
type commentResponse struct {
	ID              string         `json:"id"`
	Body            string         `json:"body"`
	Author          string         `json:"author"`
	Score           int            `json:"score"`
	CreatedAt       time.Time      `json:"created_at"`
	PostID          string         `json:"post_id"`
	ParentCommentID *string        `json:"parent_comment_id"`
	Depth           int            `json:"depth"`
	Metadata        model.Metadata `json:"metadata"`
}

// subredditResponse はサブレディットのAPIレスポンス。
type subredditResponse struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Title             string         `json:"title"`
	Description       string         `json:"description"`
	SubscriberCount   int            `json:"subscriber_count"`
	CreatedAt         time.Time      `json:"created_at"`
	IsNSFW            bool           `json:"is_nsfw"`
	PublicDescription string         `json:"public_description"`
	Metadata          model.Metadata `json:"metadata"`
}

// postWithCommentsResponse は投稿とコメントの組のAPIレスポンス。
type postWithCommentsResponse struct {
	Post     postResponse      `json:"post"`
	Comments []commentResponse `json:"comments"`
}

// searchHistoryResponse は検索履歴のAPIレスポンス。
type searchHistoryResponse struct {
	ID          string    `json:"id"`
	Query       string    `json:"query"`
	ResultCount int       `json:"result_count"`
	SearchedAt  time.Time `json:"searched_at"`
}

// dataResponse は一覧系レスポンスの共通エンベロープ。
type dataResponse struct {
	Data     any `json:"data"`
	Metadata any `json:"metadata,omitempty"`
}

func toPostResponse(p model.Post) postResponse {
	return postResponse{
		ID:           p.ID,
		Title:        p.Title,
		Body:         p.Body,
		Author:       p.Author,
		Subreddit:    p.Subreddit,
		Score:        p.Score,
		UpvoteRatio:  p.UpvoteRatio,
		CreatedAt:    p.CreatedAt.UTC(),
		CommentCount: p.CommentCount,
		URL:          p.URL,
		IsSelf:       p.IsSelf,
		IsVideo:      p.IsVideo,
		IsStickied:   p.IsStickied,
		Metadata:     nonNilMetadata(p.Metadata),
	}
}

func toPostResponses(posts []model.Post) []postResponse {
	out := make([]postResponse, 0, len(posts))
	for _, p := range posts {
		out = append(out, toPostResponse(p))
	}
	return out
}

func toCommentResponses(comments []model.Comment) []commentResponse {
	out := make([]commentResponse, 0, len(comments))
	for _, c := range comments {
		out = append(out, commentResponse{
			ID:              c.ID,
			Body:            c.Body,
			Author:          c.Author,
			Score:           c.Score,
			CreatedAt:       c.CreatedAt.UTC(),
			PostID:          c.PostID,
			ParentCommentID: c.ParentCommentID,
			Depth:           c.Depth,
			Metadata:        nonNilMetadata(c.Metadata),
		})
	}
	return out
}

func toSubredditResponses(subs []model.Subreddit) []subredditResponse {
	out := make([]subredditResponse, 0, len(subs))
	for _, s := range subs {
		out = append(out, subredditResponse{
			ID:                s.ID,
			Name:              s.Name,
			Title:             s.Title,
			Description:       s.Description,
			SubscriberCount:   s.SubscriberCount,
			CreatedAt:         s.CreatedAt.UTC(),
			IsNSFW:            s.IsNSFW,
			PublicDescription: s.PublicDescription,
			Metadata:          nonNilMetadata(s.Metadata),
		})
	}
	return out
}

func toSearchHistoryResponses(entries []model.SearchHistory) []searchHistoryResponse {
	out := make([]searchHistoryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, searchHistoryResponse{
			ID:          e.ID,
			Query:       e.Query,
			ResultCount: e.ResultCount,
			SearchedAt:  e.SearchedAt.UTC(),
		})
	}
	return out
}

func nonNilMetadata(m model.Metadata) model.Metadata {
	if m == nil {
		return model.Metadata{}
	}
	return m
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
