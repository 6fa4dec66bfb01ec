// Package reddit はReddit公開JSON APIのクライアントとレスポンスの正規化を提供する。
package reddit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/Lemmeyg/redditresearch/internal/model"
	"github.com/Lemmeyg/redditresearch/internal/security"
)

// kindComment はコメントの種別。t1_ はコメントIDのプレフィックスでもある。
const kindComment = "t1"

// rawPost はRedditの投稿(t3)ペイロード。
type rawPost struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Selftext      string  `json:"selftext"`
	SelftextHTML  *string `json:"selftext_html"`
	Author        string  `json:"author"`
	Subreddit     string  `json:"subreddit"`
	Score         int     `json:"score"`
	UpvoteRatio   float64 `json:"upvote_ratio"`
	CreatedUTC    float64 `json:"created_utc"`
	NumComments   int     `json:"num_comments"`
	URL           string  `json:"url"`
	IsSelf        bool    `json:"is_self"`
	IsVideo       bool    `json:"is_video"`
	Stickied      bool    `json:"stickied"`
	Permalink     string  `json:"permalink"`
	Domain        string  `json:"domain"`
	Over18        bool    `json:"over_18"`
	LinkFlairText *string `json:"link_flair_text"`
}

// rawComment はRedditのコメント(t1)ペイロード。
type rawComment struct {
	ID          string  `json:"id"`
	Body        string  `json:"body"`
	BodyHTML    *string `json:"body_html"`
	Author      string  `json:"author"`
	Score       int     `json:"score"`
	CreatedUTC  float64 `json:"created_utc"`
	LinkID      string  `json:"link_id"`
	ParentID    string  `json:"parent_id"`
	Depth       int     `json:"depth"`
	Permalink   string  `json:"permalink"`
	IsSubmitter bool    `json:"is_submitter"`
}

// rawSubreddit はRedditのサブレディット(t5)ペイロード。
type rawSubreddit struct {
	ID                string  `json:"id"`
	DisplayName       string  `json:"display_name"`
	Title             string  `json:"title"`
	Description       string  `json:"description"`
	Subscribers       int     `json:"subscribers"`
	CreatedUTC        float64 `json:"created_utc"`
	Over18            bool    `json:"over18"`
	PublicDescription string  `json:"public_description"`
	URL               string  `json:"url"`
	SubredditType     string  `json:"subreddit_type"`
}

// Normalizer はRedditのレスポンスを内部レコードへ変換する。
// 入出力を伴わず、構文的に正しいJSONに対しては失敗しない。
type Normalizer struct {
	sanitizer security.ContentSanitizerService
}

// NewNormalizer は新しいNormalizerを生成する。
// sanitizerがnilの場合、本文HTMLはメタデータに含めない。
func NewNormalizer(sanitizer security.ContentSanitizerService) *Normalizer {
	return &Normalizer{sanitizer: sanitizer}
}

// unwrapEnvelope は {kind, data} 形式のエンベロープから中身を取り出す。
// dataがJSONオブジェクトであればそれを、そうでなければ入力自体をペイロードとみなす。
func unwrapEnvelope(raw json.RawMessage) (json.RawMessage, error) {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if isJSONObject(env.Data) {
		return env.Data, nil
	}
	return raw, nil
}

func isJSONObject(b json.RawMessage) bool {
	b = bytes.TrimSpace(b)
	return len(b) > 0 && b[0] == '{'
}

// NormalizePost は投稿を正規化する。生のペイロードとエンベロープのどちらも受け付ける。
func (n *Normalizer) NormalizePost(raw json.RawMessage) (*model.Post, error) {
	payload, err := unwrapEnvelope(raw)
	if err != nil {
		return nil, err
	}
	var p rawPost
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode post: %w", err)
	}

	meta := model.Metadata{
		"permalink": p.Permalink,
		"domain":    p.Domain,
		"over_18":   p.Over18,
	}
	if p.LinkFlairText != nil {
		meta["link_flair_text"] = *p.LinkFlairText
	}
	if h := n.sanitize(p.SelftextHTML); h != "" {
		meta["html"] = h
	}

	return &model.Post{
		ID:           p.ID,
		Title:        p.Title,
		Body:         p.Selftext,
		Author:       p.Author,
		Subreddit:    p.Subreddit,
		Score:        p.Score,
		UpvoteRatio:  p.UpvoteRatio,
		CreatedAt:    fromEpochSeconds(p.CreatedUTC),
		CommentCount: p.NumComments,
		URL:          p.URL,
		IsSelf:       p.IsSelf,
		IsVideo:      p.IsVideo,
		IsStickied:   p.Stickied,
		Metadata:     meta,
	}, nil
}

// NormalizeComment はコメントを正規化する。
// link_id の t3_ を除去して投稿IDに、parent_id が t1_ の場合のみ親コメントIDにする。
func (n *Normalizer) NormalizeComment(raw json.RawMessage) (*model.Comment, error) {
	payload, err := unwrapEnvelope(raw)
	if err != nil {
		return nil, err
	}
	var c rawComment
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, fmt.Errorf("decode comment: %w", err)
	}

	meta := model.Metadata{
		"permalink":    c.Permalink,
		"is_submitter": c.IsSubmitter,
	}
	if h := n.sanitize(c.BodyHTML); h != "" {
		meta["html"] = h
	}

	return &model.Comment{
		ID:              c.ID,
		Body:            c.Body,
		Author:          c.Author,
		Score:           c.Score,
		CreatedAt:       fromEpochSeconds(c.CreatedUTC),
		PostID:          stripPrefix(c.LinkID),
		ParentCommentID: parentCommentID(c.ParentID),
		Depth:           c.Depth,
		Metadata:        meta,
	}, nil
}

// NormalizeSubreddit はサブレディットを正規化する。
func (n *Normalizer) NormalizeSubreddit(raw json.RawMessage) (*model.Subreddit, error) {
	payload, err := unwrapEnvelope(raw)
	if err != nil {
		return nil, err
	}
	var s rawSubreddit
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("decode subreddit: %w", err)
	}

	return &model.Subreddit{
		ID:                s.ID,
		Name:              s.DisplayName,
		Title:             s.Title,
		Description:       s.Description,
		SubscriberCount:   s.Subscribers,
		CreatedAt:         fromEpochSeconds(s.CreatedUTC),
		IsNSFW:            s.Over18,
		PublicDescription: s.PublicDescription,
		Metadata: model.Metadata{
			"url":            s.URL,
			"subreddit_type": s.SubredditType,
		},
	}, nil
}

// sanitize はエンティティエスケープされたRedditの本文HTMLを復元してサニタイズする。
func (n *Normalizer) sanitize(escaped *string) string {
	if n.sanitizer == nil || escaped == nil || *escaped == "" {
		return ""
	}
	return n.sanitizer.Sanitize(html.UnescapeString(*escaped))
}

// fromEpochSeconds はRedditのcreated_utc（秒）をミリ秒精度の時刻に変換する。
func fromEpochSeconds(sec float64) time.Time {
	return time.UnixMilli(int64(sec * 1000)).UTC()
}

// stripPrefix は "t3_abc" のような3文字の型プレフィックスを除去する。
func stripPrefix(fullname string) string {
	if len(fullname) > 3 && fullname[2] == '_' {
		return fullname[3:]
	}
	return fullname
}

// parentCommentID は親がコメント(t1_)の場合のみそのIDを返す。
// 親が投稿(t3_)や未指定の場合はトップレベルコメントとしてnilを返す。
func parentCommentID(parentID string) *string {
	if !strings.HasPrefix(parentID, kindComment+"_") {
		return nil
	}
	id := stripPrefix(parentID)
	return &id
}
