// Package model はドメインモデルを定義する。
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Post は正規化済みのReddit投稿を表す。
// IDは上流で採番されたもので、ローカルでは生成しない。
type Post struct {
	ID           string
	Title        string
	Body         string
	Author       string
	Subreddit    string
	Score        int
	UpvoteRatio  float64 // 0〜1
	CreatedAt    time.Time
	CommentCount int
	URL          string
	IsSelf       bool
	IsVideo      bool
	IsStickied   bool
	Metadata     Metadata
}

// Comment は正規化済みのコメントを表す。
// ParentCommentIDはトップレベルコメントの場合のみnil。
type Comment struct {
	ID              string
	Body            string
	Author          string
	Score           int
	CreatedAt       time.Time
	PostID          string
	ParentCommentID *string
	Depth           int
	Metadata        Metadata
}

// Subreddit は正規化済みのサブレディットを表す。
type Subreddit struct {
	ID                string
	Name              string
	Title             string
	Description       string
	SubscriberCount   int
	CreatedAt         time.Time
	IsNSFW            bool
	PublicDescription string
	Metadata          Metadata
}

// PostWithComments は投稿とそのコメントの組を表す。
type PostWithComments struct {
	Post     *Post
	Comments []Comment
}

// PostSort はサブレディット一覧の並び順を表す。
type PostSort string

const (
	PostSortHot    PostSort = "hot"
	PostSortNew    PostSort = "new"
	PostSortTop    PostSort = "top"
	PostSortRising PostSort = "rising"
)

// Valid は定義済みの並び順かどうかを返す。
func (s PostSort) Valid() bool {
	switch s {
	case PostSortHot, PostSortNew, PostSortTop, PostSortRising:
		return true
	}
	return false
}

// CommentSort はコメント一覧の並び順を表す。
type CommentSort string

const (
	CommentSortConfidence    CommentSort = "confidence"
	CommentSortTop           CommentSort = "top"
	CommentSortNew           CommentSort = "new"
	CommentSortControversial CommentSort = "controversial"
)

// Valid は定義済みの並び順かどうかを返す。
func (s CommentSort) Valid() bool {
	switch s {
	case CommentSortConfidence, CommentSortTop, CommentSortNew, CommentSortControversial:
		return true
	}
	return false
}

// Metadata はレコードに付随する任意のJSON互換データ。
// 保存時に文字列へシリアライズし、読み出し時に復元する。
type Metadata map[string]any

// Marshal はMetadataをJSON文字列へシリアライズする。
// nilの場合は空オブジェクトを返す。
func (m Metadata) Marshal() (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]any(m))
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(b), nil
}

// ParseMetadata はJSON文字列からMetadataを復元する。
// JSONオブジェクト以外は破損データとしてエラーを返す。
func ParseMetadata(s string) (Metadata, error) {
	m := Metadata{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("parse metadata: not a JSON object: %s", s)
	}
	return m, nil
}
