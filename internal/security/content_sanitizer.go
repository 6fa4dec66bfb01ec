// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService はReddit APIが返す selftext_html / body_html を
// 保存前にサニタイズする。Redditの本文HTMLはMarkdownから生成されたものだが、
// ユーザー入力由来であるため許可リストベースのポリシーで安全なタグのみを通す。
package security

import (
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

// httpsOnly はimgのsrcに許可するURLパターン。
var httpsOnly = regexp.MustCompile(`^https://`)

// ContentSanitizerService はHTMLコンテンツのサニタイズ機能のインターフェースを定義する。
type ContentSanitizerService interface {
	// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(rawHTML string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフに利用できる。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// ポリシーの内容:
//   - 許可タグ: Redditのマークダウンが出力するブロック要素・インライン要素・表
//   - 禁止タグ: script, iframe, style および全てのon*イベント属性
//   - aタグ: 相対URL（/r/golang 等のReddit内リンク）を許可し、rel="noopener noreferrer"を付与
//   - imgのsrc属性: httpsスキームのみ許可
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"div", "p", "br", "hr",
		"ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em", "del", "sup",
		"h1", "h2", "h3", "h4", "h5", "h6",
	)
	p.AllowTables()

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(true)
	p.AllowURLSchemes("http", "https")
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("src").Matching(httpsOnly).OnElements("img")
	p.AllowAttrs("alt").OnElements("img")

	return &contentSanitizer{
		policy: p,
	}
}

// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}
