package security

import (
	"strings"
	"testing"
)

// TestSanitize_RedditMarkdownTags はRedditのマークダウン出力に含まれるタグが通過することを検証する。
func TestSanitize_RedditMarkdownTags(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name         string
		input        string
		wantContains []string
	}{
		{
			name:         "md divとpタグが許可される",
			input:        `<div class="md"><p>本文</p></div>`,
			wantContains: []string{"<div>", "<p>本文</p>", "</div>"},
		},
		{
			name:         "取り消し線と上付きが許可される",
			input:        "<p><del>古い</del> <sup>注</sup></p>",
			wantContains: []string{"<del>古い</del>", "<sup>注</sup>"},
		},
		{
			name:         "見出しが許可される",
			input:        "<h2>見出し</h2>",
			wantContains: []string{"<h2>見出し</h2>"},
		},
		{
			name:         "表が許可される",
			input:        "<table><thead><tr><th>a</th></tr></thead><tbody><tr><td>1</td></tr></tbody></table>",
			wantContains: []string{"<table>", "<th>a</th>", "<td>1</td>"},
		},
		{
			name:         "コードブロックが許可される",
			input:        "<pre><code>func main() {}</code></pre>",
			wantContains: []string{"<pre>", "<code>", "func main() {}"},
		},
		{
			name:         "Reddit内の相対リンクが許可される",
			input:        `<a href="/r/golang">r/golang</a>`,
			wantContains: []string{`href="/r/golang"`, "r/golang</a>"},
		},
		{
			name:         "外部リンクにtarget=_blankが付与される",
			input:        `<a href="https://go.dev">Go</a>`,
			wantContains: []string{`href="https://go.dev"`, `target="_blank"`, "noopener"},
		},
		{
			name:         "imgタグがhttps srcで許可される",
			input:        `<img src="https://i.redd.it/x.png" alt="画像">`,
			wantContains: []string{"<img", "https://i.redd.it/x.png"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, want := range tt.wantContains {
				if !strings.Contains(got, want) {
					t.Errorf("Sanitize(%q) = %q, expected to contain %q", tt.input, got, want)
				}
			}
		})
	}
}

// TestSanitize_ForbiddenContent は危険なタグ・属性・スキームが除去されることを検証する。
func TestSanitize_ForbiddenContent(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name         string
		input        string
		wantAbsent   []string
		wantContains []string
	}{
		{
			name:         "scriptタグが除去される",
			input:        `<p>テスト</p><script>alert('xss')</script>`,
			wantAbsent:   []string{"<script", "alert"},
			wantContains: []string{"テスト"},
		},
		{
			name:         "iframeタグが除去される",
			input:        `<p>テスト</p><iframe src="https://evil.example"></iframe>`,
			wantAbsent:   []string{"<iframe", "evil.example"},
			wantContains: []string{"テスト"},
		},
		{
			name:         "on*イベント属性が除去される",
			input:        `<p onclick="steal()">クリック</p>`,
			wantAbsent:   []string{"onclick", "steal"},
			wantContains: []string{"クリック"},
		},
		{
			name:       "javascriptスキームのリンクが除去される",
			input:      `<a href="javascript:alert(1)">x</a>`,
			wantAbsent: []string{"javascript:"},
		},
		{
			name:       "http srcのimgは除去される",
			input:      `<img src="http://insecure.example/x.png">`,
			wantAbsent: []string{"http://insecure.example"},
		},
		{
			name:       "div のclass属性は除去される",
			input:      `<div class="md">x</div>`,
			wantAbsent: []string{"class="},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, absent := range tt.wantAbsent {
				if strings.Contains(got, absent) {
					t.Errorf("Sanitize(%q) = %q, should not contain %q", tt.input, got, absent)
				}
			}
			for _, want := range tt.wantContains {
				if !strings.Contains(got, want) {
					t.Errorf("Sanitize(%q) = %q, expected to contain %q", tt.input, got, want)
				}
			}
		})
	}
}

// TestSanitize_EmptyInput は空文字列に対して空文字列を返すことを検証する。
func TestSanitize_EmptyInput(t *testing.T) {
	sanitizer := NewContentSanitizer()
	if got := sanitizer.Sanitize(""); got != "" {
		t.Errorf("Sanitize(\"\") = %q, want empty", got)
	}
}

// TestSanitize_Idempotent は同一入力に対して同一出力を返すことを検証する。
func TestSanitize_Idempotent(t *testing.T) {
	sanitizer := NewContentSanitizer()
	input := `<div class="md"><p>a <a href="/u/someone">u</a></p><script>x</script></div>`

	first := sanitizer.Sanitize(input)
	second := sanitizer.Sanitize(input)
	if first != second {
		t.Errorf("Sanitize is not deterministic: %q != %q", first, second)
	}
}

func TestContentSanitizerInterface(t *testing.T) {
	var _ ContentSanitizerService = NewContentSanitizer()
}
