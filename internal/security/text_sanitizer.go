package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は利用者が入力したテキストからHTMLを取り除く。
// 出品のタイトル・説明やプロフィールは平文として保存する。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Line は1行のテキストを返す。タグを除去し、改行と連続する空白を1つの空白にまとめる。
func (s *TextSanitizer) Line(raw string) string {
	return strings.Join(strings.Fields(s.strip(raw)), " ")
}

// Text は複数行のテキストを返す。タグを除去し、行ごとの前後の空白を取り除く。
func (s *TextSanitizer) Text(raw string) string {
	lines := strings.Split(strings.ReplaceAll(s.strip(raw), "\r\n", "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func (s *TextSanitizer) strip(raw string) string {
	// StrictPolicyは実体参照に変換するため、平文に戻す
	return html.UnescapeString(s.policy.Sanitize(raw))
}

// HTTPURL はhttp/httpsの絶対URLであればそのまま返し、それ以外は空文字列を返す。
func HTTPURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || !allowedScheme(u.Scheme) {
		return ""
	}
	return u.String()
}
