package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// maxDisplayNameLength は保存する表示名の最大文字数（rune単位）。
const maxDisplayNameLength = 255

// DisplayNameSanitizer はプロバイダーが返す表示名をアカウントメタデータへ保存する前に正規化する。
// bluemondayのStrictPolicyで全てのタグを除去し、プレーンテキストのみを残す。
type DisplayNameSanitizer struct {
	policy *bluemonday.Policy
}

// NewDisplayNameSanitizer はDisplayNameSanitizerを生成する。
func NewDisplayNameSanitizer() *DisplayNameSanitizer {
	return &DisplayNameSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize は表示名からマークアップを取り除き、空白を畳み込んで返す。
// StrictPolicyがエスケープした文字実体は元の文字に戻す。
// 結果が空の場合は空文字列を返す。
func (s *DisplayNameSanitizer) Sanitize(name string) string {
	if name == "" {
		return ""
	}

	text := html.UnescapeString(s.policy.Sanitize(name))
	text = strings.Join(strings.Fields(text), " ")

	if utf8.RuneCountInString(text) > maxDisplayNameLength {
		text = string([]rune(text)[:maxDisplayNameLength])
	}
	return text
}
