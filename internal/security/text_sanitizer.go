// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はディレクトリエントリの自由記述欄からHTMLを除去し、
// 表示・CSV出力に安全なプレーンテキストへ正規化する。
package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService はプレーンテキスト化のインターフェースを定義する。
// エントリの保存前に使用される。
type TextSanitizerService interface {
	// Sanitize は全てのタグを除去し、前後の空白を取り除いたテキストを返す。
	// script, styleなどの要素は内容ごと除去される。
	Sanitize(raw string) string

	// SanitizeURL は写真URLを検証する。
	// http/httpsの絶対URLのみ許可し、それ以外は空文字列を返す。
	SanitizeURL(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize は全てのタグを除去したプレーンテキストを返す。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	// StrictPolicyはテキストをエスケープして返すため元に戻す
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}

// SanitizeURL はhttp/httpsの絶対URLのみを返す。
func (s *textSanitizer) SanitizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return ""
	}
	return u.String()
}

// compile-time interface check
var _ TextSanitizerService = (*textSanitizer)(nil)
