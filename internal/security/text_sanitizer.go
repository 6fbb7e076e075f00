// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はレシピのタイトル・説明文からマークアップを除去するインターフェース。
type TextSanitizer interface {
	// Clean はすべてのタグを除去したプレーンテキストを返す。
	// エスケープはテンプレート描画時に行うため、返り値は未エスケープ。
	Clean(s string) string
}

// textSanitizer はbluemondayのStrictPolicyを使ったTextSanitizer実装。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Clean はタグを除去し、前後の空白を取り除く。
func (s *textSanitizer) Clean(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}
