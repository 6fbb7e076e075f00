package image

import (
	"bytes"
	"mime"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// pageImageRank はページ内の画像候補の優先順位。小さいほど優先する。
var pageImageRank = map[string]int{
	"og:image:secure_url": 0,
	"og:image":            1,
	"og:image:url":        1,
	"twitter:image":       2,
	"twitter:image:src":   2,
	"image_src":           3,
}

// isHTML はContent-TypeがHTMLかどうかを判定する。
func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	mediaType = strings.ToLower(mediaType)
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// findPageImage はHTMLのheadから代表画像のURLを検出する。
// OGP・Twitterカードのmetaとlink rel="image_src"を対象とし、相対URLはbaseURLで解決する。
// 見つからない場合は空文字を返す。
func findPageImage(htmlBody []byte, baseURL string) string {
	baseU, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}

	best, bestRank := "", len(pageImageRank)
	consider := func(name, ref string) {
		rank, ok := pageImageRank[name]
		if !ok || ref == "" || rank >= bestRank {
			return
		}
		if resolved := resolveURL(baseU, ref); resolved != "" {
			best, bestRank = resolved, rank
		}
	}

	tokenizer := html.NewTokenizer(bytes.NewReader(htmlBody))
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return best
		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tagName := string(tn)

			if tagName == "body" {
				return best
			}
			if !hasAttr || (tagName != "meta" && tagName != "link") {
				continue
			}

			attrs := map[string]string{}
			for {
				key, val, more := tokenizer.TagAttr()
				attrs[strings.ToLower(string(key))] = strings.TrimSpace(string(val))
				if !more {
					break
				}
			}

			if tagName == "meta" {
				// OGPはproperty、Twitterカードはnameを使う
				name := attrs["property"]
				if name == "" {
					name = attrs["name"]
				}
				consider(strings.ToLower(name), attrs["content"])
				continue
			}
			consider(strings.ToLower(attrs["rel"]), attrs["href"])
		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "head" {
				return best
			}
		}
	}
}

// resolveURL は相対URLをベースURLを基準に絶対URLに解決する。
func resolveURL(base *url.URL, rawRef string) string {
	ref, err := url.Parse(rawRef)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
