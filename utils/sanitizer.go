package utils

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

var (
	// StrictPolicy strips all markup; used for anything user-typed.
	StrictPolicy *bluemonday.Policy
	// EmailPolicy keeps the subset of HTML that mail bodies commonly
	// use while staying safe to render in the browser shell.
	EmailPolicy *bluemonday.Policy
)

func init() {
	StrictPolicy = bluemonday.StrictPolicy()

	EmailPolicy = bluemonday.UGCPolicy()
	EmailPolicy.AllowElements("p", "br", "div", "span", "h1", "h2", "h3", "h4", "h5", "h6")
	EmailPolicy.AllowElements("strong", "em", "u", "s", "code", "pre")
	EmailPolicy.AllowElements("ul", "ol", "li", "blockquote")
	EmailPolicy.AllowElements("table", "thead", "tbody", "tr", "th", "td")
	EmailPolicy.AllowAttrs("href").OnElements("a")
	EmailPolicy.AllowAttrs("src", "alt", "title", "width", "height").OnElements("img")
	EmailPolicy.AllowAttrs("style").OnElements("span", "div", "p")
	EmailPolicy.RequireParseableURLs(true)
	EmailPolicy.AllowURLSchemes("http", "https", "mailto", "cid")
}

// SanitizeHTML cleans an HTML mail body before it is cached or rendered.
func SanitizeHTML(raw string) string {
	return EmailPolicy.Sanitize(raw)
}

// HTMLToText extracts the visible text of an HTML fragment, dropping
// script and style contents entirely.
func HTMLToText(raw string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(raw))
	var builder strings.Builder
	skip := 0

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(builder.String()), " ")
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				skip++
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if tag := string(name); (tag == "script" || tag == "style") && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				builder.Write(tokenizer.Text())
				builder.WriteByte(' ')
			}
		}
	}
}

// Preview trims text to a short single-line summary, breaking at a word
// boundary where possible.
func Preview(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= max {
		return text
	}
	if idx := strings.LastIndex(text[:max], " "); idx > 0 {
		return text[:idx] + "..."
	}
	return text[:max] + "..."
}
