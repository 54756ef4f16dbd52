// Package mediabundle converts rich, MIME-typed output data into the
// plain-text and markdown fallbacks the output protocol (spec root §4.2)
// and AI context assembler (§4.4) need when only a richer representation
// was supplied.
package mediabundle

import (
	"encoding/json"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// StripHTML extracts plain text from html, dropping script/style/embed
// elements that never contribute readable content. Grounded on
// tool/webfetch.go's extractTextFromHTML.
func StripHTML(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, noscript, iframe, object, embed").Remove()

	return strings.TrimSpace(doc.Text()), nil
}

// HTMLToMarkdown converts html to markdown. Grounded on
// tool/webfetch.go's convertHTMLToMarkdown.
func HTMLToMarkdown(html string) (string, error) {
	converter := md.NewConverter("", true, &md.Options{
		HeadingStyle:     "atx",
		HorizontalRule:   "---",
		BulletListMarker: "-",
		CodeBlockStyle:   "fenced",
		EmDelimiter:      "*",
	})
	converter.Remove("script", "style", "meta", "link")

	return converter.ConvertString(html)
}

// PrettyJSON renders v as indented JSON, used to synthesize the
// text/plain fallback representation when the caller supplied only a
// structured JSON representation.
func PrettyJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
