package utils

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// richText allows the formatting subset rich-text editors emit for
// announcements and descriptions. Everything else is stripped.
var richText = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "strong", "em", "u", "ul", "ol", "li",
		"h1", "h2", "h3", "h4", "h5", "h6", "blockquote", "code", "pre")
	p.AllowAttrs("href", "title").OnElements("a")
	p.AllowStandardURLs()
	return p
}()

var (
	controlRe    = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
	lineBreakRe  = regexp.MustCompile(`[\r\n]+`)
	multiSpaceRe = regexp.MustCompile(`\s+`)
)

// TruncateRunes cuts a string to at most max runes. max <= 0 means no limit.
func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// SanitizeText strips control characters and surrounding whitespace from
// plain text input and enforces a rune limit
func SanitizeText(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	s = controlRe.ReplaceAllString(s, "")
	return TruncateRunes(s, maxLen)
}

// SanitizeTitle normalizes a single-line title: no control characters,
// no line breaks, collapsed whitespace, at most 255 runes
func SanitizeTitle(s string) string {
	s = SanitizeText(s, 255)
	s = lineBreakRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(s, " "))
}

// SanitizeHTML cleans user-authored rich text down to the allowed
// formatting tags. The input is truncated before cleaning so the output
// never ends in a half-open tag.
func SanitizeHTML(s string, maxLen int) string {
	s = strings.TrimSpace(TruncateRunes(s, maxLen))
	return richText.Sanitize(s)
}
