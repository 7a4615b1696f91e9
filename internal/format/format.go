// Package format turns raw chat text into trusted markup and resolves emoji placeholders.
package format

import (
	"html"
	"html/template"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	// The input is already escaped: "&amp;" may sit inside a URL, any other entity ends it.
	urlPattern    = regexp.MustCompile(`https?://(?:[^\s&]|&amp;)+`)
	boldPattern   = regexp.MustCompile(`\*([^*\n]+)\*`)
	italicPattern = regexp.MustCompile(`_([^_\n]+)_`)
	strikePattern = regexp.MustCompile(`~([^~\n]+)~`)
	codePattern   = regexp.MustCompile("`([^`\n]+)`")
	emojiPattern  = regexp.MustCompile(`:([a-z0-9_+\-]+):`)

	emojiName = regexp.MustCompile(`^[a-z0-9_+\-]+$`)
)

type stage struct {
	pattern *regexp.Regexp
	repl    string
}

// stages run in this order; each one sees the output of the previous one.
var stages = []stage{
	{boldPattern, `<strong>$1</strong>`},
	{italicPattern, `<em>$1</em>`},
	{strikePattern, `<s>$1</s>`},
	{codePattern, `<code>$1</code>`},
}

// markupPolicy admits exactly the elements the pipeline produces.
var markupPolicy = newMarkupPolicy()

func newMarkupPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("strong", "em", "s", "code")
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https")
	p.RequireParseableURLs(true)
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^emoji$`)).OnElements("span")
	p.AllowAttrs("data-name").Matching(emojiName).OnElements("span")
	return p
}

// linkify wraps an escaped URL in an anchor, leaving trailing punctuation and "&amp;" outside it.
func linkify(u string) string {
	trail := ""
	for {
		switch {
		case strings.HasSuffix(u, "&amp;"):
			trail = "&amp;" + trail
			u = strings.TrimSuffix(u, "&amp;")
		case strings.ContainsAny(u[len(u)-1:], ".,;!?"):
			trail = u[len(u)-1:] + trail
			u = u[:len(u)-1]
		default:
			return `<a href="` + u + `">` + u + `</a>` + trail
		}
	}
}

// Format escapes raw and applies the markup pipeline: autolink, bold, italic, strike, code, emoji.
// The emoji stage is skipped when the text already holds a link so colons inside URLs survive.
// Code spans are not protected from the earlier stages.
func Format(raw string) template.HTML {
	s := html.EscapeString(raw)
	s = urlPattern.ReplaceAllStringFunc(s, linkify)
	for _, st := range stages {
		s = st.pattern.ReplaceAllString(s, st.repl)
	}
	if !strings.Contains(s, "<a ") {
		s = emojiPattern.ReplaceAllString(s, `<span class="emoji" data-name="$1">:$1:</span>`)
	}
	return template.HTML(markupPolicy.Sanitize(s))
}
