package notes

import (
	"regexp"
	"strings"
)

// Substitutions run in this order. Bold and italic are greedy within a
// line, so "*a* and *b*" becomes one <em> spanning both.
var renderRules = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?m)^# (.*)$`), "<h1>$1</h1>"},
	{regexp.MustCompile(`(?m)^## (.*)$`), "<h2>$1</h2>"},
	{regexp.MustCompile(`(?m)^### (.*)$`), "<h3>$1</h3>"},
	{regexp.MustCompile(`\*\*(.*)\*\*`), "<strong>$1</strong>"},
	{regexp.MustCompile(`\*(.*)\*`), "<em>$1</em>"},
}

// Render converts a note to preview HTML. It is a small approximation of
// markdown, not a parser: no lists, links or code blocks.
func Render(md string) string {
	out := md
	for _, rule := range renderRules {
		out = rule.re.ReplaceAllString(out, rule.repl)
	}
	out = strings.ReplaceAll(out, "\n\n", "</p><p>")
	out = strings.ReplaceAll(out, "\n", "<br>")
	return "<p>" + out + "</p>"
}
