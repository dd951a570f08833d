package mailsource

import (
	"strings"

	"golang.org/x/net/html"
)

// HTMLToText extracts visible text from an HTML body, dropping script and style
// content and collapsing whitespace.
func HTMLToText(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))

	var (
		parts []string
		skip  int
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
		case html.StartTagToken:
			name, _ := z.TagName()
			if isHiddenTag(string(name)) {
				skip++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if isHiddenTag(string(name)) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				parts = append(parts, string(z.Text()))
			}
		}
	}
}

func isHiddenTag(name string) bool {
	return name == "script" || name == "style" || name == "head" || name == "title"
}
