package dingtalk

import (
	"regexp"
	"strings"

	"github.com/keepmind9/dingtalk-channel/pkg/constants"
)

// DefaultMarkdownTitle is used when the first line yields no title
const DefaultMarkdownTitle = "Message"

var (
	markdownLead = regexp.MustCompile(`^(#{1,6}\s|>|[-*+]\s|\d+\.\s|\*\*|__|\*[^*\s]|_[^_\s]|` + "```" + `)`)
	titleMarkers = regexp.MustCompile(`^(#{1,6}\s*|>\s*|[-*+]\s+|\d+\.\s+)+`)
)

// IsMarkdown reports whether text looks like markdown: a leading heading, quote, list or
// emphasis marker, or more than one line
func IsMarkdown(text string) bool {
	if strings.Contains(text, "\n") {
		return true
	}
	return markdownLead.MatchString(strings.TrimLeft(text, " \t"))
}

// MarkdownTitle derives a message title from the first line of text
func MarkdownTitle(text string) string {
	line := strings.TrimSpace(strings.SplitN(text, "\n", 2)[0])
	line = titleMarkers.ReplaceAllString(line, "")
	line = strings.Trim(line, "*_` ")
	if line == "" {
		return DefaultMarkdownTitle
	}
	return truncate(line, constants.MarkdownTitleMaxLength)
}
