package memory

import (
	"strings"

	"github.com/samber/lo"
)

// memoryHeader introduces the remembered context appended after the base
// instructions.
const memoryHeader = "Here is what you remember about the user:"

// Compose builds a system prompt from base instructions plus zero or more
// categorized summaries. It is a pure function: identical inputs produce
// byte-identical output. Summaries are rendered in the order given;
// categories with an empty summary are skipped. When nothing survives the
// filter the base text is returned unchanged.
func Compose(base string, summaries []CategorySummary) string {
	sections := lo.FilterMap(summaries, func(c CategorySummary, _ int) (string, bool) {
		if strings.TrimSpace(c.Summary) == "" {
			return "", false
		}
		return "**" + c.Name + ":** " + c.Summary, true
	})
	if len(sections) == 0 {
		return base
	}

	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString("\n\n")
	sb.WriteString(memoryHeader)
	sb.WriteString("\n\n")
	sb.WriteString(strings.Join(sections, "\n\n"))
	return sb.String()
}
