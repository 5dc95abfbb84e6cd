package knowledge

import (
	"fmt"
	"math"
	"strings"
)

// ContextFormatter renders ranked sources into a prompt-ready block.
// Ranking never depends on it.
type ContextFormatter interface {
	Format(sources []Source) string
}

// PercentFormatter writes one line per source: its summary and relevance as a percentage.
type PercentFormatter struct {
	// Header is written before the list when set.
	Header string
}

func (f PercentFormatter) Format(sources []Source) string {
	if len(sources) == 0 {
		return ""
	}
	var b strings.Builder
	if f.Header != "" {
		b.WriteString(f.Header)
		b.WriteString("\n")
	}
	for i, s := range sources {
		summary := s.Summary
		if summary == "" {
			summary = s.Text
		}
		label := ""
		if s.SourceLabel != "" {
			label = "[" + s.SourceLabel + "] "
		}
		fmt.Fprintf(&b, "%d. %s%s (relevance %d%%)", i+1, label, summary, int(math.Round(s.Score*100)))
		if i < len(sources)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}
