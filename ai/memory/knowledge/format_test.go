package knowledge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		name     string
		role     string
		content  string
		maxRunes int
		want     string
	}{
		{
			name:    "markdown is flattened",
			content: "# Title\n\nSome **bold** text and `code`.\n\n- item one\n- item two",
			want:    "Title Some bold text and code. item one item two",
		},
		{
			name:    "role prefix",
			role:    "assistant",
			content: "Raise from   angels\nfirst.",
			want:    "assistant: Raise from angels first.",
		},
		{
			name:     "truncated by runes",
			role:     "user",
			content:  strings.Repeat("word ", 100),
			maxRunes: 20,
			want:     "user: word word word word…",
		},
		{
			name:     "multibyte safe",
			content:  "语义缓存层实现",
			maxRunes: 4,
			want:     "语义缓存…",
		},
		{
			name: "empty",
			role: "user",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Summarize(tt.role, tt.content, tt.maxRunes))
		})
	}
}

func TestPercentFormatter(t *testing.T) {
	sources := []Source{
		{Summary: "user: seed round closed", SourceLabel: "Q1 notes", Score: 0.873},
		{Text: "no summary here", Score: 0.6049},
	}

	got := PercentFormatter{Header: "Relevant memory:"}.Format(sources)
	assert.Equal(t, "Relevant memory:\n1. [Q1 notes] user: seed round closed (relevance 87%)\n2. no summary here (relevance 60%)", got)
	assert.Empty(t, PercentFormatter{}.Format(nil))
}
