package knowledge

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// DefaultSummaryRunes bounds a chunk summary.
const DefaultSummaryRunes = 160

var markdown = goldmark.New()

// Summarize strips markdown from content, collapses whitespace and truncates
// to maxRunes. The role, when set, is kept as a prefix.
func Summarize(role, content string, maxRunes int) string {
	plain := plainText(content)
	if maxRunes > 0 {
		if r := []rune(plain); len(r) > maxRunes {
			plain = strings.TrimSpace(string(r[:maxRunes])) + "…"
		}
	}
	if role == "" || plain == "" {
		return plain
	}
	return role + ": " + plain
}

// plainText renders the text content of a markdown document.
func plainText(content string) string {
	src := []byte(content)
	doc := markdown.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				b.WriteByte(' ')
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(node.Value)
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(src))
			}
			return ast.WalkSkipChildren, nil
		case *ast.AutoLink:
			b.Write(node.URL(src))
		}
		return ast.WalkContinue, nil
	})
	return strings.Join(strings.Fields(b.String()), " ")
}
