// Package chunker splits role-tagged text into bounded, overlapping word windows.
package chunker

import (
	"iter"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultMaxWords     = 200
	DefaultOverlapWords = 30
)

// Chunk is one window of the input.
//
// Body is the slice of the input owned by this chunk; concatenating the Body of
// every chunk in order reproduces the input byte for byte. Overlap repeats the
// trailing words of the previous chunk's Body and is empty for the first chunk.
type Chunk struct {
	Role    string
	Index   int
	Overlap string
	Body    string
	Words   int // words in Overlap + Body
}

// Text is the embeddable form: the role prefix, the overlap and the body.
func (c Chunk) Text() string {
	content := strings.TrimSpace(c.Overlap + c.Body)
	if c.Role == "" {
		return content
	}
	return c.Role + ": " + content
}

// IsBlank reports whether the chunk has no words.
func (c Chunk) IsBlank() bool {
	return strings.TrimSpace(c.Body) == ""
}

// Chunker produces word windows of at most MaxWords new words plus OverlapWords
// carried over from the previous window.
type Chunker struct {
	maxWords     int
	overlapWords int
}

// New creates a chunker. Invalid sizes fall back to the defaults; overlap is
// clamped below maxWords.
func New(maxWords, overlapWords int) *Chunker {
	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}
	if overlapWords < 0 {
		overlapWords = 0
	}
	if overlapWords >= maxWords {
		overlapWords = maxWords - 1
	}
	return &Chunker{maxWords: maxWords, overlapWords: overlapWords}
}

func (c *Chunker) MaxWords() int     { return c.maxWords }
func (c *Chunker) OverlapWords() int { return c.overlapWords }

// Chunks lazily yields the windows of text. Empty text yields nothing.
// Text with fewer than MaxWords words yields exactly one chunk.
func (c *Chunker) Chunks(role, text string) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		if text == "" {
			return
		}

		body := make([]string, 0, c.maxWords)
		overlap := ""
		overlapWords := 0
		index := 0

		emit := func() bool {
			chunk := Chunk{
				Role:    role,
				Index:   index,
				Overlap: overlap,
				Body:    strings.Join(body, ""),
				Words:   overlapWords + countWords(body),
			}
			tail := body[max(0, len(body)-c.overlapWords):]
			overlap = strings.Join(tail, "")
			overlapWords = countWords(tail)
			body = body[:0]
			index++
			return yield(chunk)
		}

		for seg := range segments(text) {
			body = append(body, seg)
			if len(body) == c.maxWords {
				if !emit() {
					return
				}
			}
		}
		if len(body) > 0 {
			emit()
		}
	}
}

// Collect drains Chunks into a slice.
func (c *Chunker) Collect(role, text string) []Chunk {
	var out []Chunk
	for ch := range c.Chunks(role, text) {
		out = append(out, ch)
	}
	return out
}

// segments yields one word plus its trailing whitespace at a time. Leading
// whitespace belongs to the first segment. Whitespace-only text is one segment.
func segments(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		start := 0
		seenWord := false
		prevSpace := false
		for i := 0; i < len(text); {
			r, size := utf8.DecodeRuneInString(text[i:])
			space := unicode.IsSpace(r)
			if !space && prevSpace && seenWord {
				if !yield(text[start:i]) {
					return
				}
				start = i
			}
			if !space {
				seenWord = true
			}
			prevSpace = space
			i += size
		}
		if start < len(text) {
			yield(text[start:])
		}
	}
}

func countWords(segs []string) int {
	n := 0
	for _, s := range segs {
		if strings.TrimSpace(s) != "" {
			n++
		}
	}
	return n
}
