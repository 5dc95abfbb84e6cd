package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

func reconstruct(chunks []Chunk) string {
	var sb strings.Builder
	for _, c := range chunks {
		sb.WriteString(c.Body)
	}
	return sb.String()
}

func TestChunks_Empty(t *testing.T) {
	c := New(10, 2)
	assert.Empty(t, c.Collect("user", ""))
}

func TestChunks_ShortInputSingleChunk(t *testing.T) {
	c := New(10, 2)
	chunks := c.Collect("user", "how do I raise a series A")

	require.Len(t, chunks, 1)
	assert.Equal(t, "", chunks[0].Overlap)
	assert.Equal(t, "user: how do I raise a series A", chunks[0].Text())
	assert.Equal(t, 7, chunks[0].Words)
}

func TestChunks_Windows(t *testing.T) {
	c := New(4, 1)
	chunks := c.Collect("assistant", words(10))

	require.Len(t, chunks, 3)
	assert.Equal(t, "w0 w1 w2 w3 ", chunks[0].Body)
	assert.Equal(t, "w3 ", chunks[1].Overlap)
	assert.Equal(t, "w4 w5 w6 w7 ", chunks[1].Body)
	assert.Equal(t, "w7 ", chunks[2].Overlap)
	assert.Equal(t, "w8 w9", chunks[2].Body)
	assert.Equal(t, "assistant: w7 w8 w9", chunks[2].Text())

	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.LessOrEqual(t, ch.Words, 4+1)
	}
}

func TestChunks_ExactMultipleHasNoEmptyTail(t *testing.T) {
	c := New(5, 2)
	chunks := c.Collect("user", words(10))
	require.Len(t, chunks, 2)
	assert.False(t, chunks[1].IsBlank())
}

func TestChunks_Reconstruction(t *testing.T) {
	inputs := []string{
		"single",
		"  leading and trailing  ",
		"tabs\tand\nnewlines\n\nparagraphs  here",
		"   ",
		"unicode 你好 世界 ünïcödé text with — dashes",
		words(1000),
	}
	sizes := []struct{ max, overlap int }{{1, 0}, {3, 1}, {7, 3}, {200, 30}}

	for _, in := range inputs {
		for _, sz := range sizes {
			name := fmt.Sprintf("%d_%d_%q", sz.max, sz.overlap, in[:min(len(in), 12)])
			t.Run(name, func(t *testing.T) {
				c := New(sz.max, sz.overlap)
				chunks := c.Collect("user", in)
				assert.Equal(t, in, reconstruct(chunks))
				for _, ch := range chunks {
					assert.LessOrEqual(t, ch.Words, c.MaxWords()+c.OverlapWords())
				}
			})
		}
	}
}

func TestChunks_WhitespaceOnlyIsOneBlankChunk(t *testing.T) {
	chunks := New(10, 2).Collect("user", " \n ")
	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].IsBlank())
}

func TestChunks_Lazy(t *testing.T) {
	c := New(2, 0)
	seen := 0
	for range c.Chunks("user", words(100)) {
		seen++
		if seen == 3 {
			break
		}
	}
	assert.Equal(t, 3, seen)
}

func TestNew_ClampsSizes(t *testing.T) {
	tests := []struct {
		name            string
		max, overlap    int
		wantMax, wantOv int
	}{
		{"defaults on zero", 0, -1, DefaultMaxWords, 0},
		{"overlap below max", 5, 5, 5, 4},
		{"valid", 50, 10, 50, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.max, tt.overlap)
			assert.Equal(t, tt.wantMax, c.MaxWords())
			assert.Equal(t, tt.wantOv, c.OverlapWords())
		})
	}
}

func TestChunk_TextWithoutRole(t *testing.T) {
	ch := Chunk{Body: " body "}
	assert.Equal(t, "body", ch.Text())
}
