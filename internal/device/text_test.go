package device

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitLines(t *testing.T) {
	assert.Equal(t, []string{"hello"}, SplitLines("hello"))
	assert.Equal(t, []string{"a", "b"}, SplitLines("a\nb"))
	assert.Equal(t, []string{"a", "b"}, SplitLines("a\r\nb"))
	assert.Equal(t, []string{"a", ""}, SplitLines("a\n"))
	assert.Equal(t, []string{""}, SplitLines(""))
}

func TestChunkRunes(t *testing.T) {
	assert.Equal(t, []string{"abcdef"}, ChunkRunes("abcdef", 10))
	assert.Equal(t, []string{"ab", "cd", "ef"}, ChunkRunes("abcdef", 2))
	assert.Equal(t, []string{"abc", "de"}, ChunkRunes("abcde", 3))
	assert.Equal(t, []string{""}, ChunkRunes("", 4))
}

func TestChunkRunesMultibyte(t *testing.T) {
	chunks := ChunkRunes("你好世界再见", 2)
	assert.Equal(t, []string{"你好", "世界", "再见"}, chunks)
	for _, c := range chunks {
		assert.True(t, strings.ToValidUTF8(c, "") == c)
	}
}
