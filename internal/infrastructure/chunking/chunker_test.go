package chunking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSimpleChunker_InvalidConfig(t *testing.T) {
	_, err := NewSimpleChunker(0, 0)
	assert.Error(t, err)

	_, err = NewSimpleChunker(-5, 0)
	assert.Error(t, err)

	_, err = NewSimpleChunker(100, -1)
	assert.Error(t, err)

	// overlap == size 会导致步长为 0，属配置错误
	_, err = NewSimpleChunker(100, 100)
	assert.Error(t, err)

	_, err = NewSimpleChunker(100, 150)
	assert.Error(t, err)

	c, err := NewSimpleChunker(100, 0)
	require.NoError(t, err)
	require.NotNil(t, c)
}

func TestSplit_FixedWindowWithOverlap(t *testing.T) {
	c, err := NewSimpleChunker(100, 20)
	require.NoError(t, err)

	text := strings.Repeat("a", 250)
	chunks := c.Split("doc-1", text)

	require.Len(t, chunks, 3)

	assert.Equal(t, 0, chunks[0].CharStart)
	assert.Equal(t, 100, chunks[0].CharEnd)
	assert.Equal(t, 80, chunks[1].CharStart)
	assert.Equal(t, 180, chunks[1].CharEnd)
	assert.Equal(t, 160, chunks[2].CharStart)
	assert.Equal(t, 250, chunks[2].CharEnd)

	for i, ch := range chunks {
		assert.Equal(t, "doc-1", ch.DocumentID)
		assert.Equal(t, i, ch.Index)
		assert.Equal(t, ch.CharEnd-ch.CharStart, len([]rune(ch.Text)))
	}
}

func TestSplit_Deterministic(t *testing.T) {
	c, err := NewSimpleChunker(50, 10)
	require.NoError(t, err)

	text := strings.Repeat("abcde ", 40)
	first := c.Split("doc-1", text)
	second := c.Split("doc-1", text)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i], second[i])
	}
}

func TestSplit_CoversEntireText(t *testing.T) {
	c, err := NewSimpleChunker(64, 16)
	require.NoError(t, err)

	text := strings.Repeat("x", 777)
	chunks := c.Split("doc-1", text)

	require.NotEmpty(t, chunks)
	assert.Equal(t, 0, chunks[0].CharStart)
	assert.Equal(t, len([]rune(text)), chunks[len(chunks)-1].CharEnd)

	// 相邻切片之间无缝隙
	for i := 1; i < len(chunks); i++ {
		assert.LessOrEqual(t, chunks[i].CharStart, chunks[i-1].CharEnd)
	}
}

func TestSplit_EmptyText(t *testing.T) {
	c, err := NewSimpleChunker(100, 20)
	require.NoError(t, err)

	chunks := c.Split("doc-1", "")
	assert.Empty(t, chunks)
}

func TestSplit_TextShorterThanWindow(t *testing.T) {
	c, err := NewSimpleChunker(100, 20)
	require.NoError(t, err)

	chunks := c.Split("doc-1", "short")
	require.Len(t, chunks, 1)
	assert.Equal(t, "short", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].CharStart)
	assert.Equal(t, 5, chunks[0].CharEnd)
}

func TestSplit_MultiByteRunes(t *testing.T) {
	c, err := NewSimpleChunker(4, 1)
	require.NoError(t, err)

	text := "你好世界和平发展"
	chunks := c.Split("doc-cn", text)

	require.NotEmpty(t, chunks)
	assert.Equal(t, "你好世界", chunks[0].Text)
	// 切片边界不会截断多字节字符
	total := ""
	for _, ch := range chunks {
		for _, r := range ch.Text {
			assert.NotEqual(t, '�', r)
		}
		total += ch.Text
	}
	assert.Equal(t, len([]rune(text)), chunks[len(chunks)-1].CharEnd)
}

func TestSplit_ZeroOverlap(t *testing.T) {
	c, err := NewSimpleChunker(10, 0)
	require.NoError(t, err)

	text := strings.Repeat("z", 25)
	chunks := c.Split("doc-1", text)

	require.Len(t, chunks, 3)
	assert.Equal(t, 0, chunks[0].CharStart)
	assert.Equal(t, 10, chunks[1].CharStart)
	assert.Equal(t, 20, chunks[2].CharStart)
	assert.Equal(t, 25, chunks[2].CharEnd)
}
