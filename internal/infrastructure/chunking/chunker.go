package chunking

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"VectorLink/internal/domain/ingest"
	"VectorLink/pkg/xerr"

	"github.com/cloudwego/eino-ext/components/document/transformer/splitter/recursive"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/schema"
)

// SimpleChunker 将文本切分为固定大小、带重叠的多个片段。
// Split 是纯函数：相同输入必然得到逐字节相同的切片序列，
// 下游的幂等 upsert 依赖这一点。
type SimpleChunker struct {
	ChunkSize    int
	ChunkOverlap int
	useRecursive bool

	initOnce      sync.Once
	initErr       error
	recursiveImpl document.Transformer
}

// NewSimpleChunker 创建切片器；overlap >= size 属配置错误，直接失败
func NewSimpleChunker(size, overlap int) (*SimpleChunker, error) {
	if size <= 0 {
		return nil, xerr.Newf(xerr.BadRequest, "invalid config: chunk size must be > 0, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, xerr.Newf(xerr.BadRequest, "invalid config: chunk overlap %d must be in [0, %d)", overlap, size)
	}
	return &SimpleChunker{ChunkSize: size, ChunkOverlap: overlap}, nil
}

// NewRecursiveChunker 基于分隔符的递归切分，固定窗口的替代模式
func NewRecursiveChunker(size, overlap int) (*SimpleChunker, error) {
	c, err := NewSimpleChunker(size, overlap)
	if err != nil {
		return nil, err
	}
	c.useRecursive = true
	return c, nil
}

// Split 基于 rune（字符）数量切分，保证中文等多字节字符不被截断。
// 窗口大小 ChunkSize，每步前进 ChunkSize-ChunkOverlap，
// 末尾不足一个窗口的余量作为最后一个切片，不做填充。
func (c *SimpleChunker) Split(documentID, text string) []ingest.Chunk {
	if text == "" {
		return []ingest.Chunk{}
	}

	runes := []rune(text)
	totalLen := len(runes)
	step := c.ChunkSize - c.ChunkOverlap

	chunks := make([]ingest.Chunk, 0, totalLen/step+1)
	idx := 0
	for i := 0; i < totalLen; i += step {
		end := i + c.ChunkSize
		if end > totalLen {
			end = totalLen
		}
		chunks = append(chunks, ingest.Chunk{
			DocumentID: documentID,
			Index:      idx,
			Text:       string(runes[i:end]),
			CharStart:  i,
			CharEnd:    end,
		})
		idx++

		if end == totalLen {
			break
		}
	}

	return chunks
}

// SplitRecursive 通过 eino 递归分割器切分；偏移量按出现顺序在原文中回扫定位
func (c *SimpleChunker) SplitRecursive(ctx context.Context, documentID, text string) ([]ingest.Chunk, error) {
	if text == "" {
		return []ingest.Chunk{}, nil
	}

	c.initOnce.Do(func() {
		impl, err := recursive.NewSplitter(ctx, &recursive.Config{
			ChunkSize:   c.ChunkSize,
			OverlapSize: c.ChunkOverlap,
			Separators:  []string{"\n\n", "\n", "。", "！", "？", "；", "，", " "},
			LenFunc: func(s string) int {
				return len([]rune(s))
			},
			KeepType: recursive.KeepTypeEnd,
		})
		if err != nil {
			c.initErr = err
			return
		}
		c.recursiveImpl = impl
	})
	if c.initErr != nil {
		return nil, c.initErr
	}
	if c.recursiveImpl == nil {
		return nil, fmt.Errorf("recursive splitter not initialized")
	}

	frags, err := c.recursiveImpl.Transform(ctx, []*schema.Document{{Content: text}})
	if err != nil {
		return nil, err
	}

	runes := []rune(text)
	cursor := 0
	out := make([]ingest.Chunk, 0, len(frags))
	for i, f := range frags {
		if f == nil || f.Content == "" {
			continue
		}
		fragLen := len([]rune(f.Content))
		start := cursor
		if off := strings.Index(string(runes[cursor:]), f.Content); off >= 0 {
			start = cursor + len([]rune(string(runes[cursor:])[:off]))
		}
		out = append(out, ingest.Chunk{
			DocumentID: documentID,
			Index:      i,
			Text:       f.Content,
			CharStart:  start,
			CharEnd:    start + fragLen,
		})
		cursor = start + fragLen - c.ChunkOverlap
		if cursor < 0 {
			cursor = 0
		}
	}
	return out, nil
}

// Chunks 根据构造时选定的模式切分
func (c *SimpleChunker) Chunks(ctx context.Context, documentID, text string) ([]ingest.Chunk, error) {
	if c.useRecursive {
		return c.SplitRecursive(ctx, documentID, text)
	}
	return c.Split(documentID, text), nil
}
