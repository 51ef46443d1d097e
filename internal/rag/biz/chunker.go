package biz

import (
	"errors"
	"fmt"

	"github.com/kart-io/logger"
)

// ErrInvalidChunkSize 表示块大小不是正数。
var ErrInvalidChunkSize = errors.New("chunk size must be positive")

// Chunk 是源文本中的一个片段，Start/End 为 Unicode 字符偏移（左闭右开）。
type Chunk struct {
	Text  string
	Index int
	Start int
	End   int
}

// Chunker 按固定窗口切分文本。零值不可用，请使用 NewChunker。
type Chunker struct {
	size    int
	overlap int
}

// NewChunker 创建切分器。overlap 允许大于等于 size，此时该步退化为无重叠。
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChunkSize, size)
	}
	if overlap < 0 {
		overlap = 0
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size 返回块大小。
func (c *Chunker) Size() int { return c.size }

// Overlap 返回重叠大小。
func (c *Chunker) Overlap() int { return c.overlap }

// Split 切分文本。空文本返回空切片。
func (c *Chunker) Split(text string) []Chunk {
	chunks, _, capped := split([]rune(text), c.size, c.overlap)
	if capped {
		logger.Warnw("chunker reached iteration cap",
			"text_length", len([]rune(text)),
			"chunk_size", c.size,
			"overlap", c.overlap,
			"chunks", len(chunks),
		)
	}
	return chunks
}

// ChunkText 是 Split 的函数形式，只返回块文本。
func ChunkText(text string, size, overlap int) ([]string, error) {
	c, err := NewChunker(size, overlap)
	if err != nil {
		return nil, err
	}
	chunks := c.Split(text)
	out := make([]string, len(chunks))
	for i, ch := range chunks {
		out[i] = ch.Text
	}
	return out, nil
}

// iterationCap 返回循环次数上限，保证任何配置下都能终止。
func iterationCap(length, size, overlap int) int {
	return max(10, length/max(1, size-overlap)+10)
}

// split 返回块、实际迭代次数以及是否触达上限。
func split(runes []rune, size, overlap int) ([]Chunk, int, bool) {
	length := len(runes)
	if length == 0 {
		return []Chunk{}, 0, false
	}

	limit := iterationCap(length, size, overlap)
	chunks := make([]Chunk, 0, length/max(1, size-overlap)+1)

	start, iter := 0, 0
	for start < length && iter < limit {
		end := min(start+size, length)
		chunks = append(chunks, Chunk{
			Text:  string(runes[start:end]),
			Index: len(chunks),
			Start: start,
			End:   end,
		})

		iter++
		if end >= length {
			// 已覆盖到文本末尾，不再产生仅含重叠部分的尾块
			break
		}

		next := max(0, end-overlap)
		if next <= start {
			// 重叠不小于块大小时本步不重叠，保证游标前进
			next = end
		}
		start = next
	}

	capped := iter >= limit && chunks[len(chunks)-1].End < length
	return chunks, iter, capped
}
