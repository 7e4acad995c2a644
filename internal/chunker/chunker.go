// Package chunker 把文档原文切成用于向量化和检索的文本块。
//
// 长度和偏移量都按 rune 计算，多字节字符不会被截断。
package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"ragdesk-go/pkg/apperr"
)

// Chunk 是一个带位置信息的文本块，Offset 为其在原文中的起始 rune 下标。
type Chunk struct {
	Index   int    `json:"index"`
	Offset  int    `json:"offset"`
	Content string `json:"content"`
}

// Config 描述固定窗口切块的参数。MaxChunks 为 0 表示不限制块数。
type Config struct {
	ChunkSize int `json:"chunk_size"`
	Overlap   int `json:"overlap"`
	MaxChunks int `json:"max_chunks"`
}

// DefaultConfig 返回默认的切块参数（1000 / 200 / 不限制）。
func DefaultConfig() Config {
	return Config{ChunkSize: 1000, Overlap: 200}
}

// Validate 校验参数。overlap >= chunk_size 时步长不为正，必须在切块前拒绝。
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return apperr.Invalid("chunk_size", "must be greater than 0")
	}
	if c.Overlap < 0 {
		return apperr.Invalid("overlap", "must be >= 0")
	}
	if c.Overlap >= c.ChunkSize {
		return apperr.Invalid("overlap", "must be less than chunk_size")
	}
	if c.MaxChunks < 0 {
		return apperr.Invalid("max_chunks", "must be >= 0")
	}
	return nil
}

// ChunkFixed 按固定窗口切分文本，相邻窗口共享 Overlap 个字符。
func ChunkFixed(text string, cfg Config) ([]string, error) {
	chunks, err := Split(text, cfg)
	if err != nil {
		return nil, err
	}
	return contents(chunks), nil
}

// Split 与 ChunkFixed 相同，但保留每个块的序号和偏移量，供入库使用。
func Split(text string, cfg Config) ([]Chunk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil, nil
	}

	step := cfg.ChunkSize - cfg.Overlap
	var chunks []Chunk
	for start := 0; ; start += step {
		end := min(start+cfg.ChunkSize, n)
		chunks = append(chunks, Chunk{
			Index:   len(chunks),
			Offset:  start,
			Content: string(runes[start:end]),
		})
		if end == n {
			break
		}
		if cfg.MaxChunks > 0 && len(chunks) == cfg.MaxChunks {
			break
		}
	}
	return chunks, nil
}

// Reassemble 按序拼接固定窗口切出的块，并去掉每个后续块开头的重叠部分。
// 对未被 MaxChunks 截断的结果，返回值与原文完全一致。
func Reassemble(chunks []string, overlap int) string {
	var b strings.Builder
	for i, c := range chunks {
		if i == 0 || overlap <= 0 {
			b.WriteString(c)
			continue
		}
		runes := []rune(c)
		if overlap >= len(runes) {
			continue
		}
		b.WriteString(string(runes[overlap:]))
	}
	return b.String()
}

var blankLine = regexp.MustCompile(`\n[ \t\r]*\n`)

type paragraph struct {
	offset int
	text   string
}

func splitParagraphs(text string) []paragraph {
	var out []paragraph
	cursor := 0
	appendPara := func(from, to int) {
		raw := text[from:to]
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			return
		}
		lead := strings.Index(raw, trimmed)
		out = append(out, paragraph{
			offset: utf8.RuneCountInString(text[:from+lead]),
			text:   trimmed,
		})
	}
	for _, loc := range blankLine.FindAllStringIndex(text, -1) {
		appendPara(cursor, loc[0])
		cursor = loc[1]
	}
	appendPara(cursor, len(text))
	return out
}

// ChunkByParagraph 以空行为边界，把相邻段落贪心地合并进同一个块，
// 直到再加一段会超过 maxChunkSize。单个段落超长时原样独立成块，不在段内切断。
func ChunkByParagraph(text string, maxChunkSize int) ([]string, error) {
	chunks, err := SplitParagraphs(text, maxChunkSize)
	if err != nil {
		return nil, err
	}
	return contents(chunks), nil
}

// SplitParagraphs 是 ChunkByParagraph 的带偏移量版本。
func SplitParagraphs(text string, maxChunkSize int) ([]Chunk, error) {
	if maxChunkSize <= 0 {
		return nil, apperr.Invalid("max_chunk_size", "must be greater than 0")
	}
	const sep = "\n\n"

	var (
		chunks  []Chunk
		current strings.Builder
		curLen  int
		offset  int
	)
	flush := func() {
		if curLen == 0 {
			return
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Offset: offset, Content: current.String()})
		current.Reset()
		curLen = 0
	}

	for _, p := range splitParagraphs(text) {
		pLen := utf8.RuneCountInString(p.text)
		if curLen > 0 && curLen+len(sep)+pLen > maxChunkSize {
			flush()
		}
		if curLen == 0 {
			offset = p.offset
		} else {
			current.WriteString(sep)
			curLen += len(sep)
		}
		current.WriteString(p.text)
		curLen += pLen
	}
	flush()
	return chunks, nil
}

func contents(chunks []Chunk) []string {
	if len(chunks) == 0 {
		return nil
	}
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Content
	}
	return out
}
