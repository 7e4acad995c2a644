package chunker

import (
	"fmt"

	"ragdesk-go/pkg/apperr"
)

// Mode 选择切块策略。
type Mode string

const (
	ModeFixed     Mode = "fixed"
	ModeParagraph Mode = "paragraph"
)

// ParseMode 解析配置或请求中的策略名，空串视为 fixed。
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeFixed:
		return ModeFixed, nil
	case ModeParagraph:
		return ModeParagraph, nil
	default:
		return "", apperr.Invalid("mode", fmt.Sprintf("unsupported chunking mode %q", s))
	}
}

// Plan 是一次切块所需的全部参数。
type Plan struct {
	Mode             Mode
	Fixed            Config
	ParagraphMaxSize int
}

// Validate 只校验所选策略用得到的参数。
func (p Plan) Validate() error {
	switch p.Mode {
	case ModeFixed, "":
		return p.Fixed.Validate()
	case ModeParagraph:
		if p.ParagraphMaxSize <= 0 {
			return apperr.Invalid("paragraph_max_size", "must be greater than 0")
		}
		return nil
	default:
		return apperr.Invalid("mode", fmt.Sprintf("unsupported chunking mode %q", p.Mode))
	}
}

// Apply 按计划切分文本。
func (p Plan) Apply(text string) ([]Chunk, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Mode == ModeParagraph {
		return SplitParagraphs(text, p.ParagraphMaxSize)
	}
	return Split(text, p.Fixed)
}

// NewPlan 由配置项构造并校验 Plan。
func NewPlan(mode string, chunkSize, overlap, maxChunks, paragraphMaxSize int) (Plan, error) {
	m, err := ParseMode(mode)
	if err != nil {
		return Plan{}, err
	}
	p := Plan{
		Mode:             m,
		Fixed:            Config{ChunkSize: chunkSize, Overlap: overlap, MaxChunks: maxChunks},
		ParagraphMaxSize: paragraphMaxSize,
	}
	if err := p.Validate(); err != nil {
		return Plan{}, err
	}
	return p, nil
}
