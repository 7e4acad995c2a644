// Package gateway 封装 embedding 模型与向量检索，是服务层访问两者的唯一入口。
// 网关内部不做缓存和重试，外部错误统一包装为 EmbeddingProviderError / SearchError。
package gateway

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ragdesk-go/internal/model"
	"ragdesk-go/pkg/apperr"
	"ragdesk-go/pkg/embedding"
	"ragdesk-go/pkg/log"
)

// VectorStore 是网关依赖的向量检索后端。
// userID 为 0 时不按用户过滤。
type VectorStore interface {
	KNNSearch(ctx context.Context, vector []float32, threshold float64, limit int, userID uint) ([]model.ChunkHit, error)
}

type searchOptions struct {
	userID uint
}

// SearchOption 调整单次检索的范围。
type SearchOption func(*searchOptions)

// WithUser 只检索该用户自己的文档。
func WithUser(userID uint) SearchOption {
	return func(o *searchOptions) { o.userID = userID }
}

// Options 控制批量向量化的节奏和向量维度。
type Options struct {
	BatchSize  int           // 每组并发请求数，默认 10
	BatchDelay time.Duration // 组与组之间的固定间隔
	Dimensions int           // 0 表示以第一条向量的维度为准
}

// Match 是一条检索结果。
type Match struct {
	ChunkID    uint    `json:"chunk_id"`
	DocumentID uint    `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
	Content    string  `json:"content"`
}

// EmbedResult 是逐条隔离模式下单条文本的结果。
type EmbedResult struct {
	Vector []float32
	Err    error
}

// Gateway 由调用方显式构造并注入，不存在包级单例。
type Gateway struct {
	embedder embedding.Client
	store    VectorStore
	opts     Options
}

// New 创建一个新的 Gateway 实例。
func New(embedder embedding.Client, store VectorStore, opts Options) *Gateway {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	return &Gateway{embedder: embedder, store: store, opts: opts}
}

// Dimensions 返回配置的向量维度。
func (g *Gateway) Dimensions() int { return g.opts.Dimensions }

// Embed 对单条文本做向量化。
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.Invalid("text", "must not be empty")
	}
	v, err := g.embedder.CreateEmbedding(ctx, text)
	if err != nil {
		log.Errorw("[Gateway] embedding 调用失败", "error", err, "input_len", len(text))
		return nil, &apperr.EmbeddingProviderError{Err: err}
	}
	if err := g.checkDims([][]float32{v}); err != nil {
		return nil, err
	}
	return v, nil
}

// EmbedBatch 对一组文本向量化，输出与输入一一对应且顺序一致。
// 每组 BatchSize 条并发请求，组间等待 BatchDelay；任意一条失败则整批失败。
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := validateTexts(texts); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))

	for start := 0; start < len(texts); start += g.opts.BatchSize {
		if start > 0 {
			if err := g.pause(ctx); err != nil {
				return nil, &apperr.EmbeddingProviderError{Err: err}
			}
		}
		end := min(start+g.opts.BatchSize, len(texts))

		eg, egCtx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			eg.Go(func() error {
				v, err := g.embedder.CreateEmbedding(egCtx, texts[i])
				if err != nil {
					return fmt.Errorf("item %d: %w", i, err)
				}
				out[i] = v
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			log.Errorw("[Gateway] 批量向量化失败", "error", err, "batch_start", start, "total", len(texts))
			return nil, &apperr.EmbeddingProviderError{Err: err}
		}
	}

	if err := g.checkDims(out); err != nil {
		return nil, err
	}
	return out, nil
}

// EmbedBatchIsolated 与 EmbedBatch 节奏相同，但每条文本的失败互不影响。
func (g *Gateway) EmbedBatchIsolated(ctx context.Context, texts []string) []EmbedResult {
	out := make([]EmbedResult, len(texts))
	expected := g.opts.Dimensions

	for start := 0; start < len(texts); start += g.opts.BatchSize {
		if start > 0 {
			if err := g.pause(ctx); err != nil {
				for i := start; i < len(texts); i++ {
					out[i].Err = &apperr.EmbeddingProviderError{Err: err}
				}
				return out
			}
		}
		end := min(start+g.opts.BatchSize, len(texts))

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			if strings.TrimSpace(texts[i]) == "" {
				out[i].Err = apperr.Invalid(fmt.Sprintf("texts[%d]", i), "must not be empty")
				continue
			}
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				v, err := g.embedder.CreateEmbedding(ctx, texts[i])
				if err != nil {
					out[i].Err = &apperr.EmbeddingProviderError{Err: err}
					return
				}
				out[i].Vector = v
			}(i)
		}
		wg.Wait()
	}

	for i := range out {
		if out[i].Err != nil {
			continue
		}
		if len(out[i].Vector) == 0 {
			out[i] = EmbedResult{Err: &apperr.EmbeddingProviderError{
				Err: fmt.Errorf("item %d: empty vector", i),
			}}
			continue
		}
		if expected == 0 {
			expected = len(out[i].Vector)
		}
		if len(out[i].Vector) != expected {
			out[i] = EmbedResult{Err: &apperr.EmbeddingProviderError{
				Err: fmt.Errorf("item %d: dimension %d, want %d", i, len(out[i].Vector), expected),
			}}
		}
	}
	return out
}

// SimilaritySearch 把查询向量交给存储层检索，并把结果转换为 Match。
// 排序沿用存储层的结果：相似度降序，同分按切块入库顺序。
func (g *Gateway) SimilaritySearch(ctx context.Context, vector []float32, threshold float64, limit int, opts ...SearchOption) ([]Match, error) {
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return nil, apperr.Invalid("threshold", "must be within [0, 1]")
	}
	if limit <= 0 {
		return nil, apperr.Invalid("limit", "must be greater than 0")
	}
	if len(vector) == 0 {
		return nil, apperr.Invalid("vector", "must not be empty")
	}
	if g.opts.Dimensions > 0 && len(vector) != g.opts.Dimensions {
		return nil, apperr.Invalid("vector", fmt.Sprintf("dimension %d does not match index dimension %d", len(vector), g.opts.Dimensions))
	}

	var so searchOptions
	for _, opt := range opts {
		opt(&so)
	}

	hits, err := g.store.KNNSearch(ctx, vector, threshold, limit, so.userID)
	if err != nil {
		log.Errorw("[Gateway] 相似度检索失败", "error", err, "threshold", threshold, "limit", limit)
		return nil, &apperr.SearchError{Err: err}
	}

	matches := make([]Match, 0, len(hits))
	for _, h := range hits {
		matches = append(matches, Match{
			ChunkID:    h.ChunkID,
			DocumentID: h.DocumentID,
			ChunkIndex: h.ChunkIndex,
			Score:      h.Score,
			Content:    h.Content,
		})
	}
	return matches, nil
}

// SearchText 先向量化查询文本再检索。
func (g *Gateway) SearchText(ctx context.Context, query string, threshold float64, limit int, opts ...SearchOption) ([]Match, error) {
	vector, err := g.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return g.SimilaritySearch(ctx, vector, threshold, limit, opts...)
}

func (g *Gateway) pause(ctx context.Context) error {
	if g.opts.BatchDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(g.opts.BatchDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// checkDims 要求所有向量维度一致，维度不符时报错而不是截断。
func (g *Gateway) checkDims(vectors [][]float32) error {
	expected := g.opts.Dimensions
	for i, v := range vectors {
		if expected == 0 {
			expected = len(v)
		}
		if len(v) == 0 || len(v) != expected {
			return &apperr.EmbeddingProviderError{
				Err: fmt.Errorf("item %d: dimension %d, want %d", i, len(v), expected),
			}
		}
	}
	return nil
}

func validateTexts(texts []string) error {
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return apperr.Invalid(fmt.Sprintf("texts[%d]", i), "must not be empty")
		}
	}
	return nil
}
