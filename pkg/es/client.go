// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"ragdesk-go/internal/config"
	"ragdesk-go/internal/model"
	"ragdesk-go/pkg/log"
)

// NewClient 根据配置创建 Elasticsearch 客户端。
func NewClient(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	return elasticsearch.NewClient(cfg)
}

// Store 是切块向量在 Elasticsearch 中的存储。
type Store struct {
	client *elasticsearch.Client
	index  string
	dims   int
}

// NewStore 创建一个新的 Store 实例。
func NewStore(client *elasticsearch.Client, index string, dims int) *Store {
	return &Store{client: client, index: index, dims: dims}
}

func (s *Store) indexMapping() string {
	return fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"vector_id": { "type": "keyword" },
				"chunk_id": { "type": "long" },
				"document_id": { "type": "long" },
				"chunk_index": { "type": "integer" },
				"content": { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"model_version": { "type": "keyword" },
				"user_id": { "type": "long" }
			}
		}
	}`, s.dims)
}

// EnsureIndex 检查索引是否存在，如果不存在则创建它。
func (s *Store) EnsureIndex(ctx context.Context) error {
	res, err := s.client.Indices.Exists([]string{s.index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", s.index)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = s.client.Indices.Create(
		s.index,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(strings.NewReader(s.indexMapping())),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", s.index, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", s.index, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", s.index)
	return nil
}

// IndexChunks 通过 bulk 接口批量写入切块向量，VectorID 作为文档 ID 保证重复处理是幂等的。
func (s *Store) IndexChunks(ctx context.Context, docs []model.EsChunk) error {
	if len(docs) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		meta := map[string]any{"index": map[string]any{"_index": s.index, "_id": doc.VectorID}}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}

	req := esapi.BulkRequest{Body: &buf, Refresh: "true"}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("批量索引到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to bulk index chunks")
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Error json.RawMessage `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if bulkResp.Errors {
		for _, item := range bulkResp.Items {
			for _, r := range item {
				if len(r.Error) > 0 {
					return fmt.Errorf("bulk index item failed: %s", string(r.Error))
				}
			}
		}
		return errors.New("bulk index reported errors")
	}
	return nil
}

// KNNSearch 执行向量近邻检索，只返回余弦相似度不低于 threshold 的结果。
// userID 非 0 时只检索该用户的切块。
// 结果按相似度降序，同分按 chunk_id 升序（即入库顺序）。
func (s *Store) KNNSearch(ctx context.Context, vector []float32, threshold float64, limit int, userID uint) ([]model.ChunkHit, error) {
	var buf bytes.Buffer
	knn := map[string]interface{}{
		"field":          "vector",
		"query_vector":   vector,
		"k":              limit,
		"num_candidates": max(limit*10, 100),
		"similarity":     threshold,
	}
	if userID != 0 {
		knn["filter"] = map[string]interface{}{
			"term": map[string]interface{}{"user_id": userID},
		}
	}
	esQuery := map[string]interface{}{
		"knn":     knn,
		"size":    limit,
		"_source": map[string]interface{}{"excludes": []string{"vector"}},
	}
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		log.Errorf("[ES] 检索返回错误, status: %s, body: %s", res.Status(), string(body))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.EsChunk `json:"_source"`
				Score  float64       `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	hits := make([]model.ChunkHit, 0, len(esResponse.Hits.Hits))
	for _, h := range esResponse.Hits.Hits {
		// cosine 相似度下 ES 的 _score = (1 + cos) / 2
		score := 2*h.Score - 1
		if score < threshold {
			continue
		}
		hits = append(hits, model.ChunkHit{
			ChunkID:    h.Source.ChunkID,
			DocumentID: h.Source.DocumentID,
			ChunkIndex: h.Source.ChunkIndex,
			Content:    h.Source.Content,
			Score:      score,
		})
	}
	SortHits(hits)
	return hits, nil
}

// SortHits 按相似度降序排序，同分按 ChunkID 升序。
func SortHits(hits []model.ChunkHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
}

// DeleteByDocument 删除一个文档的全部向量。
func (s *Store) DeleteByDocument(ctx context.Context, documentID uint) (int64, error) {
	return s.deleteByTerm(ctx, "document_id", documentID)
}

// DeleteBySubject 删除一个用户的全部向量，用于级联删除。
func (s *Store) DeleteBySubject(ctx context.Context, userID uint) (int64, error) {
	return s.deleteByTerm(ctx, "user_id", userID)
}

func (s *Store) deleteByTerm(ctx context.Context, field string, value uint) (int64, error) {
	var buf bytes.Buffer
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{field: value},
		},
	}
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return 0, err
	}

	refresh := true
	req := esapi.DeleteByQueryRequest{
		Index:   []string{s.index},
		Body:    &buf,
		Refresh: &refresh,
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("[ES] 按 %s=%d 删除向量出错: %s", field, value, res.String())
		return 0, fmt.Errorf("delete by query failed: %s", res.Status())
	}

	var out struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode delete response: %w", err)
	}
	return out.Deleted, nil
}
