// Package transcript 提供视频字幕服务的客户端，用于获取 YouTube 视频的文字稿。
package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ragdesk-go/internal/config"
)

// ErrNoTranscript 表示视频没有可用字幕。
var ErrNoTranscript = errors.New("no transcript available")

// Segment 是一段带时间轴的字幕。
type Segment struct {
	Text     string  `json:"text"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// Transcript 是视频的完整字幕。
type Transcript struct {
	VideoID  string    `json:"video_id"`
	Title    string    `json:"title"`
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

// Text 把字幕片段拼接为纯文本，每段一行。
func (t Transcript) Text() string {
	var b strings.Builder
	for _, s := range t.Segments {
		line := strings.TrimSpace(s.Text)
		if line == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	return b.String()
}

// Client 是字幕服务的 HTTP 客户端。
type Client struct {
	cfg  config.TranscriptConfig
	http *http.Client
}

// NewClient 创建一个新的字幕客户端。
func NewClient(cfg config.TranscriptConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: timeout}}
}

// Fetch 获取指定视频的字幕。
func (c *Client) Fetch(ctx context.Context, videoID string) (*Transcript, error) {
	q := url.Values{}
	q.Set("video_id", videoID)
	if c.cfg.Language != "" {
		q.Set("lang", c.cfg.Language)
	}
	endpoint := strings.TrimRight(c.cfg.ServerURL, "/") + "/transcripts?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("创建字幕请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("调用字幕服务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoTranscript
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("字幕服务返回错误 [%d]: %s", resp.StatusCode, string(body))
	}

	var t Transcript
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return nil, fmt.Errorf("解析字幕响应失败: %w", err)
	}
	if len(t.Segments) == 0 {
		return nil, ErrNoTranscript
	}
	if t.VideoID == "" {
		t.VideoID = videoID
	}
	return &t, nil
}
