// Package normalizer 把用户提交的 URL 规范化为稳定的字符串，并计算内容哈希，
// 用于在昂贵的处理流程开始前识别重复提交。
package normalizer

import (
	"encoding/json"
	"net"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// Kind 是规范化结果的类型。
type Kind string

const (
	KindYouTube Kind = "youtube"
	KindWeb     Kind = "web"
	KindInvalid Kind = "invalid"
)

// Result 是 Normalize 的返回值。Kind 为 invalid 时 Canonical 为空。
type Result struct {
	Canonical string
	Kind      Kind
}

// Valid 报告结果是否可用。
func (r Result) Valid() bool { return r.Kind != KindInvalid }

// MarshalJSON 输出 {"normalized": string|null, "type": ...}。
func (r Result) MarshalJSON() ([]byte, error) {
	var normalized *string
	if r.Kind != KindInvalid {
		normalized = &r.Canonical
	}
	return json.Marshal(struct {
		Normalized *string `json:"normalized"`
		Type       Kind    `json:"type"`
	}{normalized, r.Kind})
}

var invalid = Result{Kind: KindInvalid}

const youtubeWatchURL = "https://youtube.com/watch?v="

var (
	videoID = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

	youtubeHosts = map[string]bool{
		"youtube.com":              true,
		"www.youtube.com":          true,
		"m.youtube.com":            true,
		"music.youtube.com":        true,
		"youtube-nocookie.com":     true,
		"www.youtube-nocookie.com": true,
	}

	// 路径形如 /<prefix>/<id> 的视频链接
	idPathPrefixes = []string{"embed", "shorts", "v", "live"}

	trackingParams = map[string]bool{
		"fbclid":  true,
		"gclid":   true,
		"dclid":   true,
		"msclkid": true,
		"mc_cid":  true,
		"mc_eid":  true,
		"igshid":  true,
		"_ga":     true,
		"_gl":     true,
		"ref":     true,
		"ref_src": true,
		"yclid":   true,
	}
)

// IsSupportedScheme 只接受 http 和 https。
func IsSupportedScheme(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return true
	default:
		return false
	}
}

// Normalize 把视频或网页 URL 转为规范形式。人眼看来指向同一资源的两个 URL
// 必须得到完全相同的结果。
func Normalize(raw string) Result {
	raw = strings.TrimSpace(raw)
	if !IsSupportedScheme(raw) {
		return invalid
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return invalid
	}
	host := strings.ToLower(u.Hostname())

	if host == "youtu.be" || youtubeHosts[host] {
		id, ok := extractVideoID(host, u)
		if !ok {
			return invalid
		}
		return Result{Canonical: youtubeWatchURL + id, Kind: KindYouTube}
	}
	return Result{Canonical: normalizeWeb(u, host), Kind: KindWeb}
}

func extractVideoID(host string, u *url.URL) (string, bool) {
	segments := pathSegments(u.Path)
	query := u.Query()

	var candidate string
	switch {
	case host == "youtu.be":
		if len(segments) > 0 {
			candidate = segments[0]
		}
	case len(segments) == 1 && segments[0] == "watch":
		candidate = query.Get("v")
	case len(segments) >= 2 && hasIDPrefix(segments[0]):
		candidate = segments[1]
	}
	if videoID.MatchString(candidate) {
		return candidate, true
	}

	// 兜底：v 参数或最后一段路径
	if v := query.Get("v"); videoID.MatchString(v) {
		return v, true
	}
	if len(segments) > 0 && videoID.MatchString(segments[len(segments)-1]) {
		return segments[len(segments)-1], true
	}
	return "", false
}

func hasIDPrefix(segment string) bool {
	for _, p := range idPathPrefixes {
		if segment == p {
			return true
		}
	}
	return false
}

func pathSegments(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func normalizeWeb(u *url.URL, host string) string {
	scheme := strings.ToLower(u.Scheme)
	host = strings.TrimPrefix(host, "www.")
	if port := u.Port(); port != "" && !isDefaultPort(scheme, port) {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	// 保留原始转义，/a%2Fb 与 /a/b 是不同资源
	path := strings.TrimRight(u.EscapedPath(), "/")
	if path == "" {
		path = "/"
	}

	out := scheme + "://" + host + path
	if q := normalizeQuery(u.RawQuery); q != "" {
		out += "?" + q
	}
	return out
}

// normalizeQuery 去掉跟踪参数并按 key 排序。
// 无法按标准格式解析的查询串（如 ; 分隔、非法 % 转义）按原始文本处理，不丢弃任何参数。
func normalizeQuery(raw string) string {
	if raw == "" {
		return ""
	}
	query, err := url.ParseQuery(raw)
	if err == nil {
		for key := range query {
			if isTrackingParam(key) {
				query.Del(key)
			}
		}
		return query.Encode() // Encode 按 key 排序
	}

	type pair struct{ key, raw string }
	var pairs []pair
	for _, p := range strings.Split(raw, "&") {
		if p == "" {
			continue
		}
		key, _, _ := strings.Cut(p, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if isTrackingParam(key) {
			continue
		}
		pairs = append(pairs, pair{key: key, raw: p})
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.raw
	}
	return strings.Join(parts, "&")
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}

func isTrackingParam(key string) bool {
	k := strings.ToLower(key)
	return strings.HasPrefix(k, "utm_") || trackingParams[k]
}
