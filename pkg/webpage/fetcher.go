// Package webpage 抓取网页原文，交给 Tika 提取正文。
package webpage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"ragdesk-go/internal/config"
	"ragdesk-go/pkg/log"
)

var (
	// ErrTooLarge 表示页面超过了配置的大小上限。
	ErrTooLarge = errors.New("page exceeds size limit")
	// ErrBlockedAddress 表示目标解析到了回环、内网、链路本地等不允许访问的地址。
	ErrBlockedAddress = errors.New("address not allowed")
)

const maxRedirects = 5

// Page 是抓取到的页面。
type Page struct {
	URL         string
	ContentType string
	Body        []byte
}

// Fetcher 是带全局限速的网页抓取器。
type Fetcher struct {
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
	maxBytes  int64
}

// NewFetcher 根据配置创建抓取器。
func NewFetcher(cfg config.WebFetchConfig) *Fetcher {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	maxBytes := cfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	rps, burst := cfg.RequestsPerSecond, cfg.Burst
	if rps <= 0 {
		rps = 2
	}
	if burst <= 0 {
		burst = 1
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "ragdesk-go/1.0"
	}
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	if !cfg.AllowPrivateNetworks {
		// 在 DNS 解析之后、建立连接之前检查地址，重定向的每一跳同样经过这里
		dialer.Control = guardAddress
	}
	transport := &http.Transport{
		Proxy:               nil,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
	}
	client := &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("重定向次数超过 %d", maxRedirects)
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return fmt.Errorf("%w: scheme %q", ErrBlockedAddress, req.URL.Scheme)
			}
			return nil
		},
	}
	return &Fetcher{
		http:      client,
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		userAgent: ua,
		maxBytes:  maxBytes,
	}
}

// Fetch 下载页面。非 2xx 状态和超过大小上限都视为失败。
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8")

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("抓取页面失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("页面返回错误状态 [%d]: %s", resp.StatusCode, pageURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("读取页面失败: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, ErrTooLarge
	}
	log.Infof("[WebFetcher] 抓取完成 %s, %d 字节", pageURL, len(body))
	return &Page{URL: pageURL, ContentType: resp.Header.Get("Content-Type"), Body: body}, nil
}

func guardAddress(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, address)
	}
	if !isPublic(ip) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, address)
	}
	return nil
}

var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"), // CGNAT
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("64:ff9b::/96"), // NAT64 可映射到内网 IPv4
}

// isPublic 判断地址是否可以被抓取。
func isPublic(ip netip.Addr) bool {
	ip = ip.Unmap()
	if !ip.IsValid() || ip.IsUnspecified() || ip.IsLoopback() || ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast() ||
		ip.IsMulticast() {
		return false
	}
	for _, p := range blockedPrefixes {
		if p.Contains(ip) {
			return false
		}
	}
	return true
}
