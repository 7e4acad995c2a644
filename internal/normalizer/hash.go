package normalizer

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// ContentHash 返回内容的 SHA-256 十六进制摘要。
func ContentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ContentHashString 是 ContentHash 的字符串版本。
func ContentHashString(s string) string {
	return ContentHash([]byte(s))
}

// HashReader 边读边算摘要，适合大文件上传。
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DedupKey 返回文档的去重键：URL 来源取规范化 URL 的摘要，文件来源用内容哈希。
// 键长固定，可直接建索引或用作 Redis 锁名。
func DedupKey(canonical, contentHash string) string {
	if canonical != "" {
		return "url:" + ContentHashString(canonical)
	}
	return "hash:" + contentHash
}
