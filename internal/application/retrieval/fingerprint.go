package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint 依次把每段内容写入 SHA-256，返回十六进制摘要。
// 相同的有序内容在任何进程、任何时间得到相同结果。
func Fingerprint(contents []string) string {
	h := sha256.New()
	for _, c := range contents {
		h.Write([]byte(c))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// PageFingerprint 对页内容计算指纹。
func PageFingerprint(pages []Page) string {
	contents := make([]string, len(pages))
	for i, p := range pages {
		contents[i] = p.Content
	}
	return Fingerprint(contents)
}
