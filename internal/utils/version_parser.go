package utils

import (
	"regexp"
	"strings"
)

// VersionParser 从服务 banner 中提取版本号
type VersionParser struct {
	underscore *regexp.Regexp
	digits     *regexp.Regexp
}

func NewVersionParser() *VersionParser {
	return &VersionParser{
		underscore: regexp.MustCompile(`_v?(\d+(?:\.\d+)*)`),
		digits:     regexp.MustCompile(`[\d\.]+`),
	}
}

// BannerVersion 提取 "/" 之后到下一个空白字符之间的版本号，
// 例如 "nginx/1.18.0 (Ubuntu)" -> "1.18.0"。
// 没有 "/" 时尝试 OpenSSH 风格的 "_8.9p1"。
func (vp *VersionParser) BannerVersion(banner string) string {
	if idx := strings.Index(banner, "/"); idx > 0 && idx < len(banner)-1 {
		rest := banner[idx+1:]
		if end := strings.IndexAny(rest, " \t\r\n"); end > 0 {
			return vp.NormalizeVersion(rest[:end])
		} else if end < 0 {
			return vp.NormalizeVersion(rest)
		}
	}

	if m := vp.underscore.FindStringSubmatch(banner); len(m) == 2 {
		return m[1]
	}

	return ""
}

// NormalizeVersion 标准化版本号
func (vp *VersionParser) NormalizeVersion(version string) string {
	version = strings.TrimSpace(version)
	version = strings.TrimPrefix(version, "v")
	version = strings.TrimPrefix(version, "V")
	version = strings.TrimSpace(version)

	// 提取数字和点号
	if match := vp.digits.FindString(version); match != "" {
		return strings.Trim(match, ".")
	}

	return version
}
