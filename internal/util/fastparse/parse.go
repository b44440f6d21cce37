// Package fastparse 提供高性能的字符串解析函数。
// 避免在热路径使用 fmt.Sprintf，使用 strconv 进行转换。
// 主要用于解析交易所消息中的价格、数量与步长字段。
package fastparse

import (
	"strconv"
)

// ParseFloat 快速解析浮点数字符串
// 使用 strconv.ParseFloat 实现，避免 fmt 包的额外开销
// 参数 s: 待解析的字符串，如 "12345.67"
// 返回: 解析后的浮点数和可能的错误
func ParseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
