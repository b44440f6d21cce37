// Package binance 定义 Binance 行情消息类型。
package binance

// SubscribeRequest Binance WebSocket 订阅请求
// 订阅 depth5@100ms 行情流。
type SubscribeRequest struct {
	// Method 订阅方法: SUBSCRIBE
	Method string `json:"method"`
	// Params 订阅参数列表，如 "bnbusdt@depth5@100ms"
	Params []string `json:"params"`
	// ID 请求 ID
	ID int64 `json:"id"`
}

// DepthUpdate Binance 深度推送消息（depthUpdate）
// 字段映射：
// - e: 事件类型（depthUpdate）
// - E: 事件时间（毫秒）
// - s: 交易对（如 BNBUSDT）
// - b: bids [[price, qty], ...]（字符串）
// - a: asks [[price, qty], ...]（字符串）
type DepthUpdate struct {
	// EventType 事件类型: depthUpdate
	EventType string `json:"e"`
	// EventTimeMs 事件时间（毫秒）
	EventTimeMs int64 `json:"E"`
	// Symbol 交易对（大写）
	Symbol string `json:"s"`
	// Bids 买盘档位（价格、数量）
	Bids [][]string `json:"b"`
	// Asks 卖盘档位（价格、数量）
	Asks [][]string `json:"a"`
}

// BookSnapshot 缓存的 5 档盘口快照
// Bids 按价格从高到低、Asks 按价格从低到高排列（与交易所推送一致）。
type BookSnapshot struct {
	// Symbol 交易对
	Symbol string
	// Bids 买盘价格，bid1 在前
	Bids []float64
	// Asks 卖盘价格，ask1 在前
	Asks []float64
	// EventTimeMs 交易所事件时间（毫秒）
	EventTimeMs int64
	// UpdatedAtNs 本地接收时间（纳秒）
	UpdatedAtNs int64
}

// ConnectionMetrics 连接质量指标
type ConnectionMetrics struct {
	// ReconnectCount 重连次数
	ReconnectCount int64
	// ParseErrorCount 解析错误次数
	ParseErrorCount int64
	// UpdatesPerSec 每秒更新次数
	UpdatesPerSec float64
	// LastMessageAgeMs 最后消息距今时间（毫秒）
	LastMessageAgeMs int64
}
