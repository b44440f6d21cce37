// Package metadata 负责从交易所获取交易对元数据并解析精度规则。
package metadata

// ExchangeInfoResponse Binance /api/v3/exchangeInfo 响应
type ExchangeInfoResponse struct {
	// Symbols 交易对列表
	Symbols []SymbolInfo `json:"symbols"`
}

// SymbolInfo 单个交易对的元数据
type SymbolInfo struct {
	// Symbol 交易对（大写），如 BNBUSDT
	Symbol string `json:"symbol"`
	// Status 交易状态: TRADING 为可交易
	Status string `json:"status"`
	// BaseAsset 基础资产，如 BNB
	BaseAsset string `json:"baseAsset"`
	// QuoteAsset 计价资产，如 USDT
	QuoteAsset string `json:"quoteAsset"`
	// Filters 交易约束列表
	Filters []SymbolFilter `json:"filters"`
}

// SymbolFilter 交易约束
// 只使用 PRICE_FILTER 与 LOT_SIZE 两类，其余字段忽略。
type SymbolFilter struct {
	// FilterType 约束类型: PRICE_FILTER, LOT_SIZE 等
	FilterType string `json:"filterType"`
	// TickSize 最小价格变动单位（PRICE_FILTER）
	TickSize string `json:"tickSize,omitempty"`
	// StepSize 最小数量变动单位（LOT_SIZE）
	StepSize string `json:"stepSize,omitempty"`
	// MinQty 最小交易数量（LOT_SIZE）
	MinQty string `json:"minQty,omitempty"`
}
