// Package model 定义网格策略引擎中使用的核心数据结构。
package model

import (
	"math"
	"time"
)

// OrderPlan 下单计划
// 由 OrderSizer 计算得到，交由执行器提交
type OrderPlan struct {
	// ID 计划唯一标识
	ID string
	// Symbol 交易对，如 BNBUSDT
	Symbol string
	// Side 交易方向
	Side Side
	// Style 下单方式: market 或 limit
	Style OrderStyle
	// UnitPrice 单价（limit 为挂单价，market 为参考最新价）
	UnitPrice float64
	// QuoteAmount 名义金额（计价资产）
	QuoteAmount float64
	// BaseAmount 基础资产数量，已按 lot 精度舍入
	BaseAmount float64
	// TriggerPrice 触发本次下单的触发价
	TriggerPrice float64
	// CreatedAt 计划生成时间
	CreatedAt time.Time
}

// FillReport 成交回报
// 由订单执行器返回
type FillReport struct {
	// OrderID 交易所订单标识
	OrderID string
	// Symbol 交易对
	Symbol string
	// Side 交易方向
	Side Side
	// Price 成交均价
	Price float64
	// BaseAmount 成交基础资产数量
	BaseAmount float64
	// QuoteAmount 成交名义金额
	QuoteAmount float64
	// FilledAt 成交时间
	FilledAt time.Time
}

// TradeRecord 成交记录
// 用于持久化与滚动绩效统计
type TradeRecord struct {
	// ID 记录唯一标识
	ID string `json:"id"`
	// Symbol 交易对
	Symbol string `json:"symbol"`
	// Side 交易方向
	Side string `json:"side"`
	// Price 成交均价
	Price float64 `json:"price"`
	// QuoteAmount 名义金额
	QuoteAmount float64 `json:"quote_amount"`
	// BaseAmount 基础资产数量
	BaseAmount float64 `json:"base_amount"`
	// RealizedProfit 已实现盈亏（计价资产，卖出时结算）
	RealizedProfit float64 `json:"realized_profit"`
	// Reason 成交来源: trigger（触发下单）或 liquidation（强制平仓）
	Reason string `json:"reason"`
	// CreatedAt 成交时间
	CreatedAt time.Time `json:"created_at"`
}

// DecisionRecord 决策记录
// 每个交易周期内发生的关键事件（信号、准入拒绝、风控触发）输出一条
type DecisionRecord struct {
	// TsUnixNs 决策时间（纳秒）
	TsUnixNs int64 `json:"ts_unix_ns"`
	// Symbol 交易对
	Symbol string `json:"symbol"`
	// Event 事件类型: signal, order, admission_rejected, risk_floor, risk_auto_close, liquidation
	Event string `json:"event"`
	// Side 交易方向（如适用）
	Side string `json:"side,omitempty"`
	// Price 事件发生时的价格
	Price float64 `json:"price,omitempty"`
	// QuoteAmount 名义金额（如适用）
	QuoteAmount float64 `json:"quote_amount,omitempty"`
	// Reason 事件说明
	Reason string `json:"reason,omitempty"`
}

// RoundDown 按小数位向下舍入
// 用于数量舍入：多余部分直接截断，避免超卖
func RoundDown(v float64, decimals int) float64 {
	if decimals < 0 {
		return v
	}
	pow := math.Pow(10, float64(decimals))
	return math.Floor(v*pow) / pow
}

// RoundNearest 按小数位四舍五入
// 用于价格舍入到 tick 精度
func RoundNearest(v float64, decimals int) float64 {
	if decimals < 0 {
		return v
	}
	pow := math.Pow(10, float64(decimals))
	return math.Round(v*pow) / pow
}
