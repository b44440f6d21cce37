// Package market 定义决策核心依赖的协作方接口。
// 行情、持仓快照、订单执行与告警均通过这些接口注入，核心组件自身不做网络 I/O。
package market

import (
	"context"

	"grid-strategy-engine/internal/core/model"
)

// MarketDataSource 行情数据源
// 实现方负责重试与降级；调用方在数据缺失时走自身的回退逻辑，不中断周期。
type MarketDataSource interface {
	// LatestPrice 获取最新成交价
	LatestPrice(ctx context.Context, symbol string) (float64, error)
	// OrderBookLevel 获取盘口指定档位的价格
	// 参数 side: buy 取 bidN，sell 取 askN
	// 参数 level: 档位序号，1-5
	OrderBookLevel(ctx context.Context, symbol string, side model.Side, level int) (float64, error)
	// RecentHourlyCloses 获取最近 count 根小时线的收盘价
	// 返回的切片可能短于 count；不足时由调用方降级处理
	RecentHourlyCloses(ctx context.Context, symbol string, count int) ([]float64, error)
}

// PositionSnapshot 账户与持仓快照
type PositionSnapshot interface {
	// AttributableEquity 获取归属于该交易对策略的权益（计价资产）
	AttributableEquity(ctx context.Context, symbol string) (float64, error)
	// FreeBaseBalance 获取可用基础资产余额
	FreeBaseBalance(ctx context.Context, symbol string) (float64, error)
	// PrecisionRules 获取交易对精度规则
	PrecisionRules(symbol string) model.PrecisionRules
}

// OrderExecutor 订单执行器
type OrderExecutor interface {
	// PlaceOrder 提交触发信号产生的订单
	PlaceOrder(ctx context.Context, plan *model.OrderPlan) (*model.FillReport, error)
	// CancelAllOpen 撤销该交易对全部未成交挂单
	// 实现方应容忍单笔撤单失败（记录日志后继续），返回成功撤销的数量；
	// 仅在整体操作无法进行时返回错误。
	CancelAllOpen(ctx context.Context, symbol string) (int, error)
	// MarketSell 市价卖出指定数量的基础资产
	MarketSell(ctx context.Context, symbol string, baseAmount float64) (*model.FillReport, error)
}

// Severity 告警级别
type Severity string

const (
	// SeverityInfo 普通通知
	SeverityInfo Severity = "info"
	// SeverityWarn 警告
	SeverityWarn Severity = "warn"
	// SeverityFatal 致命告警，需要人工介入
	SeverityFatal Severity = "fatal"
)

// NotificationSink 告警通道
// Notify 为 fire-and-forget 语义：发送失败由实现方记录日志，绝不向调用方传播。
type NotificationSink interface {
	Notify(severity Severity, title, body string)
}
