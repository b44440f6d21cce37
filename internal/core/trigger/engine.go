// Package trigger 实现网格触发检测。
// 根据基准价策略计算买卖触发价，产生基础买卖信号；
// 启用高级模式时以回落卖出/反弹买入的小型状态机提供滞回。
package trigger

import (
	"context"

	"go.uber.org/zap"

	"grid-strategy-engine/internal/config"
	"grid-strategy-engine/internal/core/market"
	"grid-strategy-engine/internal/core/model"
)

// dirState 单方向的监控状态
// 状态机只有 idle / monitoring 两态，转移完全由价格比较驱动
type dirState struct {
	// monitoring 是否处于监控态（价格已越过触发价）
	monitoring bool
	// extremum 监控期间的运行极值
	// 卖出方向记录最高价，买入方向记录最低价
	extremum float64
}

// Engine 触发引擎（单交易对）
// 每个交易对应创建独立实例，状态不跨交易对共享。
type Engine struct {
	// symbol 交易对
	symbol string
	// cfg 策略配置（构造前已通过校验）
	cfg *config.StrategyConfig
	// source 行情数据源
	source market.MarketDataSource
	// logger 日志记录器
	logger *zap.Logger

	// basis 当前基准价
	basis float64
	// sellTrigger 卖出触发价
	sellTrigger float64
	// buyTrigger 买入触发价
	buyTrigger float64

	// sell 卖出方向（回落）监控状态
	sell dirState
	// buy 买入方向（反弹）监控状态
	buy dirState

	// lastPrice 最近一次成功获取的价格，用于数据缺失时降级
	lastPrice float64
}

// NewEngine 创建触发引擎
// 参数 symbol: 交易对
// 参数 cfg: 已校验的策略配置
// 参数 source: 行情数据源
// 参数 logger: 日志记录器
func NewEngine(symbol string, cfg *config.StrategyConfig, source market.MarketDataSource, logger *zap.Logger) *Engine {
	return &Engine{
		symbol: symbol,
		cfg:    cfg,
		source: source,
		logger: logger.Named("trigger").With(zap.String("symbol", symbol)),
	}
}

// BasisPrice 解析当前基准价
// manual 返回配置常量；current 取最新成交价；cost 取持仓成本价；
// trailing-average 取最近 24 根小时线收盘价的算术平均。
// 行情缺失时降级到最新价或上一次已知价格并记录日志，绝不使周期失败。
func (e *Engine) BasisPrice(ctx context.Context) float64 {
	switch model.BasisPolicy(e.cfg.BasisPolicy) {
	case model.BasisManual:
		return e.cfg.ManualBasis
	case model.BasisCost:
		return e.cfg.EntryPrice
	case model.BasisTrailingAverage:
		closes, err := e.source.RecentHourlyCloses(ctx, e.symbol, 24)
		if err != nil || len(closes) < 1 {
			// 降级：样本不足时退化为最新价
			e.logger.Warn("小时线样本不足，基准价降级为最新价", zap.Error(err), zap.Int("samples", len(closes)))
			return e.currentPrice(ctx)
		}
		var sum float64
		for _, px := range closes {
			sum += px
		}
		return sum / float64(len(closes))
	case model.BasisCurrent:
		return e.currentPrice(ctx)
	}
	// 配置在构造前已校验，不会落到这里
	return e.currentPrice(ctx)
}

// currentPrice 获取最新价，失败时降级为上一次已知价格
func (e *Engine) currentPrice(ctx context.Context) float64 {
	px, err := e.source.LatestPrice(ctx, e.symbol)
	if err != nil || px <= 0 {
		e.logger.Warn("获取最新价失败，使用上一次已知价格", zap.Error(err), zap.Float64("last_price", e.lastPrice))
		return e.lastPrice
	}
	e.lastPrice = px
	return px
}

// ComputeLevels 重新计算买卖触发价
// 基准价在 current / trailing-average 策略下会随行情移动，每个周期都应调用。
// 返回: (卖出触发价, 买入触发价)
func (e *Engine) ComputeLevels(ctx context.Context) (float64, float64) {
	e.basis = e.BasisPrice(ctx)

	switch model.TriggerMode(e.cfg.TriggerMode) {
	case model.TriggerModeAbsolute:
		e.sellTrigger = e.basis + e.cfg.RiseThreshold
		e.buyTrigger = e.basis - e.cfg.FallThreshold
	default: // percent
		e.sellTrigger = e.basis * (1 + e.cfg.RiseThreshold)
		e.buyTrigger = e.basis * (1 - e.cfg.FallThreshold)
	}
	return e.sellTrigger, e.buyTrigger
}

// Basis 获取当前基准价（最近一次 ComputeLevels 的结果）
func (e *Engine) Basis() float64 {
	return e.basis
}

// Levels 获取当前触发价
// 返回: (卖出触发价, 买入触发价)
func (e *Engine) Levels() (float64, float64) {
	return e.sellTrigger, e.buyTrigger
}

// InRange 判断价格是否在可信区间内
// 超出 [price_min, price_max] 的价格视为不可信，调用方应跳过本周期评估；
// 这不是错误，只是策略层面的保护。
func (e *Engine) InRange(price float64) bool {
	if price <= 0 {
		return false
	}
	if e.cfg.PriceMin > 0 && price < e.cfg.PriceMin {
		return false
	}
	if e.cfg.PriceMax > 0 && price > e.cfg.PriceMax {
		return false
	}
	return true
}

// EvaluateSell 评估是否触发卖出
// 基础模式：price ≥ 卖出触发价即触发，无滞回，条件持续成立则每周期都触发，
// 重复下单的去重由订单执行侧负责。
// 回落模式：价格越过触发价后进入监控态并跟踪运行最高价，
// 仅当价格自最高价回落 pullback_pct 时触发；触发后清空最高价并退出监控；
// 若价格未触发即回落到触发价以下，则重置监控态（不产生信号）。
func (e *Engine) EvaluateSell(price float64) bool {
	if price <= 0 {
		return false
	}
	// 触发价未计算或基准退化为 0 时不出信号，
	// 否则任意正价格都会满足 price >= 0 直接触发卖出
	if e.sellTrigger <= 0 {
		return false
	}

	if !e.cfg.PullbackEnabled {
		return price >= e.sellTrigger
	}

	if !e.sell.monitoring {
		if price >= e.sellTrigger {
			e.sell.monitoring = true
			e.sell.extremum = price
		}
		return false
	}

	// 价格跌回触发价以下：重置，不出信号
	if price < e.sellTrigger {
		e.sell = dirState{}
		return false
	}

	if price > e.sell.extremum {
		e.sell.extremum = price
	}

	if price <= e.sell.extremum*(1-e.cfg.PullbackPct) {
		e.sell = dirState{}
		return true
	}
	return false
}

// EvaluateBuy 评估是否触发买入
// 基础模式：price ≤ 买入触发价即触发。
// 反弹模式为回落卖出的镜像：跟踪运行最低价，
// 价格自最低价反弹 rebound_pct 时触发。
func (e *Engine) EvaluateBuy(price float64) bool {
	if price <= 0 {
		return false
	}
	// 与 EvaluateSell 同理，触发价为 0 时视为未就绪
	if e.buyTrigger <= 0 {
		return false
	}

	if !e.cfg.ReboundEnabled {
		return price <= e.buyTrigger
	}

	if !e.buy.monitoring {
		if price <= e.buyTrigger {
			e.buy.monitoring = true
			e.buy.extremum = price
		}
		return false
	}

	// 价格涨回触发价以上：重置，不出信号
	if price > e.buyTrigger {
		e.buy = dirState{}
		return false
	}

	if price < e.buy.extremum {
		e.buy.extremum = price
	}

	if price >= e.buy.extremum*(1+e.cfg.ReboundPct) {
		e.buy = dirState{}
		return true
	}
	return false
}

// Monitoring 获取两个方向的监控状态与运行极值
// 仅用于可观测性输出和测试断言
func (e *Engine) Monitoring() (sellActive bool, highestSeen float64, buyActive bool, lowestSeen float64) {
	return e.sell.monitoring, e.sell.extremum, e.buy.monitoring, e.buy.extremum
}
