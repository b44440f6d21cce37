// Package risk 实现保底价与自动平仓风控。
// 两类风控均为一次性闩锁：触发后对应检查失效，直到管理端显式 Reset。
// 触发后的强制平仓序列是本核心中唯一允许错误向上传播的路径。
package risk

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"grid-strategy-engine/internal/config"
	"grid-strategy-engine/internal/core/market"
	"grid-strategy-engine/internal/core/model"
)

// 风控原因代码
// 机器可读的短字符串，便于决策日志与指标聚合；人读消息走告警通道。
const (
	// ReasonAlreadyTriggered 闩锁已触发，检查短路
	ReasonAlreadyTriggered = "already triggered"
	// ReasonFloorReached 价格触及保底价
	ReasonFloorReached = "floor price reached"
	// ReasonProfitTarget 达到止盈目标
	ReasonProfitTarget = "profit target reached"
	// ReasonLossLimit 达到亏损上限
	ReasonLossLimit = "loss limit reached"
	// ReasonPriceDrop 相对基准价跌幅达到阈值
	ReasonPriceDrop = "price drop threshold reached"
	// ReasonMaxHold 持有时间达到上限
	ReasonMaxHold = "max holding duration reached"
)

// LatchState 闩锁状态
type LatchState int

const (
	// Armed 待命，检查正常进行
	Armed LatchState = iota
	// Triggered 已触发，检查退化为空操作
	Triggered
)

// Latch 一次性风控闩锁
type Latch struct {
	// State 当前状态
	State LatchState
	// TriggeredAt 触发时间（仅 Triggered 态有效）
	TriggeredAt time.Time
}

// fire 置为触发态
func (l *Latch) fire(now time.Time) {
	l.State = Triggered
	l.TriggeredAt = now
}

// Controller 风控控制器（单交易对）
type Controller struct {
	// symbol 交易对
	symbol string
	// cfg 策略配置（构造前已通过校验）
	cfg *config.StrategyConfig
	// snapshot 账户与持仓快照
	snapshot market.PositionSnapshot
	// executor 订单执行器（仅强制平仓路径使用）
	executor market.OrderExecutor
	// notifier 告警通道
	notifier market.NotificationSink
	// logger 日志记录器
	logger *zap.Logger

	// basisFn 基准价提供函数（价格跌幅条件使用）
	basisFn func(ctx context.Context) float64
	// now 时钟函数，测试可替换
	now func() time.Time
	// startedAt 策略配置生效时间，持有时长条件的起点
	startedAt time.Time

	// floor 保底价闩锁
	floor Latch
	// autoClose 自动平仓闩锁
	autoClose Latch
	// liquidated 强制平仓序列是否已执行（防止重入）
	liquidated bool
}

// NewController 创建风控控制器
// 参数 basisFn: 基准价提供函数，通常接触发引擎的 Basis
func NewController(symbol string, cfg *config.StrategyConfig, snapshot market.PositionSnapshot, executor market.OrderExecutor, notifier market.NotificationSink, basisFn func(ctx context.Context) float64, logger *zap.Logger) *Controller {
	return &Controller{
		symbol:    symbol,
		cfg:       cfg,
		snapshot:  snapshot,
		executor:  executor,
		notifier:  notifier,
		logger:    logger.Named("risk").With(zap.String("symbol", symbol)),
		basisFn:   basisFn,
		now:       time.Now,
		startedAt: time.Now(),
	}
}

// CheckFloor 评估保底价条件
// 未启用或闩锁已触发时短路为未触发。
// 触发时按配置动作发送告警；仅 stop 动作返回 fired=true（调用方应停止交易），
// alert 动作返回 fired=false（继续交易，但已发出通知）。
func (c *Controller) CheckFloor(currentPrice float64) (bool, string) {
	if !c.cfg.FloorEnabled {
		return false, ""
	}
	if c.floor.State == Triggered {
		return false, ReasonAlreadyTriggered
	}
	if currentPrice > c.cfg.FloorPrice {
		return false, ""
	}

	c.floor.fire(c.now())
	c.logger.Warn("价格触及保底价",
		zap.Float64("price", currentPrice),
		zap.Float64("floor_price", c.cfg.FloorPrice),
		zap.String("action", c.cfg.FloorAction))

	body := fmt.Sprintf("交易对 %s 当前价 %.8g 触及保底价 %.8g，动作: %s",
		c.symbol, currentPrice, c.cfg.FloorPrice, c.cfg.FloorAction)
	c.notifier.Notify(market.SeverityWarn, "保底价触发", body)

	if model.FloorAction(c.cfg.FloorAction) == model.FloorActionStop {
		return true, ReasonFloorReached
	}
	return false, ReasonFloorReached
}

// CheckAutoClose 评估自动平仓条件
// 条件为 OR 关系，按 止盈 → 止损 → 跌幅 → 持有时长 的顺序评估，首个满足者生效；
// 未满足的条件静默跳过。未启用或闩锁已触发时短路为未触发。
func (c *Controller) CheckAutoClose(ctx context.Context, currentPrice float64) (bool, string) {
	if !c.cfg.AutoClose.Enabled() {
		return false, ""
	}
	if c.autoClose.State == Triggered {
		return false, ReasonAlreadyTriggered
	}

	ac := &c.cfg.AutoClose
	profit := c.Profit(ctx)

	var reason string
	switch {
	case ac.ProfitTarget > 0 && profit >= ac.ProfitTarget:
		reason = ReasonProfitTarget
	case ac.LossLimit > 0 && profit <= -ac.LossLimit:
		reason = ReasonLossLimit
	case ac.PriceDropPct > 0 && c.priceDropHit(ctx, currentPrice):
		reason = ReasonPriceDrop
	case ac.MaxHoldMs > 0 && c.now().Sub(c.startedAt) >= time.Duration(ac.MaxHoldMs)*time.Millisecond:
		reason = ReasonMaxHold
	default:
		return false, ""
	}

	c.autoClose.fire(c.now())
	c.logger.Warn("自动平仓条件触发",
		zap.String("reason", reason),
		zap.Float64("profit", profit),
		zap.Float64("price", currentPrice))

	body := fmt.Sprintf("交易对 %s 触发自动平仓: %s（当前价 %.8g，盈亏 %.4f）",
		c.symbol, reason, currentPrice, profit)
	c.notifier.Notify(market.SeverityWarn, "自动平仓触发", body)

	return true, reason
}

// priceDropHit 判断相对基准价的跌幅是否达到阈值
func (c *Controller) priceDropHit(ctx context.Context, currentPrice float64) bool {
	if currentPrice <= 0 || c.basisFn == nil {
		return false
	}
	basis := c.basisFn(ctx)
	if basis <= 0 {
		return false
	}
	return (basis-currentPrice)/basis >= c.cfg.AutoClose.PriceDropPct
}

// Profit 计算当前盈亏
// 公式: 归属权益 − 初始本金。
// 未配置初始本金时按约定退化为 0（文档化的降级，不是错误）；
// 权益读取失败同样退化为 0 并记录日志，风控检查不因行情缺失而失败。
func (c *Controller) Profit(ctx context.Context) float64 {
	if c.cfg.InitialPrincipal <= 0 {
		return 0
	}
	equity, err := c.snapshot.AttributableEquity(ctx, c.symbol)
	if err != nil {
		c.logger.Warn("读取归属权益失败，盈亏按 0 处理", zap.Error(err))
		return 0
	}
	return equity - c.cfg.InitialPrincipal
}

// Reset 管理端复位
// 两个闩锁回到待命态，平仓重入保护同时解除。
func (c *Controller) Reset() {
	c.floor = Latch{}
	c.autoClose = Latch{}
	c.liquidated = false
	c.logger.Info("风控闩锁已复位")
}

// State 获取两个闩锁的当前状态
// 仅用于可观测性输出和测试断言
func (c *Controller) State() (floor, autoClose Latch) {
	return c.floor, c.autoClose
}

// ExecuteLiquidation 执行强制平仓序列
// 先置重入保护，再依次：撤销全部挂单 → 市价卖出全部可用余额 → 发送完成通知。
// 数量低于最小可交易量时跳过卖出（记录日志，不视为错误）。
// 序列中任一步骤失败都会先发出致命告警再向上传播——紧急退出过程中的
// 静默失败是不可接受的。
func (c *Controller) ExecuteLiquidation(ctx context.Context, reason string) error {
	if c.liquidated {
		return nil
	}
	c.liquidated = true

	c.logger.Warn("开始强制平仓", zap.String("reason", reason))

	canceled, err := c.executor.CancelAllOpen(ctx, c.symbol)
	if err != nil {
		return c.fatal("撤销挂单失败", err)
	}
	c.logger.Info("挂单撤销完成", zap.Int("canceled", canceled))

	balance, err := c.snapshot.FreeBaseBalance(ctx, c.symbol)
	if err != nil {
		return c.fatal("读取可用余额失败", err)
	}

	rules := c.snapshot.PrecisionRules(c.symbol)
	amount := model.RoundDown(balance, rules.AmountDecimals)

	var soldAmount, soldPrice float64
	if amount >= rules.MinTradeAmount && amount > 0 {
		fill, err := c.executor.MarketSell(ctx, c.symbol, amount)
		if err != nil {
			return c.fatal("市价卖出失败", err)
		}
		soldAmount = fill.BaseAmount
		soldPrice = fill.Price
	} else {
		c.logger.Info("可用余额低于最小可交易量，跳过卖出",
			zap.Float64("balance", balance),
			zap.Float64("min_trade_amount", rules.MinTradeAmount))
	}

	profit := c.Profit(ctx)
	body := fmt.Sprintf("交易对 %s 强制平仓完成（%s）：卖出 %.8g @ %.8g，已实现盈亏 %.4f",
		c.symbol, reason, soldAmount, soldPrice, profit)
	c.notifier.Notify(market.SeverityInfo, "强制平仓完成", body)

	return nil
}

// fatal 发送致命告警并返回包装后的错误
func (c *Controller) fatal(step string, err error) error {
	c.logger.Error("强制平仓步骤失败", zap.String("step", step), zap.Error(err))
	c.notifier.Notify(market.SeverityFatal, "强制平仓失败",
		fmt.Sprintf("交易对 %s %s: %v，需要人工介入", c.symbol, step, err))
	return fmt.Errorf("%s: %w", step, err)
}
