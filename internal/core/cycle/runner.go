// Package cycle 实现每交易对的交易周期驱动。
// 每个交易对一个协程，按固定间隔执行：行情 → 风控 → 触发 → 下单金额 →
// 准入 → 执行 → 记账。交易对之间仅通过共享的资金分配器耦合。
package cycle

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"grid-strategy-engine/internal/config"
	"grid-strategy-engine/internal/core/alloc"
	"grid-strategy-engine/internal/core/market"
	"grid-strategy-engine/internal/core/model"
	"grid-strategy-engine/internal/core/risk"
	"grid-strategy-engine/internal/core/sizer"
	"grid-strategy-engine/internal/core/trigger"
	"grid-strategy-engine/internal/metrics"
	"grid-strategy-engine/internal/output/jsonl"
	"grid-strategy-engine/internal/stats/perf"
	"grid-strategy-engine/internal/store"
	"grid-strategy-engine/internal/util/timeutil"
)

// Runner 单交易对周期驱动器
type Runner struct {
	// symbol 交易对
	symbol string
	// cfg 策略配置
	cfg *config.StrategyConfig
	// trigger 触发引擎
	trigger *trigger.Engine
	// sizer 订单计算器
	sizer *sizer.Sizer
	// risk 风控控制器
	risk *risk.Controller
	// alloc 共享资金分配器
	alloc *alloc.Allocator
	// executor 订单执行器
	executor market.OrderExecutor
	// source 行情数据源
	source market.MarketDataSource
	// snapshot 账户与持仓快照
	snapshot market.PositionSnapshot
	// perf 滚动绩效追踪器
	perf *perf.Tracker
	// repo 成交记录仓库（可为 nil）
	repo store.Repository
	// recorder 决策日志记录器（可为 nil）
	recorder *jsonl.Recorder
	// logger 日志记录器
	logger *zap.Logger

	// interval 周期间隔
	interval time.Duration
	// halted 是否已停止交易（风控停止或强平后置位）
	halted bool
}

// Deps 驱动器依赖集合
type Deps struct {
	Trigger  *trigger.Engine
	Sizer    *sizer.Sizer
	Risk     *risk.Controller
	Alloc    *alloc.Allocator
	Executor market.OrderExecutor
	Source   market.MarketDataSource
	Snapshot market.PositionSnapshot
	Perf     *perf.Tracker
	Repo     store.Repository
	Recorder *jsonl.Recorder
}

// NewRunner 创建周期驱动器
func NewRunner(symbol string, cfg *config.StrategyConfig, interval time.Duration, deps Deps, logger *zap.Logger) *Runner {
	return &Runner{
		symbol:   symbol,
		cfg:      cfg,
		trigger:  deps.Trigger,
		sizer:    deps.Sizer,
		risk:     deps.Risk,
		alloc:    deps.Alloc,
		executor: deps.Executor,
		source:   deps.Source,
		snapshot: deps.Snapshot,
		perf:     deps.Perf,
		repo:     deps.Repo,
		recorder: deps.Recorder,
		logger:   logger.Named("cycle").With(zap.String("symbol", symbol)),
		interval: interval,
	}
}

// Run 启动周期循环
// 收到取消信号或风控停止交易后返回。
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("周期循环启动", zap.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("周期循环退出")
			return
		case <-ticker.C:
			r.Step(ctx)
			if r.halted {
				r.logger.Warn("交易已停止，周期循环退出")
				return
			}
		}
	}
}

// Halted 是否已停止交易
func (r *Runner) Halted() bool {
	return r.halted
}

// Step 执行一个交易周期
// 周期内各操作严格顺序执行；行情缺失直接跳过本周期。
func (r *Runner) Step(ctx context.Context) {
	price, err := r.source.LatestPrice(ctx, r.symbol)
	if err != nil || price <= 0 {
		r.logger.Debug("最新价不可用，跳过本周期", zap.Error(err))
		return
	}

	// 风控独立于触发评估，可短路整个周期；
	// 必须先于可信区间检查执行，否则价格跳空跌出区间时保底/自动平仓失效
	if r.stepRisk(ctx, price) {
		return
	}

	// 价格可信区间保护，只约束信号评估与下单
	if !r.trigger.InRange(price) {
		r.logger.Debug("价格超出可信区间，跳过本周期", zap.Float64("price", price))
		return
	}

	// 基准价随行情移动，每个周期重算触发价
	sellTrigger, buyTrigger := r.trigger.ComputeLevels(ctx)

	if r.trigger.EvaluateSell(price) {
		r.record(model.DecisionRecord{
			TsUnixNs: timeutil.NowNano(), Symbol: r.symbol, Event: "signal",
			Side: string(model.SideSell), Price: price,
		})
		metrics.IncSignal(r.symbol, string(model.SideSell))
		r.execute(ctx, model.SideSell, sellTrigger, price)
		return
	}

	if r.trigger.EvaluateBuy(price) {
		r.record(model.DecisionRecord{
			TsUnixNs: timeutil.NowNano(), Symbol: r.symbol, Event: "signal",
			Side: string(model.SideBuy), Price: price,
		})
		metrics.IncSignal(r.symbol, string(model.SideBuy))
		r.execute(ctx, model.SideBuy, buyTrigger, price)
	}
}

// stepRisk 执行风控检查
// 返回 true 表示本周期被风控短路
func (r *Runner) stepRisk(ctx context.Context, price float64) bool {
	if fired, reason := r.risk.CheckFloor(price); fired {
		// 仅 stop 动作传播 fired=true：停止交易
		metrics.IncRiskTrigger(r.symbol, "floor")
		r.record(model.DecisionRecord{
			TsUnixNs: timeutil.NowNano(), Symbol: r.symbol, Event: "risk_floor",
			Price: price, Reason: reason,
		})
		r.halted = true
		return true
	}

	if fired, reason := r.risk.CheckAutoClose(ctx, price); fired {
		metrics.IncRiskTrigger(r.symbol, "auto_close")
		r.record(model.DecisionRecord{
			TsUnixNs: timeutil.NowNano(), Symbol: r.symbol, Event: "risk_auto_close",
			Price: price, Reason: reason,
		})
		if err := r.risk.ExecuteLiquidation(ctx, reason); err != nil {
			// 强平失败已发致命告警，这里只记录后停止
			r.logger.Error("强制平仓失败", zap.Error(err))
		} else {
			metrics.IncLiquidation(r.symbol)
			r.record(model.DecisionRecord{
				TsUnixNs: timeutil.NowNano(), Symbol: r.symbol, Event: "liquidation",
				Price: price, Reason: reason,
			})
		}
		r.halted = true
		return true
	}

	return false
}

// execute 执行一笔触发信号产生的交易
func (r *Runner) execute(ctx context.Context, side model.Side, triggerPrice, price float64) {
	if !r.positionAllows(ctx, side) {
		return
	}

	plan, err := r.sizer.Prepare(ctx, side, triggerPrice)
	if err != nil {
		r.logger.Warn("组装下单计划失败", zap.Error(err))
		return
	}

	rules := r.snapshot.PrecisionRules(r.symbol)
	if plan.BaseAmount < rules.MinTradeAmount || plan.BaseAmount <= 0 {
		r.logger.Info("下单数量低于最小可交易量，跳过",
			zap.Float64("base_amount", plan.BaseAmount),
			zap.Float64("min_trade_amount", rules.MinTradeAmount))
		return
	}

	// 准入拒绝是正常控制流：跳过本周期，仅记 debug 日志，不告警
	allowed, reason := r.alloc.CheckTradeAllowed(ctx, r.symbol, plan.QuoteAmount, side)
	if !allowed {
		metrics.IncAdmissionRejected(r.symbol, reason)
		r.record(model.DecisionRecord{
			TsUnixNs: timeutil.NowNano(), Symbol: r.symbol, Event: "admission_rejected",
			Side: string(side), QuoteAmount: plan.QuoteAmount, Reason: reason,
		})
		r.logger.Debug("准入拒绝", zap.String("side", string(side)),
			zap.Float64("notional", plan.QuoteAmount), zap.String("reason", reason))
		return
	}

	fill, err := r.executor.PlaceOrder(ctx, plan)
	if err != nil {
		r.logger.Warn("下单失败", zap.String("side", string(side)), zap.Error(err))
		return
	}

	r.alloc.RecordTrade(r.symbol, fill.QuoteAmount, side)
	metrics.IncOrder(r.symbol, string(side))

	realized := 0.0
	if side == model.SideSell && r.cfg.EntryPrice > 0 {
		realized = (fill.Price - r.cfg.EntryPrice) * fill.BaseAmount
		r.perf.Add(r.symbol, realized)
	}

	if r.repo != nil {
		rec := model.TradeRecord{
			ID:             uuid.NewString(),
			Symbol:         r.symbol,
			Side:           string(side),
			Price:          fill.Price,
			QuoteAmount:    fill.QuoteAmount,
			BaseAmount:     fill.BaseAmount,
			RealizedProfit: realized,
			Reason:         "trigger",
			CreatedAt:      time.Now(),
		}
		if err := r.repo.InsertTrade(ctx, rec); err != nil {
			r.logger.Warn("成交记录写入失败", zap.Error(err))
		}
	}

	r.record(model.DecisionRecord{
		TsUnixNs: timeutil.NowNano(), Symbol: r.symbol, Event: "order",
		Side: string(side), Price: fill.Price, QuoteAmount: fill.QuoteAmount,
	})
	r.logger.Info("下单完成",
		zap.String("side", string(side)),
		zap.Float64("price", fill.Price),
		zap.Float64("quote_amount", fill.QuoteAmount),
		zap.Float64("trigger_price", triggerPrice),
		zap.Float64("market_price", price))
}

// positionAllows 检查持仓边界
// 达到持仓上限不再买入，低于持仓下限不再卖出
func (r *Runner) positionAllows(ctx context.Context, side model.Side) bool {
	balance, err := r.snapshot.FreeBaseBalance(ctx, r.symbol)
	if err != nil {
		r.logger.Warn("读取持仓失败，跳过本周期", zap.Error(err))
		return false
	}

	switch side {
	case model.SideBuy:
		if r.cfg.MaxPosition > 0 && balance >= r.cfg.MaxPosition {
			r.logger.Debug("持仓达到上限，跳过买入", zap.Float64("balance", balance))
			return false
		}
	case model.SideSell:
		if balance <= r.cfg.MinPosition {
			r.logger.Debug("持仓低于下限，跳过卖出", zap.Float64("balance", balance))
			return false
		}
	}
	return true
}

// record 输出一条决策记录
func (r *Runner) record(rec model.DecisionRecord) {
	if r.recorder == nil {
		return
	}
	_ = r.recorder.Record(rec)
}

// SnapshotUsage 基于持仓快照的实时占用数据源
// 实际占用 ≈ 可用基础资产 × 最新价，用于分配器的全局上限检查。
type SnapshotUsage struct {
	// Source 行情数据源
	Source market.MarketDataSource
	// Snapshot 账户与持仓快照
	Snapshot market.PositionSnapshot
}

// LiveUsage 现算交易对占用的资金
func (s *SnapshotUsage) LiveUsage(ctx context.Context, symbol string) (float64, error) {
	balance, err := s.Snapshot.FreeBaseBalance(ctx, symbol)
	if err != nil {
		return 0, err
	}
	price, err := s.Source.LatestPrice(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return balance * price, nil
}
