// Package alloc 实现跨交易对的资金分配与准入控制。
// 一个进程仅持有一个 Allocator 实例，所有交易对的周期协程共享引用。
//
// 注意：CheckTradeAllowed 与 RecordTrade 是两次独立加锁的调用，二者之间
// 不构成原子事务——两个交易对的周期在检查与记账之间交错时，合计占用可能
// 短暂越过全局上限。这是沿用的既有行为（额度是记账口径而非硬约束），
// 收紧需要把检查与记账合并到同一临界区。
package alloc

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"grid-strategy-engine/internal/core/model"
)

// 准入拒绝原因代码
const (
	// ReasonPerSymbolLimit 超出单交易对额度
	ReasonPerSymbolLimit = "per-symbol limit exceeded"
	// ReasonGlobalLimit 超出全局资金使用率上限
	ReasonGlobalLimit = "global usage limit exceeded"
	// ReasonUnknownSymbol 交易对未注册
	ReasonUnknownSymbol = "symbol not registered"
)

// 动态策略绩效分的钳制范围
// 防止单个交易对的短期表现导致额度剧烈迁移
const (
	scoreFloor = 0.5
	scoreCeil  = 2.0
)

// UsageSource 实时占用数据源
// 全局上限检查使用从账户/持仓现算的占用金额，而非分配器自身的记账字段。
type UsageSource interface {
	// LiveUsage 获取交易对当前实际占用的资金（计价资产）
	LiveUsage(ctx context.Context, symbol string) (float64, error)
}

// PerformanceSource 绩效数据源（动态策略再平衡使用）
type PerformanceSource interface {
	// TrailingProfit 获取交易对滚动窗口内的已实现盈亏
	TrailingProfit(symbol string) float64
}

// Record 单交易对的分配记录
// 仅分配器自身修改；对外暴露的是拷贝出的快照。
type Record struct {
	// Symbol 交易对
	Symbol string
	// Allocated 分配额度（计价资产）
	Allocated float64
	// Used 当前记账占用
	// 记账口径：竞态下可能短暂越过 Allocated，不做硬钳制
	Used float64
	// Score 绩效分（仅动态策略维护）
	Score float64
}

// UsageRatio 计算额度使用率
func (r *Record) UsageRatio() float64 {
	if r.Allocated <= 0 {
		return 0
	}
	return r.Used / r.Allocated
}

// Available 计算剩余可用额度
func (r *Record) Available() float64 {
	avail := r.Allocated - r.Used
	if avail < 0 {
		return 0
	}
	return avail
}

// Allocator 资金分配器
// 纯记账与仲裁组件，自身没有状态机；方法级并发安全。
type Allocator struct {
	// totalCapital 总资金
	totalCapital float64
	// strategy 分配策略
	strategy model.AllocationStrategy
	// maxGlobalRatio 全局资金使用率上限
	maxGlobalRatio float64
	// weights 静态权重表（weighted 策略）
	weights map[string]float64
	// rebalanceEvery 再平衡最小间隔
	rebalanceEvery time.Duration
	// usage 实时占用数据源
	usage UsageSource
	// perf 绩效数据源
	perf PerformanceSource
	// logger 日志记录器
	logger *zap.Logger
	// now 时钟函数，测试可替换
	now func() time.Time

	mu sync.Mutex
	// records 按交易对维护分配记录
	records map[string]*Record
	// lastRebalance 上次再平衡时间
	lastRebalance time.Time
}

// Option 分配器可选配置
type Option func(*Allocator)

// WithWeights 配置静态权重表（weighted 策略必填）
func WithWeights(weights map[string]float64) Option {
	return func(a *Allocator) { a.weights = weights }
}

// WithUsageSource 配置实时占用数据源
// 未配置时全局上限检查退化为记账口径
func WithUsageSource(src UsageSource) Option {
	return func(a *Allocator) { a.usage = src }
}

// WithPerformanceSource 配置绩效数据源（dynamic 策略再平衡必填）
func WithPerformanceSource(src PerformanceSource) Option {
	return func(a *Allocator) { a.perf = src }
}

// WithRebalanceInterval 配置再平衡最小间隔
func WithRebalanceInterval(d time.Duration) Option {
	return func(a *Allocator) { a.rebalanceEvery = d }
}

// New 创建资金分配器
// 参数 totalCapital: 总资金（计价资产）
// 参数 strategy: 分配策略
// 参数 maxGlobalRatio: 全局资金使用率上限（0-1）
func New(totalCapital float64, strategy model.AllocationStrategy, maxGlobalRatio float64, logger *zap.Logger, opts ...Option) *Allocator {
	a := &Allocator{
		totalCapital:   totalCapital,
		strategy:       strategy,
		maxGlobalRatio: maxGlobalRatio,
		rebalanceEvery: time.Hour,
		logger:         logger.Named("alloc"),
		now:            time.Now,
		records:        make(map[string]*Record),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RegisterSymbols 注册全部交易对并完成初始分配
// equal: 均分；weighted: 权重归一化后按比例分配；dynamic: 初始均分，绩效分置 1。
func (a *Allocator) RegisterSymbols(symbols []string) error {
	if len(symbols) == 0 {
		return fmt.Errorf("至少需要注册一个交易对")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.strategy {
	case model.AllocWeighted:
		var sum float64
		for _, sym := range symbols {
			w, ok := a.weights[sym]
			if !ok || w <= 0 {
				return fmt.Errorf("交易对 %s 缺少有效权重", sym)
			}
			sum += w
		}
		for _, sym := range symbols {
			a.records[sym] = &Record{
				Symbol:    sym,
				Allocated: a.totalCapital * a.weights[sym] / sum,
			}
		}
	default: // equal / dynamic 初始均分
		share := a.totalCapital / float64(len(symbols))
		for _, sym := range symbols {
			rec := &Record{Symbol: sym, Allocated: share}
			if a.strategy == model.AllocDynamic {
				rec.Score = 1
			}
			a.records[sym] = rec
		}
	}

	a.lastRebalance = a.now()
	a.logger.Info("资金分配完成",
		zap.Int("symbols", len(symbols)),
		zap.Float64("total_capital", a.totalCapital),
		zap.String("strategy", string(a.strategy)))
	return nil
}

// CheckTradeAllowed 准入检查
// 仅买入消耗额度：卖出是在释放资金，本组件一律放行，
// 持仓不足等卖侧约束由下游组件负责。
// 买入需同时通过单交易对额度检查（记账口径）与全局使用率检查
// （从账户现算的实时占用口径）。
// 拒绝不是错误：返回 allowed=false 与原因，调用方跳过本周期交易即可。
func (a *Allocator) CheckTradeAllowed(ctx context.Context, symbol string, notional float64, side model.Side) (bool, string) {
	if side == model.SideSell {
		return true, ""
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.records[symbol]
	if !ok {
		return false, ReasonUnknownSymbol
	}

	if rec.Used+notional > rec.Allocated {
		a.logger.Debug("准入拒绝: 单交易对额度",
			zap.String("symbol", symbol),
			zap.Float64("used", rec.Used),
			zap.Float64("notional", notional),
			zap.Float64("allocated", rec.Allocated))
		return false, ReasonPerSymbolLimit
	}

	globalUsed := a.liveGlobalUsage(ctx)
	if globalUsed+notional > a.totalCapital*a.maxGlobalRatio {
		a.logger.Debug("准入拒绝: 全局使用率上限",
			zap.String("symbol", symbol),
			zap.Float64("global_used", globalUsed),
			zap.Float64("notional", notional),
			zap.Float64("ceiling", a.totalCapital*a.maxGlobalRatio))
		return false, ReasonGlobalLimit
	}

	return true, ""
}

// liveGlobalUsage 现算全部交易对的实际占用之和
// 实时数据源不可用的交易对退化为记账占用。调用方须已持锁。
func (a *Allocator) liveGlobalUsage(ctx context.Context) float64 {
	var total float64
	for sym, rec := range a.records {
		if a.usage == nil {
			total += rec.Used
			continue
		}
		live, err := a.usage.LiveUsage(ctx, sym)
		if err != nil {
			a.logger.Warn("读取实时占用失败，退化为记账占用",
				zap.String("symbol", sym), zap.Error(err))
			total += rec.Used
			continue
		}
		total += live
	}
	return total
}

// RecordTrade 记录一笔成交对额度的影响
// 买入增加记账占用；卖出减少，且在 0 处钳制——即使记账已经陈旧也绝不为负。
func (a *Allocator) RecordTrade(symbol string, notional float64, side model.Side) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.records[symbol]
	if !ok {
		return
	}

	switch side {
	case model.SideBuy:
		rec.Used += notional
	case model.SideSell:
		rec.Used -= notional
		if rec.Used < 0 {
			rec.Used = 0
		}
	}
}

// RebalanceIfDue 按需执行再平衡
// 仅 dynamic 策略生效，且距上次再平衡不足配置间隔时空转。
// 每个交易对的绩效分 = clamp(1 + 滚动盈亏/总资金, 0.5, 2.0)，
// 随后按 绩效分/总分 的比例重新分配总资金。
// 返回: 本次是否执行了再平衡
func (a *Allocator) RebalanceIfDue(ctx context.Context) bool {
	if a.strategy != model.AllocDynamic || a.perf == nil {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if now.Sub(a.lastRebalance) < a.rebalanceEvery {
		return false
	}
	a.lastRebalance = now

	var sum float64
	scores := make(map[string]float64, len(a.records))
	for sym := range a.records {
		score := 1 + a.perf.TrailingProfit(sym)/a.totalCapital
		if score < scoreFloor {
			score = scoreFloor
		}
		if score > scoreCeil {
			score = scoreCeil
		}
		scores[sym] = score
		sum += score
	}
	if sum <= 0 {
		return false
	}

	for sym, rec := range a.records {
		rec.Score = scores[sym]
		rec.Allocated = a.totalCapital * scores[sym] / sum
	}

	a.logger.Info("动态再平衡完成", zap.Int("symbols", len(a.records)))
	return true
}

// StatusReport 导出全部交易对的分配状态快照
// 只读投影，无副作用；按交易对名稳定排序。
func (a *Allocator) StatusReport() []Record {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Record, 0, len(a.records))
	for _, rec := range a.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// TotalCapital 获取总资金
func (a *Allocator) TotalCapital() float64 {
	return a.totalCapital
}
