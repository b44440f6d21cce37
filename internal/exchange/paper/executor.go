// Package paper 实现模拟成交的订单执行与账户快照。
// 重要：仅用于研究/试运行，严禁真实下单。
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"grid-strategy-engine/internal/config"
	"grid-strategy-engine/internal/core/market"
	"grid-strategy-engine/internal/core/model"
)

// account 单交易对的模拟账户
type account struct {
	// quote 计价资产余额
	quote float64
	// base 基础资产余额
	base float64
	// precision 交易对精度规则
	precision model.PrecisionRules
}

// Executor 模拟成交执行器
// 同时实现 OrderExecutor 与 PositionSnapshot：每个交易对维护独立的
// 计价/基础资产余额，成交立即确认，市价单按滑点调整成交价。
type Executor struct {
	// source 行情数据源（市价成交与权益折算依赖最新价）
	source market.MarketDataSource
	// slippageBps 市价单滑点（基点）
	slippageBps float64
	logger      *zap.Logger

	mu sync.Mutex
	// accounts 按交易对的模拟账户
	accounts map[string]*account
}

// NewExecutor 创建模拟成交执行器
// 每个交易对以其初始本金作为计价资产余额入账。
func NewExecutor(cfg *config.Config, rules map[string]model.PrecisionRules, source market.MarketDataSource, logger *zap.Logger) *Executor {
	accounts := make(map[string]*account, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		accounts[sym.Symbol] = &account{
			quote:     sym.Strategy.InitialPrincipal,
			precision: rules[sym.Symbol],
		}
	}
	return &Executor{
		source:      source,
		slippageBps: cfg.Executor.SlippageBps,
		logger:      logger,
		accounts:    accounts,
	}
}

// PlaceOrder 提交订单并立即模拟成交
// 市价单按最新价加滑点成交，限价单按挂单价成交。
func (e *Executor) PlaceOrder(ctx context.Context, plan *model.OrderPlan) (*model.FillReport, error) {
	if plan == nil {
		return nil, fmt.Errorf("下单计划为空")
	}

	fillPrice := plan.UnitPrice
	if plan.Style == model.OrderStyleMarket {
		latest, err := e.source.LatestPrice(ctx, plan.Symbol)
		if err != nil {
			return nil, fmt.Errorf("获取最新价失败: %w", err)
		}
		fillPrice = e.slip(latest, plan.Side)
	}
	if fillPrice <= 0 {
		return nil, fmt.Errorf("成交价无效: %v", fillPrice)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	acct := e.accounts[plan.Symbol]
	if acct == nil {
		return nil, fmt.Errorf("未知交易对: %s", plan.Symbol)
	}

	baseAmount := plan.BaseAmount
	quoteAmount := fillPrice * baseAmount

	switch plan.Side {
	case model.SideBuy:
		if quoteAmount > acct.quote {
			return nil, fmt.Errorf("计价资产余额不足: 需要 %.8f, 可用 %.8f", quoteAmount, acct.quote)
		}
		acct.quote -= quoteAmount
		acct.base += baseAmount
	case model.SideSell:
		if baseAmount > acct.base {
			return nil, fmt.Errorf("基础资产余额不足: 需要 %.8f, 可用 %.8f", baseAmount, acct.base)
		}
		acct.base -= baseAmount
		acct.quote += quoteAmount
	default:
		return nil, fmt.Errorf("未知 side: %s", plan.Side)
	}

	fill := &model.FillReport{
		OrderID:     uuid.NewString(),
		Symbol:      plan.Symbol,
		Side:        plan.Side,
		Price:       fillPrice,
		BaseAmount:  baseAmount,
		QuoteAmount: quoteAmount,
		FilledAt:    time.Now(),
	}
	e.logger.Debug("模拟成交",
		zap.String("symbol", plan.Symbol),
		zap.String("side", string(plan.Side)),
		zap.Float64("price", fillPrice),
		zap.Float64("base_amount", baseAmount))
	return fill, nil
}

// CancelAllOpen 撤销全部未成交挂单
// 模拟执行器中订单即时成交，不存在未成交挂单，恒返回 0。
func (e *Executor) CancelAllOpen(ctx context.Context, symbol string) (int, error) {
	return 0, nil
}

// MarketSell 市价卖出指定数量的基础资产
func (e *Executor) MarketSell(ctx context.Context, symbol string, baseAmount float64) (*model.FillReport, error) {
	latest, err := e.source.LatestPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("获取最新价失败: %w", err)
	}

	plan := &model.OrderPlan{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Side:       model.SideSell,
		Style:      model.OrderStyleMarket,
		UnitPrice:  latest,
		BaseAmount: baseAmount,
		CreatedAt:  time.Now(),
	}
	return e.PlaceOrder(ctx, plan)
}

// AttributableEquity 获取归属于该交易对策略的权益（计价资产）
// 权益 = 计价余额 + 基础余额 × 最新价
func (e *Executor) AttributableEquity(ctx context.Context, symbol string) (float64, error) {
	e.mu.Lock()
	acct := e.accounts[symbol]
	if acct == nil {
		e.mu.Unlock()
		return 0, fmt.Errorf("未知交易对: %s", symbol)
	}
	quote, base := acct.quote, acct.base
	e.mu.Unlock()

	if base == 0 {
		return quote, nil
	}
	latest, err := e.source.LatestPrice(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("获取最新价失败: %w", err)
	}
	return quote + base*latest, nil
}

// FreeBaseBalance 获取可用基础资产余额
func (e *Executor) FreeBaseBalance(ctx context.Context, symbol string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	acct := e.accounts[symbol]
	if acct == nil {
		return 0, fmt.Errorf("未知交易对: %s", symbol)
	}
	return acct.base, nil
}

// PrecisionRules 获取交易对精度规则
func (e *Executor) PrecisionRules(symbol string) model.PrecisionRules {
	e.mu.Lock()
	defer e.mu.Unlock()

	if acct := e.accounts[symbol]; acct != nil {
		return acct.precision
	}
	return model.PrecisionRules{}
}

// slip 按滑点方向调整市价成交价：买入抬价，卖出压价
func (e *Executor) slip(price float64, side model.Side) float64 {
	s := e.slippageBps / 10000
	if side == model.SideBuy {
		return price * (1 + s)
	}
	return price * (1 - s)
}
