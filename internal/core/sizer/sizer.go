// Package sizer 实现订单金额与价格计算。
// 根据信号方向和账户快照计算名义金额与单价，并组装下单计划。
package sizer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"grid-strategy-engine/internal/config"
	"grid-strategy-engine/internal/core/market"
	"grid-strategy-engine/internal/core/model"
)

// Sizer 订单计算器（单交易对）
type Sizer struct {
	// symbol 交易对
	symbol string
	// cfg 策略配置（构造前已通过校验）
	cfg *config.StrategyConfig
	// source 行情数据源（限价单盘口档位查询）
	source market.MarketDataSource
	// snapshot 账户与持仓快照
	snapshot market.PositionSnapshot
	// logger 日志记录器
	logger *zap.Logger
}

// New 创建订单计算器
func New(symbol string, cfg *config.StrategyConfig, source market.MarketDataSource, snapshot market.PositionSnapshot, logger *zap.Logger) *Sizer {
	return &Sizer{
		symbol:   symbol,
		cfg:      cfg,
		source:   source,
		snapshot: snapshot,
		logger:   logger.Named("sizer").With(zap.String("symbol", symbol)),
	}
}

// SizeNotional 计算下单名义金额（计价资产）
// percent-of-equity 模式按归属权益乘以配置百分比（对称或非对称）；
// fixed-notional 模式返回配置的固定金额。
func (s *Sizer) SizeNotional(ctx context.Context, side model.Side) (float64, error) {
	switch model.SizingMode(s.cfg.SizingMode) {
	case model.SizingPercentOfEquity:
		equity, err := s.snapshot.AttributableEquity(ctx, s.symbol)
		if err != nil {
			return 0, err
		}
		if side == model.SideBuy {
			return equity * s.cfg.BuyPercent(), nil
		}
		return equity * s.cfg.SellPercent(), nil
	default: // fixed-notional
		if side == model.SideBuy {
			return s.cfg.BuyNotional, nil
		}
		return s.cfg.SellNotional, nil
	}
}

// PriceFor 计算下单单价
// market 方式返回最新价；limit 方式从配置的盘口档位（或触发价）取参考价并加偏移。
// 盘口不可读时降级为最新价并记录日志，不在本组件内重试。
// 返回的价格已按交易对 tick 精度舍入。
func (s *Sizer) PriceFor(ctx context.Context, side model.Side, triggerPrice float64) (float64, error) {
	rules := s.snapshot.PrecisionRules(s.symbol)

	if model.OrderStyle(s.cfg.OrderStyle) == model.OrderStyleMarket {
		px, err := s.source.LatestPrice(ctx, s.symbol)
		if err != nil {
			return 0, err
		}
		return model.RoundNearest(px, rules.PriceDecimals), nil
	}

	ref, err := s.referencePrice(ctx, triggerPrice)
	if err != nil {
		return 0, err
	}
	return model.RoundNearest(ref+s.cfg.PriceOffset, rules.PriceDecimals), nil
}

// referencePrice 解析限价单参考价
// 档位超出盘口深度时降级为第 1 档并告警；盘口整体不可读时降级为最新价。
func (s *Sizer) referencePrice(ctx context.Context, triggerPrice float64) (float64, error) {
	// book_level 已在配置校验阶段解析过，这里不会失败
	lvl, err := model.ParseBookLevel(s.cfg.BookLevel)
	if err != nil {
		return 0, err
	}
	if lvl.UseTrigger {
		return triggerPrice, nil
	}

	px, err := s.source.OrderBookLevel(ctx, s.symbol, lvl.Side, lvl.Level)
	if err == nil && px > 0 {
		return px, nil
	}

	if lvl.Level > 1 {
		// 深度不足：降级为第 1 档
		s.logger.Warn("盘口档位不可用，降级为第 1 档",
			zap.String("level", s.cfg.BookLevel), zap.Error(err))
		px, err = s.source.OrderBookLevel(ctx, s.symbol, lvl.Side, 1)
		if err == nil && px > 0 {
			return px, nil
		}
	}

	// 盘口整体不可读：降级为最新价
	s.logger.Warn("盘口不可读，参考价降级为最新价", zap.Error(err))
	return s.source.LatestPrice(ctx, s.symbol)
}

// Prepare 组装下单计划
// 计算单价和名义金额，并按单价换算基础资产数量（按 lot 精度向下舍入）。
func (s *Sizer) Prepare(ctx context.Context, side model.Side, triggerPrice float64) (*model.OrderPlan, error) {
	price, err := s.PriceFor(ctx, side, triggerPrice)
	if err != nil {
		return nil, err
	}

	notional, err := s.SizeNotional(ctx, side)
	if err != nil {
		return nil, err
	}

	rules := s.snapshot.PrecisionRules(s.symbol)
	base := 0.0
	if price > 0 {
		base = model.RoundDown(notional/price, rules.AmountDecimals)
	}

	return &model.OrderPlan{
		ID:           uuid.NewString(),
		Symbol:       s.symbol,
		Side:         side,
		Style:        model.OrderStyle(s.cfg.OrderStyle),
		UnitPrice:    price,
		QuoteAmount:  notional,
		BaseAmount:   base,
		TriggerPrice: triggerPrice,
		CreatedAt:    time.Now(),
	}, nil
}
