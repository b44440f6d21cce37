package paper

import (
	"context"
	"fmt"
	"math"
	"testing"

	"go.uber.org/zap"

	"grid-strategy-engine/internal/config"
	"grid-strategy-engine/internal/core/model"
)

// fakeSource 固定价格的行情数据源
type fakeSource struct {
	price float64
	err   error
}

func (f *fakeSource) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	return f.price, f.err
}

func (f *fakeSource) OrderBookLevel(ctx context.Context, symbol string, side model.Side, level int) (float64, error) {
	return 0, fmt.Errorf("未实现")
}

func (f *fakeSource) RecentHourlyCloses(ctx context.Context, symbol string, count int) ([]float64, error) {
	return nil, fmt.Errorf("未实现")
}

func newTestExecutor(price, slippageBps float64) (*Executor, *fakeSource) {
	src := &fakeSource{price: price}
	cfg := &config.Config{
		Executor: config.ExecutorConfig{SlippageBps: slippageBps},
		Symbols: []config.SymbolConfig{
			{Symbol: "BNBUSDT", Strategy: config.StrategyConfig{InitialPrincipal: 1000}},
		},
	}
	rules := map[string]model.PrecisionRules{
		"BNBUSDT": {AmountDecimals: 3, PriceDecimals: 2, MinTradeAmount: 0.001},
	}
	return NewExecutor(cfg, rules, src, zap.NewNop()), src
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestPlaceOrderMarketBuyAppliesSlippage(t *testing.T) {
	exec, _ := newTestExecutor(600, 10) // 10 bps
	ctx := context.Background()

	fill, err := exec.PlaceOrder(ctx, &model.OrderPlan{
		Symbol:     "BNBUSDT",
		Side:       model.SideBuy,
		Style:      model.OrderStyleMarket,
		BaseAmount: 0.5,
	})
	if err != nil {
		t.Fatalf("下单失败: %v", err)
	}

	wantPrice := 600 * 1.001
	if !almostEqual(fill.Price, wantPrice) {
		t.Fatalf("期望成交价 %v, 实际 %v", wantPrice, fill.Price)
	}

	base, _ := exec.FreeBaseBalance(ctx, "BNBUSDT")
	if !almostEqual(base, 0.5) {
		t.Fatalf("期望基础余额 0.5, 实际 %v", base)
	}
}

func TestPlaceOrderLimitFillsAtUnitPrice(t *testing.T) {
	exec, _ := newTestExecutor(600, 10)
	ctx := context.Background()

	fill, err := exec.PlaceOrder(ctx, &model.OrderPlan{
		Symbol:     "BNBUSDT",
		Side:       model.SideBuy,
		Style:      model.OrderStyleLimit,
		UnitPrice:  598.5,
		BaseAmount: 1,
	})
	if err != nil {
		t.Fatalf("下单失败: %v", err)
	}
	if fill.Price != 598.5 {
		t.Fatalf("限价单应按挂单价成交, 实际 %v", fill.Price)
	}
}

func TestPlaceOrderRejectsInsufficientBalance(t *testing.T) {
	exec, _ := newTestExecutor(600, 0)
	ctx := context.Background()

	// 本金 1000，买入 2 个 @600 需要 1200
	_, err := exec.PlaceOrder(ctx, &model.OrderPlan{
		Symbol:     "BNBUSDT",
		Side:       model.SideBuy,
		Style:      model.OrderStyleMarket,
		BaseAmount: 2,
	})
	if err == nil {
		t.Fatal("余额不足应当拒单")
	}

	// 无持仓时卖出应当拒单
	_, err = exec.PlaceOrder(ctx, &model.OrderPlan{
		Symbol:     "BNBUSDT",
		Side:       model.SideSell,
		Style:      model.OrderStyleMarket,
		BaseAmount: 0.1,
	})
	if err == nil {
		t.Fatal("基础余额不足应当拒单")
	}
}

func TestEquityFoldsBaseAtLatestPrice(t *testing.T) {
	exec, src := newTestExecutor(600, 0)
	ctx := context.Background()

	if _, err := exec.PlaceOrder(ctx, &model.OrderPlan{
		Symbol:     "BNBUSDT",
		Side:       model.SideBuy,
		Style:      model.OrderStyleMarket,
		BaseAmount: 1,
	}); err != nil {
		t.Fatalf("下单失败: %v", err)
	}

	// 买入后价格上涨: 权益 = 400 + 1×650
	src.price = 650
	equity, err := exec.AttributableEquity(ctx, "BNBUSDT")
	if err != nil {
		t.Fatalf("权益计算失败: %v", err)
	}
	if !almostEqual(equity, 1050) {
		t.Fatalf("期望权益 1050, 实际 %v", equity)
	}
}

func TestEquityWithoutPositionSkipsPriceLookup(t *testing.T) {
	exec, src := newTestExecutor(600, 0)
	src.err = fmt.Errorf("行情不可用")

	// 无持仓时不依赖行情
	equity, err := exec.AttributableEquity(context.Background(), "BNBUSDT")
	if err != nil {
		t.Fatalf("权益计算失败: %v", err)
	}
	if equity != 1000 {
		t.Fatalf("期望权益 1000, 实际 %v", equity)
	}
}

func TestMarketSellRoundTrip(t *testing.T) {
	exec, src := newTestExecutor(600, 0)
	ctx := context.Background()

	if _, err := exec.PlaceOrder(ctx, &model.OrderPlan{
		Symbol:     "BNBUSDT",
		Side:       model.SideBuy,
		Style:      model.OrderStyleMarket,
		BaseAmount: 1,
	}); err != nil {
		t.Fatalf("买入失败: %v", err)
	}

	src.price = 660
	fill, err := exec.MarketSell(ctx, "BNBUSDT", 1)
	if err != nil {
		t.Fatalf("市价卖出失败: %v", err)
	}
	if !almostEqual(fill.QuoteAmount, 660) {
		t.Fatalf("期望成交金额 660, 实际 %v", fill.QuoteAmount)
	}

	base, _ := exec.FreeBaseBalance(ctx, "BNBUSDT")
	if base != 0 {
		t.Fatalf("卖出后基础余额应为 0, 实际 %v", base)
	}
	equity, _ := exec.AttributableEquity(ctx, "BNBUSDT")
	if !almostEqual(equity, 1060) {
		t.Fatalf("期望权益 1060, 实际 %v", equity)
	}
}

func TestUnknownSymbolRejected(t *testing.T) {
	exec, _ := newTestExecutor(600, 0)

	if _, err := exec.PlaceOrder(context.Background(), &model.OrderPlan{
		Symbol:     "ETHUSDT",
		Side:       model.SideBuy,
		Style:      model.OrderStyleLimit,
		UnitPrice:  100,
		BaseAmount: 1,
	}); err == nil {
		t.Fatal("未知交易对应当拒单")
	}

	if rules := exec.PrecisionRules("ETHUSDT"); rules.MinTradeAmount != 0 {
		t.Fatalf("未知交易对应返回零值精度: %+v", rules)
	}
}
