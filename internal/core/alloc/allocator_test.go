// Package alloc 资金分配器测试
package alloc

import (
	"context"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"grid-strategy-engine/internal/core/model"
)

// fakePerf 测试用绩效数据源
type fakePerf struct {
	profits map[string]float64
}

func (f *fakePerf) TrailingProfit(symbol string) float64 {
	return f.profits[symbol]
}

// fakeUsage 测试用实时占用数据源
type fakeUsage struct {
	usage map[string]float64
}

func (f *fakeUsage) LiveUsage(_ context.Context, symbol string) (float64, error) {
	return f.usage[symbol], nil
}

func TestRegisterSymbols_Equal(t *testing.T) {
	a := New(1000, model.AllocEqual, 0.8, zap.NewNop())
	if err := a.RegisterSymbols([]string{"BNBUSDT", "BTCUSDT"}); err != nil {
		t.Fatalf("注册失败: %v", err)
	}

	for _, rec := range a.StatusReport() {
		if rec.Allocated != 500 {
			t.Fatalf("均分策略每个交易对应分得 500，实际 %s=%f", rec.Symbol, rec.Allocated)
		}
	}
}

func TestRegisterSymbols_WeightedNormalized(t *testing.T) {
	a := New(1000, model.AllocWeighted, 0.8, zap.NewNop(),
		WithWeights(map[string]float64{"BNBUSDT": 3, "BTCUSDT": 1}))
	if err := a.RegisterSymbols([]string{"BNBUSDT", "BTCUSDT"}); err != nil {
		t.Fatalf("注册失败: %v", err)
	}

	report := a.StatusReport()
	if math.Abs(report[0].Allocated-750) > 1e-9 {
		t.Fatalf("BNBUSDT 权重 3/4 应分得 750，实际 %f", report[0].Allocated)
	}
	if math.Abs(report[1].Allocated-250) > 1e-9 {
		t.Fatalf("BTCUSDT 权重 1/4 应分得 250，实际 %f", report[1].Allocated)
	}
}

func TestRegisterSymbols_WeightedMissingWeight(t *testing.T) {
	a := New(1000, model.AllocWeighted, 0.8, zap.NewNop(),
		WithWeights(map[string]float64{"BNBUSDT": 1}))
	if err := a.RegisterSymbols([]string{"BNBUSDT", "BTCUSDT"}); err == nil {
		t.Fatalf("缺少权重的交易对应注册失败")
	}
}

func TestCheckTradeAllowed_PerSymbolLimit(t *testing.T) {
	a := New(1000, model.AllocEqual, 1.0, zap.NewNop())
	_ = a.RegisterSymbols([]string{"BNBUSDT", "BTCUSDT"})
	ctx := context.Background()

	// 每个交易对 500 额度
	allowed, _ := a.CheckTradeAllowed(ctx, "BNBUSDT", 200, model.SideBuy)
	if !allowed {
		t.Fatalf("200 在额度内应放行")
	}
	a.RecordTrade("BNBUSDT", 200, model.SideBuy)

	// 累计 550 > 500，拒绝
	allowed, reason := a.CheckTradeAllowed(ctx, "BNBUSDT", 350, model.SideBuy)
	if allowed {
		t.Fatalf("累计超出单交易对额度应拒绝")
	}
	if reason != ReasonPerSymbolLimit {
		t.Fatalf("拒绝原因应为单交易对额度，实际 %q", reason)
	}
}

func TestCheckTradeAllowed_GlobalLimit(t *testing.T) {
	a := New(1000, model.AllocEqual, 0.5, zap.NewNop(),
		WithUsageSource(&fakeUsage{usage: map[string]float64{"BNBUSDT": 300, "BTCUSDT": 150}}))
	_ = a.RegisterSymbols([]string{"BNBUSDT", "BTCUSDT"})
	ctx := context.Background()

	// 实时占用 450 + 100 > 1000 × 0.5，全局拒绝（单交易对额度未超）
	allowed, reason := a.CheckTradeAllowed(ctx, "BNBUSDT", 100, model.SideBuy)
	if allowed {
		t.Fatalf("超出全局使用率上限应拒绝")
	}
	if reason != ReasonGlobalLimit {
		t.Fatalf("拒绝原因应为全局上限，实际 %q", reason)
	}

	// 50 恰好达到上限，放行
	allowed, _ = a.CheckTradeAllowed(ctx, "BNBUSDT", 50, model.SideBuy)
	if !allowed {
		t.Fatalf("恰好达到上限不应拒绝")
	}
}

func TestCheckTradeAllowed_SellAlwaysAllowed(t *testing.T) {
	a := New(1000, model.AllocEqual, 0.5, zap.NewNop())
	_ = a.RegisterSymbols([]string{"BNBUSDT"})

	a.RecordTrade("BNBUSDT", 1000, model.SideBuy)
	allowed, _ := a.CheckTradeAllowed(context.Background(), "BNBUSDT", 99999, model.SideSell)
	if !allowed {
		t.Fatalf("卖出一律放行")
	}
}

func TestCheckTradeAllowed_UnknownSymbol(t *testing.T) {
	a := New(1000, model.AllocEqual, 0.8, zap.NewNop())
	_ = a.RegisterSymbols([]string{"BNBUSDT"})

	allowed, reason := a.CheckTradeAllowed(context.Background(), "DOGEUSDT", 10, model.SideBuy)
	if allowed || reason != ReasonUnknownSymbol {
		t.Fatalf("未注册交易对应拒绝，实际 allowed=%v reason=%q", allowed, reason)
	}
}

func TestRecordTrade_SellClampsAtZero(t *testing.T) {
	a := New(1000, model.AllocEqual, 0.8, zap.NewNop())
	_ = a.RegisterSymbols([]string{"BNBUSDT"})

	a.RecordTrade("BNBUSDT", 100, model.SideBuy)
	// 卖出金额大于当前占用
	a.RecordTrade("BNBUSDT", 250, model.SideSell)

	report := a.StatusReport()
	if report[0].Used != 0 {
		t.Fatalf("卖出后占用应钳制为 0，实际 %f", report[0].Used)
	}
}

func TestRebalanceIfDue_IntervalGate(t *testing.T) {
	perf := &fakePerf{profits: map[string]float64{"BNBUSDT": 100, "BTCUSDT": -50}}
	a := New(1000, model.AllocDynamic, 0.8, zap.NewNop(),
		WithPerformanceSource(perf),
		WithRebalanceInterval(time.Hour))
	_ = a.RegisterSymbols([]string{"BNBUSDT", "BTCUSDT"})

	// 间隔未到，空转
	if a.RebalanceIfDue(context.Background()) {
		t.Fatalf("间隔未到不应再平衡")
	}

	// 推进时钟后触发
	base := time.Now()
	a.now = func() time.Time { return base.Add(2 * time.Hour) }
	if !a.RebalanceIfDue(context.Background()) {
		t.Fatalf("间隔已到应执行再平衡")
	}

	// BNBUSDT 分数 1.1，BTCUSDT 分数 0.95
	report := a.StatusReport()
	wantBNB := 1000 * 1.1 / (1.1 + 0.95)
	if math.Abs(report[0].Allocated-wantBNB) > 1e-6 {
		t.Fatalf("BNBUSDT 再平衡额度应为 %f，实际 %f", wantBNB, report[0].Allocated)
	}

	// 刚执行过，再次调用空转
	if a.RebalanceIfDue(context.Background()) {
		t.Fatalf("再平衡后间隔内不应重复执行")
	}
}

func TestRebalanceIfDue_ScoreClamped(t *testing.T) {
	// 极端盈亏应被钳制在 [0.5, 2.0]
	perf := &fakePerf{profits: map[string]float64{"BNBUSDT": 1e9, "BTCUSDT": -1e9}}
	a := New(1000, model.AllocDynamic, 0.8, zap.NewNop(),
		WithPerformanceSource(perf),
		WithRebalanceInterval(time.Hour))
	_ = a.RegisterSymbols([]string{"BNBUSDT", "BTCUSDT"})

	base := time.Now()
	a.now = func() time.Time { return base.Add(2 * time.Hour) }
	if !a.RebalanceIfDue(context.Background()) {
		t.Fatalf("应执行再平衡")
	}

	report := a.StatusReport()
	if math.Abs(report[0].Allocated-800) > 1e-6 {
		t.Fatalf("钳制后 BNBUSDT 应分得 1000×2/2.5=800，实际 %f", report[0].Allocated)
	}
	if math.Abs(report[1].Allocated-200) > 1e-6 {
		t.Fatalf("钳制后 BTCUSDT 应分得 200，实际 %f", report[1].Allocated)
	}
}

func TestRebalanceIfDue_NonDynamicNoop(t *testing.T) {
	a := New(1000, model.AllocEqual, 0.8, zap.NewNop())
	_ = a.RegisterSymbols([]string{"BNBUSDT"})

	base := time.Now()
	a.now = func() time.Time { return base.Add(24 * time.Hour) }
	if a.RebalanceIfDue(context.Background()) {
		t.Fatalf("非 dynamic 策略不应再平衡")
	}
}

func TestEndToEnd_AdmissionScenario(t *testing.T) {
	// 总资金 1000，两个交易对均分各 500
	a := New(1000, model.AllocEqual, 1.0, zap.NewNop())
	_ = a.RegisterSymbols([]string{"BNBUSDT", "BTCUSDT"})
	ctx := context.Background()

	// 第一笔 200 USDT 买入通过
	allowed, _ := a.CheckTradeAllowed(ctx, "BNBUSDT", 200, model.SideBuy)
	if !allowed {
		t.Fatalf("200 USDT 买入应通过准入")
	}
	a.RecordTrade("BNBUSDT", 200, model.SideBuy)

	// 第二笔 350 USDT（累计 550 > 500）被单交易对额度拒绝
	allowed, reason := a.CheckTradeAllowed(ctx, "BNBUSDT", 350, model.SideBuy)
	if allowed {
		t.Fatalf("350 USDT 买入应被拒绝")
	}
	if reason != ReasonPerSymbolLimit {
		t.Fatalf("应以单交易对额度为由拒绝，实际 %q", reason)
	}
}
