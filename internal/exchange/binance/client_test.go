package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"grid-strategy-engine/internal/config"
	"grid-strategy-engine/internal/core/model"
	"grid-strategy-engine/internal/util/timeutil"
)

func newTestClient(cfg *config.MarketConfig) *Client {
	if cfg == nil {
		cfg = &config.MarketConfig{ReadTimeoutMs: 30000}
	}
	return NewClient(cfg, []string{"BNBUSDT"}, zap.NewNop())
}

func seedBook(c *Client, symbol string, bids, asks []float64) {
	c.booksMu.Lock()
	c.books[symbol] = &BookSnapshot{
		Symbol:      symbol,
		Bids:        bids,
		Asks:        asks,
		UpdatedAtNs: timeutil.NowNano(),
	}
	c.booksMu.Unlock()
}

func TestLatestPriceUsesMid(t *testing.T) {
	c := newTestClient(nil)
	seedBook(c, "BNBUSDT", []float64{599.98}, []float64{600.02})

	px, err := c.LatestPrice(context.Background(), "BNBUSDT")
	if err != nil {
		t.Fatalf("获取最新价失败: %v", err)
	}
	if px != 600.00 {
		t.Fatalf("期望中间价 600.00, 实际 %v", px)
	}
}

func TestLatestPriceUnknownSymbol(t *testing.T) {
	c := newTestClient(nil)

	if _, err := c.LatestPrice(context.Background(), "ETHUSDT"); err == nil {
		t.Fatal("未就绪的交易对应返回错误")
	}
}

func TestLatestPriceRejectsStaleBook(t *testing.T) {
	c := newTestClient(&config.MarketConfig{ReadTimeoutMs: 100})
	seedBook(c, "BNBUSDT", []float64{599.98}, []float64{600.02})

	// 人为回拨快照时间使其过期
	c.booksMu.Lock()
	c.books["BNBUSDT"].UpdatedAtNs -= int64(time.Second)
	c.booksMu.Unlock()

	if _, err := c.LatestPrice(context.Background(), "BNBUSDT"); err == nil {
		t.Fatal("过期盘口应返回错误")
	}
}

func TestOrderBookLevel(t *testing.T) {
	c := newTestClient(nil)
	seedBook(c, "BNBUSDT",
		[]float64{599.98, 599.97, 599.96},
		[]float64{600.02, 600.03, 600.04})

	px, err := c.OrderBookLevel(context.Background(), "BNBUSDT", model.SideBuy, 2)
	if err != nil {
		t.Fatalf("取 bid2 失败: %v", err)
	}
	if px != 599.97 {
		t.Fatalf("期望 bid2=599.97, 实际 %v", px)
	}

	px, err = c.OrderBookLevel(context.Background(), "BNBUSDT", model.SideSell, 1)
	if err != nil {
		t.Fatalf("取 ask1 失败: %v", err)
	}
	if px != 600.02 {
		t.Fatalf("期望 ask1=600.02, 实际 %v", px)
	}

	// 只有 3 档时取第 5 档应报错
	if _, err := c.OrderBookLevel(context.Background(), "BNBUSDT", model.SideSell, 5); err == nil {
		t.Fatal("缺失档位应返回错误")
	}
	if _, err := c.OrderBookLevel(context.Background(), "BNBUSDT", model.SideBuy, 6); err == nil {
		t.Fatal("超出范围的档位应返回错误")
	}
}

func TestRecentHourlyCloses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" {
			t.Errorf("路径不符: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("symbol") != "BNBUSDT" || q.Get("interval") != "1h" || q.Get("limit") != "3" {
			t.Errorf("查询参数不符: %s", r.URL.RawQuery)
		}
		// Binance K 线为混合类型数组，收盘价在下标 4
		_, _ = w.Write([]byte(`[
			[1700000000000,"598.0","602.0","597.0","600.5",100,1700003599999,"0",10,"0","0","0"],
			[1700003600000,"600.5","603.0","599.0","601.2",100,1700007199999,"0",10,"0","0","0"],
			[1700007200000,"601.2","605.0","600.0","604.8",100,1700010799999,"0",10,"0","0","0"]
		]`))
	}))
	defer srv.Close()

	c := NewClient(&config.MarketConfig{RESTURL: srv.URL, TimeoutMs: 2000}, []string{"BNBUSDT"}, zap.NewNop())

	closes, err := c.RecentHourlyCloses(context.Background(), "BNBUSDT", 3)
	if err != nil {
		t.Fatalf("拉取 K 线失败: %v", err)
	}
	want := []float64{600.5, 601.2, 604.8}
	if len(closes) != len(want) {
		t.Fatalf("期望 %d 根, 实际 %d", len(want), len(closes))
	}
	for i := range want {
		if closes[i] != want[i] {
			t.Fatalf("第 %d 根收盘价不符: 期望 %v, 实际 %v", i, want[i], closes[i])
		}
	}
}

func TestRecentHourlyClosesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":-1121,"msg":"Invalid symbol."}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(&config.MarketConfig{RESTURL: srv.URL, TimeoutMs: 2000}, []string{"BNBUSDT"}, zap.NewNop())

	if _, err := c.RecentHourlyCloses(context.Background(), "XXXUSDT", 5); err == nil {
		t.Fatal("非 200 响应应返回错误")
	}
}
