package metadata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

const exchangeInfoBody = `{
	"symbols": [
		{
			"symbol": "BNBUSDT",
			"status": "TRADING",
			"baseAsset": "BNB",
			"quoteAsset": "USDT",
			"filters": [
				{"filterType": "PRICE_FILTER", "tickSize": "0.01000000"},
				{"filterType": "LOT_SIZE", "stepSize": "0.00100000", "minQty": "0.00100000"},
				{"filterType": "NOTIONAL", "minNotional": "5.00000000"}
			]
		},
		{
			"symbol": "ETHUSDT",
			"status": "TRADING",
			"baseAsset": "ETH",
			"quoteAsset": "USDT",
			"filters": [
				{"filterType": "PRICE_FILTER", "tickSize": "0.01000000"},
				{"filterType": "LOT_SIZE", "stepSize": "0.00010000", "minQty": "0.00010000"}
			]
		},
		{
			"symbol": "HALTUSDT",
			"status": "BREAK",
			"baseAsset": "HALT",
			"quoteAsset": "USDT",
			"filters": [
				{"filterType": "PRICE_FILTER", "tickSize": "0.01"},
				{"filterType": "LOT_SIZE", "stepSize": "1.00000000", "minQty": "1.00000000"}
			]
		}
	]
}`

func TestFetchPrecisionRules(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/exchangeInfo" {
			t.Errorf("路径不符: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(exchangeInfoBody))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, 2000)
	rules, err := f.FetchPrecisionRules(context.Background(), []string{"BNBUSDT", "ethusdt"})
	if err != nil {
		t.Fatalf("获取精度规则失败: %v", err)
	}

	bnb := rules["BNBUSDT"]
	if bnb.AmountDecimals != 3 || bnb.PriceDecimals != 2 || bnb.MinTradeAmount != 0.001 {
		t.Fatalf("BNBUSDT 精度不符: %+v", bnb)
	}
	eth := rules["ETHUSDT"]
	if eth.AmountDecimals != 4 {
		t.Fatalf("ETHUSDT 数量精度不符: %+v", eth)
	}
}

func TestFetchPrecisionRulesRejectsMissingSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(exchangeInfoBody))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, 2000)
	if _, err := f.FetchPrecisionRules(context.Background(), []string{"NOPEUSDT"}); err == nil {
		t.Fatal("不存在的交易对应返回错误")
	}
}

func TestFetchPrecisionRulesRejectsNonTrading(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(exchangeInfoBody))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, 2000)
	if _, err := f.FetchPrecisionRules(context.Background(), []string{"HALTUSDT"}); err == nil {
		t.Fatal("暂停交易的交易对应返回错误")
	}
}

func TestDecimalsFromStep(t *testing.T) {
	cases := []struct {
		step string
		want int
	}{
		{"0.00100000", 3},
		{"0.00010000", 4},
		{"1.00000000", 0},
		{"0.01", 2},
		{"1", 0},
	}
	for _, tc := range cases {
		if got := decimalsFromStep(tc.step); got != tc.want {
			t.Fatalf("步长 %q 期望 %d 位, 实际 %d", tc.step, tc.want, got)
		}
	}
}
