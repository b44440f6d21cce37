package binance

import (
	"testing"
)

func TestParseDepthUpdate(t *testing.T) {
	p := NewParser([]string{"BNBUSDT"})

	data := []byte(`{"e":"depthUpdate","E":1700000000123,"s":"BNBUSDT",` +
		`"b":[["599.98","1.2"],["599.97","3.5"],["599.96","0.8"],["599.95","2.0"],["599.94","5.1"]],` +
		`"a":[["600.02","0.9"],["600.03","1.1"],["600.04","4.2"],["600.05","0.3"],["600.06","2.7"]]}`)

	snap, err := p.Parse(data)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if snap == nil {
		t.Fatal("期望返回快照")
	}
	if snap.Symbol != "BNBUSDT" {
		t.Fatalf("期望 BNBUSDT, 实际 %s", snap.Symbol)
	}
	if snap.EventTimeMs != 1700000000123 {
		t.Fatalf("事件时间不符: %d", snap.EventTimeMs)
	}
	if len(snap.Bids) != 5 || len(snap.Asks) != 5 {
		t.Fatalf("期望 5 档盘口, 实际 bids=%d asks=%d", len(snap.Bids), len(snap.Asks))
	}
	if snap.Bids[0] != 599.98 || snap.Bids[4] != 599.94 {
		t.Fatalf("买盘档位不符: %v", snap.Bids)
	}
	if snap.Asks[0] != 600.02 || snap.Asks[4] != 600.06 {
		t.Fatalf("卖盘档位不符: %v", snap.Asks)
	}
	if snap.UpdatedAtNs <= 0 {
		t.Fatal("本地接收时间未设置")
	}
}

func TestParseLowercaseSymbolNormalized(t *testing.T) {
	p := NewParser([]string{"bnbusdt"})

	data := []byte(`{"e":"depthUpdate","E":1,"s":"bnbusdt","b":[["600","1"]],"a":[["601","1"]]}`)
	snap, err := p.Parse(data)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if snap == nil || snap.Symbol != "BNBUSDT" {
		t.Fatalf("期望归一化为 BNBUSDT, 实际 %+v", snap)
	}
}

func TestParseIgnoresNonDepthMessage(t *testing.T) {
	p := NewParser([]string{"BNBUSDT"})

	// 订阅确认消息
	snap, err := p.Parse([]byte(`{"result":null,"id":1}`))
	if err != nil {
		t.Fatalf("订阅确认不应报错: %v", err)
	}
	if snap != nil {
		t.Fatal("订阅确认应返回 nil")
	}
}

func TestParseIgnoresUnconfiguredSymbol(t *testing.T) {
	p := NewParser([]string{"BNBUSDT"})

	data := []byte(`{"e":"depthUpdate","E":1,"s":"ETHUSDT","b":[["3000","1"]],"a":[["3001","1"]]}`)
	snap, err := p.Parse(data)
	if err != nil {
		t.Fatalf("未配置交易对不应报错: %v", err)
	}
	if snap != nil {
		t.Fatal("未配置交易对应返回 nil")
	}
}

func TestParseRejectsInvalidPayload(t *testing.T) {
	p := NewParser([]string{"BNBUSDT"})

	cases := []struct {
		name string
		data string
	}{
		{"非法 JSON", `{"e":"depthUpdate",`},
		{"价格非数字", `{"e":"depthUpdate","E":1,"s":"BNBUSDT","b":[["abc","1"]],"a":[["601","1"]]}`},
		{"空盘口", `{"e":"depthUpdate","E":1,"s":"BNBUSDT","b":[],"a":[]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := p.Parse([]byte(tc.data)); err == nil {
				t.Fatal("期望返回错误")
			}
		})
	}
}
