// Package binance 实现 Binance 行情消息解析。
package binance

import (
	"encoding/json"
	"fmt"
	"strings"

	"grid-strategy-engine/internal/util/fastparse"
	"grid-strategy-engine/internal/util/timeutil"
)

// Parser Binance 消息解析器
type Parser struct {
	// symbols 已配置交易对集合，用于过滤无关推送
	symbols map[string]struct{}
}

// NewParser 创建 Binance 消息解析器
// 参数 symbols: 已配置的交易对列表（大写）
func NewParser(symbols []string) *Parser {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[strings.ToUpper(s)] = struct{}{}
	}
	return &Parser{symbols: set}
}

// Parse 解析 Binance WebSocket 消息为盘口快照
// 返回: 非深度消息或未配置交易对返回 nil
func (p *Parser) Parse(data []byte) (*BookSnapshot, error) {
	arrivedAt := timeutil.NowNano()

	var msg DepthUpdate
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("解析 Binance 消息失败: %w", err)
	}

	if msg.EventType != "depthUpdate" {
		return nil, nil
	}

	symbol := strings.ToUpper(msg.Symbol)
	if symbol == "" {
		return nil, nil
	}
	if _, ok := p.symbols[symbol]; !ok {
		return nil, nil
	}

	snap := &BookSnapshot{
		Symbol:      symbol,
		Bids:        make([]float64, 0, 5),
		Asks:        make([]float64, 0, 5),
		EventTimeMs: msg.EventTimeMs,
		UpdatedAtNs: arrivedAt,
	}

	for i, bid := range msg.Bids {
		if i >= 5 || len(bid) < 2 {
			break
		}
		px, err := fastparse.ParseFloat(bid[0])
		if err != nil || px <= 0 {
			return nil, fmt.Errorf("bid 价格无效: %q", bid[0])
		}
		snap.Bids = append(snap.Bids, px)
	}
	for i, ask := range msg.Asks {
		if i >= 5 || len(ask) < 2 {
			break
		}
		px, err := fastparse.ParseFloat(ask[0])
		if err != nil || px <= 0 {
			return nil, fmt.Errorf("ask 价格无效: %q", ask[0])
		}
		snap.Asks = append(snap.Asks, px)
	}

	if len(snap.Bids) == 0 || len(snap.Asks) == 0 {
		return nil, fmt.Errorf("盘口为空: %s", symbol)
	}

	return snap, nil
}
