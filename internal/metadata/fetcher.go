// Package metadata 负责从交易所获取交易对元数据并解析精度规则。
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"grid-strategy-engine/internal/core/model"
	"grid-strategy-engine/internal/util/fastparse"
)

// Fetcher 元数据获取器接口
type Fetcher interface {
	// FetchPrecisionRules 获取指定交易对的精度规则
	FetchPrecisionRules(ctx context.Context, symbols []string) (map[string]model.PrecisionRules, error)
}

// HTTPFetcher HTTP 元数据获取器
// 从 Binance /api/v3/exchangeInfo 拉取并解析交易约束。
type HTTPFetcher struct {
	// baseURL REST API 基础地址
	baseURL string
	// client HTTP 客户端
	client *http.Client
}

// NewHTTPFetcher 创建 HTTP 元数据获取器
// 参数 timeoutMs: HTTP 请求超时时间（毫秒）
func NewHTTPFetcher(baseURL string, timeoutMs int) *HTTPFetcher {
	if timeoutMs <= 0 {
		timeoutMs = 10000
	}
	return &HTTPFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: time.Duration(timeoutMs) * time.Millisecond,
		},
	}
}

// FetchPrecisionRules 获取指定交易对的精度规则
// LOT_SIZE.stepSize 决定数量小数位与最小数量，PRICE_FILTER.tickSize 决定价格小数位。
// 任一配置的交易对缺失或不可交易时整体返回错误，拒绝以错误精度运行。
func (f *HTTPFetcher) FetchPrecisionRules(ctx context.Context, symbols []string) (map[string]model.PrecisionRules, error) {
	url := f.baseURL + "/api/v3/exchangeInfo"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("User-Agent", "grid-strategy-engine/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求交易对元数据失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP 状态码错误: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	var info ExchangeInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("解析交易对元数据失败: %w", err)
	}

	return BuildPrecisionRules(&info, symbols)
}

// BuildPrecisionRules 从 exchangeInfo 响应解析指定交易对的精度规则
func BuildPrecisionRules(info *ExchangeInfoResponse, symbols []string) (map[string]model.PrecisionRules, error) {
	index := make(map[string]*SymbolInfo, len(info.Symbols))
	for i := range info.Symbols {
		index[strings.ToUpper(info.Symbols[i].Symbol)] = &info.Symbols[i]
	}

	result := make(map[string]model.PrecisionRules, len(symbols))
	for _, symbol := range symbols {
		canon := strings.ToUpper(symbol)
		si, ok := index[canon]
		if !ok {
			return nil, fmt.Errorf("交易对 '%s' 不存在", symbol)
		}
		if si.Status != "TRADING" {
			return nil, fmt.Errorf("交易对 '%s' 不可交易: status=%s", symbol, si.Status)
		}

		rules, err := parseFilters(si)
		if err != nil {
			return nil, fmt.Errorf("解析交易对 '%s' 约束失败: %w", symbol, err)
		}
		result[canon] = rules
	}
	return result, nil
}

func parseFilters(si *SymbolInfo) (model.PrecisionRules, error) {
	var rules model.PrecisionRules
	var haveLot, havePrice bool

	for _, flt := range si.Filters {
		switch flt.FilterType {
		case "LOT_SIZE":
			rules.AmountDecimals = decimalsFromStep(flt.StepSize)
			minQty, err := fastparse.ParseFloat(flt.MinQty)
			if err != nil {
				return rules, fmt.Errorf("minQty 无效: %q", flt.MinQty)
			}
			rules.MinTradeAmount = minQty
			haveLot = true
		case "PRICE_FILTER":
			rules.PriceDecimals = decimalsFromStep(flt.TickSize)
			havePrice = true
		}
	}

	if !haveLot {
		return rules, fmt.Errorf("缺少 LOT_SIZE 约束")
	}
	if !havePrice {
		return rules, fmt.Errorf("缺少 PRICE_FILTER 约束")
	}
	return rules, nil
}

// decimalsFromStep 从步长字符串推导小数位数
// 如 "0.00100000" -> 3, "1.00000000" -> 0
func decimalsFromStep(step string) int {
	dot := strings.IndexByte(step, '.')
	if dot < 0 {
		return 0
	}
	frac := strings.TrimRight(step[dot+1:], "0")
	return len(frac)
}
