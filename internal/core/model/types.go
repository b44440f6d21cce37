// Package model 定义网格策略引擎中使用的核心数据结构。
// 包含交易方向、触发模式、基准价策略等封闭枚举，以及订单计划、成交回报等类型。
package model

import "fmt"

// Side 交易方向
type Side string

const (
	// SideBuy 买入方向
	SideBuy Side = "buy"
	// SideSell 卖出方向
	SideSell Side = "sell"
)

// Valid 判断交易方向是否合法
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// TriggerMode 触发阈值模式
type TriggerMode string

const (
	// TriggerModePercent 百分比模式
	// 卖出触发价 = 基准价 × (1 + 上涨阈值)，买入触发价 = 基准价 × (1 - 下跌阈值)
	TriggerModePercent TriggerMode = "percent"
	// TriggerModeAbsolute 绝对值模式
	// 卖出触发价 = 基准价 + 上涨阈值，买入触发价 = 基准价 - 下跌阈值
	TriggerModeAbsolute TriggerMode = "absolute"
)

// Valid 判断触发模式是否合法
func (m TriggerMode) Valid() bool {
	return m == TriggerModePercent || m == TriggerModeAbsolute
}

// BasisPolicy 基准价策略
type BasisPolicy string

const (
	// BasisCurrent 以最新成交价为基准
	BasisCurrent BasisPolicy = "current"
	// BasisCost 以持仓成本价为基准
	BasisCost BasisPolicy = "cost"
	// BasisTrailingAverage 以最近 24 根小时线收盘价的算术平均为基准
	BasisTrailingAverage BasisPolicy = "trailing-average"
	// BasisManual 以人工配置的固定价格为基准
	BasisManual BasisPolicy = "manual"
)

// Valid 判断基准价策略是否合法
func (p BasisPolicy) Valid() bool {
	switch p {
	case BasisCurrent, BasisCost, BasisTrailingAverage, BasisManual:
		return true
	}
	return false
}

// SizingMode 下单金额模式
type SizingMode string

const (
	// SizingPercentOfEquity 按归属权益的百分比下单
	SizingPercentOfEquity SizingMode = "percent-of-equity"
	// SizingFixedNotional 按固定名义金额下单
	SizingFixedNotional SizingMode = "fixed-notional"
)

// Valid 判断下单金额模式是否合法
func (m SizingMode) Valid() bool {
	return m == SizingPercentOfEquity || m == SizingFixedNotional
}

// OrderStyle 下单方式
type OrderStyle string

const (
	// OrderStyleMarket 市价单，按最新价成交
	OrderStyleMarket OrderStyle = "market"
	// OrderStyleLimit 限价单，按盘口档位或触发价加偏移挂单
	OrderStyleLimit OrderStyle = "limit"
)

// Valid 判断下单方式是否合法
func (s OrderStyle) Valid() bool {
	return s == OrderStyleMarket || s == OrderStyleLimit
}

// FloorAction 触及保底价后的动作
type FloorAction string

const (
	// FloorActionStop 停止交易
	FloorActionStop FloorAction = "stop"
	// FloorActionAlert 仅告警，继续交易
	FloorActionAlert FloorAction = "alert"
)

// Valid 判断保底动作是否合法
func (a FloorAction) Valid() bool {
	return a == FloorActionStop || a == FloorActionAlert
}

// AllocationStrategy 资金分配策略
type AllocationStrategy string

const (
	// AllocEqual 均分策略，每个交易对获得相同额度
	AllocEqual AllocationStrategy = "equal"
	// AllocWeighted 静态权重策略，按归一化权重分配
	AllocWeighted AllocationStrategy = "weighted"
	// AllocDynamic 动态策略，初始均分，按滚动绩效分重新分配
	AllocDynamic AllocationStrategy = "dynamic"
)

// Valid 判断分配策略是否合法
func (s AllocationStrategy) Valid() bool {
	switch s {
	case AllocEqual, AllocWeighted, AllocDynamic:
		return true
	}
	return false
}

// BookLevel 限价单参考价档位
// 形如 bid1..bid5 / ask1..ask5，或 trigger（使用触发价本身）
type BookLevel struct {
	// Side 盘口方向: buy 表示 bidN，sell 表示 askN
	Side Side
	// Level 档位序号，1-5
	Level int
	// UseTrigger 是否使用触发价而非盘口档位
	UseTrigger bool
}

// ParseBookLevel 解析档位字符串
// 支持 bid1..bid5、ask1..ask5、trigger
func ParseBookLevel(s string) (BookLevel, error) {
	if s == "trigger" {
		return BookLevel{UseTrigger: true}, nil
	}
	var side Side
	var n int
	switch {
	case len(s) == 4 && s[:3] == "bid":
		side = SideBuy
		n = int(s[3] - '0')
	case len(s) == 4 && s[:3] == "ask":
		side = SideSell
		n = int(s[3] - '0')
	default:
		return BookLevel{}, fmt.Errorf("无法解析盘口档位: %q", s)
	}
	if n < 1 || n > 5 {
		return BookLevel{}, fmt.Errorf("盘口档位超出范围 1-5: %q", s)
	}
	return BookLevel{Side: side, Level: n}, nil
}

// PrecisionRules 交易对精度规则
// 由交易所元数据提供，用于价格与数量的舍入
type PrecisionRules struct {
	// AmountDecimals 数量小数位（lot 精度）
	AmountDecimals int
	// PriceDecimals 价格小数位（tick 精度）
	PriceDecimals int
	// MinTradeAmount 最小可交易数量（基础资产）
	MinTradeAmount float64
}
