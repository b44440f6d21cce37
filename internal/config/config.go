// Package config 负责加载和验证 YAML 配置文件。
// 提供应用程序所需的所有配置项，包括行情连接、资金分配、每交易对策略参数等。
// 策略配置的跨字段约束在加载时全部校验，非法配置在任何周期运行前即被拒绝。
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"grid-strategy-engine/internal/core/model"
)

// Config 应用配置根结构
// 包含所有子模块的配置项
type Config struct {
	// App 应用基础配置
	App AppConfig `yaml:"app"`
	// Market 行情数据源配置
	Market MarketConfig `yaml:"market"`
	// Allocator 资金分配配置
	Allocator AllocatorConfig `yaml:"allocator"`
	// Executor 订单执行配置
	Executor ExecutorConfig `yaml:"executor"`
	// Store 成交记录持久化配置
	Store StoreConfig `yaml:"store"`
	// Metrics Prometheus 指标配置
	Metrics MetricsConfig `yaml:"metrics"`
	// Notify 告警通道配置
	Notify NotifyConfig `yaml:"notify"`
	// Output 决策日志输出配置
	Output OutputConfig `yaml:"output"`
	// Cycle 交易周期配置
	Cycle CycleConfig `yaml:"cycle"`
	// Symbols 每交易对策略配置列表
	Symbols []SymbolConfig `yaml:"symbols"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	// Name 应用名称，用于日志标识
	Name string `yaml:"name"`
	// LogLevel 日志级别: debug, info, warn, error
	LogLevel string `yaml:"log_level"`
}

// MarketConfig 行情数据源配置
type MarketConfig struct {
	// WSURL WebSocket 行情地址
	WSURL string `yaml:"ws_url"`
	// RESTURL REST API 基础地址（K 线与元数据）
	RESTURL string `yaml:"rest_url"`
	// PingIntervalMs 心跳间隔（毫秒）
	PingIntervalMs int `yaml:"ping_interval_ms"`
	// ReadTimeoutMs 读取超时（毫秒）
	ReadTimeoutMs int `yaml:"read_timeout_ms"`
	// TimeoutMs REST 请求超时（毫秒）
	TimeoutMs int `yaml:"timeout_ms"`
}

// AllocatorConfig 资金分配配置
type AllocatorConfig struct {
	// TotalCapital 总资金（计价资产）
	TotalCapital float64 `yaml:"total_capital"`
	// Strategy 分配策略: equal, weighted, dynamic
	Strategy string `yaml:"strategy"`
	// MaxGlobalUsageRatio 全局资金使用率上限（0-1）
	MaxGlobalUsageRatio float64 `yaml:"max_global_usage_ratio"`
	// RebalanceIntervalMs 动态策略的再平衡最小间隔（毫秒）
	RebalanceIntervalMs int `yaml:"rebalance_interval_ms"`
	// Weights 静态权重表（weighted 策略），key 为交易对
	Weights map[string]float64 `yaml:"weights"`
}

// ExecutorConfig 订单执行配置
type ExecutorConfig struct {
	// Mode 执行模式: paper（模拟成交）
	Mode string `yaml:"mode"`
	// SlippageBps 模拟成交滑点（基点）
	SlippageBps float64 `yaml:"slippage_bps"`
}

// StoreConfig 成交记录持久化配置
type StoreConfig struct {
	// Path SQLite 数据库文件路径
	Path string `yaml:"path"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	// Enabled 是否启用 /metrics 端点
	Enabled bool `yaml:"enabled"`
	// ListenAddr 监听地址，如 :9090
	ListenAddr string `yaml:"listen_addr"`
}

// NotifyConfig 告警通道配置
type NotifyConfig struct {
	// WebhookURL Webhook 地址，为空则仅写日志
	// 通常通过环境变量 GRID_WEBHOOK_URL 注入
	WebhookURL string `yaml:"webhook_url"`
	// TimeoutMs Webhook 请求超时（毫秒）
	TimeoutMs int `yaml:"timeout_ms"`
}

// OutputConfig 决策日志输出配置
type OutputConfig struct {
	// Dir 输出目录
	Dir string `yaml:"dir"`
	// DecisionsEnabled 是否输出决策记录文件
	DecisionsEnabled bool `yaml:"decisions_enabled"`
	// StatusIntervalMs 资金分配状态快照输出间隔（毫秒）
	StatusIntervalMs int `yaml:"status_interval_ms"`
	// BufferSize 异步写入缓冲区大小
	BufferSize int `yaml:"buffer_size"`
}

// CycleConfig 交易周期配置
type CycleConfig struct {
	// IntervalMs 每交易对的评估间隔（毫秒）
	IntervalMs int `yaml:"interval_ms"`
}

// SymbolConfig 单个交易对的配置
type SymbolConfig struct {
	// Symbol 交易对，如 BNBUSDT
	Symbol string `yaml:"symbol"`
	// Strategy 策略参数
	Strategy StrategyConfig `yaml:"strategy"`
}

// StrategyConfig 每交易对策略参数
// 一个周期内不可变；重新配置时整体替换
type StrategyConfig struct {
	// TriggerMode 触发阈值模式: percent 或 absolute
	TriggerMode string `yaml:"trigger_mode"`
	// BasisPolicy 基准价策略: current, cost, trailing-average, manual
	BasisPolicy string `yaml:"basis_policy"`
	// ManualBasis 人工基准价（basis_policy=manual 时必填）
	ManualBasis float64 `yaml:"manual_basis"`
	// EntryPrice 持仓成本价（basis_policy=cost 时必填）
	EntryPrice float64 `yaml:"entry_price"`

	// RiseThreshold 上涨阈值（percent 模式为比例，absolute 模式为价差）
	RiseThreshold float64 `yaml:"rise_threshold"`
	// FallThreshold 下跌阈值（同上）
	FallThreshold float64 `yaml:"fall_threshold"`

	// PullbackEnabled 是否启用回落卖出
	PullbackEnabled bool `yaml:"pullback_enabled"`
	// PullbackPct 回落比例（相对运行期最高价）
	PullbackPct float64 `yaml:"pullback_pct"`
	// ReboundEnabled 是否启用反弹买入
	ReboundEnabled bool `yaml:"rebound_enabled"`
	// ReboundPct 反弹比例（相对运行期最低价）
	ReboundPct float64 `yaml:"rebound_pct"`

	// SizingMode 下单金额模式: percent-of-equity 或 fixed-notional
	SizingMode string `yaml:"sizing_mode"`
	// TradePct 对称百分比（买卖共用）
	TradePct float64 `yaml:"trade_pct"`
	// BuyPct 买入百分比（非对称时与 sell_pct 同时配置）
	BuyPct float64 `yaml:"buy_pct"`
	// SellPct 卖出百分比
	SellPct float64 `yaml:"sell_pct"`
	// BuyNotional 固定买入名义金额
	BuyNotional float64 `yaml:"buy_notional"`
	// SellNotional 固定卖出名义金额
	SellNotional float64 `yaml:"sell_notional"`

	// OrderStyle 下单方式: market 或 limit
	OrderStyle string `yaml:"order_style"`
	// BookLevel 限价单参考档位: bid1..bid5, ask1..ask5, trigger
	BookLevel string `yaml:"book_level"`
	// PriceOffset 限价单价格偏移（带符号，计价资产）
	PriceOffset float64 `yaml:"price_offset"`

	// MinPosition 持仓下限（基础资产），低于下限不再卖出
	MinPosition float64 `yaml:"min_position"`
	// MaxPosition 持仓上限（基础资产），达到上限不再买入，0 表示不限制
	MaxPosition float64 `yaml:"max_position"`

	// FloorEnabled 是否启用保底价
	FloorEnabled bool `yaml:"floor_enabled"`
	// FloorPrice 保底价（floor_enabled 时必填）
	FloorPrice float64 `yaml:"floor_price"`
	// FloorAction 触及保底价后的动作: stop 或 alert
	FloorAction string `yaml:"floor_action"`

	// AutoClose 自动平仓条件集合
	AutoClose AutoCloseConfig `yaml:"auto_close"`

	// InitialPrincipal 初始本金（计价资产），用于盈亏计算，0 表示未配置
	InitialPrincipal float64 `yaml:"initial_principal"`

	// PriceMin 价格可信下限，低于该价不参与评估，0 表示不限制
	PriceMin float64 `yaml:"price_min"`
	// PriceMax 价格可信上限，0 表示不限制
	PriceMax float64 `yaml:"price_max"`
}

// AutoCloseConfig 自动平仓条件集合
// 各条件为 OR 关系，按 profit_target → loss_limit → price_drop_pct → max_hold_ms 顺序评估，
// 首个满足的条件生效；取值为 0 表示该条件未启用。
type AutoCloseConfig struct {
	// ProfitTarget 止盈目标（计价资产）
	ProfitTarget float64 `yaml:"profit_target"`
	// LossLimit 亏损上限（计价资产，正数）
	LossLimit float64 `yaml:"loss_limit"`
	// PriceDropPct 相对基准价的跌幅阈值（比例）
	PriceDropPct float64 `yaml:"price_drop_pct"`
	// MaxHoldMs 最长持有时间（毫秒）
	MaxHoldMs int64 `yaml:"max_hold_ms"`
}

// Enabled 判断是否配置了任一自动平仓条件
func (a *AutoCloseConfig) Enabled() bool {
	return a.ProfitTarget > 0 || a.LossLimit > 0 || a.PriceDropPct > 0 || a.MaxHoldMs > 0
}

// Load 从文件加载配置并验证
// 参数 path: 配置文件路径
// 返回: 解析后的配置对象，若失败则返回错误
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &cfg, nil
}

// setDefaults 设置配置默认值
func (c *Config) setDefaults() {
	if c.App.Name == "" {
		c.App.Name = "grid-strategy-engine"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}

	if c.Market.PingIntervalMs == 0 {
		c.Market.PingIntervalMs = 25000 // 25 秒
	}
	if c.Market.ReadTimeoutMs == 0 {
		c.Market.ReadTimeoutMs = 30000 // 30 秒
	}
	if c.Market.TimeoutMs == 0 {
		c.Market.TimeoutMs = 10000 // 10 秒
	}

	if c.Allocator.Strategy == "" {
		c.Allocator.Strategy = string(model.AllocEqual)
	}
	if c.Allocator.MaxGlobalUsageRatio == 0 {
		c.Allocator.MaxGlobalUsageRatio = 0.8
	}
	if c.Allocator.RebalanceIntervalMs == 0 {
		c.Allocator.RebalanceIntervalMs = 3600000 // 1 小时
	}

	if c.Executor.Mode == "" {
		c.Executor.Mode = "paper"
	}

	if c.Store.Path == "" {
		c.Store.Path = "./data/trades.db"
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}

	if c.Notify.TimeoutMs == 0 {
		c.Notify.TimeoutMs = 5000 // 5 秒
	}

	if c.Output.Dir == "" {
		c.Output.Dir = "./output"
	}
	if c.Output.StatusIntervalMs == 0 {
		c.Output.StatusIntervalMs = 60000 // 1 分钟
	}
	if c.Output.BufferSize == 0 {
		c.Output.BufferSize = 1000
	}

	if c.Cycle.IntervalMs == 0 {
		c.Cycle.IntervalMs = 1000 // 1 秒
	}

	for i := range c.Symbols {
		c.Symbols[i].Strategy.setDefaults()
	}
}

// setDefaults 设置策略参数默认值
func (s *StrategyConfig) setDefaults() {
	if s.TriggerMode == "" {
		s.TriggerMode = string(model.TriggerModePercent)
	}
	if s.BasisPolicy == "" {
		s.BasisPolicy = string(model.BasisCurrent)
	}
	if s.SizingMode == "" {
		s.SizingMode = string(model.SizingFixedNotional)
	}
	if s.OrderStyle == "" {
		s.OrderStyle = string(model.OrderStyleMarket)
	}
	if s.OrderStyle == string(model.OrderStyleLimit) && s.BookLevel == "" {
		s.BookLevel = "bid1"
	}
	if s.FloorEnabled && s.FloorAction == "" {
		s.FloorAction = string(model.FloorActionStop)
	}
}

// Validate 验证配置合法性
// 检查所有必填项、数值范围与跨字段约束
// 返回: 若配置无效则返回描述性错误
func (c *Config) Validate() error {
	var errs []string

	if len(c.Symbols) == 0 {
		errs = append(errs, "symbols: 至少需要配置一个交易对")
	}
	seen := make(map[string]bool, len(c.Symbols))
	for i, sym := range c.Symbols {
		if sym.Symbol == "" {
			errs = append(errs, fmt.Sprintf("symbols[%d].symbol: 交易对不能为空", i))
			continue
		}
		if seen[sym.Symbol] {
			errs = append(errs, fmt.Sprintf("symbols[%d].symbol: 交易对 %s 重复配置", i, sym.Symbol))
		}
		seen[sym.Symbol] = true
		if err := sym.Strategy.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("symbols[%d](%s): %v", i, sym.Symbol, err))
		}
	}

	if c.Market.WSURL == "" {
		errs = append(errs, "market.ws_url: 行情 WebSocket 地址不能为空")
	}
	if c.Market.RESTURL == "" {
		errs = append(errs, "market.rest_url: REST API 地址不能为空")
	}

	if c.Allocator.TotalCapital <= 0 {
		errs = append(errs, "allocator.total_capital: 总资金必须为正数")
	}
	if !model.AllocationStrategy(c.Allocator.Strategy).Valid() {
		errs = append(errs, fmt.Sprintf("allocator.strategy: 无效的分配策略 '%s'，有效值: equal, weighted, dynamic", c.Allocator.Strategy))
	}
	if c.Allocator.MaxGlobalUsageRatio <= 0 || c.Allocator.MaxGlobalUsageRatio > 1 {
		errs = append(errs, "allocator.max_global_usage_ratio: 全局使用率上限必须在 0-1 之间")
	}
	if c.Allocator.Strategy == string(model.AllocWeighted) {
		if len(c.Allocator.Weights) == 0 {
			errs = append(errs, "allocator.weights: weighted 策略必须配置权重表")
		}
		for _, sym := range c.Symbols {
			if w, ok := c.Allocator.Weights[sym.Symbol]; !ok {
				errs = append(errs, fmt.Sprintf("allocator.weights: 缺少交易对 %s 的权重", sym.Symbol))
			} else if w <= 0 {
				errs = append(errs, fmt.Sprintf("allocator.weights[%s]: 权重必须为正数", sym.Symbol))
			}
		}
	}
	if c.Allocator.Strategy == string(model.AllocDynamic) {
		// 已实现盈亏按 entry_price 结算；缺失时绩效窗口永远为空，
		// 动态再平衡会退化为永久空转
		for i, sym := range c.Symbols {
			if sym.Strategy.EntryPrice <= 0 {
				errs = append(errs, fmt.Sprintf("symbols[%d](%s).entry_price: dynamic 分配策略必须配置正的成本价用于盈亏统计", i, sym.Symbol))
			}
		}
	}

	if c.Executor.Mode != "paper" {
		errs = append(errs, fmt.Sprintf("executor.mode: 无效的执行模式 '%s'，有效值: paper", c.Executor.Mode))
	}
	if c.Executor.SlippageBps < 0 {
		errs = append(errs, "executor.slippage_bps: 滑点不能为负数")
	}

	if c.Cycle.IntervalMs <= 0 {
		errs = append(errs, "cycle.interval_ms: 评估间隔必须为正数")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.App.LogLevel)] {
		errs = append(errs, fmt.Sprintf("app.log_level: 无效的日志级别 '%s'，有效值: debug, info, warn, error", c.App.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("配置验证错误:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Validate 验证策略参数的跨字段约束
// 任一约束不满足即返回错误，保证非法配置不会进入交易周期
func (s *StrategyConfig) Validate() error {
	var errs []string

	if !model.TriggerMode(s.TriggerMode).Valid() {
		errs = append(errs, fmt.Sprintf("trigger_mode: 无效的触发模式 '%s'", s.TriggerMode))
	}
	if !model.BasisPolicy(s.BasisPolicy).Valid() {
		errs = append(errs, fmt.Sprintf("basis_policy: 无效的基准价策略 '%s'", s.BasisPolicy))
	}
	if s.BasisPolicy == string(model.BasisManual) && s.ManualBasis <= 0 {
		errs = append(errs, "manual_basis: manual 基准价策略必须配置正的基准价")
	}
	if s.BasisPolicy == string(model.BasisCost) && s.EntryPrice <= 0 {
		errs = append(errs, "entry_price: cost 基准价策略必须配置正的成本价")
	}

	if s.RiseThreshold <= 0 {
		errs = append(errs, "rise_threshold: 上涨阈值必须为正数")
	}
	if s.FallThreshold <= 0 {
		errs = append(errs, "fall_threshold: 下跌阈值必须为正数")
	}
	if s.TriggerMode == string(model.TriggerModePercent) && s.FallThreshold >= 1 {
		errs = append(errs, "fall_threshold: percent 模式下跌阈值必须小于 1")
	}

	if s.PullbackEnabled && (s.PullbackPct <= 0 || s.PullbackPct >= 1) {
		errs = append(errs, "pullback_pct: 回落比例必须在 0-1 之间")
	}
	if s.ReboundEnabled && (s.ReboundPct <= 0 || s.ReboundPct >= 1) {
		errs = append(errs, "rebound_pct: 反弹比例必须在 0-1 之间")
	}

	switch model.SizingMode(s.SizingMode) {
	case model.SizingPercentOfEquity:
		asym := s.BuyPct > 0 || s.SellPct > 0
		if asym {
			// 非对称配置必须同时给出两侧
			if s.BuyPct <= 0 || s.SellPct <= 0 {
				errs = append(errs, "buy_pct/sell_pct: 非对称百分比必须同时配置买卖两侧")
			}
			if s.BuyPct > 1 || s.SellPct > 1 {
				errs = append(errs, "buy_pct/sell_pct: 百分比必须在 0-1 之间")
			}
		} else {
			if s.TradePct <= 0 || s.TradePct > 1 {
				errs = append(errs, "trade_pct: 对称百分比必须在 0-1 之间")
			}
		}
	case model.SizingFixedNotional:
		if s.BuyNotional <= 0 || s.SellNotional <= 0 {
			errs = append(errs, "buy_notional/sell_notional: 固定名义金额必须同时配置买卖两侧且为正数")
		}
	default:
		errs = append(errs, fmt.Sprintf("sizing_mode: 无效的下单金额模式 '%s'", s.SizingMode))
	}

	switch model.OrderStyle(s.OrderStyle) {
	case model.OrderStyleMarket:
	case model.OrderStyleLimit:
		if _, err := model.ParseBookLevel(s.BookLevel); err != nil {
			errs = append(errs, fmt.Sprintf("book_level: %v", err))
		}
	default:
		errs = append(errs, fmt.Sprintf("order_style: 无效的下单方式 '%s'", s.OrderStyle))
	}

	if s.MinPosition < 0 {
		errs = append(errs, "min_position: 持仓下限不能为负数")
	}
	if s.MaxPosition > 0 && s.MaxPosition <= s.MinPosition {
		errs = append(errs, "max_position: 持仓上限必须大于持仓下限")
	}

	if s.FloorEnabled {
		if s.FloorPrice <= 0 {
			errs = append(errs, "floor_price: 启用保底价时必须配置正的保底价")
		}
		if !model.FloorAction(s.FloorAction).Valid() {
			errs = append(errs, fmt.Sprintf("floor_action: 无效的保底动作 '%s'，有效值: stop, alert", s.FloorAction))
		}
	}

	if s.AutoClose.LossLimit < 0 {
		errs = append(errs, "auto_close.loss_limit: 亏损上限必须为正数")
	}
	if s.AutoClose.PriceDropPct < 0 || s.AutoClose.PriceDropPct >= 1 {
		errs = append(errs, "auto_close.price_drop_pct: 跌幅阈值必须在 0-1 之间")
	}
	if s.AutoClose.MaxHoldMs < 0 {
		errs = append(errs, "auto_close.max_hold_ms: 最长持有时间不能为负数")
	}

	if s.InitialPrincipal < 0 {
		errs = append(errs, "initial_principal: 初始本金不能为负数")
	}

	if s.PriceMax > 0 && s.PriceMin >= s.PriceMax {
		errs = append(errs, "price_min/price_max: 价格下限必须小于价格上限")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// SymbolList 获取所有配置的交易对
// 返回: 交易对字符串列表
func (c *Config) SymbolList() []string {
	syms := make([]string, len(c.Symbols))
	for i, sym := range c.Symbols {
		syms[i] = sym.Symbol
	}
	return syms
}

// BuyPercent 获取买入百分比
// 非对称配置优先，否则使用对称百分比
func (s *StrategyConfig) BuyPercent() float64 {
	if s.BuyPct > 0 {
		return s.BuyPct
	}
	return s.TradePct
}

// SellPercent 获取卖出百分比
func (s *StrategyConfig) SellPercent() float64 {
	if s.SellPct > 0 {
		return s.SellPct
	}
	return s.TradePct
}
