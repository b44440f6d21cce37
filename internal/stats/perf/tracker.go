// Package perf 实现按交易对的滚动绩效统计。
// 维护最近 N 笔已实现盈亏的环形缓冲，为动态资金分配提供滚动绩效输入。
package perf

import "sync"

// symbolWindow 单交易对的滚动窗口
type symbolWindow struct {
	// buf 环形缓冲区（已实现盈亏，计价资产）
	buf []float64
	// pos 写入位置
	pos int
	// full 是否已填满
	full bool
	// sum 窗口内盈亏之和（O(1) 维护）
	sum float64
	// count 样本数
	count int64
	// winCount 盈利样本数
	winCount int64
}

// Tracker 滚动绩效追踪器
// 所有方法并发安全：周期协程写入，分配器再平衡与状态上报读取。
type Tracker struct {
	// windowSize 每个交易对的滚动窗口大小
	windowSize int

	mu sync.RWMutex
	// windows 按交易对维护滚动窗口
	windows map[string]*symbolWindow
}

// NewTracker 创建绩效追踪器
// 参数 windowSize: 滚动窗口大小（建议 100）
func NewTracker(windowSize int) *Tracker {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &Tracker{
		windowSize: windowSize,
		windows:    make(map[string]*symbolWindow),
	}
}

// Add 添加一笔已实现盈亏样本
// 参数 symbol: 交易对
// 参数 realizedProfit: 已实现盈亏（计价资产，可为负）
func (t *Tracker) Add(symbol string, realizedProfit float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[symbol]
	if !ok {
		w = &symbolWindow{buf: make([]float64, t.windowSize)}
		t.windows[symbol] = w
	}

	// 若环已满，移除旧样本对统计的贡献
	if w.full {
		old := w.buf[w.pos]
		w.sum -= old
		w.count--
		if old > 0 {
			w.winCount--
		}
	}

	w.buf[w.pos] = realizedProfit
	w.pos++
	if w.pos >= t.windowSize {
		w.pos = 0
		w.full = true
	}

	w.sum += realizedProfit
	w.count++
	if realizedProfit > 0 {
		w.winCount++
	}
}

// TrailingProfit 获取窗口内已实现盈亏之和
// 无样本时返回 0
func (t *Tracker) TrailingProfit(symbol string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	w, ok := t.windows[symbol]
	if !ok {
		return 0
	}
	return w.sum
}

// SampleCount 获取窗口内样本数
func (t *Tracker) SampleCount(symbol string) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	w, ok := t.windows[symbol]
	if !ok {
		return 0
	}
	return w.count
}

// WinRate 获取窗口内盈利样本占比
// 无样本时返回 0
func (t *Tracker) WinRate(symbol string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	w, ok := t.windows[symbol]
	if !ok || w.count == 0 {
		return 0
	}
	return float64(w.winCount) / float64(w.count)
}
