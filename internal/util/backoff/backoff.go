// Package backoff 实现行情连接的指数退避重连间隔计算。
// 深度流断开后立即重连容易触发交易所限频，退避间隔按 2 的幂增长并叠加随机抖动，
// 避免多个交易对的连接在同一时刻集中重试。
package backoff

import (
	"math/rand"
	"time"
)

// Backoff 重连间隔计算器
// 每次 Next() 返回下一次重连前的等待时间，间隔指数增长直到上限
// 连接恢复后调用 Reset() 回到基础间隔
type Backoff struct {
	// base 基础等待时间
	base time.Duration
	// max 最大等待时间
	max time.Duration
	// jitter 抖动比例（0-1），例如 0.2 表示 ±20%
	jitter float64
	// attempt 当前重试次数
	attempt int
}

// New 创建重连间隔计算器
// base 为首次重连的等待时间，max 为间隔上限，jitter 为随机抖动比例
func New(base, max time.Duration, jitter float64) *Backoff {
	return &Backoff{
		base:    base,
		max:     max,
		jitter:  jitter,
		attempt: 0,
	}
}

// NewDefault 创建默认配置的计算器
// 基础间隔 1s，最大间隔 30s，抖动 ±20%
func NewDefault() *Backoff {
	return New(time.Second, 30*time.Second, 0.2)
}

// Next 获取下次重连前的等待时间
// 计算公式: base * 2^attempt，结果不超过 max，最后叠加抖动
func (b *Backoff) Next() time.Duration {
	// 位移运算计算 2^attempt，避免浮点误差
	multiplier := int64(1) << b.attempt
	delay := b.base * time.Duration(multiplier)

	// 限制最大值
	if delay > b.max {
		delay = b.max
	}

	// 叠加抖动: delay * (1 ± jitter)
	if b.jitter > 0 {
		jitterFactor := 1.0 + (rand.Float64()*2-1)*b.jitter
		delay = time.Duration(float64(delay) * jitterFactor)
	}

	b.attempt++

	return delay
}

// Reset 重置重试计数
// 在连接成功收到数据后调用，使下一次断开从基础间隔重新开始
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt 获取当前重试次数
func (b *Backoff) Attempt() int {
	return b.attempt
}
