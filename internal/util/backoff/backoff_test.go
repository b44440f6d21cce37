// Package backoff 重连间隔计算测试
package backoff

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestReconnectDelayGrowth 测试重连间隔随失败次数递增
func TestReconnectDelayGrowth(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// 属性: 连续断线时等待时间单调不减，且不超过上限
	properties.Property("重连间隔递增且有界", prop.ForAll(
		func(baseMs int, maxMs int) bool {
			if baseMs <= 0 || maxMs <= baseMs {
				return true // 跳过无效组合
			}

			base := time.Duration(baseMs) * time.Millisecond
			max := time.Duration(maxMs) * time.Millisecond
			b := New(base, max, 0) // 无抖动便于比较

			prev := time.Duration(0)
			for i := 0; i < 10; i++ {
				delay := b.Next()
				if delay < prev {
					return false
				}
				if delay > max {
					return false
				}
				prev = delay
			}
			return true
		},
		gen.IntRange(100, 2000),   // base: 100ms - 2s
		gen.IntRange(5000, 60000), // max: 5s - 60s
	))

	properties.TestingRun(t)
}

// TestReconnectDelayJitter 测试抖动后的间隔落在预期区间
func TestReconnectDelayJitter(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// 属性: 首次重连的等待时间在 base*(1±jitter) 内
	properties.Property("抖动幅度受限", prop.ForAll(
		func(jitterPercent int) bool {
			jitter := float64(jitterPercent) / 100.0
			base := time.Second
			b := New(base, 30*time.Second, jitter)

			for i := 0; i < 50; i++ {
				b.Reset()
				delay := float64(b.Next())

				low := float64(base) * (1 - jitter)
				high := float64(base) * (1 + jitter)
				if delay < low || delay > high {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 50), // jitter: 0% - 50%
	))

	properties.TestingRun(t)
}

// TestReconnectDelayCeiling 测试长时间断线后间隔不突破上限
func TestReconnectDelayCeiling(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// 属性: 即使叠加抖动，间隔也不超过 max*(1+jitter)
	properties.Property("间隔不超过抖动后的上限", prop.ForAll(
		func(baseMs int, maxMs int, jitterPercent int) bool {
			if baseMs <= 0 || maxMs <= 0 {
				return true
			}

			base := time.Duration(baseMs) * time.Millisecond
			max := time.Duration(maxMs) * time.Millisecond
			jitter := float64(jitterPercent) / 100.0
			b := New(base, max, jitter)

			ceiling := float64(max) * (1 + jitter)
			for i := 0; i < 20; i++ {
				if float64(b.Next()) > ceiling {
					return false
				}
			}
			return true
		},
		gen.IntRange(100, 2000),   // base
		gen.IntRange(1000, 60000), // max
		gen.IntRange(0, 30),       // jitter %
	))

	properties.TestingRun(t)
}

// TestResetAfterRecovery 测试连接恢复后间隔回到基础值
func TestResetAfterRecovery(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// 属性: 任意次失败后 Reset，下一次等待应等于 base
	properties.Property("恢复后从基础间隔重新开始", prop.ForAll(
		func(failures int) bool {
			if failures <= 0 {
				return true
			}

			b := New(time.Second, 30*time.Second, 0)
			for i := 0; i < failures; i++ {
				b.Next()
			}
			b.Reset()

			if b.Attempt() != 0 {
				return false
			}
			return b.Next() == time.Second
		},
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}

// TestDefaultReconnectPolicy 测试默认重连参数
func TestDefaultReconnectPolicy(t *testing.T) {
	b := NewDefault()

	if b.base != time.Second {
		t.Errorf("默认 base = %v, want 1s", b.base)
	}
	if b.max != 30*time.Second {
		t.Errorf("默认 max = %v, want 30s", b.max)
	}
	if b.jitter != 0.2 {
		t.Errorf("默认 jitter = %v, want 0.2", b.jitter)
	}
}

// TestDelaySequence 测试无抖动时的间隔序列
func TestDelaySequence(t *testing.T) {
	b := New(time.Second, 30*time.Second, 0)

	want := []time.Duration{
		time.Second,      // 第 1 次断线
		2 * time.Second,  // 第 2 次
		4 * time.Second,  // 第 3 次
		8 * time.Second,  // 第 4 次
		16 * time.Second, // 第 5 次
		30 * time.Second, // 2^5=32s 被封顶为 30s
		30 * time.Second, // 之后保持上限
	}

	for i, expected := range want {
		got := b.Next()
		if got != expected {
			t.Errorf("第 %d 次重连: got %v, want %v", i+1, got, expected)
		}
	}
}
