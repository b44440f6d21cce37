// Package metrics 提供 Prometheus 指标。
// 引擎运行期间更新的主要指标：
//   - grid_signals_total{symbol,side}              触发信号计数
//   - grid_orders_total{symbol,side}               下单计数
//   - grid_admission_rejected_total{symbol,reason} 准入拒绝计数
//   - grid_risk_triggers_total{symbol,kind}        风控触发计数
//   - grid_liquidations_total{symbol}              强制平仓计数
//   - grid_allocated_capital{symbol}               分配额度（gauge）
//   - grid_used_capital{symbol}                    记账占用（gauge）
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	signalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_signals_total",
			Help: "Trigger signals emitted",
		},
		[]string{"symbol", "side"},
	)

	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_orders_total",
			Help: "Orders placed",
		},
		[]string{"symbol", "side"},
	)

	admissionRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_admission_rejected_total",
			Help: "Trades rejected by capital admission control",
		},
		[]string{"symbol", "reason"},
	)

	riskTriggersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_risk_triggers_total",
			Help: "Risk latch triggers by kind (floor/auto_close)",
		},
		[]string{"symbol", "kind"},
	)

	liquidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_liquidations_total",
			Help: "Completed emergency liquidations",
		},
		[]string{"symbol"},
	)

	allocatedCapital = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grid_allocated_capital",
			Help: "Capital allocated per symbol",
		},
		[]string{"symbol"},
	)

	usedCapital = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grid_used_capital",
			Help: "Bookkept capital usage per symbol",
		},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(
		signalsTotal,
		ordersTotal,
		admissionRejectedTotal,
		riskTriggersTotal,
		liquidationsTotal,
		allocatedCapital,
		usedCapital,
	)
}

// IncSignal 触发信号计数 +1
func IncSignal(symbol, side string) {
	signalsTotal.WithLabelValues(symbol, side).Inc()
}

// IncOrder 下单计数 +1
func IncOrder(symbol, side string) {
	ordersTotal.WithLabelValues(symbol, side).Inc()
}

// IncAdmissionRejected 准入拒绝计数 +1
func IncAdmissionRejected(symbol, reason string) {
	admissionRejectedTotal.WithLabelValues(symbol, reason).Inc()
}

// IncRiskTrigger 风控触发计数 +1
// 参数 kind: floor 或 auto_close
func IncRiskTrigger(symbol, kind string) {
	riskTriggersTotal.WithLabelValues(symbol, kind).Inc()
}

// IncLiquidation 强制平仓计数 +1
func IncLiquidation(symbol string) {
	liquidationsTotal.WithLabelValues(symbol).Inc()
}

// SetAllocation 更新分配额度与记账占用 gauge
func SetAllocation(symbol string, allocated, used float64) {
	allocatedCapital.WithLabelValues(symbol).Set(allocated)
	usedCapital.WithLabelValues(symbol).Set(used)
}

// Handler 返回 /metrics 端点的 HTTP 处理器
func Handler() http.Handler {
	return promhttp.Handler()
}
