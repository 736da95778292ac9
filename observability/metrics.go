package observability

import (
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LendingMetricsRegistry bundles the collectors describing lending engine
// activity.
type LendingMetricsRegistry struct {
	actions      *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	liquidations *prometheus.CounterVec
	seized       *prometheus.CounterVec
	utilization  *prometheus.GaugeVec
	paused       prometheus.Gauge
	throttled    *prometheus.CounterVec
	streamDrops  prometheus.Counter
}

var (
	lendingMetricsOnce sync.Once
	lendingRegistry    *LendingMetricsRegistry
)

// LendingMetrics returns the lazily-initialised lending metrics registry.
func LendingMetrics() *LendingMetricsRegistry {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = &LendingMetricsRegistry{
			actions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "crossledger",
				Subsystem: "lending",
				Name:      "actions_total",
				Help:      "Lending actions segmented by action and outcome.",
			}, []string{"action", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "crossledger",
				Subsystem: "lending",
				Name:      "action_duration_seconds",
				Help:      "Latency distribution for lending actions.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"action"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "crossledger",
				Subsystem: "lending",
				Name:      "liquidations_total",
				Help:      "Completed liquidations segmented by debt and collateral asset.",
			}, []string{"debt_asset", "collateral_asset"}),
			seized: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "crossledger",
				Subsystem: "lending",
				Name:      "collateral_seized_total",
				Help:      "Collateral units seized by liquidators per asset.",
			}, []string{"asset"}),
			utilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "crossledger",
				Subsystem: "lending",
				Name:      "reserve_utilization_ratio",
				Help:      "Borrowed over deposited per reserve (0-1).",
			}, []string{"asset"}),
			paused: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "crossledger",
				Subsystem: "lending",
				Name:      "pause_engaged",
				Help:      "Indicates whether the lending pause switch is active (1) or not (0).",
			}),
			throttled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "crossledger",
				Subsystem: "lending",
				Name:      "throttled_requests_total",
				Help:      "API requests rejected by the rate limiter per limit class.",
			}, []string{"class"}),
			streamDrops: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "crossledger",
				Subsystem: "lending",
				Name:      "event_stream_drops_total",
				Help:      "Events not delivered to a slow stream subscriber.",
			}),
		}
		prometheus.MustRegister(
			lendingRegistry.actions,
			lendingRegistry.latency,
			lendingRegistry.liquidations,
			lendingRegistry.seized,
			lendingRegistry.utilization,
			lendingRegistry.paused,
			lendingRegistry.throttled,
			lendingRegistry.streamDrops,
		)
	})
	return lendingRegistry
}

// ObserveAction records the outcome and latency of a lending action.
func (m *LendingMetricsRegistry) ObserveAction(action string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	if action = strings.TrimSpace(action); action == "" {
		action = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.actions.WithLabelValues(action, outcome).Inc()
	m.latency.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordLiquidation counts a liquidation and the collateral it seized.
func (m *LendingMetricsRegistry) RecordLiquidation(debtAsset, collateralAsset string, seized *big.Int) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(labelAsset(debtAsset), labelAsset(collateralAsset)).Inc()
	if value := bigToFloat(seized); value > 0 {
		m.seized.WithLabelValues(labelAsset(collateralAsset)).Add(value)
	}
}

// RecordUtilization publishes a reserve's utilisation expressed in basis points.
func (m *LendingMetricsRegistry) RecordUtilization(asset string, bps uint64) {
	if m == nil {
		return
	}
	m.utilization.WithLabelValues(labelAsset(asset)).Set(float64(bps) / 10_000)
}

// SetPaused toggles the pause_engaged gauge.
func (m *LendingMetricsRegistry) SetPaused(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.paused.Set(1)
		return
	}
	m.paused.Set(0)
}

// RecordThrottle counts a rate-limited request.
func (m *LendingMetricsRegistry) RecordThrottle(class string) {
	if m == nil {
		return
	}
	if class = strings.TrimSpace(class); class == "" {
		class = "default"
	}
	m.throttled.WithLabelValues(class).Inc()
}

// RecordStreamDrop counts an event skipped for a lagging subscriber.
func (m *LendingMetricsRegistry) RecordStreamDrop() {
	if m == nil {
		return
	}
	m.streamDrops.Inc()
}

func labelAsset(asset string) string {
	normalized := strings.ToLower(strings.TrimSpace(asset))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(value).Float64()
	if math.IsInf(f, 0) {
		return math.MaxFloat64
	}
	return f
}
