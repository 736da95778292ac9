package observability

import (
	"math/big"

	"crossledger/core/events"
)

// EventMetrics is an events.Emitter that derives lending metrics from the
// engine's committed events.
type EventMetrics struct {
	registry *LendingMetricsRegistry
}

// NewEventMetrics binds an emitter to the supplied registry, defaulting to the
// process-wide lending registry.
func NewEventMetrics(registry *LendingMetricsRegistry) *EventMetrics {
	if registry == nil {
		registry = LendingMetrics()
	}
	return &EventMetrics{registry: registry}
}

// Emit implements events.Emitter.
func (m *EventMetrics) Emit(ev events.Event) {
	if m == nil || ev == nil {
		return
	}
	liq, ok := ev.(events.LendingLiquidation)
	if !ok {
		if ptr, isPtr := ev.(*events.LendingLiquidation); isPtr && ptr != nil {
			liq, ok = *ptr, true
		}
	}
	if !ok {
		return
	}
	seized := liq.CollateralSeized
	if seized == nil {
		seized = new(big.Int)
	}
	m.registry.RecordLiquidation(liq.DebtAsset.Hex(), liq.CollateralAsset.Hex(), seized)
}
