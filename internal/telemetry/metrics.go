package telemetry

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EngineMetrics holds the engine's instruments. The zero value is unusable;
// build it with NewEngineMetrics.
type EngineMetrics struct {
	ticks         metric.Int64Counter
	taskErrors    metric.Int64Counter
	panics        metric.Int64Counter
	orders        metric.Int64Counter
	retries       metric.Int64Counter
	ledgerAppends metric.Int64Counter
	historyLen    atomic.Int64
}

// NewEngineMetrics registers the engine instruments on meter.
func NewEngineMetrics(meter metric.Meter) (*EngineMetrics, error) {
	m := &EngineMetrics{}
	var err error
	if m.ticks, err = meter.Int64Counter("engine.task.runs",
		metric.WithDescription("Scheduled task executions")); err != nil {
		return nil, fmt.Errorf("telemetry: engine.task.runs: %w", err)
	}
	if m.taskErrors, err = meter.Int64Counter("engine.task.errors",
		metric.WithDescription("Scheduled task executions that returned an error")); err != nil {
		return nil, fmt.Errorf("telemetry: engine.task.errors: %w", err)
	}
	if m.panics, err = meter.Int64Counter("engine.task.panics",
		metric.WithDescription("Recovered task panics")); err != nil {
		return nil, fmt.Errorf("telemetry: engine.task.panics: %w", err)
	}
	if m.orders, err = meter.Int64Counter("engine.orders",
		metric.WithDescription("Orders submitted by outcome")); err != nil {
		return nil, fmt.Errorf("telemetry: engine.orders: %w", err)
	}
	if m.retries, err = meter.Int64Counter("engine.order.retries",
		metric.WithDescription("Order retries by error kind")); err != nil {
		return nil, fmt.Errorf("telemetry: engine.order.retries: %w", err)
	}
	if m.ledgerAppends, err = meter.Int64Counter("engine.ledger.appends",
		metric.WithDescription("Transactions appended to the ledger")); err != nil {
		return nil, fmt.Errorf("telemetry: engine.ledger.appends: %w", err)
	}
	if _, err = meter.Int64ObservableGauge("engine.history.length",
		metric.WithDescription("Samples held in the rolling history"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.historyLen.Load())
			return nil
		})); err != nil {
		return nil, fmt.Errorf("telemetry: engine.history.length: %w", err)
	}
	return m, nil
}

// TaskRun counts one execution of task and its outcome.
func (m *EngineMetrics) TaskRun(ctx context.Context, task string, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("task", task))
	m.ticks.Add(ctx, 1, attrs)
	if err != nil {
		m.taskErrors.Add(ctx, 1, attrs)
	}
}

// TaskPanic counts a recovered panic in task.
func (m *EngineMetrics) TaskPanic(ctx context.Context, task string) {
	if m == nil {
		return
	}
	m.panics.Add(ctx, 1, metric.WithAttributes(attribute.String("task", task)))
}

// Order counts a submitted order. outcome is "filled" or "failed".
func (m *EngineMetrics) Order(ctx context.Context, action, outcome string) {
	if m == nil {
		return
	}
	m.orders.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	))
}

// Retry counts one order retry of the given error kind.
func (m *EngineMetrics) Retry(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// LedgerAppend counts one appended transaction.
func (m *EngineMetrics) LedgerAppend(ctx context.Context, code string) {
	if m == nil {
		return
	}
	m.ledgerAppends.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}

// SetHistoryLen records the current history length for the gauge.
func (m *EngineMetrics) SetHistoryLen(n int) {
	if m == nil {
		return
	}
	m.historyLen.Store(int64(n))
}
