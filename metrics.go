// Scheduler and subscription metrics for rxsched
// 基于OpenTelemetry的调度器与订阅指标
package rxsched

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsConfig enables OpenTelemetry instruments for the default schedulers
// and for subscriptions.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	MeterName string `yaml:"meter_name" mapstructure:"meter_name"`
}

// ============================================================================
// 调度器监控 - monitored scheduler
// ============================================================================

// monitoredScheduler 带监控的调度器包装器
type monitoredScheduler struct {
	Scheduler

	scheduled metric.Int64Counter
	completed metric.Int64Counter
	failed    metric.Int64Counter
	rejected  metric.Int64Counter
	wait      metric.Float64Histogram
	attrs     metric.MeasurementOption
}

// NewMonitoredScheduler wraps s so every task is counted on meter. Worker
// identity and rejection behaviour are those of s.
func NewMonitoredScheduler(s Scheduler, meter metric.Meter) (Scheduler, error) {
	scheduled, err := meter.Int64Counter("rxsched.scheduler.tasks.scheduled",
		metric.WithDescription("Tasks submitted to the scheduler"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating rxsched.scheduler.tasks.scheduled counter: %w", err)
	}

	completed, err := meter.Int64Counter("rxsched.scheduler.tasks.completed",
		metric.WithDescription("Tasks that ran to completion"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating rxsched.scheduler.tasks.completed counter: %w", err)
	}

	failed, err := meter.Int64Counter("rxsched.scheduler.tasks.failed",
		metric.WithDescription("Tasks that panicked"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating rxsched.scheduler.tasks.failed counter: %w", err)
	}

	rejected, err := meter.Int64Counter("rxsched.scheduler.tasks.rejected",
		metric.WithDescription("Tasks refused by a shut down scheduler"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating rxsched.scheduler.tasks.rejected counter: %w", err)
	}

	wait, err := meter.Float64Histogram("rxsched.scheduler.task.wait",
		metric.WithDescription("Time between submission and start of a task in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating rxsched.scheduler.task.wait histogram: %w", err)
	}

	return &monitoredScheduler{
		Scheduler: s,
		scheduled: scheduled,
		completed: completed,
		failed:    failed,
		rejected:  rejected,
		wait:      wait,
		attrs:     metric.WithAttributes(attribute.String(FieldScheduler, s.Name())),
	}, nil
}

// Schedule 调度任务并记录指标
func (m *monitoredScheduler) Schedule(action func()) Disposable {
	return m.ScheduleWithContext(context.Background(), func(context.Context) { action() })
}

// ScheduleWithDelay 延迟调度任务并记录指标
func (m *monitoredScheduler) ScheduleWithDelay(action func(), delay time.Duration) Disposable {
	return scheduleAfter(m, action, delay)
}

// ScheduleWithContext 带上下文调度任务并记录指标
func (m *monitoredScheduler) ScheduleWithContext(ctx context.Context, action func(ctx context.Context)) Disposable {
	if ctx == nil {
		ctx = context.Background()
	}
	m.scheduled.Add(ctx, 1, m.attrs)

	submitted := time.Now()
	d := m.Scheduler.ScheduleWithContext(ctx, func(wctx context.Context) {
		m.wait.Record(wctx, time.Since(submitted).Seconds(), m.attrs)
		defer func() {
			if r := recover(); r != nil {
				m.failed.Add(wctx, 1, m.attrs)
				panic(r)
			}
			m.completed.Add(wctx, 1, m.attrs)
		}()

		action(wctx)
	})

	if d.IsDisposed() {
		m.rejected.Add(ctx, 1, m.attrs)
	}
	return d
}

// ============================================================================
// 订阅统计 - subscription counters
// ============================================================================

type subscriptionCounters struct {
	startedC   metric.Int64Counter
	succeededC metric.Int64Counter
	failedC    metric.Int64Counter
}

var subStats atomic.Pointer[subscriptionCounters]

func subscriptionStats() *subscriptionCounters {
	return subStats.Load()
}

// EnableSubscriptionMetrics counts subscriptions and their outcomes on meter.
// A nil meter turns counting off.
func EnableSubscriptionMetrics(meter metric.Meter) error {
	if meter == nil {
		disableSubscriptionMetrics()
		return nil
	}

	started, err := meter.Int64Counter("rxsched.subscriptions.started",
		metric.WithDescription("Subscriptions created"),
	)
	if err != nil {
		return fmt.Errorf("creating rxsched.subscriptions.started counter: %w", err)
	}

	succeeded, err := meter.Int64Counter("rxsched.subscriptions.succeeded",
		metric.WithDescription("Subscriptions that delivered a value"),
	)
	if err != nil {
		return fmt.Errorf("creating rxsched.subscriptions.succeeded counter: %w", err)
	}

	failed, err := meter.Int64Counter("rxsched.subscriptions.failed",
		metric.WithDescription("Subscriptions that delivered an error"),
	)
	if err != nil {
		return fmt.Errorf("creating rxsched.subscriptions.failed counter: %w", err)
	}

	subStats.Store(&subscriptionCounters{startedC: started, succeededC: succeeded, failedC: failed})
	return nil
}

func disableSubscriptionMetrics() {
	subStats.Store(nil)
}

func (c *subscriptionCounters) started(ctx context.Context) {
	if c != nil {
		c.startedC.Add(ctx, 1)
	}
}

func (c *subscriptionCounters) succeeded(ctx context.Context) {
	if c != nil {
		c.succeededC.Add(ctx, 1)
	}
}

func (c *subscriptionCounters) failed(ctx context.Context) {
	if c != nil {
		c.failedC.Add(ctx, 1)
	}
}
