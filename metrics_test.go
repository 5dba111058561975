// Metrics tests for rxsched
// 指标测试
package rxsched

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMeter(t *testing.T) (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return reader, provider
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	data, ok := collect(t, reader)[name]
	if !ok {
		return 0
	}
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "%s is not an int64 sum", name)

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

// ============================================================================
// 调度器指标
// ============================================================================

func TestMonitoredScheduler(t *testing.T) {
	logs := captureLogs(t, zerolog.ErrorLevel)
	reader, provider := newTestMeter(t)

	pool := NewFixedScheduler("fixed", PoolConfig{Workers: 1})
	monitored, err := NewMonitoredScheduler(pool, provider.Meter("test"))
	require.NoError(t, err)
	assert.Equal(t, "fixed", monitored.Name())

	names := make(chan string, 2)
	monitored.ScheduleWithContext(context.Background(), func(ctx context.Context) { names <- ThreadName(ctx) })
	monitored.Schedule(func() { panic("boom") })
	monitored.ScheduleWithContext(context.Background(), func(ctx context.Context) { names <- ThreadName(ctx) })

	assert.Equal(t, "RxComputationThreadPool-1", <-names)
	assert.Equal(t, "RxComputationThreadPool-1", <-names)

	pool.Shutdown()
	assert.True(t, monitored.Schedule(func() {}).IsDisposed())

	assert.Equal(t, int64(4), counterValue(t, reader, "rxsched.scheduler.tasks.scheduled"))
	assert.Equal(t, int64(2), counterValue(t, reader, "rxsched.scheduler.tasks.completed"))
	assert.Equal(t, int64(1), counterValue(t, reader, "rxsched.scheduler.tasks.failed"))
	assert.Equal(t, int64(1), counterValue(t, reader, "rxsched.scheduler.tasks.rejected"))

	hist, ok := collect(t, reader)["rxsched.scheduler.task.wait"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(3), hist.DataPoints[0].Count)

	assert.Contains(t, logs.String(), "scheduled task panicked")
}

func TestMonitoredSchedulerInChain(t *testing.T) {
	reader, provider := newTestMeter(t)

	io := newIO(t)
	monitored, err := NewMonitoredScheduler(io, provider.Meter("test"))
	require.NoError(t, err)

	value, w, err := subscribeAndWait(t, Just(1).SubscribeOn(monitored).Map(inc).ObserveOn(monitored))
	require.NoError(t, err)
	assert.Equal(t, 2, value)
	assertOn(t, io, "RxCachedThreadScheduler", w)

	require.Eventually(t, func() bool {
		return counterValue(t, reader, "rxsched.scheduler.tasks.completed") == 2
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(2), counterValue(t, reader, "rxsched.scheduler.tasks.scheduled"))
}

// ============================================================================
// 订阅指标
// ============================================================================

func TestSubscriptionMetrics(t *testing.T) {
	reader, provider := newTestMeter(t)
	require.NoError(t, EnableSubscriptionMetrics(provider.Meter("test")))
	t.Cleanup(disableSubscriptionMetrics)

	_, _, err := subscribeAndWait(t, Just(1).SubscribeOn(newIO(t)))
	require.NoError(t, err)
	_, _, err = subscribeAndWait(t, Error(errors.New("boom")))
	require.Error(t, err)
	_, _, err = subscribeAndWait(t, Just(1).Map(nil))
	require.Error(t, err)

	assert.Equal(t, int64(3), counterValue(t, reader, "rxsched.subscriptions.started"))
	assert.Equal(t, int64(1), counterValue(t, reader, "rxsched.subscriptions.succeeded"))
	assert.Equal(t, int64(2), counterValue(t, reader, "rxsched.subscriptions.failed"))

	require.NoError(t, EnableSubscriptionMetrics(nil))
	_, _, err = subscribeAndWait(t, Just(1))
	require.NoError(t, err)
	assert.Equal(t, int64(3), counterValue(t, reader, "rxsched.subscriptions.started"))
}
