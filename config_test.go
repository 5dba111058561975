// Configuration tests for rxsched
// 配置加载与应用测试
package rxsched

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// ============================================================================
// 默认值与校验
// ============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, runtime.NumCPU(), cfg.Computation.Workers)
	assert.Equal(t, "RxComputationThreadPool", cfg.Computation.NamePrefix)
	assert.Equal(t, 1, cfg.Single.Workers)
	assert.Equal(t, "RxSingleScheduler", cfg.Single.NamePrefix)
	assert.Equal(t, 60*time.Second, cfg.IO.KeepAlive)
	assert.Equal(t, "RxCachedThreadScheduler", cfg.IO.NamePrefix)
	assert.Equal(t, "RxNewThreadScheduler", cfg.NewThread.NamePrefix)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.False(t, cfg.Metrics.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ZeroComputationWorkers", func(c *Config) { c.Computation.Workers = 0 }, "computation.workers"},
		{"SingleWithTwoWorkers", func(c *Config) { c.Single.Workers = 2 }, "single.workers"},
		{"TinyKeepAlive", func(c *Config) { c.IO.KeepAlive = time.Microsecond }, "io.keep_alive"},
		{"UnknownLogLevel", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"UnknownLogFormat", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

// ============================================================================
// 配置加载
// ============================================================================

func TestLoadConfig(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := LoadConfig()
		require.NoError(t, err)

		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("YAMLFile", func(t *testing.T) {
		path := writeFile(t, "rxsched.yaml", `
computation:
  workers: 6
  name_prefix: Compute
io:
  keep_alive: 2s
log:
  level: debug
  format: console
  timestamp: true
metrics:
  enabled: true
`)
		cfg, err := LoadConfig(WithConfigFile(path))
		require.NoError(t, err)

		assert.Equal(t, 6, cfg.Computation.Workers)
		assert.Equal(t, "Compute", cfg.Computation.NamePrefix)
		assert.Equal(t, 2*time.Second, cfg.IO.KeepAlive)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, "console", cfg.Log.Format)
		assert.True(t, cfg.Log.Timestamp)
		assert.True(t, cfg.Metrics.Enabled)
		// 未设置的字段保持默认值
		assert.Equal(t, "RxSingleScheduler", cfg.Single.NamePrefix)
	})

	t.Run("EnvironmentOverridesFile", func(t *testing.T) {
		path := writeFile(t, "rxsched.yaml", "computation:\n  workers: 6\n")
		t.Setenv("RXSCHED_COMPUTATION_WORKERS", "3")
		t.Setenv("RXSCHED_IO_KEEP_ALIVE", "250ms")

		cfg, err := LoadConfig(WithConfigFile(path))
		require.NoError(t, err)
		assert.Equal(t, 3, cfg.Computation.Workers)
		assert.Equal(t, 250*time.Millisecond, cfg.IO.KeepAlive)
	})

	t.Run("EnvFileWithPrefix", func(t *testing.T) {
		path := writeFile(t, ".env", "RXTEST_SINGLE_NAME_PREFIX=Solo\nRXTEST_LOG_LEVEL=debug\n")
		t.Cleanup(func() {
			_ = os.Unsetenv("RXTEST_SINGLE_NAME_PREFIX")
			_ = os.Unsetenv("RXTEST_LOG_LEVEL")
		})

		cfg, err := LoadConfig(WithEnvFile(path), WithEnvPrefix("RXTEST"))
		require.NoError(t, err)
		assert.Equal(t, "Solo", cfg.Single.NamePrefix)
		assert.Equal(t, "debug", cfg.Log.Level)
	})

	t.Run("MissingConfigFile", func(t *testing.T) {
		_, err := LoadConfig(WithConfigFile(filepath.Join(t.TempDir(), "missing.yaml")))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reading config file")
	})

	t.Run("MissingEnvFile", func(t *testing.T) {
		_, err := LoadConfig(WithEnvFile(filepath.Join(t.TempDir(), "missing.env")))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "loading env file")
	})

	t.Run("InvalidValues", func(t *testing.T) {
		t.Setenv("RXSCHED_SINGLE_WORKERS", "4")
		_, err := LoadConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "single.workers")
	})
}

// ============================================================================
// 应用配置
// ============================================================================

func TestConfigure(t *testing.T) {
	t.Cleanup(func() { require.NoError(t, Configure(nil)) })

	t.Run("ReplacesDefaultSchedulers", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Computation.Workers = 3
		cfg.Computation.NamePrefix = "Cfg"
		cfg.Log.Output = "discard"
		require.NoError(t, Configure(cfg))

		pool, ok := Computation().(*sharedScheduler).current().(*FixedScheduler)
		require.True(t, ok)
		assert.Equal(t, 3, pool.Workers())

		_, w, err := subscribeAndWait(t, Just(1).SubscribeOn(Computation()))
		require.NoError(t, err)
		assertOn(t, Computation(), "Cfg-", w)
	})

	t.Run("RejectsInvalidConfig", func(t *testing.T) {
		before := Computation().(*sharedScheduler).current()

		cfg := DefaultConfig()
		cfg.Single.Workers = 2
		require.Error(t, Configure(cfg))
		assert.Same(t, before, Computation().(*sharedScheduler).current())
	})

	t.Run("EnablesMetrics", func(t *testing.T) {
		reader, provider := newTestMeter(t)
		otel.SetMeterProvider(provider)
		t.Cleanup(func() { otel.SetMeterProvider(noop.NewMeterProvider()) })

		cfg := DefaultConfig()
		cfg.Metrics.Enabled = true
		cfg.Log.Output = "discard"
		require.NoError(t, Configure(cfg))

		_, ok := IO().(*sharedScheduler).current().(*ElasticScheduler)
		assert.False(t, ok, "default pools are wrapped when metrics are enabled")

		value, _, err := subscribeAndWait(t, Just(1).SubscribeOn(IO()).Map(inc))
		require.NoError(t, err)
		assert.Equal(t, 2, value)

		assert.Equal(t, int64(1), counterValue(t, reader, "rxsched.subscriptions.started"))
		assert.Equal(t, int64(1), counterValue(t, reader, "rxsched.scheduler.tasks.scheduled"))
	})

	t.Run("DisablesMetrics", func(t *testing.T) {
		require.NoError(t, EnableSubscriptionMetrics(noop.NewMeterProvider().Meter("test")))
		require.NotNil(t, subscriptionStats())

		cfg := DefaultConfig()
		cfg.Log.Output = "discard"
		require.NoError(t, Configure(cfg))
		assert.Nil(t, subscriptionStats())
	})
}

func TestConfigureKeepsRunningChains(t *testing.T) {
	t.Cleanup(func() { require.NoError(t, Configure(nil)) })

	cfg := DefaultConfig()
	cfg.Log.Output = "discard"
	require.NoError(t, Configure(cfg))

	oldPool := IO().(*sharedScheduler).current()
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	chain := FromCallable(func(ctx context.Context) (interface{}, error) {
		started <- struct{}{}
		<-release
		return ThreadName(ctx), nil
	}).SubscribeOn(IO())

	sub := chain.SubscribeWithContext(callerCtx(), nil, nil)
	<-started

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(release)
	}()
	// 旧线程池在交换后关闭，关闭时等待正在执行的任务
	require.NoError(t, Configure(cfg))
	awaitDone(t, sub)
	assert.NotSame(t, oldPool, IO().(*sharedScheduler).current())

	// 配置前组装的管道在新线程池上继续可用
	value, _, err := subscribeAndWait(t, chain)
	require.NoError(t, err)
	assert.Equal(t, "RxCachedThreadScheduler-1", value)
}
