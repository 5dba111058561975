// Configuration for rxsched
// 配置：默认调度器、日志和指标，支持YAML文件、.env文件和环境变量
package rxsched

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
)

// DefaultEnvPrefix prefixes environment overrides, e.g. RXSCHED_IO_KEEP_ALIVE.
const DefaultEnvPrefix = "RXSCHED"

// Config describes the process-wide default schedulers.
type Config struct {
	Computation PoolConfig    `yaml:"computation" mapstructure:"computation"`
	Single      PoolConfig    `yaml:"single" mapstructure:"single"`
	IO          ElasticConfig `yaml:"io" mapstructure:"io"`
	NewThread   ThreadConfig  `yaml:"new_thread" mapstructure:"new_thread"`
	Log         LogConfig     `yaml:"log" mapstructure:"log"`
	Metrics     MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// DefaultConfig returns the configuration the default schedulers start with.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.Computation.Workers <= 0 {
		c.Computation.Workers = runtime.NumCPU()
	}
	if c.Computation.NamePrefix == "" {
		c.Computation.NamePrefix = "RxComputationThreadPool"
	}
	if c.Single.Workers <= 0 {
		c.Single.Workers = 1
	}
	if c.Single.NamePrefix == "" {
		c.Single.NamePrefix = "RxSingleScheduler"
	}
	if c.IO.KeepAlive <= 0 {
		c.IO.KeepAlive = 60 * time.Second
	}
	if c.IO.NamePrefix == "" {
		c.IO.NamePrefix = "RxCachedThreadScheduler"
	}
	if c.NewThread.NamePrefix == "" {
		c.NewThread.NamePrefix = "RxNewThreadScheduler"
	}
	if c.Metrics.MeterName == "" {
		c.Metrics.MeterName = "github.com/xinjiayu/rxsched"
	}
	c.Log.ApplyDefaults()
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Computation.Workers < 1 {
		return fmt.Errorf("computation.workers must be positive (got: %d)", c.Computation.Workers)
	}
	if c.Single.Workers != 1 {
		return fmt.Errorf("single.workers must be 1 (got: %d)", c.Single.Workers)
	}
	if c.IO.KeepAlive < time.Millisecond {
		return fmt.Errorf("io.keep_alive must be at least 1ms (got: %s)", c.IO.KeepAlive)
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	return nil
}

// ============================================================================
// 配置加载
// ============================================================================

// loaderConfig holds optional file overrides.
type loaderConfig struct {
	configFile string
	envFile    string
	envPrefix  string
}

// LoaderOption is a functional option for LoadConfig.
type LoaderOption func(*loaderConfig)

// WithConfigFile sets a YAML config file to read.
func WithConfigFile(path string) LoaderOption {
	return func(lc *loaderConfig) { lc.configFile = path }
}

// WithEnvFile sets a .env file whose variables are loaded before env binding.
func WithEnvFile(path string) LoaderOption {
	return func(lc *loaderConfig) { lc.envFile = path }
}

// WithEnvPrefix overrides DefaultEnvPrefix.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(lc *loaderConfig) { lc.envPrefix = prefix }
}

// LoadConfig reads the configuration from an optional YAML file, an optional
// .env file and the environment, in increasing order of precedence.
func LoadConfig(opts ...LoaderOption) (*Config, error) {
	lc := loaderConfig{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		opt(&lc)
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	// 1. .env 文件，已存在的环境变量优先
	if lc.envFile != "" {
		if err := godotenv.Load(lc.envFile); err != nil {
			return nil, fmt.Errorf("loading env file %s: %w", lc.envFile, err)
		}
	}

	// 2. YAML 配置
	if lc.configFile != "" {
		v.SetConfigFile(lc.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", lc.configFile, err)
		}
	}

	// 3. 环境变量
	v.SetEnvPrefix(lc.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling rxsched config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("computation.workers", d.Computation.Workers)
	v.SetDefault("computation.name_prefix", d.Computation.NamePrefix)
	v.SetDefault("single.workers", d.Single.Workers)
	v.SetDefault("single.name_prefix", d.Single.NamePrefix)
	v.SetDefault("io.keep_alive", d.IO.KeepAlive)
	v.SetDefault("io.name_prefix", d.IO.NamePrefix)
	v.SetDefault("new_thread.name_prefix", d.NewThread.NamePrefix)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.output", d.Log.Output)
	v.SetDefault("log.no_color", d.Log.NoColor)
	v.SetDefault("log.timestamp", d.Log.Timestamp)
	v.SetDefault("log.caller", d.Log.Caller)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.meter_name", d.Metrics.MeterName)
}

// ============================================================================
// 应用配置
// ============================================================================

// Configure replaces the package logger and the pools behind the default
// schedulers. Schedulers already obtained from IO, Computation, SingleThread and
// NewThread submit to the new pools from then on. The previous pools finish
// their queued work and stop, so Configure must not run on one of their workers.
func Configure(cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return err
	}

	SetLogger(NewLogger(c.Log))

	d, err := newDefaultSchedulers(&c)
	if err != nil {
		return err
	}

	if c.Metrics.Enabled {
		if err := EnableSubscriptionMetrics(otel.Meter(c.Metrics.MeterName)); err != nil {
			d.shutdown()
			return err
		}
	} else {
		disableSubscriptionMetrics()
	}

	if old := swapDefaults(d); old != nil {
		old.shutdown()
	}

	Logger().Info().
		Int("computation_workers", c.Computation.Workers).
		Dur("io_keep_alive", c.IO.KeepAlive).
		Bool("metrics", c.Metrics.Enabled).
		Msg("default schedulers configured")
	return nil
}

func newDefaultSchedulers(cfg *Config) (*defaultSchedulers, error) {
	io := NewElasticScheduler(NameIO, cfg.IO)
	computation := NewFixedScheduler(NameComputation, cfg.Computation)
	single := NewFixedScheduler(NameSingle, cfg.Single)

	d := &defaultSchedulers{
		io:          io,
		computation: computation,
		single:      single,
		newThread:   NewNewThreadScheduler(NameNewThread, cfg.NewThread),
		stop:        []func(){io.Shutdown, computation.Shutdown, single.Shutdown},
	}

	if !cfg.Metrics.Enabled {
		return d, nil
	}

	meter := otel.Meter(cfg.Metrics.MeterName)
	for _, slot := range []*Scheduler{&d.io, &d.computation, &d.single, &d.newThread} {
		monitored, err := NewMonitoredScheduler(*slot, meter)
		if err != nil {
			d.shutdown()
			return nil, err
		}
		*slot = monitored
	}
	return d, nil
}
