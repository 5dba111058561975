// Logging for rxsched
// 基于zerolog的日志配置
package rxsched

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const (
	// FieldSubscription 订阅ID字段
	FieldSubscription = "subscription"
	// FieldScheduler 调度器名称字段
	FieldScheduler = "scheduler"
	// FieldWorker worker名称字段
	FieldWorker = "worker"
	// FieldStage 阶段字段
	FieldStage = "stage"
)

// LogConfig contains logging configuration.
type LogConfig struct {
	Level     string `yaml:"level" mapstructure:"level"`
	Format    string `yaml:"format" mapstructure:"format"`
	Output    string `yaml:"output" mapstructure:"output"`
	NoColor   bool   `yaml:"no_color" mapstructure:"no_color"`
	Timestamp bool   `yaml:"timestamp" mapstructure:"timestamp"`
	Caller    bool   `yaml:"caller" mapstructure:"caller"`
}

// ApplyDefaults applies default values to logging configuration.
func (c *LogConfig) ApplyDefaults() {
	if c.Level == "" {
		c.Level = "warn"
	}
	if c.Format == "" {
		c.Format = "json"
	}
	if c.Output == "" {
		c.Output = "stderr"
	}
}

// Validate validates logging configuration.
func (c *LogConfig) Validate() error {
	if _, err := zerolog.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("log.level %q: %w", c.Level, err)
	}
	switch strings.ToLower(c.Format) {
	case "json", "console", "pretty":
	default:
		return fmt.Errorf("log.format must be one of [json console pretty] (got: %s)", c.Format)
	}
	return nil
}

// NewLogger builds a zerolog.Logger tagged with the rxsched component.
func NewLogger(cfg LogConfig) zerolog.Logger {
	cfg.ApplyDefaults()

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.WarnLevel
	}

	var out io.Writer = outputWriter(cfg.Output)
	if f := strings.ToLower(cfg.Format); f == "console" || f == "pretty" {
		out = zerolog.ConsoleWriter{Out: out, NoColor: cfg.NoColor}
	}

	zc := zerolog.New(out).Level(level).With().Str("component", "rxsched")
	if cfg.Timestamp {
		zc = zc.Timestamp()
	}
	if cfg.Caller {
		zc = zc.Caller()
	}
	return zc.Logger()
}

func outputWriter(output string) io.Writer {
	switch strings.ToLower(output) {
	case "stdout":
		return os.Stdout
	case "discard", "none":
		return io.Discard
	default:
		return os.Stderr
	}
}

// --- package logger ---

var pkgLogger atomic.Pointer[zerolog.Logger]

func init() {
	l := NewLogger(LogConfig{})
	pkgLogger.Store(&l)
}

// SetLogger replaces the logger used by schedulers and the execution engine.
func SetLogger(l zerolog.Logger) {
	pkgLogger.Store(&l)
}

// Logger returns the package logger.
func Logger() *zerolog.Logger {
	return pkgLogger.Load()
}
