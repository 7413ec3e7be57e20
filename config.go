package flightz

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds flight recorder settings read from the environment.
type Config struct {
	Enabled        bool   `env:"FLIGHTZ_ENABLED" envDefault:"true"`
	RecorderBuffer int    `env:"FLIGHTZ_RECORDER_BUFFER" envDefault:"1024"`
	RecorderSync   bool   `env:"FLIGHTZ_RECORDER_SYNC" envDefault:"false"`
	Workers        int    `env:"FLIGHTZ_WORKERS" envDefault:"0"`
	QueueSize      int    `env:"FLIGHTZ_QUEUE_SIZE" envDefault:"256"`
	LogLevel       string `env:"FLIGHTZ_LOG_LEVEL" envDefault:"info"`
}

// LoadConfig parses Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse flightz config: %w", err)
	}
	return cfg, nil
}

// Logger builds a production zap logger at the configured level.
func (c Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", c.LogLevel, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// NewFromConfig builds a tracer on delegate from cfg. When cfg enables a
// recorder it is attached to the tracer and returned; otherwise the returned
// recorder is nil. The caller closes both.
func NewFromConfig(delegate trace.Tracer, cfg Config) (*Tracer, *Recorder, error) {
	logger, err := cfg.Logger()
	if err != nil {
		return nil, nil, err
	}

	t := New(delegate).WithLogger(logger)
	if !cfg.Enabled {
		t.WithEmitterFactory(NoopEmitterFactory{})
		return t, nil, nil
	}

	if cfg.Workers > 0 {
		if err := t.EnableWorkerPool(cfg.Workers, cfg.QueueSize); err != nil {
			return nil, nil, fmt.Errorf("enable worker pool: %w", err)
		}
	}

	if cfg.RecorderBuffer <= 0 {
		return t, nil, nil
	}
	recorder := NewRecorder(cfg.RecorderBuffer)
	recorder.SetSyncMode(cfg.RecorderSync)
	t.OnEvent(recorder.Record)
	return t, recorder, nil
}
