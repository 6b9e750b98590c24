package phx

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig configures the logger built by NewLogger.
type LogConfig struct {
	Level         string        `yaml:"level"`
	Format        string        `yaml:"format"`
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// Log formats.
const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

// NewLogger builds a zap logger writing to stderr through a buffered, periodically flushed
// sink, so log calls on the dispatch path do not wait on the terminal. The returned stop
// function flushes pending entries and must be called before exit.
func NewLogger(config LogConfig) (*zap.Logger, func() error, error) {
	return newLogger(config, zapcore.AddSync(os.Stderr))
}

func newLogger(config LogConfig, output zapcore.WriteSyncer) (*zap.Logger, func() error, error) {
	level := zapcore.InfoLevel
	if config.Level != "" {
		parsed, err := zapcore.ParseLevel(config.Level)
		if err != nil {
			return nil, nil, NewError(ConfigurationError, err)
		}
		level = parsed
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch config.Format {
	case "", LogFormatConsole:
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	case LogFormatJSON:
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		return nil, nil, NewError(ConfigurationError, "unknown log format "+config.Format)
	}

	sink := &zapcore.BufferedWriteSyncer{
		WS:            output,
		Size:          config.BufferSize,
		FlushInterval: config.FlushInterval,
	}
	core := zapcore.NewCore(encoder, sink, zap.NewAtomicLevelAt(level))
	logger := zap.New(core, zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(zapcore.AddSync(os.Stderr)))).Named("phx")

	return logger, sink.Stop, nil
}
