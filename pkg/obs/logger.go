package obs

import (
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/you/event-booking/pkg/config"
)

// NewLogger builds the service logger. Records go to stderr as JSON and,
// once Init has installed a logger provider, to the OTLP log pipeline.
func NewLogger(serviceName string, cfg config.Obs) *zap.Logger {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Env == "dev" {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}
	enc := zapcore.NewJSONEncoder(encCfg)
	if cfg.Env == "dev" {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)
	if cfg.OTLPLogsEndpoint != "" {
		core = zapcore.NewTee(core, otelzap.NewCore(serviceName))
	}
	return zap.New(core, zap.AddCaller()).With(zap.String("service", serviceName))
}
