package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the process-wide logger used by commands. It is a no-op
// until InitCLILogger runs so packages can log during tests.
var CLILogger = zap.NewNop()

// InitCLILogger builds CLILogger for the named service. Logs go to stderr
// as JSON so command output on stdout stays machine readable.
func InitCLILogger(name string, verbose bool) {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	CLILogger = newLogger(name, level)
}

// SetLogLevel rebuilds CLILogger at the named level. Unknown names keep the
// current logger.
func SetLogLevel(name, level string) {
	lvl, ok := parseLevel(level)
	if !ok {
		CLILogger.Warn("ignoring unknown log level", zap.String("level", level))
		return
	}
	CLILogger = newLogger(name, lvl)
}

func newLogger(name string, level zapcore.Level) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		zap.NewAtomicLevelAt(level),
	)
	return zap.New(core, zap.AddCaller()).With(zap.String("service", name))
}

func parseLevel(s string) (zapcore.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return zapcore.DebugLevel, true
	case "", "info":
		return zapcore.InfoLevel, true
	case "warn", "warning":
		return zapcore.WarnLevel, true
	case "error":
		return zapcore.ErrorLevel, true
	default:
		return zapcore.InfoLevel, false
	}
}
