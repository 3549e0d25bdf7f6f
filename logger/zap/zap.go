// Package zap wires the zap-backed implementation of logger.* from the
// process configuration. It mirrors the teacher's logger/zap package:
// one zapcore.Core config (encoder/level/writer) shared by every
// subsystem logger, with the sink switched to a rotating file via
// lumberjack when the configured file is not a standard stream.
package zap

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/forbearing/wasmrt/config"
	"github.com/forbearing/wasmrt/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logFile       string
	logLevel      string
	logFormat     string
	logMaxAge     int
	logMaxSize    int
	logMaxBackups int
)

// Option configures one constructed logger's encoder.
type Option struct {
	DisableMsg   bool
	DisableLevel bool
}

// Init populates every logger.* subsystem logger from config.App.Logger
// and replaces the zap global logger so libraries calling zap.L()/zap.S()
// share the same sink and level.
func Init() error {
	readConf()

	zap.ReplaceGlobals(zap.New(
		zapcore.NewCore(newEncoder(), newWriter(), newLevel()),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.FatalLevel),
	))

	logger.Runtime = New("runtime.log")
	logger.Router = New("router.log")
	logger.Worker = New("worker.log")
	logger.ModuleCache = New("modulecache.log")
	logger.Bridge = New("bridge.log")
	logger.Database = New("database.log")
	logger.RPC = New("rpc.log")

	logger.Gin = NewZap("access.log", Option{DisableMsg: true, DisableLevel: true})
	logger.Gorm = NewGorm("gorm.log")

	return nil
}

func Clean() {
	_ = zap.L().Sync()
	for _, l := range []*zap.SugaredLogger{
		logger.Runtime, logger.Router, logger.Worker,
		logger.ModuleCache, logger.Bridge, logger.Database, logger.RPC,
	} {
		if l != nil {
			_ = l.Sync()
		}
	}
	if logger.Gin != nil {
		_ = logger.Gin.Sync()
	}
}

// New returns a *zap.SugaredLogger writing to filename ("/dev/stdout" for
// the console) using the process-wide encoder/level configuration.
func New(filename string, opts ...Option) *zap.SugaredLogger {
	return NewZap(filename, opts...).Sugar()
}

// NewZap is New without the Sugar() wrapper, for callers (e.g. the gorm
// adapter) that need the structured *zap.Logger.
func NewZap(filename string, opts ...Option) *zap.Logger {
	readConf()
	if len(filename) > 0 {
		logFile = filename
	}
	return zap.New(
		zapcore.NewCore(newEncoder(opts...), newWriter(), newLevel()),
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.FatalLevel),
	)
}

func newWriter() zapcore.WriteSyncer {
	switch strings.TrimSpace(logFile) {
	case "/dev/stdout", "":
		return zapcore.AddSync(os.Stdout)
	case "/dev/stderr":
		return zapcore.AddSync(os.Stderr)
	default:
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   filepath.Join(config.App.AppInfo.Dir, logFile),
			MaxAge:     logMaxAge,
			MaxSize:    logMaxSize,
			MaxBackups: logMaxBackups,
			LocalTime:  true,
		})
	}
}

func newLevel() zapcore.Level {
	if len(logLevel) == 0 {
		return zapcore.InfoLevel
	}
	level := new(zapcore.Level)
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return zapcore.InfoLevel
	}
	return *level
}

func newEncoder(opt ...Option) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z0700")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if len(opt) > 0 {
		o := opt[0]
		if o.DisableMsg {
			cfg.MessageKey = ""
		}
		if o.DisableLevel {
			cfg.LevelKey = ""
		}
	}
	switch strings.ToLower(logFormat) {
	case "text", "console":
		return zapcore.NewConsoleEncoder(cfg)
	default:
		return zapcore.NewJSONEncoder(cfg)
	}
}

func readConf() {
	logFile = config.App.Logger.File
	logLevel = config.App.Logger.Level
	logFormat = config.App.Logger.Format
	logMaxAge = config.App.Logger.MaxAge
	logMaxSize = config.App.Logger.MaxSize
	logMaxBackups = config.App.Logger.MaxBackups
}
