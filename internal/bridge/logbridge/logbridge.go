// Package logbridge implements the Log v1 ABI (spec.md §4.7): the
// guest emits LogRecord values and may query the host's current max
// level. The host prefixes the record's target with
// wasm::{database}::{module}:: and forwards to logger.Bridge.
package logbridge

import (
	"context"

	"github.com/forbearing/wasmrt/internal/abi"
	"github.com/forbearing/wasmrt/internal/wasmengine"
	"github.com/forbearing/wasmrt/logger"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap/zapcore"
)

const ModuleName = "log_v1"

// Bridge is stateless and reentrant (spec.md §5): it carries no
// per-call mutable state, only the worker identity used for the target
// prefix and the max level. Each Worker build creates its own instance.
type Bridge struct {
	Database string
	Module   string
	MaxLevel abi.Level
}

// New returns a Bridge bound to one worker's identity.
func New(database, module string, maxLevel abi.Level) *Bridge {
	return &Bridge{Database: database, Module: module, MaxLevel: maxLevel}
}

// HostModule returns the wasmengine.HostModule the guest imports.
func (b *Bridge) HostModule() wasmengine.HostModule {
	return wasmengine.HostModule{
		Name: ModuleName,
		Functions: map[string]wasmengine.HostFunc{
			"log":       b.log,
			"max_level": b.maxLevel,
		},
	}
}

func (b *Bridge) log(ctx context.Context, _ wasmengine.Instance, payload []byte) ([]byte, error) {
	var rec abi.LogRecord
	if err := msgpack.Unmarshal(payload, &rec); err != nil {
		return nil, err
	}
	target := "wasm::" + b.Database + "::" + b.Module + "::" + rec.Target

	fields := []any{"target", target}
	if rec.File != "" {
		fields = append(fields, "file", rec.File, "line", rec.Line)
	}
	if rec.ModulePath != "" {
		fields = append(fields, "module_path", rec.ModulePath)
	}

	switch rec.Level {
	case abi.LevelError:
		logger.Bridge.Errorw(rec.Message, fields...)
	case abi.LevelWarn:
		logger.Bridge.Warnw(rec.Message, fields...)
	case abi.LevelInfo:
		logger.Bridge.Infow(rec.Message, fields...)
	case abi.LevelDebug:
		logger.Bridge.Debugw(rec.Message, fields...)
	case abi.LevelTrace:
		logger.Bridge.Debugw(rec.Message, fields...)
	default:
		logger.Bridge.Infow(rec.Message, fields...)
	}
	return nil, nil
}

func (b *Bridge) maxLevel(context.Context, wasmengine.Instance, []byte) ([]byte, error) {
	return msgpack.Marshal(b.MaxLevel)
}

// LevelFromZap converts the process log level into the Log v1 bijection.
func LevelFromZap(lvl zapcore.Level) abi.Level {
	switch lvl {
	case zapcore.DebugLevel:
		return abi.LevelDebug
	case zapcore.InfoLevel:
		return abi.LevelInfo
	case zapcore.WarnLevel:
		return abi.LevelWarn
	case zapcore.ErrorLevel:
		return abi.LevelError
	default:
		return abi.LevelOff
	}
}
