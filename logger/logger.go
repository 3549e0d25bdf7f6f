// Package logger exposes one *zap.SugaredLogger per subsystem, the way
// the teacher framework wires per-concern loggers rather than a single
// global one. Each is populated by Init before any subsystem starts.
package logger

import (
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

var (
	// Runtime logs process lifecycle: bootstrap, shutdown, signal handling.
	Runtime *zap.SugaredLogger
	// Router logs front-end routing decisions (404s, dispatch failures).
	Router *zap.SugaredLogger
	// Worker logs instantiation, init-export sequencing, poisoning.
	Worker *zap.SugaredLogger
	// ModuleCache logs compiles, reloads, and eviction.
	ModuleCache *zap.SugaredLogger
	// Bridge logs cross-boundary ABI errors (database, log, http bridges).
	Bridge *zap.SugaredLogger
	// Database logs pool lifecycle; gorm's slow-query and SQL
	// diagnostics go through Gorm instead.
	Database *zap.SugaredLogger
	// RPC logs the local unix-socket transport.
	RPC *zap.SugaredLogger

	// Gin is the *zap.Logger gin-contrib/zap and the recovery middleware write through.
	Gin *zap.Logger
	// Gorm adapts a dedicated zap logger to gorm's logger.Interface.
	Gorm gormlogger.Interface
)
