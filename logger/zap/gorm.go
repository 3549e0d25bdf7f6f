package zap

import (
	"context"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// gormAdapter implements gorm's logger.Interface on top of a
// *zap.SugaredLogger, the way the teacher's GormLogger adapts
// types.Logger. Used by the database-bridge connection pool so gorm's
// own diagnostics (slow query, connection errors) land in a zap logger
// of their own (gorm.log, via NewGorm) instead of gorm's default stdout
// logger.
type gormAdapter struct {
	l             *zap.SugaredLogger
	slowThreshold time.Duration
}

var _ gormlogger.Interface = (*gormAdapter)(nil)

// NewGorm returns a gorm logger.Interface writing to filename via New.
func NewGorm(filename string) gormlogger.Interface {
	return &gormAdapter{l: New(filename), slowThreshold: 200 * time.Millisecond}
}

func (g *gormAdapter) LogMode(gormlogger.LogLevel) gormlogger.Interface { return g }
func (g *gormAdapter) Info(_ context.Context, str string, args ...any)  { g.l.Infof(str, args...) }
func (g *gormAdapter) Warn(_ context.Context, str string, args ...any)  { g.l.Warnf(str, args...) }
func (g *gormAdapter) Error(_ context.Context, str string, args ...any) { g.l.Errorf(str, args...) }

func (g *gormAdapter) Trace(_ context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil:
		g.l.Errorw("sql error", "sql", sql, "rows", rows, "elapsed", elapsed, "error", err)
	case elapsed > g.slowThreshold:
		g.l.Warnw("slow sql", "sql", sql, "rows", rows, "elapsed", elapsed, "threshold", g.slowThreshold)
	default:
		g.l.Debugw("sql executed", "sql", sql, "rows", rows, "elapsed", elapsed)
	}
}
