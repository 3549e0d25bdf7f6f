// Package bootstrap sequences process startup and shutdown, adapted
// from the teacher's initializer: Register queues ordered
// initialization steps run sequentially on the calling goroutine;
// RegisterGo queues long-running servers started together via
// errgroup and awaited until one exits or errors; RegisterCleanup
// queues teardown steps run in reverse registration order.
package bootstrap

import (
	"context"
	"reflect"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var _initializer = new(initializer)

type initializer struct {
	fns      []func() error
	gos      []func() error
	cleanups []func()
}

func (i *initializer) Register(fn ...func() error)   { i.fns = append(i.fns, fn...) }
func (i *initializer) RegisterGo(fn ...func() error) { i.gos = append(i.gos, fn...) }
func (i *initializer) RegisterCleanup(fn ...func())  { i.cleanups = append(i.cleanups, fn...) }

func (i *initializer) Init() error {
	defer func() { i.fns = i.fns[:0] }()
	for _, fn := range i.fns {
		if fn == nil {
			continue
		}
		if err := i.executeWithTiming(fn); err != nil {
			return err
		}
	}
	return nil
}

func (i *initializer) Go() error {
	defer func() { i.gos = i.gos[:0] }()
	g, _ := errgroup.WithContext(context.Background())
	for _, fn := range i.gos {
		if fn == nil {
			continue
		}
		g.Go(fn)
	}
	return g.Wait()
}

func (i *initializer) Cleanup() {
	for j := len(i.cleanups) - 1; j >= 0; j-- {
		if i.cleanups[j] != nil {
			i.cleanups[j]()
		}
	}
	i.cleanups = i.cleanups[:0]
}

func (i *initializer) executeWithTiming(fn func() error) error {
	name := i.getFunctionName(fn)
	start := time.Now()
	defer func() {
		zap.S().Debugw("init function executed", "function", name, "cost", time.Since(start))
	}()
	return fn()
}

func (i *initializer) getFunctionName(fn func() error) string {
	if fn == nil {
		return "<nil>"
	}
	pc := runtime.FuncForPC(reflect.ValueOf(fn).Pointer())
	if pc == nil {
		return "<unknown>"
	}
	name := pc.Name()
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}

func Register(fn ...func() error)   { _initializer.Register(fn...) }
func RegisterGo(fn ...func() error) { _initializer.RegisterGo(fn...) }
func RegisterCleanup(fn ...func())  { _initializer.RegisterCleanup(fn...) }
func Init() error                   { return _initializer.Init() }
func Go() error                     { return _initializer.Go() }
func Cleanup()                      { _initializer.Cleanup() }
