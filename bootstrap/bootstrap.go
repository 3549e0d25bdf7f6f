package bootstrap

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/forbearing/wasmrt/config"
	"github.com/forbearing/wasmrt/internal/abi"
	"github.com/forbearing/wasmrt/internal/rpcfront"
	"github.com/forbearing/wasmrt/internal/tenant"
	"github.com/forbearing/wasmrt/internal/wasmengine"
	pkgzap "github.com/forbearing/wasmrt/logger/zap"
	"github.com/forbearing/wasmrt/metrics"
	"github.com/forbearing/wasmrt/router"
)

var (
	initialized bool
	mu          sync.Mutex

	ten    *tenant.Tenant
	rpcSrv *rpcfront.Server
)

// Bootstrap wires every long-lived subsystem in order: logging,
// metrics, the wasm engine, the Tenant, the HTTP front end, and (if
// configured) the rpcfront control transport. It does not load
// configuration itself: it reads config.App as the caller left it
// after config.Init, so overrides applied in between (cmd/wasmrt's
// flags) are kept. It is idempotent; a second call after a successful
// first is a no-op.
func Bootstrap() error {
	_, _ = maxprocs.Set(maxprocs.Logger(pkgzap.New("").Infof))

	mu.Lock()
	defer mu.Unlock()
	if initialized {
		return nil
	}

	Register(
		pkgzap.Init,
		metrics.Init,
		initTenant,
		initRouter,
		initRPCFront,
	)
	if err := Init(); err != nil {
		return err
	}

	RegisterCleanup(
		func() {
			if rpcSrv != nil {
				_ = rpcSrv.Stop()
			}
		},
		func() {
			if ten != nil {
				_ = ten.Close(context.Background())
			}
		},
		pkgzap.Clean,
		config.Clean,
	)

	initialized = true
	return nil
}

func initTenant() error {
	engine, err := wasmengine.NewWazero(context.Background())
	if err != nil {
		return err
	}
	t, err := tenant.New(engine, config.App.Wasm.Dir, config.App.Wasm.MaxTrackedModules, abi.ParseLevel(config.App.Logger.Level))
	if err != nil {
		return err
	}
	ten = t
	return nil
}

func initRouter() error {
	return router.Init(ten)
}

func initRPCFront() error {
	if len(config.App.Server.RPCSocket) == 0 {
		return nil
	}
	srv, err := rpcfront.New(config.App.Server.RPCSocket, ten)
	if err != nil {
		return err
	}
	rpcSrv = srv
	return nil
}

// Run starts every background server registered during Bootstrap and
// blocks until one exits, errors, or the process receives an
// interrupt/termination signal.
func Run() error {
	defer Cleanup()

	RegisterGo(router.Run)
	RegisterCleanup(router.Stop)
	if rpcSrv != nil {
		RegisterGo(rpcSrv.Run)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	errCh := make(chan error, 1)

	go func() { errCh <- Go() }()

	select {
	case sig := <-sigCh:
		zap.S().Infow("canceled by signal", "signal", sig)
		return nil
	case err := <-errCh:
		return err
	}
}
