// Command wasmrt runs the WebAssembly worker host: a process that
// serves one or more databases' guest modules over HTTP and, if
// configured, over a local unix-socket control transport.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/forbearing/wasmrt/bootstrap"
	"github.com/forbearing/wasmrt/config"
)

var (
	port       int
	unixSocket string
	fd         int
	rpcSocket  string
	wasmDir    string
	sqlitePath string
)

var rootCmd = &cobra.Command{
	Use:     "wasmrt",
	Short:   "run the WebAssembly worker host",
	Version: "0.1.0",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.Flags().IntVar(&port, "port", 0, "listen on this TCP port")
	rootCmd.Flags().StringVar(&unixSocket, "unix-socket", "", "listen for HTTP on this unix socket")
	rootCmd.Flags().IntVar(&fd, "fd", -1, "listen on this already-open file descriptor")
	rootCmd.Flags().StringVar(&rpcSocket, "rpc-socket", "", "also serve the control/data transport on this unix socket")
	rootCmd.Flags().StringVar(&wasmDir, "wasm-dir", "", "root directory holding each database's wasm modules")
	rootCmd.Flags().StringVar(&sqlitePath, "sqlite-path", "", "sqlite database file (omit for the configured default)")
}

func run() error {
	if err := config.Init(); err != nil {
		return err
	}

	applyFlagOverrides()

	wasmDirSet := len(config.App.Wasm.Dir) > 0
	if err := config.App.Server.Validate(false, wasmDirSet); err != nil {
		return err
	}

	if err := bootstrap.Bootstrap(); err != nil {
		return err
	}
	return bootstrap.Run()
}

// applyFlagOverrides lets command-line flags win over whatever
// config.Init loaded from file or environment, matching the teacher's
// convention of flags as the final override layer.
func applyFlagOverrides() {
	if port > 0 {
		config.App.Server.Port = port
	}
	if len(unixSocket) > 0 {
		config.App.Server.UnixSocket = unixSocket
	}
	if fd >= 0 {
		config.App.Server.FD = fd
	}
	if len(rpcSocket) > 0 {
		config.App.Server.RPCSocket = rpcSocket
	}
	if len(wasmDir) > 0 {
		config.App.Wasm.Dir = wasmDir
	}
	if len(sqlitePath) > 0 {
		config.App.Sqlite.Path = sqlitePath
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		zap.S().Errorw("wasmrt exited with error", "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
