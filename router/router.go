// Package router is the HTTP front end (spec.md §4.4, §6): it exposes
// every tenant module at /db/{database}/wasm/{module}[/...], translating
// each inbound request into an HTTP server v1 Request and an outgoing
// Worker response back into the wire response, and owns the process's
// single listener across all three listen modes (--port, --unix-socket,
// --fd).
package router

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/forbearing/wasmrt/config"
	"github.com/forbearing/wasmrt/internal/abi"
	"github.com/forbearing/wasmrt/internal/tenant"
	"github.com/forbearing/wasmrt/internal/worker"
	"github.com/forbearing/wasmrt/logger"
	"github.com/forbearing/wasmrt/middleware"
	"github.com/forbearing/wasmrt/response"
)

var (
	root   *gin.Engine
	server *http.Server
)

// Init builds the gin engine and registers every route, dispatching
// guest traffic through ten.
func Init(ten *tenant.Tenant) error {
	gin.SetMode(gin.ReleaseMode)
	root = gin.New()

	root.Use(middleware.CommonMiddlewares...)
	root.Use(
		middleware.Logger("api.log"),
		middleware.Recovery("recovery.log"),
		middleware.RequestSizeLimit(32<<20),
		middleware.Timeout(30*time.Second),
	)

	root.GET("/metrics", gin.WrapH(promhttp.Handler()))
	root.GET("/-/healthz", healthz)
	root.GET("/-/readyz", readyz)

	dispatch := dispatchHandler(ten)
	root.Any("/db/:database/wasm/:module", dispatch)
	root.Any("/db/:database/wasm/:module/*rest", dispatch)

	root.NoRoute(func(c *gin.Context) {
		response.ResponseJSON(c, response.CodeNotFound)
	})

	return nil
}

func healthz(c *gin.Context) { c.Status(http.StatusOK) }
func readyz(c *gin.Context)  { c.Status(http.StatusOK) }

// dispatchHandler resolves the (database, module) Worker named by the
// path and forwards the request across the HTTP server v1 ABI. The
// forwarded URI is the path below /wasm/{module} plus the original
// query string; scheme and host (the request's authority) are never
// forwarded, since the guest only ever sees a path-and-query request
// line (spec.md §4.4).
func dispatchHandler(ten *tenant.Tenant) gin.HandlerFunc {
	return func(c *gin.Context) {
		database := c.Param("database")
		module := c.Param("module")
		rest := c.Param("rest")
		if rest == "" {
			rest = "/"
		}
		if q := c.Request.URL.RawQuery; q != "" {
			rest = rest + "?" + q
		}

		w, err := ten.Worker(c.Request.Context(), database, module)
		if err != nil {
			logger.Router.Debugw("module not found", "database", database, "module", module, "error", err)
			response.ResponseJSON(c, response.CodeNotFound.WithMsg(err.Error()))
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			response.ResponseJSON(c, response.CodeBadRequest.WithMsg("read request body"))
			return
		}

		resp, err := w.HandleRequest(c.Request.Context(), abi.Request{
			Method:  c.Request.Method,
			URI:     rest,
			Headers: encodeHeaders(c.Request.Header),
			Body:    body,
		})
		if err != nil {
			dispatchError(c, database, module, err)
			return
		}

		for _, h := range resp.Headers {
			c.Writer.Header().Add(string(h.Name), string(h.Value))
		}
		c.Data(int(resp.StatusCode), contentType(resp.Headers), resp.Body)
	}
}

func dispatchError(c *gin.Context, database, module string, err error) {
	if errors.Is(err, worker.ErrNoHandler) {
		response.ResponseJSON(c, response.CodeNotFound.WithMsg("module registered no HTTP handler"))
		return
	}
	logger.Router.Errorw("worker dispatch failed", "database", database, "module", module, "error", err)
	response.ResponseJSON(c, response.CodeServiceUnavail.WithMsg(err.Error()))
}

func encodeHeaders(h http.Header) []abi.Header {
	out := make([]abi.Header, 0, len(h))
	for name, values := range h {
		for _, v := range values {
			out = append(out, abi.Header{Name: []byte(name), Value: []byte(v)})
		}
	}
	return out
}

func contentType(headers []abi.Header) string {
	for _, h := range headers {
		if string(h.Name) == "Content-Type" || string(h.Name) == "content-type" {
			return string(h.Value)
		}
	}
	return "application/octet-stream"
}

// Run starts the listener matching the configured listen mode
// (spec.md §6) and blocks until it stops serving.
func Run() error {
	listener, err := listen()
	if err != nil {
		return errors.Wrap(err, "router: listen")
	}

	server = &http.Server{
		Handler:      root,
		ReadTimeout:  config.App.Server.ReadTimeout,
		WriteTimeout: config.App.Server.WriteTimeout,
	}
	logger.Runtime.Infow("front end listening", "addr", listener.Addr().String())

	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "router: serve")
	}
	return nil
}

func listen() (net.Listener, error) {
	srv := config.App.Server
	switch {
	case srv.Port > 0:
		return net.Listen("tcp", fmt.Sprintf(":%d", srv.Port))
	case len(srv.UnixSocket) > 0:
		_ = os.Remove(srv.UnixSocket)
		return net.Listen("unix", srv.UnixSocket)
	case srv.FD >= 0:
		file := os.NewFile(uintptr(srv.FD), "wasmrt-listener")
		return net.FileListener(file)
	default:
		return nil, errors.New("router: no listen mode configured")
	}
}

// Stop gracefully shuts the front end down within the configured
// shutdown timeout.
func Stop() {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), config.App.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Runtime.Errorw("front end shutdown failed", "error", err)
	} else {
		logger.Runtime.Infow("front end shutdown completed")
	}
	server = nil
}
