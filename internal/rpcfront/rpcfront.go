// Package rpcfront is the control-and-data transport that runs
// alongside the HTTP front end on a local unix socket: a
// length-delimited msgpack RPC protocol carrying two envelope kinds,
// "http" (the same dispatch router.Init exposes, for callers that
// embed this host rather than speaking HTTP to it) and "set_directory"
// (repointing a database's module directory at runtime, supplemented
// from original_source's control channel since spec.md's distillation
// only documents the HTTP surface). Every connection is framed with a
// 4-byte big-endian length prefix around one msgpack-encoded value,
// request followed by response, one envelope per connection.
package rpcfront

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/forbearing/wasmrt/internal/abi"
	"github.com/forbearing/wasmrt/internal/tenant"
	"github.com/forbearing/wasmrt/internal/worker"
	"github.com/forbearing/wasmrt/logger"
)

// maxFrameBytes bounds a single frame, guarding against a misbehaving
// or malicious peer claiming an enormous length prefix.
const maxFrameBytes = 64 << 20

// Envelope is the request frame. Exactly one of SetDirectory or HTTP
// is set, selected by Kind.
type Envelope struct {
	Kind         string               `msgpack:"kind"`
	SetDirectory *SetDirectoryRequest `msgpack:"set_directory,omitempty"`
	HTTP         *HTTPRequest         `msgpack:"http,omitempty"`
}

// SetDirectoryRequest repoints database's module directory at
// Directory, purging every worker already registered for it.
type SetDirectoryRequest struct {
	Database  string `msgpack:"database"`
	Directory string `msgpack:"directory"`
}

// HTTPRequest carries the same information router.dispatchHandler
// extracts from a *gin.Context, addressed by an explicit path instead
// of gin's route parameters.
type HTTPRequest struct {
	Method  string       `msgpack:"method"`
	URL     string       `msgpack:"url"`
	Headers []abi.Header `msgpack:"headers"`
	Body    []byte       `msgpack:"body,omitempty"`
}

// Response is the reply frame. On failure Error is set and HTTP is nil.
type Response struct {
	Success bool              `msgpack:"success"`
	HTTP    *HTTPResponseBody `msgpack:"http,omitempty"`
	Error   string            `msgpack:"error,omitempty"`
}

// HTTPResponseBody mirrors abi.Response across the wire.
type HTTPResponseBody struct {
	StatusCode uint16       `msgpack:"status_code"`
	Headers    []abi.Header `msgpack:"headers"`
	Body       []byte       `msgpack:"body,omitempty"`
}

// Server accepts connections on a unix socket and serves one Envelope
// per connection.
type Server struct {
	ten      *tenant.Tenant
	listener net.Listener

	mu      sync.Mutex
	wg      sync.WaitGroup
	closing bool
}

// New binds socketPath, removing any stale socket file left behind by
// a previous run (the teacher's router.listen does the same for its
// own unix-socket mode).
func New(socketPath string, ten *tenant.Tenant) (*Server, error) {
	_ = os.Remove(socketPath)
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, errors.Wrap(err, "rpcfront: listen")
	}
	return &Server{ten: ten, listener: l}, nil
}

// Run accepts connections until Stop closes the listener.
func (s *Server) Run() error {
	logger.RPC.Infow("rpc front end listening", "addr", s.listener.Addr().String())
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				s.wg.Wait()
				return nil
			}
			return errors.Wrap(err, "rpcfront: accept")
		}
		s.wg.Add(1)
		go s.serve(conn)
	}
}

// Stop closes the listener; in-flight connections finish their
// current frame before Run returns.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	return s.listener.Close()
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	frame, err := readFrame(conn)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			logger.RPC.Warnw("read frame failed", "error", err)
		}
		return
	}

	var env Envelope
	if err := msgpack.Unmarshal(frame, &env); err != nil {
		_ = writeFrame(conn, mustMarshal(Response{Error: "rpcfront: decode envelope: " + err.Error()}))
		return
	}

	resp := s.dispatch(env)
	if err := writeFrame(conn, mustMarshal(resp)); err != nil {
		logger.RPC.Warnw("write frame failed", "error", err)
	}
}

func (s *Server) dispatch(env Envelope) Response {
	switch env.Kind {
	case "set_directory":
		return s.dispatchSetDirectory(env.SetDirectory)
	case "http":
		return s.dispatchHTTP(env.HTTP)
	default:
		return Response{Error: "rpcfront: unknown envelope kind " + env.Kind}
	}
}

func (s *Server) dispatchSetDirectory(req *SetDirectoryRequest) Response {
	if req == nil || req.Database == "" || req.Directory == "" {
		return Response{Error: "rpcfront: set_directory requires database and directory"}
	}
	s.ten.SetDirectory(context.Background(), req.Database, req.Directory)
	return Response{Success: true}
}

func (s *Server) dispatchHTTP(req *HTTPRequest) Response {
	if req == nil {
		return Response{Error: "rpcfront: http envelope missing body"}
	}
	database, module, rest, ok := parsePath(req.URL)
	if !ok {
		return Response{Error: "rpcfront: path must match /db/{database}/wasm/{module}[/...]"}
	}

	w, err := s.ten.Worker(context.Background(), database, module)
	if err != nil {
		return Response{Error: err.Error()}
	}

	resp, err := w.HandleRequest(context.Background(), abi.Request{
		Method:  req.Method,
		URI:     rest,
		Headers: req.Headers,
		Body:    req.Body,
	})
	if err != nil {
		if errors.Is(err, worker.ErrNoHandler) {
			return Response{Error: "rpcfront: module registered no HTTP handler"}
		}
		return Response{Error: err.Error()}
	}

	return Response{
		Success: true,
		HTTP: &HTTPResponseBody{
			StatusCode: resp.StatusCode,
			Headers:    resp.Headers,
			Body:       resp.Body,
		},
	}
}

// parsePath extracts (database, module, rest) from a path shaped like
// router's HTTP route, independently of gin: "/db/{database}/wasm/{module}"
// or "/db/{database}/wasm/{module}/{rest...}". rest always starts with
// "/"; a request for the bare module path yields rest == "/". This
// duplicates router.dispatchHandler's parsing deliberately: the two
// front ends are independent transports and neither should depend on
// gin's router to parse a path.
func parsePath(path string) (database, module, rest string, ok bool) {
	query := ""
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path, query = path[:idx], path[idx:]
	}
	segs := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(segs) < 4 || segs[0] != "db" || segs[1] == "" || segs[2] != "wasm" || segs[3] == "" {
		return "", "", "", false
	}
	database = segs[1]
	module = segs[3]
	if len(segs) > 4 {
		rest = "/" + strings.Join(segs[4:], "/")
	} else {
		rest = "/"
	}
	return database, module, rest + query, true
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return nil, errors.Newf("rpcfront: frame of %d bytes exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func mustMarshal(v Response) []byte {
	b, err := msgpack.Marshal(v)
	if err != nil {
		logger.RPC.Errorw("encode response failed", "error", err)
		b, _ = msgpack.Marshal(Response{Error: "rpcfront: internal encode failure"})
	}
	return b
}
