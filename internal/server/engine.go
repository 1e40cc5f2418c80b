// Package server implements the vorg protocol engine: a minimal HTTP/1.1
// server over raw TCP with exact-match dispatch and a closed response set.
//
// The engine owns connection lifecycle. Each accepted connection runs a
// session loop: read one request under a deadline, dispatch it synchronously,
// write the rendered response, repeat while keep-alive holds. Handlers own
// data lifecycle and never see the transport.
package server

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// sessionTimeout bounds every read/write iteration of a session. The
// deadline resets at the top of each loop turn, so an idle keep-alive client
// is disconnected after one quiet window.
const sessionTimeout = 30 * time.Second

// maxRequestBody caps how much of a request body a session will buffer.
const maxRequestBody = 1 << 20

// Request is the handler's owned copy of one parsed request.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// Handler maps one request to exactly one response variant. Handlers run
// synchronously on the session; they cannot stream partial output.
type Handler func(req *Request) Response

type handlerKey struct {
	method string
	route  string
}

// Engine accepts connections and dispatches requests to registered handlers.
// Build the registry with RegisterHandler before calling Run or Serve; the
// registry is read-only once serving starts.
type Engine struct {
	handlers map[handlerKey]Handler
	logger   *slog.Logger
	timeout  time.Duration
}

// New creates an engine with an empty registry.
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		handlers: make(map[handlerKey]Handler),
		logger:   logger,
		timeout:  sessionTimeout,
	}
}

// RegisterHandler associates (method, route) with a handler. The route is
// matched exactly, no patterns. Registering the same key twice silently
// replaces the earlier handler; registration is a startup-time activity and
// duplicates are a code review concern, not a runtime one.
func (e *Engine) RegisterHandler(method, route string, h Handler) {
	e.handlers[handlerKey{method: strings.ToUpper(method), route: route}] = h
}

// Run binds addr and accepts connections until the process exits.
func (e *Engine) Run(addr string) error {
	// net.Listen sets SO_REUSEADDR on TCP listeners, so a restart does not
	// trip over sockets lingering in TIME_WAIT.
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return e.Serve(ln)
}

// Serve accepts connections from ln indefinitely, one session goroutine per
// connection. A failing session never takes the accept loop down; the Go
// runtime multiplexes the session goroutines over the worker threads.
func (e *Engine) Serve(ln net.Listener) error {
	e.logger.Info("listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go e.session(conn)
	}
}

// session drives one connection through the read/dispatch/write loop.
func (e *Engine) session(conn net.Conn) {
	logger := e.logger.With(
		"session", uuid.NewString(),
		"remote_addr", conn.RemoteAddr().String(),
	)
	defer func() {
		_ = conn.Close()
	}()

	br := bufio.NewReader(conn)
	for {
		// Fresh deadline each iteration; covers both the read and the write.
		_ = conn.SetDeadline(time.Now().Add(e.timeout))

		httpReq, err := http.ReadRequest(br)
		if err != nil {
			// A client closing between requests is the normal way out.
			if errors.Is(err, io.EOF) {
				break
			}
			logger.Error("session failed", "error", err)
			return
		}

		// Read one byte past the cap so an oversized body is detectable.
		body, err := io.ReadAll(io.LimitReader(httpReq.Body, maxRequestBody+1))
		_ = httpReq.Body.Close()
		if err != nil {
			logger.Error("session failed", "error", err)
			return
		}
		if len(body) > maxRequestBody {
			logger.Warn("request body too large",
				"method", httpReq.Method, "path", httpReq.URL.Path, "limit", maxRequestBody)
			res := InvalidRequest{Message: "Request body is too large."}
			if err := writeResponse(conn, httpReq.Method, res, false); err != nil {
				logger.Error("session failed", "error", err)
				return
			}
			break
		}

		req := &Request{
			Method: httpReq.Method,
			Path:   httpReq.URL.Path,
			Header: httpReq.Header.Clone(),
			Body:   body,
		}

		res := e.dispatch(req)
		keepAlive := !httpReq.Close

		if err := writeResponse(conn, req.Method, res, keepAlive); err != nil {
			logger.Error("session failed", "error", err)
			return
		}

		if !keepAlive {
			break
		}
	}

	// Shut down the write half; the peer may already be gone, so errors are
	// deliberately dropped.
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
}

// dispatch resolves the handler for req and invokes it behind a recover
// boundary, so a panicking handler costs one 500, not the session.
func (e *Engine) dispatch(req *Request) (res Response) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("handler panicked", "method", req.Method, "path", req.Path, "panic", r)
			res = ServerError{Message: "Internal server error."}
		}
	}()

	// HEAD borrows GET's handler; the body is stripped at write time and the
	// handler never knows.
	method := req.Method
	if method == http.MethodHead {
		method = http.MethodGet
	}

	handler, ok := e.handlers[handlerKey{method: method, route: req.Path}]
	if !ok {
		handler = handleUnknownRoute
	}
	return handler(req)
}

func handleUnknownRoute(req *Request) Response {
	return NotFound{Message: fmt.Sprintf("Route %s is not found.", req.Path)}
}

// writeResponse renders res and flushes one wire response. HEAD responses
// carry the headers of the would-be GET, Content-Length included, with the
// body suppressed.
func writeResponse(w io.Writer, method string, res Response, keepAlive bool) error {
	status, contentType, body := render(res)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	fmt.Fprintf(&buf, "Server: vorg\r\n")
	fmt.Fprintf(&buf, "Content-Type: %s\r\n", contentType)
	fmt.Fprintf(&buf, "Content-Length: %d\r\n", len(body))
	if keepAlive {
		fmt.Fprintf(&buf, "Connection: keep-alive\r\n")
	} else {
		fmt.Fprintf(&buf, "Connection: close\r\n")
	}
	buf.WriteString("\r\n")
	if method != http.MethodHead {
		buf.Write(body)
	}

	_, err := w.Write(buf.Bytes())
	return err
}
