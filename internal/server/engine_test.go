package server

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// startEngine serves e on an ephemeral port and returns its address.
func startEngine(t *testing.T, e *Engine) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		_ = e.Serve(ln)
	}()
	t.Cleanup(func() {
		_ = ln.Close()
	})
	return ln.Addr().String()
}

// roundTrip sends one raw request over its own connection and parses the
// response.
func roundTrip(t *testing.T, addr, method, path string) *http.Response {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	return sendRequest(t, conn, bufio.NewReader(conn), method, path)
}

func sendRequest(t *testing.T, conn net.Conn, br *bufio.Reader, method, path string) *http.Response {
	t.Helper()
	fmt.Fprintf(conn, "%s %s HTTP/1.1\r\nHost: vorg-test\r\n\r\n", method, path)
	res, err := http.ReadResponse(br, &http.Request{Method: method})
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	t.Cleanup(func() {
		_ = res.Body.Close()
	})
	return res
}

func readBody(t *testing.T, res *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return string(body)
}

func TestEngine_Dispatch(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterHandler("GET", "/x", func(_ *Request) Response {
		return Json{Payload: map[string]string{"route": "x"}}
	})
	addr := startEngine(t, e)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "registered route",
			method:     "GET",
			path:       "/x",
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"route":"x"}`,
		},
		{
			name:       "unknown path",
			method:     "GET",
			path:       "/y",
			wantStatus: http.StatusNotFound,
			wantBody:   "Route /y is not found.",
		},
		{
			name:       "wrong verb",
			method:     "POST",
			path:       "/x",
			wantStatus: http.StatusNotFound,
			wantBody:   "Route /x is not found.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := roundTrip(t, addr, tt.method, tt.path)
			if res.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", res.StatusCode, tt.wantStatus)
			}
			if got := readBody(t, res); got != tt.wantBody {
				t.Errorf("body = %q, want %q", got, tt.wantBody)
			}
		})
	}
}

func TestEngine_LastRegistrationWins(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterHandler("GET", "/x", func(_ *Request) Response {
		return InvalidRequest{Message: "old"}
	})
	e.RegisterHandler("GET", "/x", func(_ *Request) Response {
		return InvalidRequest{Message: "new"}
	})
	addr := startEngine(t, e)

	res := roundTrip(t, addr, "GET", "/x")
	if got := readBody(t, res); got != "new" {
		t.Errorf("body = %q, want the later registration to win", got)
	}
}

func TestEngine_HeadMatchesGet(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterHandler("GET", "/x", func(_ *Request) Response {
		return Json{Payload: map[string]string{"route": "x"}}
	})
	addr := startEngine(t, e)

	getRes := roundTrip(t, addr, "GET", "/x")
	headRes := roundTrip(t, addr, "HEAD", "/x")

	if headRes.StatusCode != getRes.StatusCode {
		t.Errorf("HEAD status = %d, GET status = %d, want equal",
			headRes.StatusCode, getRes.StatusCode)
	}
	for _, header := range []string{"Content-Type", "Content-Length", "Connection", "Server"} {
		if headRes.Header.Get(header) != getRes.Header.Get(header) {
			t.Errorf("HEAD %s = %q, GET %s = %q, want equal",
				header, headRes.Header.Get(header), header, getRes.Header.Get(header))
		}
	}
	if got := readBody(t, headRes); got != "" {
		t.Errorf("HEAD body = %q, want empty", got)
	}
}

func TestEngine_KeepAlive(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterHandler("GET", "/x", func(_ *Request) Response {
		return InvalidRequest{Message: "hit"}
	})
	addr := startEngine(t, e)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	br := bufio.NewReader(conn)

	// Two requests in arrival order on the same connection.
	for i := 0; i < 2; i++ {
		res := sendRequest(t, conn, br, "GET", "/x")
		if got := readBody(t, res); got != "hit" {
			t.Fatalf("request %d body = %q, want %q", i, got, "hit")
		}
		if res.Header.Get("Connection") != "keep-alive" {
			t.Errorf("request %d Connection = %q, want keep-alive", i, res.Header.Get("Connection"))
		}
	}
}

func TestEngine_ConnectionClose(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterHandler("GET", "/x", func(_ *Request) Response {
		return InvalidRequest{Message: "hit"}
	})
	addr := startEngine(t, e)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	br := bufio.NewReader(conn)

	fmt.Fprintf(conn, "GET /x HTTP/1.1\r\nHost: vorg-test\r\nConnection: close\r\n\r\n")
	res, err := http.ReadResponse(br, &http.Request{Method: "GET"})
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	defer res.Body.Close()
	// ReadResponse folds the Connection: close token into res.Close rather
	// than leaving it in the header map.
	if !res.Close {
		t.Error("response did not signal connection close")
	}
	_, _ = io.ReadAll(res.Body)

	// The server shut down its write half; the next read must hit EOF.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := br.ReadByte(); err != io.EOF {
		t.Errorf("read after close = %v, want io.EOF", err)
	}
}

func TestEngine_SessionTimeout(t *testing.T) {
	e := newTestEngine(t)
	e.timeout = 100 * time.Millisecond
	addr := startEngine(t, e)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Send nothing; the server must drop the connection after its window.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatal("expected the server to close an idle connection")
	} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
		t.Fatal("server did not close the idle connection within its timeout window")
	}
}

func TestEngine_HandlerPanicBecomesServerError(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterHandler("GET", "/x", func(_ *Request) Response {
		panic("handler bug")
	})
	addr := startEngine(t, e)

	res := roundTrip(t, addr, "GET", "/x")
	if res.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", res.StatusCode)
	}

	// The session must survive for the next request.
	res = roundTrip(t, addr, "GET", "/nope")
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("follow-up status = %d, want 404", res.StatusCode)
	}
}

func TestEngine_ConcurrentSessions(t *testing.T) {
	e := newTestEngine(t)
	const routes = 8
	for i := 0; i < routes; i++ {
		route := fmt.Sprintf("/r%d", i)
		body := fmt.Sprintf("response-%d", i)
		e.RegisterHandler("GET", route, func(_ *Request) Response {
			return InvalidRequest{Message: body}
		})
	}
	addr := startEngine(t, e)

	var wg sync.WaitGroup
	errs := make(chan error, routes*4)
	for i := 0; i < routes; i++ {
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				conn, err := net.Dial("tcp", addr)
				if err != nil {
					errs <- err
					return
				}
				defer conn.Close()
				br := bufio.NewReader(conn)
				fmt.Fprintf(conn, "GET /r%d HTTP/1.1\r\nHost: vorg-test\r\n\r\n", i)
				res, err := http.ReadResponse(br, &http.Request{Method: "GET"})
				if err != nil {
					errs <- err
					return
				}
				defer res.Body.Close()
				body, err := io.ReadAll(res.Body)
				if err != nil {
					errs <- err
					return
				}
				if want := fmt.Sprintf("response-%d", i); string(body) != want {
					errs <- fmt.Errorf("route /r%d got body %q, want %q", i, body, want)
				}
			}(i)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestEngine_RequestBodyReachesHandler(t *testing.T) {
	e := newTestEngine(t)
	bodies := make(chan string, 1)
	e.RegisterHandler("POST", "/x", func(req *Request) Response {
		bodies <- string(req.Body)
		return InvalidRequest{Message: "ok"}
	})
	addr := startEngine(t, e)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	br := bufio.NewReader(conn)

	payload := `{"hello":"world"}`
	fmt.Fprintf(conn,
		"POST /x HTTP/1.1\r\nHost: vorg-test\r\nContent-Length: %d\r\n\r\n%s",
		len(payload), payload)
	res, err := http.ReadResponse(br, &http.Request{Method: "POST"})
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	defer res.Body.Close()
	_, _ = io.ReadAll(res.Body)

	if got := <-bodies; got != payload {
		t.Errorf("handler saw body %q, want %q", got, payload)
	}
	if !strings.HasPrefix(res.Header.Get("Content-Type"), "text/html") {
		t.Errorf("Content-Type = %q, want text/html", res.Header.Get("Content-Type"))
	}
}

func TestEngine_OversizedBodyRejected(t *testing.T) {
	e := newTestEngine(t)
	handled := make(chan struct{}, 1)
	e.RegisterHandler("POST", "/x", func(_ *Request) Response {
		handled <- struct{}{}
		return InvalidRequest{Message: "ok"}
	})
	addr := startEngine(t, e)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	br := bufio.NewReader(conn)

	payload := strings.Repeat("x", maxRequestBody+1)
	fmt.Fprintf(conn,
		"POST /x HTTP/1.1\r\nHost: vorg-test\r\nContent-Length: %d\r\n\r\n%s",
		len(payload), payload)
	res, err := http.ReadResponse(br, &http.Request{Method: "POST"})
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", res.StatusCode)
	}
	if got := readBody(t, res); got != "Request body is too large." {
		t.Errorf("body = %q, want oversized-body message", got)
	}
	if !res.Close {
		t.Error("oversized-body response did not signal connection close")
	}
	select {
	case <-handled:
		t.Error("handler ran despite the oversized body")
	default:
	}
}
