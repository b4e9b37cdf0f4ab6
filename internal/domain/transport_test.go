package domain

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestStdioTransport_ReadsRequests(t *testing.T) {
	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		``,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":"abc","method":"tools/list"}`,
	}, "\n") + "\n"

	var out bytes.Buffer
	transport := NewStdioTransportWithIO(strings.NewReader(input), &out, zerolog.Nop())
	if err := transport.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var got []*Request
	for req := range transport.Receive() {
		got = append(got, req)
	}

	if len(got) != 3 {
		t.Fatalf("received %d requests, want 3", len(got))
	}
	if got[0].Method != "initialize" || got[0].ID != float64(1) {
		t.Errorf("first request = %+v", got[0])
	}
	if !got[1].IsNotification() {
		t.Error("second request should be a notification")
	}
	if got[2].ID != "abc" {
		t.Errorf("third request ID = %v, want abc", got[2].ID)
	}
	if out.Len() != 0 {
		t.Errorf("nothing should be written for valid input, got %q", out.String())
	}
}

func TestStdioTransport_RejectsMalformedLines(t *testing.T) {
	input := "{not json}\n" + `{"jsonrpc":"1.0","id":7,"method":"ping"}` + "\n"

	var out bytes.Buffer
	transport := NewStdioTransportWithIO(strings.NewReader(input), &out, zerolog.Nop())
	if err := transport.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	for range transport.Receive() {
		t.Error("malformed lines must not be delivered")
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d response lines, want 2: %q", len(lines), out.String())
	}

	var parseErr, versionErr Response
	if err := json.Unmarshal([]byte(lines[0]), &parseErr); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &versionErr); err != nil {
		t.Fatal(err)
	}
	if parseErr.Error == nil || parseErr.Error.Code != CodeParseError || parseErr.ID != nil {
		t.Errorf("parse error response = %+v", parseErr)
	}
	if versionErr.Error == nil || versionErr.Error.Code != CodeInvalidRequest || versionErr.ID != float64(7) {
		t.Errorf("version error response = %+v", versionErr)
	}
}

func TestStdioTransport_SendWritesOneLine(t *testing.T) {
	var out bytes.Buffer
	transport := NewStdioTransportWithIO(strings.NewReader(""), &out, zerolog.Nop())

	err := transport.Send(&Response{ID: 3, Result: map[string]interface{}{"text": "line1\nline2"}})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if strings.Count(out.String(), "\n") != 1 {
		t.Errorf("response spans more than one line: %q", out.String())
	}
	if !strings.Contains(out.String(), `"jsonrpc":"2.0"`) {
		t.Errorf("jsonrpc version not filled in: %q", out.String())
	}

	if err := transport.Close(); err != nil {
		t.Fatal(err)
	}
	if err := transport.Send(&Response{ID: 4}); err == nil {
		t.Error("Send after Close should fail")
	}
}

// sseClient reads events from an open event stream.
type sseClient struct {
	t       *testing.T
	resp    *http.Response
	scanner *bufio.Scanner
}

func openSSE(t *testing.T, url string) *sseClient {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}
	return &sseClient{t: t, resp: resp, scanner: bufio.NewScanner(resp.Body)}
}

// next returns the event name and data of the next event.
func (c *sseClient) next() (string, string) {
	c.t.Helper()
	var event, data string
	for c.scanner.Scan() {
		line := c.scanner.Text()
		switch {
		case line == "" && event != "":
			return event, data
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
	c.t.Fatalf("event stream ended: %v", c.scanner.Err())
	return "", ""
}

func TestHTTPTransport_SessionRouting(t *testing.T) {
	transport := NewHTTPTransport("127.0.0.1", 0, zerolog.Nop())
	server := httptest.NewServer(transport.Handler())
	defer server.Close()

	alice := openSSE(t, server.URL+"/sse")
	defer alice.resp.Body.Close()
	bob := openSSE(t, server.URL+"/mcp")
	defer bob.resp.Body.Close()
	defer transport.Close()

	event, aliceEndpoint := alice.next()
	if event != "endpoint" || !strings.HasPrefix(aliceEndpoint, "/message?sessionId=") {
		t.Fatalf("alice endpoint event = %s %q", event, aliceEndpoint)
	}
	_, bobEndpoint := bob.next()
	if !strings.HasPrefix(bobEndpoint, "/mcp/message?sessionId=") {
		t.Fatalf("bob endpoint = %q", bobEndpoint)
	}

	resp, err := http.Post(server.URL+bobEndpoint, "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":42,"method":"tools/list"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST status = %d, want 202", resp.StatusCode)
	}

	var req *Request
	select {
	case req = <-transport.Receive():
	case <-time.After(2 * time.Second):
		t.Fatal("request was not delivered")
	}
	if req.Session == "" || !strings.HasSuffix(bobEndpoint, req.Session) {
		t.Fatalf("request session = %q, endpoint %q", req.Session, bobEndpoint)
	}

	if err := transport.Send(&Response{ID: req.ID, Result: "ok", Session: req.Session}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	event, data := bob.next()
	if event != "message" {
		t.Fatalf("event = %q, want message", event)
	}
	var delivered Response
	if err := json.Unmarshal([]byte(data), &delivered); err != nil {
		t.Fatal(err)
	}
	if delivered.ID != float64(42) || delivered.Result != "ok" {
		t.Errorf("delivered = %+v", delivered)
	}
	if strings.Contains(data, "Session") || strings.Contains(data, req.Session) {
		t.Errorf("session id leaked into the payload: %s", data)
	}

	if err := transport.Send(&Response{ID: 1, Result: "x", Session: "missing"}); err == nil {
		t.Error("Send to an unknown session should fail")
	}
}

func TestHTTPTransport_MessageErrors(t *testing.T) {
	transport := NewHTTPTransport("127.0.0.1", 0, zerolog.Nop())
	server := httptest.NewServer(transport.Handler())
	defer server.Close()
	defer transport.Close()

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"missing session", http.MethodPost, "/message", http.StatusBadRequest},
		{"unknown session", http.MethodPost, "/message?sessionId=nope", http.StatusNotFound},
		{"wrong method", http.MethodGet, "/message?sessionId=nope", http.StatusMethodNotAllowed},
		{"sse wrong method", http.MethodPost, "/sse", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, server.URL+tt.path, strings.NewReader(`{}`))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestHTTPTransport_ParseErrorGoesToSession(t *testing.T) {
	transport := NewHTTPTransport("127.0.0.1", 0, zerolog.Nop())
	server := httptest.NewServer(transport.Handler())
	defer server.Close()

	client := openSSE(t, server.URL+"/sse")
	defer client.resp.Body.Close()
	defer transport.Close()

	_, endpoint := client.next()
	resp, err := http.Post(server.URL+endpoint, "application/json", strings.NewReader(`{broken`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	_, data := client.next()
	var errResp Response
	if err := json.Unmarshal([]byte(data), &errResp); err != nil {
		t.Fatal(err)
	}
	if errResp.Error == nil || errResp.Error.Code != CodeParseError {
		t.Errorf("response = %+v, want parse error", errResp)
	}
}

func TestHTTPTransport_StartAndClose(t *testing.T) {
	transport := NewHTTPTransport("127.0.0.1", 0, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	if err := transport.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if transport.Addr() == "" {
		t.Fatal("Addr() empty after Start")
	}

	cancel()
	select {
	case _, ok := <-transport.Receive():
		if ok {
			t.Error("unexpected request")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("request channel not closed after context cancellation")
	}
}

// addSession registers a session without an event stream reading it.
func addSession(transport *HTTPTransport, id string, queue int) *sseSession {
	session := &sseSession{id: id, messageChan: make(chan *Response, queue), done: make(chan struct{})}
	transport.sessionsMu.Lock()
	transport.sessions[id] = session
	transport.sessionsMu.Unlock()
	return session
}

func TestHTTPTransport_SendWaitsForSlowSession(t *testing.T) {
	transport := NewHTTPTransport("127.0.0.1", 0, zerolog.Nop())
	session := addSession(transport, "slow", 16)

	const total = 40
	received := make(chan int, 1)
	go func() {
		// The client stalls long enough for the queue to fill up.
		time.Sleep(100 * time.Millisecond)
		n := 0
		for range session.messageChan {
			n++
			if n == total {
				break
			}
		}
		received <- n
	}()

	payload := strings.Repeat("x", 512<<10)
	for i := 0; i < total; i++ {
		if err := transport.Send(&Response{ID: i, Result: payload, Session: "slow"}); err != nil {
			t.Fatalf("Send(%d) error = %v", i, err)
		}
	}

	select {
	case n := <-received:
		if n != total {
			t.Errorf("received %d responses, want %d", n, total)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("responses were not delivered")
	}
}

func TestHTTPTransport_SendGivesUp(t *testing.T) {
	transport := NewHTTPTransport("127.0.0.1", 0, zerolog.Nop())
	session := addSession(transport, "stuck", 0)

	transport.SendTimeout = 50 * time.Millisecond
	err := transport.Send(&Response{ID: 1, Session: "stuck"})
	if err == nil || !strings.Contains(err.Error(), "did not accept") {
		t.Errorf("Send() on a stalled session error = %v", err)
	}

	transport.SendTimeout = time.Minute
	time.AfterFunc(50*time.Millisecond, session.close)
	start := time.Now()
	err = transport.Send(&Response{ID: 2, Session: "stuck"})
	if err == nil || !strings.Contains(err.Error(), "closed before") {
		t.Errorf("Send() on a closing session error = %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Send() kept waiting after the session closed")
	}

	if err := transport.Send(&Response{ID: 3, Session: "gone"}); err == nil {
		t.Error("Send() to an unknown session succeeded")
	}
}

func TestHTTPTransport_SessionDone(t *testing.T) {
	transport := NewHTTPTransport("127.0.0.1", 0, zerolog.Nop())
	var _ SessionTransport = transport

	select {
	case <-transport.SessionDone("unknown"):
	default:
		t.Error("unknown session should report done")
	}

	session := addSession(transport, "live", 1)
	done := transport.SessionDone("live")
	select {
	case <-done:
		t.Fatal("live session reported done")
	default:
	}
	session.close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("done not closed with the session")
	}
}
