package domain

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Transport defines the interface for MCP transport mechanisms.
// Implementations deliver framed JSON-RPC requests to the server and ship
// its responses back; both bindings behave identically above this line.
type Transport interface {
	// Start begins listening for incoming MCP messages.
	// Returns an error if the transport cannot be initialized.
	Start(ctx context.Context) error

	// Send transmits a JSON-RPC response to the client.
	// Returns an error if the response cannot be sent.
	Send(response *Response) error

	// Receive returns a channel for incoming JSON-RPC requests.
	// The channel is closed when the transport is shut down.
	Receive() <-chan *Request

	// Close gracefully shuts down the transport.
	// Returns an error if shutdown fails.
	Close() error
}

// SessionTransport is implemented by transports that multiplex client
// sessions. SessionDone returns a channel that is closed once the session
// has ended; an unknown session yields an already closed channel.
type SessionTransport interface {
	SessionDone(session string) <-chan struct{}
}

const maxMessageBytes = 16 << 20

// DefaultSendTimeout bounds how long Send waits for a slow session to make
// room for a response.
const DefaultSendTimeout = 30 * time.Second

// StdioTransport implements Transport using stdin/stdout for communication.
// It reads newline-delimited JSON-RPC messages from stdin and writes
// responses to stdout.
type StdioTransport struct {
	reader  *bufio.Reader
	writer  *bufio.Writer
	reqChan chan *Request
	logger  zerolog.Logger
	mu      sync.Mutex
	closed  bool
}

// NewStdioTransport creates a StdioTransport bound to os.Stdin and os.Stdout.
func NewStdioTransport(logger zerolog.Logger) *StdioTransport {
	return NewStdioTransportWithIO(os.Stdin, os.Stdout, logger)
}

// NewStdioTransportWithIO creates a new StdioTransport with custom IO streams.
// This is primarily used for testing.
func NewStdioTransportWithIO(reader io.Reader, writer io.Writer, logger zerolog.Logger) *StdioTransport {
	return &StdioTransport{
		reader:  bufio.NewReader(reader),
		writer:  bufio.NewWriter(writer),
		reqChan: make(chan *Request, 10),
		logger:  logger.With().Str("transport", "stdio").Logger(),
	}
}

// Start spawns the read loop.
func (t *StdioTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("transport is closed")
	}
	t.mu.Unlock()

	go t.readLoop(ctx)
	return nil
}

// readLoop continuously reads from stdin and parses JSON-RPC requests.
func (t *StdioTransport) readLoop(ctx context.Context) {
	defer close(t.reqChan)

	for {
		if ctx.Err() != nil {
			return
		}

		line, err := t.reader.ReadString('\n')
		if err != nil && line == "" {
			if !errors.Is(err, io.EOF) {
				t.logger.Error().Err(err).Msg("read failed")
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) > maxMessageBytes {
			t.sendError(nil, CodeInvalidRequest, "Invalid Request", "message too large")
			continue
		}

		var req Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			t.sendError(nil, CodeParseError, "Parse error", err.Error())
			continue
		}

		if req.JSONRPC != "2.0" {
			t.sendError(req.ID, CodeInvalidRequest, "Invalid Request", "invalid jsonrpc version")
			continue
		}

		select {
		case t.reqChan <- &req:
		case <-ctx.Done():
			return
		}
	}
}

// Send writes a JSON-RPC response to stdout as a single line.
func (t *StdioTransport) Send(response *Response) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("transport is closed")
	}

	if response.JSONRPC == "" {
		response.JSONRPC = "2.0"
	}

	// encoding/json escapes control characters, so the output is one line.
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	if _, err := t.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}

	if err := t.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush response: %w", err)
	}

	return nil
}

// Receive returns the channel for incoming JSON-RPC requests.
func (t *StdioTransport) Receive() <-chan *Request {
	return t.reqChan
}

// Close gracefully shuts down the transport.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	// reqChan is closed by readLoop.
	t.closed = true
	return nil
}

func (t *StdioTransport) sendError(id interface{}, code int, message string, data interface{}) {
	response := &Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: message, Data: data},
	}
	if err := t.Send(response); err != nil {
		t.logger.Error().Err(err).Msg("failed to send error response")
	}
}

// HTTPTransport implements Transport using HTTP with server-sent events.
// It exposes two endpoints:
// 1. an SSE stream (GET /sse, alias /mcp) for server-to-client messages
// 2. a POST endpoint (/message, alias /mcp/message) for client-to-server messages
//
// Each response is delivered to the session whose POST produced the request.
type HTTPTransport struct {
	host     string
	port     int
	server   *http.Server
	listener net.Listener
	reqChan  chan *Request
	logger   zerolog.Logger
	mu       sync.Mutex
	closed   bool

	// SendTimeout is how long Send blocks on a full session queue.
	SendTimeout time.Duration

	sessions   map[string]*sseSession
	sessionsMu sync.RWMutex
}

// sseSession represents an active SSE connection
type sseSession struct {
	id          string
	messageChan chan *Response
	done        chan struct{}
	closeOnce   sync.Once
}

func (s *sseSession) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// NewHTTPTransport creates a new HTTPTransport instance.
func NewHTTPTransport(host string, port int, logger zerolog.Logger) *HTTPTransport {
	return &HTTPTransport{
		host:     host,
		port:     port,
		reqChan:  make(chan *Request, 64),
		logger:   logger.With().Str("transport", "http").Logger(),
		sessions: make(map[string]*sseSession),

		SendTimeout: DefaultSendTimeout,
	}
}

// Handler returns the HTTP handler serving both endpoints.
func (t *HTTPTransport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", t.handleSSE)
	mux.HandleFunc("/mcp", t.handleSSE)
	mux.HandleFunc("/message", t.handleMessage)
	mux.HandleFunc("/mcp/message", t.handleMessage)
	return mux
}

// Addr returns the bound listen address once Start has returned.
func (t *HTTPTransport) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

// Start binds the listener and serves in the background.
func (t *HTTPTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("transport is closed")
	}

	addr := net.JoinHostPort(t.host, fmt.Sprint(t.port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	t.listener = listener
	t.server = &http.Server{
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := t.server
	t.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		t.Close()
	}()

	t.logger.Info().Str("addr", listener.Addr().String()).Msg("listening")
	return nil
}

// handleSSE opens an event stream for server-to-client messages.
func (t *HTTPTransport) handleSSE(w http.ResponseWriter, r *http.Request) {
	t.logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Str("remote", r.RemoteAddr).Msg("http request")

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	session := &sseSession{
		id:          uuid.NewString(),
		messageChan: make(chan *Response, 16),
		done:        make(chan struct{}),
	}

	t.sessionsMu.Lock()
	t.sessions[session.id] = session
	t.sessionsMu.Unlock()

	defer func() {
		t.sessionsMu.Lock()
		delete(t.sessions, session.id)
		t.sessionsMu.Unlock()
		session.close()
	}()

	// Tell the client where to post its messages.
	endpoint := "/message"
	if r.URL.Path == "/mcp" {
		endpoint = "/mcp/message"
	}
	fmt.Fprintf(w, "event: endpoint\ndata: %s?sessionId=%s\n\n", endpoint, session.id)
	flusher.Flush()

	t.logger.Info().Str("session", session.id).Msg("session established")

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			t.logger.Info().Str("session", session.id).Msg("session disconnected")
			return
		case <-session.done:
			return
		case response := <-session.messageChan:
			data, err := json.Marshal(response)
			if err != nil {
				t.logger.Error().Err(err).Str("session", session.id).Msg("failed to marshal response")
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

// handleMessage accepts one JSON-RPC message for an existing session.
func (t *HTTPTransport) handleMessage(w http.ResponseWriter, r *http.Request) {
	t.logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Str("remote", r.RemoteAddr).Msg("http request")

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "Missing sessionId parameter", http.StatusBadRequest)
		return
	}

	t.sessionsMu.RLock()
	session, exists := t.sessions[sessionID]
	t.sessionsMu.RUnlock()
	if !exists {
		http.Error(w, "Invalid session", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	defer r.Body.Close()
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		t.offer(session, &Response{JSONRPC: "2.0", Error: &Error{Code: CodeParseError, Message: "Parse error", Data: err.Error()}})
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if req.JSONRPC != "2.0" {
		t.offer(session, &Response{JSONRPC: "2.0", ID: req.ID, Error: &Error{Code: CodeInvalidRequest, Message: "Invalid Request", Data: "invalid jsonrpc version"}})
		w.WriteHeader(http.StatusAccepted)
		return
	}
	req.Session = sessionID

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	}

	select {
	case t.reqChan <- &req:
		w.WriteHeader(http.StatusAccepted)
	default:
		t.offer(session, &Response{JSONRPC: "2.0", ID: req.ID, Error: &Error{Code: CodeInternalError, Message: "Internal error", Data: "request queue full"}})
		w.WriteHeader(http.StatusServiceUnavailable)
	}
}

// offer queues a transport-level error without waiting. Only messages that
// answer no dispatched request go through here.
func (t *HTTPTransport) offer(session *sseSession, response *Response) {
	select {
	case session.messageChan <- response:
	case <-session.done:
	default:
		t.logger.Warn().Str("session", session.id).Msg("session queue full, dropping transport error")
	}
}

// deliver waits until the session accepts the response, the session ends
// or SendTimeout passes.
func (t *HTTPTransport) deliver(session *sseSession, response *Response) error {
	select {
	case session.messageChan <- response:
		return nil
	default:
	}

	timer := time.NewTimer(t.SendTimeout)
	defer timer.Stop()
	select {
	case session.messageChan <- response:
		return nil
	case <-session.done:
		return fmt.Errorf("session %s closed before the response was delivered", session.id)
	case <-timer.C:
		return fmt.Errorf("session %s did not accept the response within %s", session.id, t.SendTimeout)
	}
}

// SessionDone implements SessionTransport.
func (t *HTTPTransport) SessionDone(session string) <-chan struct{} {
	t.sessionsMu.RLock()
	defer t.sessionsMu.RUnlock()
	if s, ok := t.sessions[session]; ok {
		return s.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// Send delivers a response to the session that issued the request. It
// blocks while the session queue is full, up to SendTimeout.
func (t *HTTPTransport) Send(response *Response) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return fmt.Errorf("transport is closed")
	}

	if response.JSONRPC == "" {
		response.JSONRPC = "2.0"
	}

	t.sessionsMu.RLock()
	session, ok := t.sessions[response.Session]
	t.sessionsMu.RUnlock()
	if !ok {
		return fmt.Errorf("no active session %q", response.Session)
	}

	return t.deliver(session, response)
}

// Receive returns the channel for incoming JSON-RPC requests.
func (t *HTTPTransport) Receive() <-chan *Request {
	return t.reqChan
}

// Close gracefully shuts down the HTTP server and all SSE sessions.
func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.reqChan)
	server := t.server
	t.mu.Unlock()

	t.sessionsMu.Lock()
	for _, session := range t.sessions {
		session.close()
	}
	t.sessionsMu.Unlock()

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	}

	return nil
}
