package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"forge-mcp-server/internal/domain"
)

const (
	// ProtocolVersion is the MCP revision this server speaks.
	ProtocolVersion = "2024-11-05"
	// ServerName is reported in the initialize handshake.
	ServerName = "forge-mcp-server"
)

// Version is overridden at build time with -ldflags.
var Version = "dev"

// Server is the main MCP server implementation.
// It reads requests from the transport, answers the protocol methods and
// hands tool calls to the dispatcher. Each request runs on its own
// goroutine so a slow tool does not block listing or other calls.
type Server struct {
	transport  domain.Transport
	registry   *Registry
	dispatcher *Dispatcher
	config     *domain.Config
	logger     zerolog.Logger

	inflight sync.WaitGroup
	done     chan struct{}

	callsMu sync.Mutex
	calls   map[string]*call
}

// call is a request in flight that a cancellation notice can reach.
type call struct {
	cancel context.CancelFunc
}

// NewServer creates a new MCP server instance.
func NewServer(
	transport domain.Transport,
	registry *Registry,
	dispatcher *Dispatcher,
	config *domain.Config,
	logger zerolog.Logger,
) *Server {
	return &Server{
		transport:  transport,
		registry:   registry,
		dispatcher: dispatcher,
		config:     config,
		logger:     logger,
		done:       make(chan struct{}),
		calls:      make(map[string]*call),
	}
}

// Start starts the transport and begins processing requests in the
// background. Processing stops when ctx is cancelled or the transport
// closes its receive channel.
func (s *Server) Start(ctx context.Context) error {
	if err := s.transport.Start(ctx); err != nil {
		s.logger.Error().Err(err).Str("transport_type", s.config.Transport.Type).Msg("failed to start transport")
		return fmt.Errorf("failed to start transport: %w", err)
	}

	s.logger.Info().
		Str("transport_type", s.config.Transport.Type).
		Bool("read_only", s.registry.ReadOnly()).
		Int("tools", len(s.registry.List(ListFilter{}))).
		Msg("server started")

	go s.processRequests(ctx)
	return nil
}

// Done is closed once request processing has stopped and every in-flight
// request has been answered.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

func (s *Server) processRequests(ctx context.Context) {
	defer close(s.done)
	defer s.inflight.Wait()

	reqChan := s.transport.Receive()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("server shutting down")
			return
		case req, ok := <-reqChan:
			if !ok {
				s.logger.Info().Msg("transport closed")
				return
			}
			s.inflight.Add(1)
			reqCtx, release := s.track(ctx, req)
			go func() {
				defer s.inflight.Done()
				defer release()
				s.handleRequest(reqCtx, req)
			}()
		}
	}
}

// track derives the context a request runs under. It is cancelled when the
// originating session ends or the client cancels the request by id.
func (s *Server) track(ctx context.Context, req *domain.Request) (context.Context, func()) {
	reqCtx, cancel := context.WithCancel(ctx)

	if st, ok := s.transport.(domain.SessionTransport); ok && req.Session != "" {
		sessionDone := st.SessionDone(req.Session)
		go func() {
			select {
			case <-sessionDone:
				cancel()
			case <-reqCtx.Done():
			}
		}()
	}

	if req.IsNotification() {
		return reqCtx, cancel
	}

	key := requestKey(req.Session, req.ID)
	c := &call{cancel: cancel}
	s.callsMu.Lock()
	s.calls[key] = c
	s.callsMu.Unlock()

	return reqCtx, func() {
		s.callsMu.Lock()
		if s.calls[key] == c {
			delete(s.calls, key)
		}
		s.callsMu.Unlock()
		cancel()
	}
}

// requestKey identifies a request within its session. Ids are compared in
// their JSON form so 7 and 7.0 match.
func requestKey(session string, id interface{}) string {
	data, err := json.Marshal(id)
	if err != nil {
		return fmt.Sprintf("%s/%v", session, id)
	}
	return session + "/" + string(data)
}

// cancelRequest handles notifications/cancelled.
func (s *Server) cancelRequest(req *domain.Request) {
	params, ok := req.Params.(map[string]interface{})
	if !ok || params["requestId"] == nil {
		s.logger.Debug().Msg("cancellation without requestId ignored")
		return
	}

	key := requestKey(req.Session, params["requestId"])
	s.callsMu.Lock()
	c := s.calls[key]
	s.callsMu.Unlock()
	if c == nil {
		return
	}
	s.logger.Info().
		Interface("request_id", params["requestId"]).
		Interface("reason", params["reason"]).
		Msg("request cancelled by client")
	c.cancel()
}

// handleRequest processes a single JSON-RPC request.
func (s *Server) handleRequest(ctx context.Context, req *domain.Request) {
	s.logger.Debug().Str("method", req.Method).Interface("request_id", req.ID).Msg("received request")

	if err := s.validateRequest(req); err != nil {
		s.sendError(req, domain.CodeInvalidRequest, "Invalid Request", err.Error())
		return
	}

	if req.IsNotification() {
		if req.Method == "notifications/cancelled" {
			s.cancelRequest(req)
		}
		return
	}

	var result interface{}
	switch req.Method {
	case "initialize":
		result = s.handleInitialize()
	case "ping":
		result = map[string]interface{}{}
	case "tools/list":
		result = map[string]interface{}{"tools": s.registry.Definitions()}
	case "tools/call":
		toolResp, rpcErr := s.handleToolsCall(ctx, req)
		if rpcErr != nil {
			s.sendError(req, rpcErr.Code, rpcErr.Message, rpcErr.Data)
			return
		}
		result = toolResp
	default:
		s.sendError(req, domain.CodeMethodNotFound, "Method not found", fmt.Sprintf("unknown method: %s", req.Method))
		return
	}

	s.send(&domain.Response{JSONRPC: "2.0", ID: req.ID, Result: result, Session: req.Session})
}

// validateRequest validates the basic structure of a JSON-RPC request.
func (s *Server) validateRequest(req *domain.Request) error {
	if req.JSONRPC != "2.0" {
		return fmt.Errorf("invalid jsonrpc version: %s", req.JSONRPC)
	}
	if req.Method == "" {
		return fmt.Errorf("method is required")
	}
	return nil
}

// handleInitialize answers the MCP handshake with the server capabilities.
func (s *Server) handleInitialize() map[string]interface{} {
	return map[string]interface{}{
		"protocolVersion": ProtocolVersion,
		"capabilities": map[string]interface{}{
			"tools": map[string]interface{}{"listChanged": false},
		},
		"serverInfo": map[string]interface{}{
			"name":    ServerName,
			"version": Version,
		},
	}
}

// handleToolsCall executes a tool call. Only a malformed params object is
// a protocol error; tool failures come back inside the result.
func (s *Server) handleToolsCall(ctx context.Context, req *domain.Request) (*domain.ToolResponse, *domain.Error) {
	toolReq, err := parseToolRequest(req.Params)
	if err != nil {
		return nil, &domain.Error{Code: domain.CodeInvalidParams, Message: "Invalid params", Data: err.Error()}
	}

	resp, err := s.dispatcher.Dispatch(ctx, toolReq)
	if err != nil {
		if errors.Is(err, ErrMalformedInvocation) {
			return nil, &domain.Error{Code: domain.CodeInvalidParams, Message: "Invalid params", Data: err.Error()}
		}
		return nil, &domain.Error{Code: domain.CodeInternalError, Message: "Internal error", Data: err.Error()}
	}
	return resp, nil
}

// parseToolRequest parses the params field into a ToolRequest.
// Absent arguments are normalised to an empty object.
func parseToolRequest(params interface{}) (*domain.ToolRequest, error) {
	if params == nil {
		return nil, fmt.Errorf("params is required for tools/call")
	}

	jsonData, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}

	var toolReq domain.ToolRequest
	if err := json.Unmarshal(jsonData, &toolReq); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tool request: %w", err)
	}

	if toolReq.Name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if toolReq.Arguments == nil {
		toolReq.Arguments = make(map[string]interface{})
	}
	return &toolReq, nil
}

func (s *Server) sendError(req *domain.Request, code int, message string, data interface{}) {
	s.send(&domain.Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Error:   &domain.Error{Code: code, Message: message, Data: data},
		Session: req.Session,
	})
}

func (s *Server) send(response *domain.Response) {
	if err := s.transport.Send(response); err != nil {
		s.logger.Error().Err(err).Interface("request_id", response.ID).Msg("failed to send response")
	}
}

// Close shuts the transport down. Requests already being processed are
// still answered if the transport allows it; wait on Done for them.
func (s *Server) Close() error {
	s.logger.Info().Msg("closing server")
	return s.transport.Close()
}
