package application

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"forge-mcp-server/internal/domain"
)

// ErrMalformedInvocation is returned for an invocation without a tool name.
// It is the only failure Dispatch reports as a Go error.
var ErrMalformedInvocation = errors.New("malformed tool invocation: tool name is required")

// Dispatcher turns an invocation into exactly one tool response:
// resolve, enforce read-only mode, validate, invoke, wrap.
type Dispatcher struct {
	registry *Registry
	mapper   domain.ResponseMapper
	logger   zerolog.Logger
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *Registry, mapper domain.ResponseMapper, logger zerolog.Logger) *Dispatcher {
	if mapper == nil {
		mapper = domain.NewResponseMapper()
	}
	return &Dispatcher{registry: registry, mapper: mapper, logger: logger}
}

// Dispatch executes one invocation. Every failure past the malformed
// invocation check is returned as an error envelope, never as an error.
// The handler runs only when the arguments validated.
func (d *Dispatcher) Dispatch(ctx context.Context, req *domain.ToolRequest) (*domain.ToolResponse, error) {
	if req == nil || req.Name == "" {
		return nil, ErrMalformedInvocation
	}

	start := time.Now()
	payload, err := d.run(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		event := d.logger.Warn()
		if domain.ErrorKind(err) == "InternalError" {
			event = d.logger.Error()
		}
		event.Str("tool", req.Name).
			Dur("duration", elapsed).
			Str("error_kind", domain.ErrorKind(err)).
			Err(err).
			Msg("tool call failed")
		return d.mapper.MapError(err), nil
	}

	resp, err := d.mapper.MapToToolResponse(payload)
	if err != nil {
		d.logger.Error().Str("tool", req.Name).Err(err).Msg("failed to serialize tool result")
		return d.mapper.MapError(err), nil
	}
	d.logger.Info().Str("tool", req.Name).Dur("duration", elapsed).Msg("tool call completed")
	return resp, nil
}

func (d *Dispatcher) run(ctx context.Context, req *domain.ToolRequest) (interface{}, error) {
	tool, err := d.registry.Resolve(req.Name)
	if err != nil {
		return nil, err
	}

	if d.registry.ReadOnly() && !tool.ReadOnly {
		return nil, &domain.ReadOnlyModeError{Tool: tool.Name}
	}

	args, err := tool.Schema.Validate(req.Arguments)
	if err != nil {
		var invalid *domain.InvalidArgumentsError
		if errors.As(err, &invalid) {
			invalid.Tool = tool.Name
		}
		return nil, err
	}

	return d.invoke(ctx, tool, args)
}

// invoke runs the handler, converting a panic into an internal error.
func (d *Dispatcher) invoke(ctx context.Context, tool *Tool, args domain.Arguments) (payload interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error().Str("tool", tool.Name).Str("stack", string(debug.Stack())).Msg("tool handler panicked")
			payload, err = nil, fmt.Errorf("internal error in %s: %v", tool.Name, p)
		}
	}()
	return tool.Handler(ctx, args)
}
