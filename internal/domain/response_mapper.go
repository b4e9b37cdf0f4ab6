package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DefaultResponseMapper is the default implementation of ResponseMapper.
type DefaultResponseMapper struct{}

// NewResponseMapper creates a new instance of DefaultResponseMapper.
func NewResponseMapper() ResponseMapper {
	return &DefaultResponseMapper{}
}

// MapToToolResponse converts a handler payload to MCP format.
// Strings are passed through untouched; everything else is rendered as
// indented JSON inside one text block.
func (m *DefaultResponseMapper) MapToToolResponse(payload interface{}) (*ToolResponse, error) {
	if payload == nil {
		return textResponse("{}"), nil
	}

	if s, ok := payload.(string); ok {
		return textResponse(s), nil
	}

	jsonBytes, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool result: %w", err)
	}

	return textResponse(string(jsonBytes)), nil
}

// MapError converts a failure to an error envelope.
// The text block holds the message followed by any structured details
// (remote status and body, violations, partial output). The kind and
// code are repeated in _meta so agents can branch without parsing text.
func (m *DefaultResponseMapper) MapError(err error) *ToolResponse {
	if err == nil {
		err = fmt.Errorf("unknown error")
	}

	var text strings.Builder
	text.WriteString("Error: ")
	text.WriteString(err.Error())

	if details := ErrorDetails(err); len(details) > 0 {
		if data, marshalErr := json.MarshalIndent(details, "", "  "); marshalErr == nil {
			text.WriteString("\n\nDetails:\n")
			text.Write(data)
		}
	}

	resp := textResponse(text.String())
	resp.IsError = true
	resp.Meta = map[string]interface{}{
		"errorKind": ErrorKind(err),
		"errorCode": ErrorCode(err),
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		resp.Meta["statusCode"] = remote.StatusCode
	}
	return resp
}

func textResponse(text string) *ToolResponse {
	return &ToolResponse{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}
