package domain

// ResponseMapper converts handler outcomes into MCP tool responses.
// Every invocation ends in exactly one of the two shapes it produces:
// success content or an error envelope.
type ResponseMapper interface {
	// MapToToolResponse serializes a handler's payload into a single
	// text content block. Returns an error if the payload cannot be
	// serialized.
	MapToToolResponse(payload interface{}) (*ToolResponse, error)

	// MapError converts any handler or dispatch failure into an error
	// envelope carrying the message, the error kind and, where the
	// failure came from a remote call, the remote's own body.
	MapError(err error) *ToolResponse
}
