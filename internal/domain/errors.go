package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// UnknownToolError is returned when an invocation names a tool that is not
// registered.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Name)
}

// DuplicateToolError is returned when a tool name is registered twice.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %s is already registered", e.Name)
}

// Violation is one failed schema check, addressed by dotted path.
type Violation struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

func (v Violation) String() string {
	return v.Path + " " + v.Reason
}

// InvalidArgumentsError carries every schema violation of one invocation.
type InvalidArgumentsError struct {
	Tool       string
	Violations []Violation
}

func (e *InvalidArgumentsError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	if e.Tool == "" {
		return "invalid arguments: " + strings.Join(parts, "; ")
	}
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(parts, "; "))
}

// Details implements detailer.
func (e *InvalidArgumentsError) Details() map[string]interface{} {
	return map[string]interface{}{"violations": e.Violations}
}

// ReadOnlyModeError rejects a write tool while read-only mode is active.
type ReadOnlyModeError struct {
	Tool string
}

func (e *ReadOnlyModeError) Error() string {
	return fmt.Sprintf("tool %s modifies remote state and the server is running in read-only mode", e.Tool)
}

// RemoteError is a non-success response from an external service.
type RemoteError struct {
	Service    string
	Method     string
	URL        string
	StatusCode int
	Message    string // extracted from the body when the service provides one
	Body       string // raw body, verbatim
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("%s API returned HTTP %d for %s %s", e.Service, e.StatusCode, e.Method, e.URL)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Details implements detailer.
func (e *RemoteError) Details() map[string]interface{} {
	d := map[string]interface{}{
		"service":    e.Service,
		"statusCode": e.StatusCode,
	}
	if e.Body != "" {
		d["body"] = e.Body
	}
	return d
}

// RateLimitError is a RemoteError recognised as throttling. Callers should
// back off before retrying.
type RateLimitError struct {
	*RemoteError
}

func (e *RateLimitError) Error() string {
	return "rate limit exceeded: " + e.RemoteError.Error()
}

func (e *RateLimitError) Unwrap() error { return e.RemoteError }

// AuthError is a RemoteError caused by missing or insufficient credentials.
type AuthError struct {
	*RemoteError
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.RemoteError.Error()
}

func (e *AuthError) Unwrap() error { return e.RemoteError }

// NotFoundError is a lookup that the remote answered with "does not exist".
type NotFoundError struct {
	Resource string
	Remote   *RemoteError
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.Resource)
}

func (e *NotFoundError) Unwrap() error {
	if e.Remote == nil {
		return nil
	}
	return e.Remote
}

// Details implements detailer.
func (e *NotFoundError) Details() map[string]interface{} {
	if e.Remote == nil {
		return map[string]interface{}{"resource": e.Resource}
	}
	d := e.Remote.Details()
	d["resource"] = e.Resource
	return d
}

// NotAFileError is returned when a file read targets a directory or another
// non-file entry. Type is the remote entry type; empty means a directory.
type NotAFileError struct {
	Path string
	Type string
}

func (e *NotAFileError) Error() string {
	if e.Type == "" || e.Type == "dir" {
		return fmt.Sprintf("path %q is a directory, not a file", e.Path)
	}
	return fmt.Sprintf("path %q is a %s, not a file", e.Path, e.Type)
}

// DangerousScriptError rejects a script before it is ever started.
type DangerousScriptError struct {
	Rule string
}

func (e *DangerousScriptError) Error() string {
	return fmt.Sprintf("script rejected: matches destructive pattern (%s)", e.Rule)
}

// InvalidTimeoutError rejects a script timeout outside (0, Max].
type InvalidTimeoutError struct {
	Seconds float64
	Max     float64
}

func (e *InvalidTimeoutError) Error() string {
	return fmt.Sprintf("invalid timeout %v: must be greater than 0 and at most %v seconds", e.Seconds, e.Max)
}

// TimeoutError reports a script that was killed at its deadline, together
// with whatever it wrote before termination.
type TimeoutError struct {
	Timeout time.Duration
	Stdout  string
	Stderr  string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("script timed out after %s and was terminated", e.Timeout)
}

// Details implements detailer.
func (e *TimeoutError) Details() map[string]interface{} {
	return map[string]interface{}{
		"timeoutSeconds": e.Timeout.Seconds(),
		"stdout":         e.Stdout,
		"stderr":         e.Stderr,
	}
}

// PartialSuccessError reports a composite action whose first step took
// effect while a dependent step failed.
type PartialSuccessError struct {
	Completed string
	Failed    string
	Result    interface{}
	Err       error
}

func (e *PartialSuccessError) Error() string {
	return fmt.Sprintf("%s succeeded but %s failed: %v", e.Completed, e.Failed, e.Err)
}

func (e *PartialSuccessError) Unwrap() error { return e.Err }

// Details implements detailer.
func (e *PartialSuccessError) Details() map[string]interface{} {
	d := map[string]interface{}{
		"completed": e.Completed,
		"failed":    e.Failed,
	}
	if e.Result != nil {
		d["result"] = e.Result
	}
	var remote *RemoteError
	if errors.As(e.Err, &remote) {
		d["remote"] = remote.Details()
	}
	return d
}

// detailer is implemented by errors carrying data the agent should see
// alongside the message.
type detailer interface {
	Details() map[string]interface{}
}

// ErrorKind names the taxonomy class of err.
func ErrorKind(err error) string {
	var (
		unknown   *UnknownToolError
		invalid   *InvalidArgumentsError
		readOnly  *ReadOnlyModeError
		partial   *PartialSuccessError
		dangerous *DangerousScriptError
		badTime   *InvalidTimeoutError
		timeout   *TimeoutError
		notAFile  *NotAFileError
		notFound  *NotFoundError
		rateLimit *RateLimitError
		auth      *AuthError
		remote    *RemoteError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &unknown):
		return "UnknownToolError"
	case errors.As(err, &invalid):
		return "InvalidArgumentsError"
	case errors.As(err, &readOnly):
		return "ReadOnlyModeError"
	case errors.As(err, &partial):
		return "PartialSuccessError"
	case errors.As(err, &dangerous):
		return "DangerousScriptError"
	case errors.As(err, &badTime):
		return "InvalidTimeoutError"
	case errors.As(err, &timeout):
		return "TimeoutError"
	case errors.As(err, &notAFile):
		return "NotAFileError"
	case errors.As(err, &notFound):
		return "NotFoundError"
	case errors.As(err, &rateLimit):
		return "RateLimitError"
	case errors.As(err, &auth):
		return "AuthError"
	case errors.As(err, &remote):
		return "RemoteError"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "CancelledError"
	}
	return "InternalError"
}

// ErrorCode maps err onto the JSON-RPC code space used in error metadata.
func ErrorCode(err error) int {
	switch ErrorKind(err) {
	case "UnknownToolError":
		return CodeMethodNotFound
	case "InvalidArgumentsError", "InvalidTimeoutError":
		return CodeInvalidParams
	case "ReadOnlyModeError":
		return CodeReadOnly
	case "PartialSuccessError":
		return CodePartialSuccess
	case "DangerousScriptError", "TimeoutError":
		return CodeExecution
	case "RateLimitError":
		return CodeRateLimit
	case "AuthError":
		return CodeAuthentication
	case "NotAFileError", "NotFoundError", "RemoteError":
		return CodeAPI
	case "CancelledError":
		return CodeNetwork
	}
	return CodeInternalError
}

// ErrorDetails returns the structured data attached to err, if any.
func ErrorDetails(err error) map[string]interface{} {
	var d detailer
	if errors.As(err, &d) {
		return d.Details()
	}
	return nil
}
