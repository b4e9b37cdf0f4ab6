package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func remote(status int) *RemoteError {
	return &RemoteError{
		Service:    "GitHub",
		Method:     "GET",
		URL:        "https://api.github.com/repos/o/r",
		StatusCode: status,
		Message:    "boom",
		Body:       `{"message":"boom"}`,
	}
}

// TestErrorKindAndCode tests the taxonomy mapping of every error type.
func TestErrorKindAndCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind string
		wantCode int
	}{
		{"unknown tool", &UnknownToolError{Name: "x"}, "UnknownToolError", CodeMethodNotFound},
		{"invalid arguments", &InvalidArgumentsError{Violations: []Violation{{Path: "a", Reason: "is required"}}}, "InvalidArgumentsError", CodeInvalidParams},
		{"read only", &ReadOnlyModeError{Tool: "jira_create_issue"}, "ReadOnlyModeError", CodeReadOnly},
		{"partial success", &PartialSuccessError{Completed: "approve", Failed: "comment", Err: remote(500)}, "PartialSuccessError", CodePartialSuccess},
		{"dangerous script", &DangerousScriptError{Rule: "fork bomb"}, "DangerousScriptError", CodeExecution},
		{"invalid timeout", &InvalidTimeoutError{Seconds: 0, Max: 300}, "InvalidTimeoutError", CodeInvalidParams},
		{"timeout", &TimeoutError{Timeout: time.Second}, "TimeoutError", CodeExecution},
		{"not a file", &NotAFileError{Path: "src"}, "NotAFileError", CodeAPI},
		{"not found", &NotFoundError{Resource: "PROJ-1", Remote: remote(404)}, "NotFoundError", CodeAPI},
		{"rate limit", &RateLimitError{RemoteError: remote(429)}, "RateLimitError", CodeRateLimit},
		{"auth", &AuthError{RemoteError: remote(401)}, "AuthError", CodeAuthentication},
		{"remote", remote(500), "RemoteError", CodeAPI},
		{"wrapped remote", fmt.Errorf("listing: %w", remote(502)), "RemoteError", CodeAPI},
		{"cancelled", context.Canceled, "CancelledError", CodeNetwork},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), "CancelledError", CodeNetwork},
		{"plain", errors.New("boom"), "InternalError", CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorKind(tt.err); got != tt.wantKind {
				t.Errorf("ErrorKind() = %s, want %s", got, tt.wantKind)
			}
			if got := ErrorCode(tt.err); got != tt.wantCode {
				t.Errorf("ErrorCode() = %d, want %d", got, tt.wantCode)
			}
		})
	}

	if ErrorKind(nil) != "" {
		t.Error("ErrorKind(nil) should be empty")
	}
}

// TestRemoteErrorSubclassesUnwrap tests that specialised remote errors still expose the status.
func TestRemoteErrorSubclassesUnwrap(t *testing.T) {
	for _, err := range []error{
		&RateLimitError{RemoteError: remote(403)},
		&AuthError{RemoteError: remote(401)},
		&NotFoundError{Resource: "r", Remote: remote(404)},
	} {
		var re *RemoteError
		if !errors.As(err, &re) {
			t.Errorf("%T does not unwrap to *RemoteError", err)
			continue
		}
		if re.Body == "" {
			t.Errorf("%T lost the remote body", err)
		}
	}

	if !strings.HasPrefix((&RateLimitError{RemoteError: remote(429)}).Error(), "rate limit exceeded: ") {
		t.Error("rate limit message prefix missing")
	}
	if !strings.HasPrefix((&AuthError{RemoteError: remote(401)}).Error(), "authentication failed: ") {
		t.Error("auth message prefix missing")
	}
}

// TestErrorDetails tests the structured data exposed by each error.
func TestErrorDetails(t *testing.T) {
	details := ErrorDetails(&TimeoutError{Timeout: 2 * time.Second, Stdout: "partial", Stderr: "warn"})
	if details["stdout"] != "partial" || details["stderr"] != "warn" || details["timeoutSeconds"] != 2.0 {
		t.Errorf("timeout details = %v", details)
	}

	details = ErrorDetails(&RateLimitError{RemoteError: remote(403)})
	if details["statusCode"] != 403 || details["body"] != `{"message":"boom"}` {
		t.Errorf("rate limit details = %v", details)
	}

	details = ErrorDetails(&PartialSuccessError{
		Completed: "approve",
		Failed:    "comment",
		Result:    map[string]interface{}{"state": "approved"},
		Err:       remote(500),
	})
	if details["completed"] != "approve" || details["failed"] != "comment" || details["remote"] == nil {
		t.Errorf("partial details = %v", details)
	}

	if ErrorDetails(errors.New("plain")) != nil {
		t.Error("plain errors carry no details")
	}
}

// TestInvalidArgumentsErrorMessage tests that every violation is named in the message.
func TestInvalidArgumentsErrorMessage(t *testing.T) {
	err := &InvalidArgumentsError{
		Tool: "github_create_issue",
		Violations: []Violation{
			{Path: "repository", Reason: "is required"},
			{Path: "labels[1]", Reason: "must be a string, got number"},
		},
	}
	msg := err.Error()
	for _, want := range []string{"github_create_issue", "repository is required", "labels[1] must be a string"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q does not contain %q", msg, want)
		}
	}
}
