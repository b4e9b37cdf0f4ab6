package domain

import (
	"context"
	"time"
)

const (
	DefaultScriptTimeout = 30 * time.Second
	MaxScriptTimeout     = 300 * time.Second
)

// ScriptExecutor runs a shell script with a hard deadline.
// A script that exits non-zero is a successful run; only a deadline kill
// (*TimeoutError), cancellation or a failure to start is an error.
type ScriptExecutor interface {
	Execute(ctx context.Context, script string, timeout time.Duration) (*ScriptResult, error)
}

// ScriptResult is the outcome of one script run.
type ScriptResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exitCode"`
	DurationMs int64  `json:"durationMs"`
	Truncated  bool   `json:"truncated"`
}
