package application

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"forge-mcp-server/internal/domain"
)

// ToolScriptExecute runs a local shell script.
const ToolScriptExecute = "script_execute"

// scriptRule is one destructive pattern of the pre-execution guard.
type scriptRule struct {
	name    string
	pattern *regexp.Regexp
}

// blockDevice matches the usual whole-disk device nodes.
const blockDevice = `/dev/(sd[a-z]|hd[a-z]|vd[a-z]|xvd[a-z]|nvme\d|mmcblk\d|disk\d|mapper/)`

// dangerousScriptRules is the fixed deny-list. A match aborts the call
// before any process is started.
var dangerousScriptRules = []scriptRule{
	{
		name: "recursive deletion of root or home",
		pattern: regexp.MustCompile(`(?i)\brm\s+(?:[^;&|\n]*\s)?(?:-[a-z]*r[a-z]*|--recursive)\s+(?:[^;&|\n]*\s)?` +
			`(?:/\.?\*?|~/?\*?|\$\{?HOME\}?/?\*?|/home(?:/[^/\s;&|]+)?/?\*?)(?:\s|$|;|&|\|)`),
	},
	{name: "root preservation disabled", pattern: regexp.MustCompile(`--no-preserve-root`)},
	{name: "filesystem formatting", pattern: regexp.MustCompile(`(?i)\bmkfs(?:\.[a-z0-9]+)?\b|\bmke2fs\b|\bmkswap\b`)},
	{name: "partition table editing", pattern: regexp.MustCompile(`(?i)\b(?:fdisk|sfdisk|gdisk|parted)\b`)},
	{name: "raw block device write", pattern: regexp.MustCompile(`(?i)\bdd\b[^\n]*\bof=` + blockDevice)},
	{name: "redirect to block device", pattern: regexp.MustCompile(`>\s*` + blockDevice)},
	{name: "disk wipe", pattern: regexp.MustCompile(`(?i)\b(?:wipefs|blkdiscard)\b|\bshred\b[^\n]*` + blockDevice)},
	{name: "fork bomb", pattern: regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`)},
}

var (
	repeatedSlashes = regexp.MustCompile(`/{2,}`)
	dotSegments     = regexp.MustCompile(`/(?:\./)+`)
)

// normalizeScript drops shell quoting and backslash escapes and folds
// redundant path separators, so `"/"`, `'$HOME'` and `//` read as the
// paths the shell would pass to the command.
func normalizeScript(script string) string {
	var b strings.Builder
	b.Grow(len(script))
	escaped := false
	for _, r := range script {
		switch {
		case escaped:
			b.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == '"' || r == '\'':
		default:
			b.WriteRune(r)
		}
	}
	normalized := repeatedSlashes.ReplaceAllString(b.String(), "/")
	return dotSegments.ReplaceAllString(normalized, "/")
}

// checkScript returns a *domain.DangerousScriptError for the first rule the
// script matches, either as written or after normalization.
func checkScript(script string) error {
	normalized := normalizeScript(script)
	for _, rule := range dangerousScriptRules {
		if rule.pattern.MatchString(script) || rule.pattern.MatchString(normalized) {
			return &domain.DangerousScriptError{Rule: rule.name}
		}
	}
	return nil
}

// ScriptHandler provides the sandboxed script execution tool.
type ScriptHandler struct {
	executor domain.ScriptExecutor
	ready    error
}

// NewScriptHandler creates the scripting tools. A disabled configuration
// leaves the handler not Ready.
func NewScriptHandler(cfg domain.ScriptingConfig, executor domain.ScriptExecutor) *ScriptHandler {
	h := &ScriptHandler{executor: executor}
	if !cfg.IsEnabled() {
		h.ready = fmt.Errorf("scripting is disabled in configuration")
	}
	return h
}

// Group implements ToolProvider.
func (h *ScriptHandler) Group() domain.Group { return domain.GroupScripting }

// Ready implements ToolProvider.
func (h *ScriptHandler) Ready() error { return h.ready }

// Tools implements ToolProvider.
func (h *ScriptHandler) Tools() []Tool {
	return []Tool{
		{
			Name: ToolScriptExecute,
			Description: fmt.Sprintf("Run a shell script on the server host and return its stdout, stderr and exit code. "+
				"The script is killed after timeout seconds (max %d)", int(domain.MaxScriptTimeout.Seconds())),
			// Scripts can change anything, so the tool never counts as read-only.
			ReadOnly:    false,
			Destructive: true,
			Schema: domain.NewSchema(
				domain.String("script", "Script text, run with the configured shell's -c").Require(),
				domain.Number("timeout", "Timeout in seconds").WithDefault(domain.DefaultScriptTimeout.Seconds()),
			),
			Handler: h.execute,
		},
	}
}

func (h *ScriptHandler) execute(ctx context.Context, args domain.Arguments) (interface{}, error) {
	seconds := args.Float("timeout")
	if seconds <= 0 || seconds > domain.MaxScriptTimeout.Seconds() {
		return nil, &domain.InvalidTimeoutError{Seconds: seconds, Max: domain.MaxScriptTimeout.Seconds()}
	}

	script := args.String("script")
	if err := checkScript(script); err != nil {
		return nil, err
	}

	timeout := time.Duration(seconds * float64(time.Second))
	return h.executor.Execute(ctx, script, timeout)
}
