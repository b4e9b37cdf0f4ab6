package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"forge-mcp-server/internal/domain"
)

const testConfig = `
transport:
  type: stdio
services:
  jira:
    base_url: https://jira.example.com
    auth:
      type: basic
      username: testuser
      token: testtoken
  github:
    auth:
      type: bearer
      token: ghp_test
`

// clearServiceEnv keeps the developer's environment out of the tests.
func clearServiceEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"JIRA_URL", "JIRA_USERNAME", "JIRA_API_TOKEN",
		"CONFLUENCE_URL", "CONFLUENCE_USERNAME", "CONFLUENCE_API_TOKEN",
		"GITHUB_API_URL", "GITHUB_TOKEN", "GITLAB_URL", "GITLAB_TOKEN",
		"ENABLED_TOOLS", "READ_ONLY_MODE", "PROXY_URL", "TRANSPORT", "PORT", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// runCLI executes the command tree and returns stdout and stderr.
func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stderr)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

type catalogue struct {
	Tools []domain.ToolDefinition `json:"tools"`
}

func toolsOutput(t *testing.T, args ...string) catalogue {
	t.Helper()
	stdout, stderr, err := runCLI(t, append([]string{"tools"}, args...)...)
	if err != nil {
		t.Fatalf("tools command failed: %v\n%s", err, stderr)
	}
	var out catalogue
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("tools output is not JSON: %v\n%s", err, stdout)
	}
	return out
}

func hasTool(c catalogue, name string) bool {
	for _, tool := range c.Tools {
		if tool.Name == name {
			return true
		}
	}
	return false
}

func TestToolsCommand(t *testing.T) {
	clearServiceEnv(t)
	path := writeTestConfig(t, testConfig)

	all := toolsOutput(t, "--config", path)
	for _, name := range []string{"jira_search", "jira_create_issue", "github_get_file_contents", "script_execute"} {
		if !hasTool(all, name) {
			t.Errorf("catalogue is missing %s", name)
		}
	}
	for _, tool := range all.Tools {
		if strings.HasPrefix(tool.Name, "confluence_") || strings.HasPrefix(tool.Name, "gitlab_") {
			t.Errorf("unconfigured group advertised: %s", tool.Name)
		}
		if tool.InputSchema == nil || tool.InputSchema.Type != "object" {
			t.Errorf("%s has no object schema", tool.Name)
		}
	}
}

func TestToolsCommand_FlagOverrides(t *testing.T) {
	clearServiceEnv(t)
	path := writeTestConfig(t, testConfig)

	out := toolsOutput(t, "--config", path, "--read-only", "--enabled-tools", "jira,scripting")

	if len(out.Tools) == 0 {
		t.Fatal("no tools listed")
	}
	for _, tool := range out.Tools {
		if !strings.HasPrefix(tool.Name, "jira_") {
			t.Errorf("unexpected tool %s", tool.Name)
		}
		if tool.Annotations == nil || !tool.Annotations.ReadOnlyHint {
			t.Errorf("write tool %s listed in read-only mode", tool.Name)
		}
	}
	if !hasTool(out, "jira_get_issue") {
		t.Error("read tools should stay listed")
	}
}

func TestToolsCommand_ConfigFile(t *testing.T) {
	clearServiceEnv(t)

	_, _, err := runCLI(t, "tools", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "configuration file not found") {
		t.Errorf("explicit missing config: err = %v", err)
	}

	// Without --config a missing default file is not an error.
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	out := toolsOutput(t)
	if len(out.Tools) != 1 || out.Tools[0].Name != "script_execute" {
		t.Errorf("tools = %+v, want only the scripting tool", out.Tools)
	}
}

func TestLoadConfig_Flags(t *testing.T) {
	clearServiceEnv(t)
	path := writeTestConfig(t, testConfig)

	tests := []struct {
		name    string
		args    []string
		check   func(t *testing.T, c *domain.Config)
		wantErr string
	}{
		{
			name: "file values",
			args: []string{"--config", path},
			check: func(t *testing.T, c *domain.Config) {
				if c.Transport.Type != "stdio" || c.ReadOnly {
					t.Errorf("config = %+v", c)
				}
			},
		},
		{
			name: "http transport from flags",
			args: []string{"--config", path, "--transport", "http", "--host", "0.0.0.0", "--port", "9999", "--log-level", "debug"},
			check: func(t *testing.T, c *domain.Config) {
				if c.Transport.Type != "http" || c.Transport.HTTP.Host != "0.0.0.0" || c.Transport.HTTP.Port != 9999 {
					t.Errorf("transport = %+v", c.Transport)
				}
				if c.Logging.Level != "debug" {
					t.Errorf("log level = %q", c.Logging.Level)
				}
			},
		},
		{
			name:    "invalid transport",
			args:    []string{"--config", path, "--transport", "carrier-pigeon"},
			wantErr: "configuration validation failed",
		},
		{
			name:    "unknown group",
			args:    []string{"--config", path, "--enabled-tools", "bamboo"},
			wantErr: "bamboo",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := newRootCmd(io.Discard).PersistentFlags()
			if err := flags.Parse(tt.args); err != nil {
				t.Fatal(err)
			}
			config, err := loadConfig(flags)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			tt.check(t, config)
		})
	}
}

func TestNewTransport(t *testing.T) {
	logger := zerolog.Nop()

	tr, err := newTransport(&domain.Config{Transport: domain.TransportConfig{Type: "stdio"}}, logger)
	if err != nil || tr == nil {
		t.Fatalf("stdio transport: %v", err)
	}

	config := &domain.Config{Transport: domain.TransportConfig{Type: "http"}}
	config.Transport.HTTP.Host = "127.0.0.1"
	config.Transport.HTTP.Port = 0
	if tr, err := newTransport(config, logger); err != nil || tr == nil {
		t.Fatalf("http transport: %v", err)
	}

	if _, err := newTransport(&domain.Config{Transport: domain.TransportConfig{Type: "pipe"}}, logger); err == nil {
		t.Error("unknown transport accepted")
	}
}
