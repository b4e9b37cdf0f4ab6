package domain

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

const (
	DefaultGitHubBaseURL  = "https://api.github.com"
	DefaultGitLabBaseURL  = "https://gitlab.com"
	DefaultHTTPHost       = "127.0.0.1"
	DefaultHTTPPort       = 8080
	DefaultScriptShell    = "bash"
	DefaultMaxOutputBytes = 1 << 20
)

// Config represents the server configuration.
// It is built once at startup and passed by reference to every component.
type Config struct {
	Transport    TransportConfig `yaml:"transport"`
	ReadOnly     bool            `yaml:"read_only"`
	EnabledTools []string        `yaml:"enabled_tools,omitempty"` // group names; empty = all
	ProxyURL     string          `yaml:"proxy_url,omitempty"`
	Logging      LoggingConfig   `yaml:"logging"`
	Services     ServicesConfig  `yaml:"services"`
	Scripting    ScriptingConfig `yaml:"scripting"`
}

// TransportConfig defines transport settings.
// Specifies whether to use stdio or HTTP transport.
type TransportConfig struct {
	Type string     `yaml:"type"` // "stdio" or "http"
	HTTP HTTPConfig `yaml:"http,omitempty"`
}

// HTTPConfig defines HTTP transport settings.
// Only used when transport type is "http".
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoggingConfig selects log verbosity and rendering.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

// ServicesConfig holds one optional entry per remote service.
// A nil entry means the service is not configured.
type ServicesConfig struct {
	Jira       *ServiceConfig `yaml:"jira,omitempty"`
	Confluence *ServiceConfig `yaml:"confluence,omitempty"`
	GitHub     *ServiceConfig `yaml:"github,omitempty"`
	GitLab     *ServiceConfig `yaml:"gitlab,omitempty"`
}

// ServiceConfig defines the endpoint and credentials of one service.
type ServiceConfig struct {
	BaseURL string      `yaml:"base_url"`
	Auth    *AuthConfig `yaml:"auth,omitempty"`
}

// AuthConfig defines authentication settings.
type AuthConfig struct {
	Type     string `yaml:"type"` // "basic", "bearer" or "private_token"
	Username string `yaml:"username,omitempty"`
	Token    string `yaml:"token,omitempty"`
}

// ScriptingConfig controls the local script execution tool.
type ScriptingConfig struct {
	Enabled        *bool  `yaml:"enabled,omitempty"` // default true
	Shell          string `yaml:"shell,omitempty"`
	WorkDir        string `yaml:"workdir,omitempty"`
	MaxOutputBytes int    `yaml:"max_output_bytes,omitempty"`
}

// IsEnabled reports whether scripting is switched on.
func (s ScriptingConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Service returns the configuration for a remote service group, or nil.
func (c *Config) Service(group Group) *ServiceConfig {
	switch group {
	case GroupJira:
		return c.Services.Jira
	case GroupConfluence:
		return c.Services.Confluence
	case GroupGitHub:
		return c.Services.GitHub
	case GroupGitLab:
		return c.Services.GitLab
	}
	return nil
}

// EnabledGroups returns the parsed group selector. An empty result means
// every group is enabled. Unknown names are reported by Validate.
func (c *Config) EnabledGroups() []Group {
	var groups []Group
	for _, name := range c.EnabledTools {
		if g, err := ParseGroup(name); err == nil {
			groups = append(groups, g)
		}
	}
	return groups
}

// LookupEnv matches os.LookupEnv; tests substitute their own.
type LookupEnv func(key string) (string, bool)

// LoadConfig reads configuration from a YAML (or JSON with comments) file,
// overlays environment variables and validates the result.
// When mustExist is false a missing file is not an error and the
// configuration comes from the environment alone.
func LoadConfig(path string, mustExist bool) (*Config, error) {
	return LoadConfigWithEnv(path, mustExist, os.LookupEnv)
}

// LoadConfigWithEnv is LoadConfig with an explicit environment source.
func LoadConfigWithEnv(path string, mustExist bool, lookup LookupEnv) (*Config, error) {
	var config Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := parseConfig(path, data, &config); err != nil {
			return nil, err
		}
	case os.IsNotExist(err):
		if mustExist {
			return nil, fmt.Errorf("configuration file not found: %s", path)
		}
	default:
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	if err := config.ApplyEnv(lookup); err != nil {
		return nil, fmt.Errorf("invalid environment configuration: %w", err)
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func parseConfig(path string, data []byte, config *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is a subset of YAML once comments and trailing commas are gone.
		data = jsonc.ToJSON(data)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("invalid syntax in configuration file: %w", err)
	}
	return nil
}

// ApplyEnv overlays environment variables on top of file values.
func (c *Config) ApplyEnv(lookup LookupEnv) error {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	c.Services.Jira = overlayService(c.Services.Jira, get("JIRA_URL"), "basic", get("JIRA_USERNAME"), get("JIRA_API_TOKEN"))
	c.Services.Confluence = overlayService(c.Services.Confluence, get("CONFLUENCE_URL"), "basic", get("CONFLUENCE_USERNAME"), get("CONFLUENCE_API_TOKEN"))
	c.Services.GitHub = overlayService(c.Services.GitHub, get("GITHUB_API_URL"), "bearer", "", get("GITHUB_TOKEN"))
	c.Services.GitLab = overlayService(c.Services.GitLab, get("GITLAB_URL"), "private_token", "", get("GITLAB_TOKEN"))

	if v := get("ENABLED_TOOLS"); v != "" {
		c.EnabledTools = SplitList(v)
	}
	if v := get("READ_ONLY_MODE"); v != "" {
		readOnly, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("READ_ONLY_MODE must be a boolean, got %q", v)
		}
		c.ReadOnly = readOnly
	}
	if v := get("PROXY_URL"); v != "" {
		c.ProxyURL = v
	}
	if v := get("TRANSPORT"); v != "" {
		c.Transport.Type = v
	}
	if v := get("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT must be an integer, got %q", v)
		}
		c.Transport.HTTP.Port = port
	}
	if v := get("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

func overlayService(sc *ServiceConfig, baseURL, authType, username, token string) *ServiceConfig {
	if baseURL == "" && username == "" && token == "" {
		return sc
	}
	if sc == nil {
		sc = &ServiceConfig{}
	}
	if baseURL != "" {
		sc.BaseURL = baseURL
	}
	if username != "" || token != "" {
		if sc.Auth == nil {
			sc.Auth = &AuthConfig{Type: authType}
		}
		if username != "" {
			sc.Auth.Username = username
		}
		if token != "" {
			sc.Auth.Token = token
		}
	}
	return sc
}

// ApplyDefaults fills unset values.
func (c *Config) ApplyDefaults() {
	if c.Transport.Type == "" {
		c.Transport.Type = "stdio"
	}
	if c.Transport.HTTP.Host == "" {
		c.Transport.HTTP.Host = DefaultHTTPHost
	}
	if c.Transport.HTTP.Port == 0 {
		c.Transport.HTTP.Port = DefaultHTTPPort
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Services.GitHub != nil && c.Services.GitHub.BaseURL == "" {
		c.Services.GitHub.BaseURL = DefaultGitHubBaseURL
	}
	if c.Services.GitLab != nil && c.Services.GitLab.BaseURL == "" {
		c.Services.GitLab.BaseURL = DefaultGitLabBaseURL
	}
	if c.Scripting.Shell == "" {
		c.Scripting.Shell = DefaultScriptShell
	}
	if c.Scripting.MaxOutputBytes == 0 {
		c.Scripting.MaxOutputBytes = DefaultMaxOutputBytes
	}
}

// Validate checks the configuration for completeness and correctness.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateTransport(); err != nil {
		errors = append(errors, err.Error())
	}

	for _, name := range c.EnabledTools {
		if _, err := ParseGroup(name); err != nil {
			errors = append(errors, err.Error())
		}
	}

	if c.ProxyURL != "" {
		if err := validateURL("proxy_url", c.ProxyURL); err != nil {
			errors = append(errors, err.Error())
		}
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s'", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'json' or 'console'", c.Logging.Format))
	}

	for _, group := range []Group{GroupJira, GroupConfluence, GroupGitHub, GroupGitLab} {
		if sc := c.Service(group); sc != nil {
			if err := sc.Validate(string(group)); err != nil {
				errors = append(errors, err.Error())
			}
		}
	}

	if c.Scripting.MaxOutputBytes < 0 {
		errors = append(errors, "scripting max_output_bytes must not be negative")
	}

	if len(errors) > 0 {
		return fmt.Errorf("validation errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

// validateTransport validates the transport configuration.
func (c *Config) validateTransport() error {
	var errors []string

	if c.Transport.Type != "" && c.Transport.Type != "stdio" && c.Transport.Type != "http" {
		errors = append(errors, fmt.Sprintf("invalid transport type '%s': must be 'stdio' or 'http'", c.Transport.Type))
	}

	if c.Transport.Type == "http" {
		if c.Transport.HTTP.Host == "" {
			errors = append(errors, "HTTP host is required when transport type is 'http'")
		}
		if c.Transport.HTTP.Port <= 0 || c.Transport.HTTP.Port > 65535 {
			errors = append(errors, fmt.Sprintf("invalid HTTP port %d: must be between 1 and 65535", c.Transport.HTTP.Port))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("%s", strings.Join(errors, "; "))
	}

	return nil
}

// Validate validates a single service configuration.
// Missing credentials are not an error here: the service's tools are
// simply not registered (see Ready).
func (sc *ServiceConfig) Validate(name string) error {
	var errors []string

	if sc.BaseURL != "" {
		if err := validateURL(name+" base_url", sc.BaseURL); err != nil {
			errors = append(errors, err.Error())
		}
	}

	if sc.Auth != nil {
		switch sc.Auth.Type {
		case "basic", "bearer", "private_token":
		case "":
			errors = append(errors, fmt.Sprintf("%s auth type is required", name))
		default:
			errors = append(errors, fmt.Sprintf("%s auth type '%s' is invalid: must be 'basic', 'bearer' or 'private_token'", name, sc.Auth.Type))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("%s", strings.Join(errors, "; "))
	}

	return nil
}

// Ready reports why the service cannot be used, or nil if it can.
func (sc *ServiceConfig) Ready() error {
	if sc == nil {
		return fmt.Errorf("not configured")
	}
	if sc.BaseURL == "" {
		return fmt.Errorf("base_url is not set")
	}
	if sc.Auth == nil {
		return fmt.Errorf("credentials are not set")
	}
	return credentialsFromAuthConfig(sc.Auth).validate()
}

func validateURL(name, raw string) error {
	parsedURL, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is invalid: %v", name, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme", name)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("%s must include a host", name)
	}
	return nil
}

// SplitList splits a comma separated selector, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
