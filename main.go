package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"forge-mcp-server/internal/application"
	"forge-mcp-server/internal/domain"
	"forge-mcp-server/internal/infrastructure"
)

const defaultConfigPath = "config.yaml"

// shutdownGrace bounds how long in-flight tool calls may run after a
// shutdown signal.
const shutdownGrace = 10 * time.Second

func main() {
	if err := newRootCmd(os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Logs go to logOut, never to stdout,
// which belongs to the stdio transport.
func newRootCmd(logOut io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "forge-mcp-server",
		Short:         "MCP server for Jira, Confluence, GitHub, GitLab and local scripts",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, logOut)
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", defaultConfigPath, "path to configuration file (YAML, or JSON with comments)")
	flags.String("transport", "", "transport type: stdio or http")
	flags.String("host", "", "HTTP listen host")
	flags.Int("port", 0, "HTTP listen port")
	flags.Bool("read-only", false, "hide and reject every tool that modifies remote state")
	flags.StringSlice("enabled-tools", nil, "tool groups to enable (jira, confluence, github, gitlab, scripting); empty enables all")
	flags.String("log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, logOut)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "tools",
		Short: "Print the advertised tool catalogue as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTools(cmd, logOut)
		},
	})

	return root
}

// loadConfig reads the file and environment, then applies flags that were
// set explicitly. A missing file is only an error when --config was given.
func loadConfig(flags *pflag.FlagSet) (*domain.Config, error) {
	path, err := flags.GetString("config")
	if err != nil {
		return nil, err
	}
	config, err := domain.LoadConfig(path, flags.Changed("config"))
	if err != nil {
		return nil, err
	}
	if err := applyFlags(flags, config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

func applyFlags(flags *pflag.FlagSet, config *domain.Config) error {
	var err error
	if flags.Changed("transport") {
		if config.Transport.Type, err = flags.GetString("transport"); err != nil {
			return err
		}
	}
	if flags.Changed("host") {
		if config.Transport.HTTP.Host, err = flags.GetString("host"); err != nil {
			return err
		}
	}
	if flags.Changed("port") {
		if config.Transport.HTTP.Port, err = flags.GetInt("port"); err != nil {
			return err
		}
	}
	if flags.Changed("read-only") {
		if config.ReadOnly, err = flags.GetBool("read-only"); err != nil {
			return err
		}
	}
	if flags.Changed("enabled-tools") {
		if config.EnabledTools, err = flags.GetStringSlice("enabled-tools"); err != nil {
			return err
		}
	}
	if flags.Changed("log-level") {
		if config.Logging.Level, err = flags.GetString("log-level"); err != nil {
			return err
		}
	}
	return nil
}

// buildRegistry registers every capability group the configuration makes
// available. Groups without credentials are skipped with a warning.
func buildRegistry(config *domain.Config, logger zerolog.Logger) (*application.Registry, error) {
	authManager, err := domain.NewAuthenticationManagerFromConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise authentication: %w", err)
	}

	registry := application.NewRegistry(application.RegistryOptions{
		EnabledGroups: config.EnabledGroups(),
		ReadOnly:      config.ReadOnly,
		Logger:        logger,
	})

	providers := []application.ToolProvider{
		application.NewJiraHandler(config.Services.Jira, authManager),
		application.NewConfluenceHandler(config.Services.Confluence, authManager),
		application.NewGitHubHandler(config.Services.GitHub, authManager),
		application.NewGitLabHandler(config.Services.GitLab, authManager),
		application.NewScriptHandler(config.Scripting, infrastructure.NewScriptRunner(config.Scripting)),
	}
	for _, p := range providers {
		if err := registry.RegisterProvider(p); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func newTransport(config *domain.Config, logger zerolog.Logger) (domain.Transport, error) {
	switch config.Transport.Type {
	case "stdio":
		return domain.NewStdioTransport(logger), nil
	case "http":
		return domain.NewHTTPTransport(config.Transport.HTTP.Host, config.Transport.HTTP.Port, logger), nil
	}
	return nil, fmt.Errorf("invalid transport type: %s", config.Transport.Type)
}

func runServe(cmd *cobra.Command, logOut io.Writer) error {
	config, err := loadConfig(cmd.Flags())
	if err != nil {
		fmt.Fprintf(logOut, "failed to load configuration: %v\n", err)
		return err
	}
	logger := domain.NewLogger(config.Logging, logOut)

	registry, err := buildRegistry(config, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to register tools")
		return err
	}
	if len(registry.List(application.ListFilter{})) == 0 {
		logger.Warn().Msg("no tools available: configure at least one service or enable scripting")
	}

	transport, err := newTransport(config, logger)
	if err != nil {
		return err
	}

	dispatcher := application.NewDispatcher(registry, domain.NewResponseMapper(), logger)
	server := application.NewServer(transport, registry, dispatcher, config, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case <-server.Done():
	}

	if err := server.Close(); err != nil {
		logger.Error().Err(err).Msg("error during server shutdown")
		return err
	}

	select {
	case <-server.Done():
	case <-time.After(shutdownGrace):
		logger.Warn().Msg("in-flight requests did not finish before shutdown")
	}
	logger.Info().Msg("server shutdown complete")
	return nil
}

func runTools(cmd *cobra.Command, logOut io.Writer) error {
	config, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	logger := domain.NewLogger(config.Logging, logOut)

	registry, err := buildRegistry(config, logger)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]interface{}{"tools": registry.Definitions()})
}
