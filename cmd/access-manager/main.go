// Licensed to Andrew Kroh under one or more agreements.
// Andrew Kroh licenses this file to you under the Apache 2.0 License.
// See the LICENSE file in the project root for more information.

// Package main implements the access-manager CLI, which applies access
// manifests to GitHub organizations and exposes the underlying team API
// operations as subcommands.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/andrewkroh/access-manager/internal/config"
	"github.com/andrewkroh/access-manager/internal/github"
	"github.com/andrewkroh/access-manager/internal/otelsetup"
)

// version is set at build time via -ldflags "-X main.version=v1.0.0".
var version = "dev"

// app holds the state shared by all commands of one invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	logLevel   string
	logFormat  string

	cfg *config.Config
	log *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	otelShutdown, err := otelsetup.Setup(ctx, otelsetup.Options{
		ServiceName:    "access-manager",
		ServiceVersion: version,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: setting up OpenTelemetry: %v\n", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			fmt.Fprintf(stderr, "Error: OpenTelemetry shutdown: %v\n", err)
		}
	}()

	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "access-manager",
		Short: "Reconcile GitHub team access with a declarative manifest",
		Long: `access-manager applies a manifest of teams, team repository permissions
and team memberships to GitHub organizations. Only the changes listed in the
manifest are applied; resources it does not mention are left untouched.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&a.configPath, "config", "access-manager.yml", "config file path (optional)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error (overrides config)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format: json or text (overrides config)")

	root.AddCommand(a.newGHCmd(), a.newVersionCmd())
	return root
}

// setup loads the configuration and installs the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.logFormat != "" {
		cfg.LogFormat = a.logFormat
	}

	level, err := otelsetup.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = otelsetup.NewLogger(a.stderr, level, cfg.LogFormat)
	slog.SetDefault(a.log)
	return nil
}

// newClient validates the configuration and builds the GitHub client.
func (a *app) newClient() (*github.HTTPClient, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}
	return github.NewHTTPClient(a.cfg.BearerToken,
		github.WithBaseURL(a.cfg.BaseURL),
		github.WithLogger(a.log),
		github.WithUserAgent("access-manager/"+version),
		github.WithRESTOptions(a.cfg.RESTOptions()...),
	), nil
}

// printJSON writes v to stdout as indented JSON.
func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of access-manager",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(a.stdout, "access-manager %s\n", version)
		},
	}
}
