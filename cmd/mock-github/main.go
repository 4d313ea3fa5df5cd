// Licensed to Andrew Kroh under one or more agreements.
// Andrew Kroh licenses this file to you under the Apache 2.0 License.
// See the LICENSE file in the project root for more information.

// Package main implements a mock GitHub API server for trying out
// access-manager without real GitHub credentials. State is kept in memory
// and lost on exit.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/andrewkroh/access-manager/internal/githubtest"
	"github.com/andrewkroh/access-manager/internal/otelsetup"
)

// orgSeed is an organization created at startup.
type orgSeed struct {
	Name    string
	Members []string
}

// Config holds the server configuration parsed from CLI flags.
type Config struct {
	Listen string
	Token  string
	Orgs   []orgSeed
}

// parseFlags parses CLI flags from the given arguments into a Config.
func parseFlags(args []string) (*Config, error) {
	fs := flag.NewFlagSet("mock-github", flag.ContinueOnError)

	cfg := &Config{}
	fs.StringVar(&cfg.Listen, "listen", ":9090", "HTTP listen address")
	fs.StringVar(&cfg.Token, "token", "mock-token", "bearer token accepted by the server")
	fs.Func("org", "organization to create, as name or name:member1,member2 (repeatable)", func(v string) error {
		name, members, _ := strings.Cut(v, ":")
		if name == "" {
			return errors.New("organization name is empty")
		}
		seed := orgSeed{Name: name}
		if members != "" {
			seed.Members = strings.Split(members, ",")
		}
		cfg.Orgs = append(cfg.Orgs, seed)
		return nil
	})

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.Token == "" {
		err := errors.New("flag -token must not be empty")
		fmt.Fprintf(fs.Output(), "Error: %v\n\n", err)
		fs.Usage()
		return nil, err
	}
	return cfg, nil
}

// logRequests logs every request at info level.
func logRequests(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.InfoContext(r.Context(), "request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(1)
	}

	logger := otelsetup.NewLogger(os.Stderr, slog.LevelInfo, "json")
	slog.SetDefault(logger)

	fake := githubtest.New(cfg.Token)
	for _, org := range cfg.Orgs {
		fake.AddOrg(org.Name, org.Members...)
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           logRequests(logger, fake),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock-github listening",
			slog.String("listen", cfg.Listen),
			slog.Int("orgs", len(cfg.Orgs)),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", slog.String("error", err.Error()))
	}
}
