package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"alertstream/internal/app"
	"alertstream/internal/config"
	"alertstream/internal/server"
)

type runFlags struct {
	inbox    string
	interval int
	verbose  bool
}

// applyOverrides layers CLI flags over the environment and revalidates.
func applyOverrides(cfg *config.Config, flags *runFlags) error {
	if flags.inbox != "" {
		cfg.Inbox.Root = flags.inbox
	}
	if flags.interval > 0 {
		cfg.Inbox.CheckIntervalSeconds = flags.interval
	}
	if flags.verbose {
		cfg.Verbose = true
	}
	return config.Validate(cfg)
}

// secretProvider resolves *_SSM_PARAM pointers through SSM, or through the
// environment when no AWS region is configured (off-AWS staging hosts).
func secretProvider() config.SecretProvider {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		return config.NewEnvVarProvider()
	}
	return config.NewSSMProvider(region)
}

func runRelay(ctx context.Context, flags *runFlags, cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(secretProvider())
	if err != nil {
		return err
	}
	if err := applyOverrides(cfg, flags); err != nil {
		return err
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.Verbose)
	logger.Info("alert-relay starting",
		"version", cfg.Build.Version,
		"environment", cfg.Environment,
		"inbox", cfg.Inbox.Root,
		"interval", cfg.Inbox.CheckInterval().String(),
	)

	a, err := app.Build(ctx, cfg, logger, app.Overrides{})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("Shutdown cleanup failed", "error", err)
		}
	}()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Relay.Run(gCtx)
	})

	if addr := cfg.Observability.HTTPAddr; addr != "" {
		srv := server.New(server.Options{
			Probes:   a.Probes,
			Status:   a.Relay,
			Stats:    a.Stats,
			Gatherer: a.Gatherer,
			Build:    server.BuildInfo{Version: cfg.Build.Version, Commit: cfg.Build.Commit},
			Logger:   logger,
		})
		g.Go(func() error {
			return srv.ListenAndServe(gCtx, addr)
		})
	}

	err = g.Wait()
	logger.Info("alert-relay stopped")
	return err
}
