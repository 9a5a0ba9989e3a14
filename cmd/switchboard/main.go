// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Switchboard is a connection manager daemon. It opens the listeners
// named in its config file, hands every accepted connection to the
// configured handler on a shared worker pool, and serves a control
// socket (see switchboardctl) through which listeners can be added,
// inspected, and removed at runtime.
//
// SIGINT or SIGTERM tears every listener down gracefully: each stops
// accepting, gives in-flight connections the configured grace period,
// then cancels what remains.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/switchboard/lib/config"
	"github.com/bureau-foundation/switchboard/lib/process"
	"github.com/bureau-foundation/switchboard/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var configPath string
	var showVersion bool

	flagSet := pflag.NewFlagSet("switchboard", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to config file (default: $"+config.EnvironmentVariable+")")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}

	if showVersion {
		version.Print("switchboard")
		return nil
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting switchboard",
		"version", version.Info(),
		"environment", cfg.Environment,
		"listeners", len(cfg.Listeners),
	)

	d, err := newDaemon(ctx, cfg, logger)
	if err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("received shutdown signal")
	d.shutdown()
	logger.Info("shutdown complete")
	return nil
}
