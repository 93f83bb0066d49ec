// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/appimage-runtime/lib/config"
	"github.com/bureau-foundation/appimage-runtime/lib/process"
	"github.com/bureau-foundation/appimage-runtime/sandbox"
)

func main() {
	logLevel := slog.LevelWarn
	if os.Getenv("APPIMAGE_RUNTIME_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	if process.Stage() == sandbox.Stage {
		os.Exit(sandbox.EnterMain(os.Args[1:], os.Stderr, logger))
	}

	os.Exit(run(logger))
}

func run(logger *slog.Logger) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
		return process.ExitExecError
	}

	// SIGINT reaches the sandboxed process through the terminal and is
	// only held off here; the others are passed on as SIGTERM.
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, syscall.SIGINT)
	defer signal.Stop(interrupts)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	launcher, err := sandbox.New(sandbox.Config{
		StoreName:  cfg.Sandbox.StoreName,
		Entrypoint: cfg.Sandbox.Entrypoint,
		TempDir:    cfg.Sandbox.TempDir,
		Readiness:  cfg.Sandbox.Readiness,
		OnReady: func() {
			logger.Debug("sandboxed entrypoint starting")
		},
		Logger: logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
		return process.ExitExecError
	}

	status, err := launcher.Run(ctx, os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
	}
	return status
}
