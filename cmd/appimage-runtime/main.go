// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/bureau-foundation/appimage-runtime/lib/activation"
	"github.com/bureau-foundation/appimage-runtime/lib/config"
	"github.com/bureau-foundation/appimage-runtime/lib/mountsession"
	"github.com/bureau-foundation/appimage-runtime/lib/process"
)

func main() {
	logger := newLogger()

	if process.Stage() == mountsession.Stage {
		os.Exit(mountsession.ServeMain(os.Args[1:], logger))
	}

	cfg, err := config.Load()
	if err != nil {
		process.Fatal(err)
	}

	dispatcher := &activation.Dispatcher{
		Args:        os.Args,
		Environment: activation.LoadEnvironment(os.LookupEnv),
		Config:      cfg,
		Logger:      logger,
	}
	os.Exit(dispatcher.Run(context.Background()))
}

// newLogger logs warnings and errors to stderr, or everything when
// APPIMAGE_RUNTIME_DEBUG is set. Stdout belongs to the directives.
func newLogger() *slog.Logger {
	logLevel := slog.LevelWarn
	if os.Getenv("APPIMAGE_RUNTIME_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
}
