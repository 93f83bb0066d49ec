// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package activation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/bureau-foundation/appimage-runtime/lib/binhash"
	"github.com/bureau-foundation/appimage-runtime/lib/config"
	"github.com/bureau-foundation/appimage-runtime/lib/elfsize"
	"github.com/bureau-foundation/appimage-runtime/lib/extract"
	"github.com/bureau-foundation/appimage-runtime/lib/mountsession"
	"github.com/bureau-foundation/appimage-runtime/lib/process"
	"github.com/bureau-foundation/appimage-runtime/lib/version"
)

const (
	// appRunName is the entrypoint at the root of every payload.
	appRunName = "AppRun"

	// extractDestination is where --appimage-extract writes, relative
	// to the working directory.
	extractDestination = "squashfs-root"

	// exitFailure is the status for user-facing failures that are not
	// launcher-internal: bad usage, unsupported directives or failed
	// extraction.
	exitFailure = 1
)

// MountSession is a live mount of the payload.
type MountSession interface {
	Dir() string
	Inherit() error
	Close() error
}

// Dispatcher runs one invocation of a bundle.
type Dispatcher struct {
	// Args is the full command line, Args[0] included.
	Args []string

	Environment Environment

	// Config supplies the mount and extraction settings. If nil,
	// config.Default() is used.
	Config *config.Config

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Logger receives diagnostic messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger

	// Environ returns the environment the application inherits. If
	// nil, os.Environ.
	Environ func() []string

	// Getwd returns the directory exported as OWD. If nil, os.Getwd.
	Getwd func() (string, error)

	// StartMount starts a mount session. If nil, mountsession.Start.
	StartMount func(ctx context.Context, options mountsession.Options) (MountSession, error)

	// Exec replaces the process with the program at path. If nil,
	// syscall.Exec. It returns only on failure.
	Exec func(path string, argv []string, environment []string) error
}

// Run performs the invocation and returns the process exit status.
// Failures are reported on Stderr.
func (d *Dispatcher) Run(ctx context.Context) int {
	d.setDefaults()
	status, err := d.dispatch(ctx)
	if err != nil {
		fmt.Fprintln(d.Stderr, err)
	}
	return status
}

func (d *Dispatcher) setDefaults() {
	if d.Config == nil {
		d.Config = config.Default()
	}
	if d.Stdin == nil {
		d.Stdin = os.Stdin
	}
	if d.Stdout == nil {
		d.Stdout = os.Stdout
	}
	if d.Stderr == nil {
		d.Stderr = os.Stderr
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}
	if d.Environ == nil {
		d.Environ = os.Environ
	}
	if d.Getwd == nil {
		d.Getwd = os.Getwd
	}
	if d.StartMount == nil {
		d.StartMount = startMountSession
	}
	if d.Exec == nil {
		d.Exec = syscall.Exec
	}
}

func startMountSession(ctx context.Context, options mountsession.Options) (MountSession, error) {
	session, err := mountsession.Start(ctx, options)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (d *Dispatcher) dispatch(ctx context.Context) (int, error) {
	if len(d.Args) == 0 {
		return process.ExitExecError, fmt.Errorf("empty argument list")
	}

	bundle, err := ResolveBundle(d.Environment, d.Args[0])
	if err != nil {
		return process.ExitExecError, err
	}
	offset, err := elfsize.FileOffset(bundle.Path)
	if err != nil {
		return process.ExitExecError, fmt.Errorf("failed to get payload offset for %s: %w", bundle.Path, err)
	}

	directive, err := ParseDirective(d.Args)
	if err != nil {
		var unsupported *UnsupportedDirectiveError
		if !errors.As(err, &unsupported) || !d.Environment.ExtractAndRun {
			return exitFailure, err
		}
		// APPIMAGE_EXTRACT_AND_RUN takes precedence over directives
		// this runtime does not know.
	}
	d.Logger.Debug("activating bundle",
		"action", directive.Action.String(),
		"directive", directive.Name,
		"bundle", bundle.FullPath,
		"offset", offset,
	)

	switch directive.Action {
	case ActionHelp:
		writeHelp(d.Stderr, bundle.FullPath)
		return 0, nil
	case ActionVersion:
		fmt.Fprintln(d.Stdout, version.Info())
		return 0, nil
	case ActionOffset:
		fmt.Fprintln(d.Stdout, offset)
		return 0, nil
	case ActionExtract:
		return d.extract(bundle, offset, directive.Pattern)
	}

	if directive.Action == ActionExtractAndRun || d.Environment.ExtractAndRun {
		return d.extractAndRun(bundle, offset)
	}

	switch directive.Action {
	case ActionPortableHome:
		return d.createPortable(bundle.PortableHome(), "home")
	case ActionPortableConfig:
		return d.createPortable(bundle.PortableConfig(), "config")
	case ActionMount:
		return d.mount(ctx, bundle, offset)
	default:
		return d.runMounted(ctx, bundle, offset)
	}
}

func (d *Dispatcher) extract(bundle Bundle, offset int64, pattern string) (int, error) {
	stats, err := extract.ExtractFile(bundle.Path, offset, extract.Options{
		Destination: extractDestination,
		Pattern:     pattern,
		Overwrite:   true,
		Verbose:     true,
		Output:      d.Stdout,
		WindowSize:  d.Config.Extract.WindowSize,
		Logger:      d.Logger,
	})
	if err != nil {
		return exitFailure, fmt.Errorf("failed to extract payload: %w", err)
	}
	d.Logger.Debug("payload extracted",
		"destination", extractDestination,
		"files", stats.Files,
		"bytes", stats.Bytes,
	)
	return 0, nil
}

func (d *Dispatcher) extractAndRun(bundle Bundle, offset int64) (int, error) {
	digest, err := binhash.HashFile(bundle.Path)
	if err != nil {
		return process.ExitExecError, err
	}
	cacheDir := extract.CacheDir(d.Environment.TempBase, binhash.FormatDigest(digest))

	stats, err := extract.ExtractFile(bundle.Path, offset, extract.Options{
		Destination: cacheDir,
		Verbose:     d.Environment.Verbose,
		Output:      d.Stdout,
		WindowSize:  d.Config.Extract.WindowSize,
		Logger:      d.Logger,
	})
	if err != nil {
		return process.ExitExecError, fmt.Errorf("failed to extract payload into %s: %w", cacheDir, err)
	}
	d.Logger.Debug("payload cached",
		"cache", cacheDir,
		"files", stats.Files,
		"skipped", stats.Skipped,
	)

	appRun := filepath.Join(cacheDir, appRunName)
	command := exec.Command(appRun)
	command.Args = append([]string{appRun}, WithoutDirective(d.Args[1:])...)
	command.Env = applicationEnvironment(d.Environ(), bundle, cacheDir)
	if workingDirectory, err := d.Getwd(); err == nil {
		command.Env = setenv(command.Env, "OWD", workingDirectory)
	}
	command.Stdin = d.Stdin
	command.Stdout = d.Stdout
	command.Stderr = d.Stderr

	status, runErr := runChild(command)

	if !d.Environment.NoCleanup {
		if err := extract.RemoveTree(cacheDir); err != nil {
			fmt.Fprintf(d.Stderr, "Failed to clean up cache directory: %v\n", err)
			if status == 0 {
				status = process.ExitExecError
			}
		}
	}
	return status, runErr
}

// runChild runs command to completion and returns the status to exit
// with. SIGTERM and SIGHUP are passed on to the child; SIGINT is only
// held off, since Ctrl-C already reaches the child through the
// terminal's process group.
func runChild(command *exec.Cmd) (int, error) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signals)

	if err := command.Start(); err != nil {
		return process.ExitExecError, &ProcessError{Op: "run " + command.Path, Err: err}
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case received := <-signals:
				if received != syscall.SIGINT {
					command.Process.Signal(received)
				}
			case <-done:
				return
			}
		}
	}()

	if err := command.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return process.ExitExecError, &ProcessError{Op: "wait for " + command.Path, Err: err}
		}
	}
	return process.ExitStatus(command.ProcessState), nil
}

// createPortable reports a failure to create dir on stderr but still
// exits successfully.
func (d *Dispatcher) createPortable(dir, kind string) (int, error) {
	if err := os.Mkdir(dir, 0o700); err != nil {
		fmt.Fprintf(d.Stderr, "Error creating portable %s directory at %s: %v\n", kind, dir, err)
		return 0, nil
	}
	fmt.Fprintf(d.Stderr, "Portable %s directory created at %s\n", kind, dir)
	return 0, nil
}

func (d *Dispatcher) startMount(ctx context.Context, bundle Bundle, offset int64) (MountSession, error) {
	idleTimeout, err := d.Config.IdleTimeout()
	if err != nil {
		return nil, err
	}
	fsName := d.Config.Mount.FsName
	if fsName == "" {
		fsName = bundle.FullPath
	}
	return d.StartMount(ctx, mountsession.Options{
		ImagePath:   bundle.Path,
		Offset:      offset,
		TempBase:    d.Environment.TempBase,
		Argv0:       d.Args[0],
		IdleTimeout: idleTimeout,
		FsName:      fsName,
		Stderr:      d.Stderr,
		Logger:      d.Logger,
	})
}

// mount prints the mount directory and holds the mount until ctx is
// done or the process is interrupted.
func (d *Dispatcher) mount(ctx context.Context, bundle Bundle, offset int64) (int, error) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	session, err := d.startMount(ctx, bundle, offset)
	if err != nil {
		return process.ExitExecError, err
	}

	dir := session.Dir()
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}
	fmt.Fprintln(d.Stdout, dir)
	if flusher, ok := d.Stdout.(interface{ Flush() error }); ok {
		flusher.Flush()
	}

	<-ctx.Done()
	if err := session.Close(); err != nil {
		d.Logger.Warn("closing mount session", "mountpoint", session.Dir(), "error", err)
	}
	return 0, nil
}

// runMounted mounts the payload and execs its AppRun in place of this
// process. The keep-alive descriptor is inherited, so the mount lasts
// as long as the application.
func (d *Dispatcher) runMounted(ctx context.Context, bundle Bundle, offset int64) (int, error) {
	session, err := d.startMount(ctx, bundle, offset)
	if err != nil {
		return process.ExitExecError, err
	}
	appDir := session.Dir()

	environment := applicationEnvironment(d.Environ(), bundle, appDir)
	if home := bundle.PortableHome(); writableDirectory(home) {
		fmt.Fprintf(d.Stderr, "Setting $HOME to %s\n", home)
		environment = setenv(environment, "HOME", home)
	}
	if configDir := bundle.PortableConfig(); writableDirectory(configDir) {
		fmt.Fprintf(d.Stderr, "Setting $XDG_CONFIG_HOME to %s\n", configDir)
		environment = setenv(environment, "XDG_CONFIG_HOME", configDir)
	}
	if workingDirectory, err := d.Getwd(); err == nil {
		environment = setenv(environment, "OWD", workingDirectory)
	}

	if err := session.Inherit(); err != nil {
		session.Close()
		return process.ExitExecError, err
	}

	appRun := filepath.Join(appDir, appRunName)
	d.Logger.Debug("executing application", "path", appRun)
	execErr := d.Exec(appRun, d.Args, environment)

	session.Close()
	return process.ExitExecError, &ProcessError{Op: "exec " + appRun, Err: execErr}
}
