// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/bureau-foundation/appimage-runtime/lib/process"
)

// Stage is the re-exec stage name of the namespace child.
const Stage = "sandbox"

// Descriptor numbers of the pipes handed to the child in ExtraFiles.
const (
	syncFD  = 3
	readyFD = 4
)

// rootPattern is the os.MkdirTemp pattern for the composite root.
const rootPattern = "appimage-root-"

// selfExecutable locates the bundle directory when Config.BundleDir is
// empty.
var selfExecutable = "/proc/self/exe"

// detectCapabilities explains namespace failures. Tests replace it.
var detectCapabilities = DetectCapabilities

// Config holds configuration for a launch.
type Config struct {
	// BundleDir holds the store directory and the entrypoint. If
	// empty, the directory of the running executable.
	BundleDir string

	// StoreName is the directory under BundleDir bound over the same
	// name in the composite root. Default: nix.
	StoreName string

	// Entrypoint is the program under BundleDir exec'd in the
	// composite root. Default: entrypoint.
	Entrypoint string

	// TempDir is where the composite root directory is created. If
	// empty, os.TempDir().
	TempDir string

	// Readiness makes the child report back right before it execs the
	// entrypoint. OnReady, if set, is then called from Run.
	Readiness bool
	OnReady   func()

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Logger for launcher operations. If nil, a no-op logger is used.
	Logger *slog.Logger
}

func (c *Config) setDefaults() error {
	if c.BundleDir == "" {
		executable, err := filepath.EvalSymlinks(selfExecutable)
		if err != nil {
			return &NamespaceSetupError{Step: "resolve executable", Path: selfExecutable, Err: err}
		}
		c.BundleDir = filepath.Dir(executable)
	}
	if c.StoreName == "" {
		c.StoreName = "nix"
	}
	if c.Entrypoint == "" {
		c.Entrypoint = "entrypoint"
	}
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
	if c.Stdin == nil {
		c.Stdin = os.Stdin
	}
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	if c.Stderr == nil {
		c.Stderr = os.Stderr
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return nil
}

// Launcher runs a bundle's entrypoint in a composite root.
type Launcher struct {
	config Config
	logger *slog.Logger
}

// New creates a Launcher, filling in defaults for unset Config fields.
func New(config Config) (*Launcher, error) {
	if err := config.setDefaults(); err != nil {
		return nil, err
	}
	return &Launcher{config: config, logger: config.Logger}, nil
}

// Run executes the entrypoint with argv as its arguments (argv[0]
// included) and returns the status to exit with. Cancelling ctx sends
// SIGTERM to the child.
//
// A non-nil error is always a setup failure and comes with status 127.
// Failures inside the child are reported by the child on Stderr and
// show up here only as its exit status.
func (l *Launcher) Run(ctx context.Context, argv []string) (int, error) {
	if len(argv) == 0 {
		return process.ExitExecError, fmt.Errorf("empty argument list")
	}
	config := l.config
	logger := l.logger

	uid, gid := os.Getuid(), os.Getgid()

	root, err := os.MkdirTemp(config.TempDir, rootPattern)
	if err != nil {
		return process.ExitExecError, &NamespaceSetupError{Step: "create root", Path: config.TempDir, Err: err}
	}
	defer func() {
		if err := os.Remove(root); err != nil {
			logger.Warn("removing composite root", "path", root, "error", err)
		}
	}()

	syncRead, syncWrite, err := os.Pipe()
	if err != nil {
		return process.ExitExecError, &NamespaceSetupError{Step: "create sync pipe", Err: err}
	}
	defer syncWrite.Close()

	args := []string{
		"--root", root,
		"--bundle-dir", config.BundleDir,
		"--store", config.StoreName,
		"--entrypoint", config.Entrypoint,
		"--sync-fd", strconv.Itoa(syncFD),
	}
	extraFiles := []*os.File{syncRead}

	var readyRead, readyWrite *os.File
	if config.Readiness {
		readyRead, readyWrite, err = os.Pipe()
		if err != nil {
			syncRead.Close()
			return process.ExitExecError, &NamespaceSetupError{Step: "create readiness pipe", Err: err}
		}
		defer readyRead.Close()
		args = append(args, "--ready-fd", strconv.Itoa(readyFD))
		extraFiles = append(extraFiles, readyWrite)
	}
	args = append(append(args, "--"), argv...)

	command := process.SelfCommand(Stage, argv[0], args...)
	command.ExtraFiles = extraFiles
	command.Stdin = config.Stdin
	command.Stdout = config.Stdout
	command.Stderr = config.Stderr
	command.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: syscall.CLONE_NEWUSER | syscall.CLONE_NEWNS,
	}

	startErr := command.Start()
	syncRead.Close()
	if readyWrite != nil {
		readyWrite.Close()
	}
	if startErr != nil {
		return process.ExitExecError, l.explain(&NamespaceSetupError{Step: "create namespaces", Err: startErr})
	}
	logger.Debug("namespace child started", "pid", command.Process.Pid, "root", root)

	if err := WriteIDMaps(command.Process.Pid, uid, gid); err != nil {
		command.Process.Kill()
		command.Wait()
		var setupErr *NamespaceSetupError
		if errors.As(err, &setupErr) {
			err = l.explain(setupErr)
		}
		return process.ExitExecError, err
	}
	if _, err := syncWrite.Write([]byte{0}); err != nil {
		command.Process.Kill()
		command.Wait()
		return process.ExitExecError, &NamespaceSetupError{Step: "release child", Err: err}
	}
	syncWrite.Close()

	stop := context.AfterFunc(ctx, func() {
		command.Process.Signal(syscall.SIGTERM)
	})
	defer stop()

	if readyRead != nil {
		awaitReady(readyRead, config.OnReady, logger)
	}

	if err := command.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return process.ExitExecError, fmt.Errorf("waiting for sandboxed process: %w", err)
		}
	}
	status := process.ExitStatus(command.ProcessState)
	logger.Debug("sandboxed process exited", "status", status)
	return status, nil
}

// awaitReady blocks until the child reports readiness or closes the
// pipe without doing so.
func awaitReady(reader io.Reader, onReady func(), logger *slog.Logger) {
	var buffer [1]byte
	if _, err := io.ReadFull(reader, buffer[:]); err != nil {
		logger.Debug("namespace child exited before becoming ready", "error", err)
		return
	}
	logger.Debug("namespace child ready")
	if onReady != nil {
		onReady()
	}
}

// explain attaches the reason namespaces are unavailable on this
// system, if detection finds one.
func (l *Launcher) explain(err *NamespaceSetupError) *NamespaceSetupError {
	capabilities := detectCapabilities()
	l.logger.Debug("sandbox capabilities",
		"user_namespaces", capabilities.UserNamespacesEnabled,
		"mounts_restricted", capabilities.MountsRestricted,
	)
	if reason := capabilities.SkipReason(); reason != "" {
		err.Hint = reason
	}
	return err
}
