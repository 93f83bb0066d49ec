// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/appimage-runtime/lib/process"
)

// hostRoot is the directory whose entries populate the composite root.
var hostRoot = "/"

// EnterOptions configures the namespace child.
type EnterOptions struct {
	// Root is the empty directory the composite root is built on.
	Root string

	BundleDir  string
	StoreName  string
	Entrypoint string

	// Sync is read until the parent has written the id maps. A byte
	// releases the child; EOF means the parent gave up.
	Sync io.Reader

	// Ready, if set, receives one byte right before the exec.
	Ready io.Writer

	// Argv is passed to the entrypoint unchanged.
	Argv []string

	Logger *slog.Logger
}

// Enter builds the composite root in the current mount namespace and
// execs the entrypoint in it. It returns only on failure.
func Enter(options EnterOptions) error {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var buffer [1]byte
	if _, err := io.ReadFull(options.Sync, buffer[:]); err != nil {
		return &NamespaceSetupError{Step: "wait for id maps", Err: err}
	}

	if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		return &NamespaceSetupError{Step: "make mounts private", Path: "/", Err: err}
	}
	if err := unix.Mount("tmpfs", options.Root, "tmpfs", 0, ""); err != nil {
		return &NamespaceSetupError{Step: "mount tmpfs", Path: options.Root, Err: err}
	}

	binds, err := PlanBinds(hostRoot, options.Root, options.StoreName, options.BundleDir)
	if err != nil {
		return err
	}
	for _, bind := range binds {
		logger.Debug("composite root entry", "kind", bind.Kind.String(), "source", bind.Source, "target", bind.Target)
		if err := applyBind(bind); err != nil {
			return err
		}
	}

	workingDirectory, err := os.Getwd()
	if err != nil {
		return &NamespaceSetupError{Step: "getcwd", Err: err}
	}
	if err := unix.Chroot(options.Root); err != nil {
		return &NamespaceSetupError{Step: "chroot", Path: options.Root, Err: err}
	}
	if err := unix.Chdir(workingDirectory); err != nil {
		return &NamespaceSetupError{Step: "chdir", Path: workingDirectory, Err: err}
	}

	entrypoint := filepath.Join(options.BundleDir, options.Entrypoint)
	if options.Ready != nil {
		if _, err := options.Ready.Write([]byte{0}); err != nil {
			return &NamespaceSetupError{Step: "report readiness", Err: err}
		}
	}
	err = unix.Exec(entrypoint, options.Argv, process.StripStage(os.Environ()))
	return &NamespaceSetupError{Step: "exec", Path: entrypoint, Err: err}
}

func applyBind(bind Bind) error {
	switch bind.Kind {
	case BindSymlink:
		if err := os.Symlink(bind.Source, bind.Target); err != nil {
			return &NamespaceSetupError{Step: "symlink", Path: bind.Target, Err: err}
		}
		return nil
	case BindFile:
		file, err := os.OpenFile(bind.Target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			return &NamespaceSetupError{Step: "create", Path: bind.Target, Err: err}
		}
		file.Close()
	default:
		if err := os.Mkdir(bind.Target, 0o777); err != nil {
			return &NamespaceSetupError{Step: "mkdir", Path: bind.Target, Err: err}
		}
	}
	if err := unix.Mount(bind.Source, bind.Target, "none", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return &NamespaceSetupError{Step: "bind " + bind.Source, Path: bind.Target, Err: err}
	}
	return nil
}

// EnterMain is the entry point of the Stage re-exec: it parses the
// arguments Run passes, calls Enter, and returns the exit status if
// Enter fails.
func EnterMain(args []string, stderr io.Writer, logger *slog.Logger) int {
	flags := pflag.NewFlagSet(Stage, pflag.ContinueOnError)
	flags.SetOutput(stderr)
	root := flags.String("root", "", "empty directory to build the composite root on")
	bundleDir := flags.String("bundle-dir", "", "directory holding the store and the entrypoint")
	storeName := flags.String("store", "nix", "store directory name")
	entrypoint := flags.String("entrypoint", "entrypoint", "program to exec in the composite root")
	syncDescriptor := flags.Int("sync-fd", -1, "descriptor released by the parent after the id maps are written")
	readyDescriptor := flags.Int("ready-fd", -1, "descriptor to report readiness on (-1 for none)")
	if err := flags.Parse(args); err != nil {
		return process.ExitExecError
	}
	if *root == "" || *bundleDir == "" || *syncDescriptor < 0 || flags.NArg() == 0 {
		fmt.Fprintln(stderr, "sandbox child needs --root, --bundle-dir, --sync-fd and the command")
		return process.ExitExecError
	}

	sync, err := inheritedFile(*syncDescriptor, "sync")
	if err != nil {
		fmt.Fprintln(stderr, err)
		return process.ExitExecError
	}
	options := EnterOptions{
		Root:       *root,
		BundleDir:  *bundleDir,
		StoreName:  *storeName,
		Entrypoint: *entrypoint,
		Sync:       sync,
		Argv:       flags.Args(),
		Logger:     logger,
	}
	if *readyDescriptor >= 0 {
		ready, err := inheritedFile(*readyDescriptor, "ready")
		if err != nil {
			fmt.Fprintln(stderr, err)
			return process.ExitExecError
		}
		options.Ready = ready
	}

	err = Enter(options)
	fmt.Fprintf(stderr, "%s: %v\n", options.Argv[0], err)
	return process.ExitExecError
}

// inheritedFile wraps an inherited descriptor and marks it
// close-on-exec so the entrypoint does not keep the pipe open.
func inheritedFile(fd int, name string) (*os.File, error) {
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		return nil, &NamespaceSetupError{Step: "inherit " + name + " descriptor", Err: err}
	}
	return os.NewFile(uintptr(fd), name), nil
}
