// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package activation

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"
)

// Action is what an invocation does.
type Action int

const (
	// ActionRun mounts the payload and execs its AppRun.
	ActionRun Action = iota
	ActionHelp
	ActionVersion
	ActionOffset
	ActionExtract
	ActionExtractAndRun
	ActionMount
	ActionPortableHome
	ActionPortableConfig
)

func (a Action) String() string {
	switch a {
	case ActionRun:
		return "run"
	case ActionHelp:
		return "help"
	case ActionVersion:
		return "version"
	case ActionOffset:
		return "offset"
	case ActionExtract:
		return "extract"
	case ActionExtractAndRun:
		return "extract-and-run"
	case ActionMount:
		return "mount"
	case ActionPortableHome:
		return "portable-home"
	case ActionPortableConfig:
		return "portable-config"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// directivePrefix marks the runtime's own options. Everything else on
// the command line belongs to the application.
const directivePrefix = "appimage-"

// extractAll is the value pflag gives --appimage-extract when it has
// no "=pattern".
const extractAll = "\x00all"

// Directive is the parsed runtime directive of an invocation.
type Directive struct {
	Action Action

	// Name is the first "--" argument without its dashes, or "" if
	// there is none.
	Name string

	// Index is Name's position in the argument list, or -1.
	Index int

	// Pattern selects what ActionExtract extracts. Empty selects
	// everything.
	Pattern string
}

// ParseDirective finds and parses the directive in args, the full
// argument list including args[0]. Only the first argument starting
// with "--" is considered. An "--appimage-" directive this runtime
// does not know yields an *UnsupportedDirectiveError alongside a
// Directive carrying its Name.
func ParseDirective(args []string) (Directive, error) {
	directive := Directive{Action: ActionRun, Index: -1}
	for i := 1; i < len(args); i++ {
		if strings.HasPrefix(args[i], "--") {
			directive.Index = i
			directive.Name = args[i][2:]
			break
		}
	}
	if !strings.HasPrefix(directive.Name, directivePrefix) {
		return directive, nil
	}

	flags := pflag.NewFlagSet(args[0], pflag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.Usage = func() {}
	actions := map[string]*bool{
		"appimage-help":            flags.Bool("appimage-help", false, "print this help"),
		"appimage-version":         flags.Bool("appimage-version", false, "print the runtime version"),
		"appimage-offset":          flags.Bool("appimage-offset", false, "print the payload offset"),
		"appimage-extract-and-run": flags.Bool("appimage-extract-and-run", false, "extract into a cache and run"),
		"appimage-mount":           flags.Bool("appimage-mount", false, "mount, print the mount point and wait"),
		"appimage-portable-home":   flags.Bool("appimage-portable-home", false, "create the portable home directory"),
		"appimage-portable-config": flags.Bool("appimage-portable-config", false, "create the portable config directory"),
	}
	pattern := flags.String("appimage-extract", "", "extract the payload, optionally only matching entries")
	flags.Lookup("appimage-extract").NoOptDefVal = extractAll

	name := directive.Name
	if separator := strings.IndexByte(name, '='); separator >= 0 {
		name = name[:separator]
	}
	if err := flags.Parse([]string{args[directive.Index]}); err != nil {
		return directive, &UnsupportedDirectiveError{Name: directive.Name}
	}

	switch {
	case flags.Changed("appimage-extract"):
		directive.Action = ActionExtract
		return parseExtract(directive, args, *pattern)
	case *actions["appimage-help"]:
		directive.Action = ActionHelp
	case *actions["appimage-version"]:
		directive.Action = ActionVersion
	case *actions["appimage-offset"]:
		directive.Action = ActionOffset
	case *actions["appimage-extract-and-run"]:
		directive.Action = ActionExtractAndRun
	case *actions["appimage-mount"]:
		directive.Action = ActionMount
	case *actions["appimage-portable-home"]:
		directive.Action = ActionPortableHome
	case *actions["appimage-portable-config"]:
		directive.Action = ActionPortableConfig
	default:
		// A boolean directive given as "--appimage-offset=false".
		return directive, &UnsupportedDirectiveError{Name: name}
	}
	return directive, nil
}

// parseExtract accepts the pattern either inline or as the one other
// argument on the command line.
func parseExtract(directive Directive, args []string, inline string) (Directive, error) {
	var others []string
	for i := 1; i < len(args); i++ {
		if i != directive.Index {
			others = append(others, args[i])
		}
	}

	usage := fmt.Sprintf("Usage: %s --appimage-extract [<pattern>]", args[0])
	if inline != extractAll {
		if len(others) > 0 {
			return directive, &UsageError{
				Message: fmt.Sprintf("Unexpected argument count: %d", len(args)-1),
				Usage:   usage,
			}
		}
		directive.Pattern = inline
		return directive, nil
	}

	switch len(others) {
	case 0:
	case 1:
		directive.Pattern = others[0]
	default:
		return directive, &UsageError{
			Message: fmt.Sprintf("Unexpected argument count: %d", len(args)-1),
			Usage:   usage,
		}
	}
	return directive, nil
}

// WithoutDirective returns args with every occurrence of the
// extract-and-run directive removed.
func WithoutDirective(args []string) []string {
	result := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == "--"+directivePrefix+"extract-and-run" {
			continue
		}
		result = append(result, arg)
	}
	return result
}
