// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package activation

import (
	"fmt"
	"io"
)

const helpText = `AppImage options:

  --appimage-extract [<pattern>]  Extract content from embedded filesystem image
                                  If pattern is passed, only extract matching files
  --appimage-extract-and-run      Extract into a temporary cache and run from there
  --appimage-help                 Print this help
  --appimage-mount                Mount embedded filesystem image and print
                                  mount point and wait for kill with Ctrl-C
  --appimage-offset               Print byte offset to start of embedded
                                  filesystem image
  --appimage-portable-home        Create a portable home folder to use as $HOME
  --appimage-portable-config      Create a portable config folder to use as
                                  $XDG_CONFIG_HOME
  --appimage-version              Print version of the runtime

Environment:

  APPIMAGE_EXTRACT_AND_RUN        Behave as if --appimage-extract-and-run was given
  NO_CLEANUP                      Keep the extract-and-run cache afterwards
  VERBOSE                         List files while extracting into the cache
  TARGET_APPIMAGE                 Operate on this file instead of this executable

Portable home:

  If you would like the application contained inside this AppImage to store its
  data alongside this AppImage rather than in your home directory, then you can
  place a directory named

  %s.home

  Or you can invoke this AppImage with the --appimage-portable-home option,
  which will create this directory for you. As long as the directory exists
  and is neither moved nor renamed, the application contained inside this
  AppImage will store its data in this directory rather than in your home
  directory
`

func writeHelp(w io.Writer, bundlePath string) {
	fmt.Fprintf(w, helpText, bundlePath)
}
