// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package dex

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
)

// CleanAndExpandPath expands environment variables and a leading ~ or ~user
// in path, and cleans the result. An empty path is returned as is.
func CleanAndExpandPath(path string) string {
	if path == "" {
		return path
	}
	// $VARIABLE only. Windows %VARIABLE% is left alone.
	path = os.ExpandEnv(path)
	if !strings.HasPrefix(path, "~") {
		return filepath.Clean(path)
	}

	seps := "/"
	if runtime.GOOS == "windows" {
		seps = `/\`
	}
	userName, rest := path[1:], ""
	if i := strings.IndexAny(userName, seps); i != -1 {
		userName, rest = userName[:i], userName[i:]
	}
	return filepath.Join(homeDir(userName), rest)
}

// homeDir is the home directory of the named user, or of the current user if
// name is empty. The working directory is used if the lookup fails.
func homeDir(name string) string {
	if name == "" {
		if dir, err := os.UserHomeDir(); err == nil && dir != "" {
			return dir
		}
		return "."
	}
	if u, err := user.Lookup(name); err == nil && u.HomeDir != "" {
		return u.HomeDir
	}
	return "."
}
