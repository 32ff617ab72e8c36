// Package config resolves Syncline's CLI configuration: defaults, an
// optional .env file (loaded with github.com/joho/godotenv, exactly as the
// teacher's cmd/api and cmd/collab binaries do), and the §6 db-path
// auto-prefixing rule.
package config

import (
	"strings"

	"github.com/joho/godotenv"
)

// DefaultURL is the relay address a client daemon dials when --url is not
// given.
const DefaultURL = "ws://127.0.0.1:3030/sync"

// DefaultPort is the relay's listen port when --port is not given.
const DefaultPort = 3030

// DefaultDBPath is the relay's update-log location when --db-path is not
// given.
const DefaultDBPath = "syncline.db"

// DefaultExtensions is the reconciler's tracked-extension allow-list when
// none is configured.
var DefaultExtensions = []string{"md", "txt"}

// DefaultExclude is the set of path components the reconciler skips when
// --exclude is not given; a user-supplied --exclude list replaces it.
// ".syncline" itself is never configurable away and is added by
// reconcile.New regardless of this list.
var DefaultExclude = []string{"node_modules", ".git", ".obsidian", "target", ".DS_Store"}

// LoadDotenv loads a .env file from the working directory if one exists,
// exactly like the teacher's godotenv.Load() call in both of its binaries.
// A missing .env file is not an error.
func LoadDotenv() {
	_ = godotenv.Load()
}

// ResolveDBPath applies §6's auto-prefix rule: a bare filesystem path
// becomes a "sqlite://<path>?mode=rwc" URL; an already-qualified "sqlite:"
// URL (including any query string the user supplied, e.g. "?mode=ro") passes
// through unchanged. The result is what callers should hand to
// store.Open, which parses the scheme and query itself and merges the
// caller's query parameters with its own required pragmas rather than
// discarding them.
func ResolveDBPath(path string) string {
	if strings.HasPrefix(path, "sqlite:") {
		return path
	}
	return "sqlite://" + path + "?mode=rwc"
}
