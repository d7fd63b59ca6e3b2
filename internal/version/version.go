// Package version reports the build version of orca.
package version

import (
	"runtime/debug"
	"strings"
)

// version is set at build time with
// -ldflags "-X github.com/ShayCichocki/orca/internal/version.version=v1.2.3".
var version = ""

// Get returns the current version, with whitespace trimmed. It falls back to
// the module version recorded in the binary, then to "dev".
func Get() string {
	if v := strings.TrimSpace(version); v != "" {
		return v
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}
	return "dev"
}
