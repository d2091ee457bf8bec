package restfetch

import (
	"fmt"
	"runtime"
)

// Build metadata. GitCommit and BuildDate are placeholders until overridden
// at link time:
//
//	go build -ldflags "-X github.com/ambiyansyah-risyal/restfetch.GitCommit=$(git rev-parse --short HEAD)"
var (
	Version   = "v0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = runtime.Version()
)

// GetVersion returns a single-line description of this build.
func GetVersion() string {
	return fmt.Sprintf("restfetch %s (commit %s, built %s, %s)",
		Version, GitCommit, BuildDate, GoVersion)
}

// GetVersionInfo returns the build metadata as fields for structured logging.
func GetVersionInfo() map[string]string {
	return map[string]string{
		"version":    Version,
		"commit":     GitCommit,
		"build_date": BuildDate,
		"go_version": GoVersion,
	}
}

// userAgent identifies the engine on outgoing requests that did not set an
// explicit User-Agent header.
func userAgent() string {
	return "restfetch/" + Version
}
