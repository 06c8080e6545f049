// Package version carries build metadata stamped in with -ldflags -X.
package version

import "fmt"

// Overridden at link time, e.g.
//
//	-X github.com/bdobrica/Kioku/common/version.Version=v1.2.0
var (
	Version   = "v0.0.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info renders the build metadata for `kioku version`.
func Info() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildTime)
}

// UserAgent is sent by the HTTP encoder clients.
func UserAgent() string {
	return "kioku/" + Version
}
