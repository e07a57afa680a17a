// Package buildinfo holds version information injected at build time via ldflags.
package buildinfo

import "fmt"

// Set via -ldflags at build time:
//
//	go build -ldflags "-X github.com/Resinat/Tagscope/internal/buildinfo.Version=1.0.0 ..."
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// String formats the build info for --version output.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildTime)
}
