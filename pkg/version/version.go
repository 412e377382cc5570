// Package version exposes build metadata injected with -ldflags.
package version

import "fmt"

// Set at build time:
//
//	-ldflags "-X github.com/Sumatoshi-tech/regiontree/pkg/version.Version=v0.3.0"
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String formats the build metadata on one line.
func String() string {
	return fmt.Sprintf("regiontree %s (commit %s, built %s)", Version, Commit, Date)
}
