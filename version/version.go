// Package version holds the build information. The values are set by the
// goreleaser build via ldflags.
package version

import "fmt"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	FullVersion = fmt.Sprintf("%s (%s) built at %s", Version, Commit, Date)
)
