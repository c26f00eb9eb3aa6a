// Package version holds build metadata injected at link time via
// -ldflags "-X voxcast/version.GitRelease=...".
package version

import "runtime"

var (
	// GitRelease is the release tag or branch of the build.
	GitRelease = "dev"
	// GitCommit is the commit hash of the build.
	GitCommit = "unknown"
	// GitCommitDate is the commit date of the build.
	GitCommitDate = "unknown"
	// GoInfo is the Go runtime version used for the build.
	GoInfo = runtime.Version()
)
