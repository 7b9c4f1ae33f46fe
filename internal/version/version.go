package version

import "fmt"

var (
	// Version is stamped from the release tag via ldflags, "dev" for local builds.
	Version = "dev"
	// Commit is the short git hash of the build, "unknown" for local builds.
	Commit = "unknown"
	// BuildTime is the UTC timestamp of the build, "unknown" for local builds.
	BuildTime = "unknown"
)

// Short returns the bare version, suitable for User-Agent strings.
func Short() string {
	return Version
}

// Full renders the complete build identity for the version subcommand.
func Full() string {
	return fmt.Sprintf("rustc-artifact-fetcher %s (commit %s, built %s)", Version, Commit, BuildTime)
}
