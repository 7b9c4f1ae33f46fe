// Package version carries the build identity of rustc-artifact-fetcher.
//
// Version, Commit and BuildTime are stamped through -ldflags at release
// time; local builds fall back to "dev" placeholders. Short feeds the HTTP
// User-Agent sent to the artifact store and the GitHub API, Full backs the
// CLI version subcommand.
package version
