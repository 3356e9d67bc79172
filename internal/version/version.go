// Package version carries build metadata injected at link time.
package version

var (
	// Version is the semantic version, set via -ldflags.
	Version = "dev"

	// Commit is the git commit SHA, set via -ldflags.
	Commit = "unknown"
)
