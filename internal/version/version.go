// Package version carries build metadata stamped via -ldflags at release
// time. Zero values mean a local, unstamped build.
package version

var (
	// Version is the semantic release version, e.g. "v0.3.1".
	Version = "dev"

	// CommitHash is the short git commit the binary was built from.
	CommitHash = ""

	// BuildTime is the RFC3339 build timestamp.
	BuildTime = ""
)
