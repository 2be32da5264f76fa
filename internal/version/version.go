package version

var (
	// Version is the daemon version, overridden via ldflags by the build.
	Version = "v1.0.0"

	// Commit is the git short hash of the build.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)
