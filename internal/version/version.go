package version

import "fmt"

// Populated via -ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String renders the build identity.
func String() string {
	return fmt.Sprintf("orderflow %s (commit %s, built %s)", Version, Commit, Date)
}
