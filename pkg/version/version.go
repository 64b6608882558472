// Package version holds build-time identity, overridden via -ldflags
// -X at release build time. The zero-value defaults are what a plain
// "go build" without ldflags produces, so --version is still useful
// for local development builds.
package version

import "fmt"

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// String renders the standard one-line banner printed by the root
// command's --version flag and logged at startup by both subcommands.
func String() string {
	return fmt.Sprintf("mcpserver-operator %s (commit %s, built %s)", Version, GitCommit, BuildDate)
}
