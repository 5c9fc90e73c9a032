// Package version carries build metadata stamped in at link time.
package version

import "fmt"

// Overridden via ldflags, e.g.
//
//	go build -ldflags "-X github.com/allaspectsdev/webdog/internal/version.Version=1.2.0"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// String renders the one-line form printed by the version command.
func String() string {
	return fmt.Sprintf("webdog %s (commit: %s, built: %s)", Version, GitCommit, BuildDate)
}

// UserAgent is the token WebDog identifies itself with when it is not
// impersonating a browser, e.g. on robots.txt requests.
func UserAgent() string {
	return "WebDog/" + Version
}
