// Package version holds build-time version information for the coursechat
// binary. The variables are populated via -ldflags:
//
//	go build -ldflags="-X github.com/54b3r/coursechat-go/internal/version.Version=v0.3.0 \
//	                    -X github.com/54b3r/coursechat-go/internal/version.Commit=abc1234 \
//	                    -X github.com/54b3r/coursechat-go/internal/version.BuildDate=2026-01-01"
//
// Local builds fall back to "dev"/"unknown".
package version

import "fmt"

// Version is the semantic version of the binary. Defaults to "dev".
var Version = "dev"

// Commit is the short git SHA the binary was built from.
var Commit = "unknown"

// BuildDate is the UTC build date (RFC3339).
var BuildDate = "unknown"

// String renders the version line printed by `coursechat version` and
// logged by `coursechat serve`.
func String() string {
	return fmt.Sprintf("coursechat %s (commit: %s, built: %s)", Version, Commit, BuildDate)
}
