// Package version exposes build metadata stamped in via -ldflags.
package version

import "fmt"

// Populated at build time:
//
//	go build -ldflags "-X github.com/banshee-data/pax.report/internal/version.Version=v0.3.0 \
//	  -X github.com/banshee-data/pax.report/internal/version.GitSHA=$(git rev-parse --short HEAD)"
var (
	Version = "dev"
	GitSHA  = "unknown"
)

// String returns a single-line build identifier for logs and status pages.
func String() string {
	return fmt.Sprintf("pax.report %s (%s)", Version, GitSHA)
}
