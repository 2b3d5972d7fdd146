// Package version carries build metadata for the CLI banner and for the
// User-Agent sent on outbound eBay calls.
package version

import (
	"fmt"
	"runtime"
)

// Set via -ldflags at build time:
//
//	go build -ldflags "-X github.com/aspect-build/listbridge/internal/version.Version=0.1.0
//	  -X github.com/aspect-build/listbridge/internal/version.GitCommit=abc1234"
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// String returns a human-readable version string.
func String(binaryName string) string {
	return fmt.Sprintf("%s %s (commit=%s, go=%s, %s/%s)",
		binaryName, Version, GitCommit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// UserAgent identifies listbridge to the provider, e.g.
// "listbridge/0.1.0 (commit abc1234; go1.24.0)".
func UserAgent() string {
	return fmt.Sprintf("listbridge/%s (commit %s; %s)", Version, GitCommit, runtime.Version())
}
