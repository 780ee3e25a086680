// Package buildinfo holds version information injected at build time via ldflags.
package buildinfo

// Set via -ldflags at build time:
//
//	go build -ldflags "-X github.com/Resinat/vpncore/internal/buildinfo.Version=1.2.0 -X github.com/Resinat/vpncore/internal/buildinfo.GitCommit=$(git rev-parse --short HEAD)" ./cmd/vpncore
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)
