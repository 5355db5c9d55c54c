// Package buildinfo provides build information for ledgersnap binaries.
//
// This package exposes build-time information injected via ldflags:
//
//   - Version: Semantic version (e.g., "1.0.0")
//   - Commit: Git commit hash
//   - BuildTime: Build timestamp
//
// Commit falls back to the VCS revision recorded by the Go toolchain, and
// GoVersion is read from the runtime.
//
// Usage:
//
//	go build -ldflags "-X github.com/yndnr/ledgersnap/internal/infra/buildinfo.Version=1.0.0"
package buildinfo
