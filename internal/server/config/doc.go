// Package config provides the node configuration for ledgersnap.
//
// This package defines the configuration structure and validation:
//
//   - spec.go: NodeConfig struct definition
//   - default.go: Default configuration values
//   - verify.go: Business validation (intervals, retention, paths)
//   - sanitize.go: Log sanitization (hide sensitive values)
//   - components.go: Mapping onto the component configurations
//
// Configuration is loaded via internal/infra/confloader and supports
// multiple sources: files and environment variables.
package config
