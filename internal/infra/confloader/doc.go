// Package confloader loads configuration from YAML files, environment
// variables and flag overrides using koanf.
//
// Priority (highest to lowest):
//
//  1. Overrides (WithOverrides), usually command-line flags
//  2. Environment variables (LEDGERSNAP_SECTION__KEY)
//  3. Configuration file
//  4. Values already present in the target struct
//
// A Watcher reports changes to one configuration file; OnReload re-reads
// it so the settings that may change at runtime can be applied.
package confloader
