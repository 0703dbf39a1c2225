// Package config handles configuration loading and management for hitserve.
//
// It provides functionality for:
//   - Loading configuration from .hitserve.yaml or .hitserve.json files
//   - Default configuration values
//   - Merging explicit overrides over loaded values
package config
