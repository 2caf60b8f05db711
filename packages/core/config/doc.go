// Package config handles configuration loading and management for snare.
//
// It provides functionality for:
//   - Loading configuration from .snare.yaml, snare.yaml, .snare.yml or .snarerc
//   - Default configuration values
//   - Merging command-line overrides on top of file values
package config
