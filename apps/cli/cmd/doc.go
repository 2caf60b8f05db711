// Package cmd implements the snare CLI commands using Cobra.
//
// Available commands:
//   - capture: Launch a browser and store every response it receives
//   - proxy: Capture responses passing through a reverse proxy
//   - list: Show captured responses recorded in the metadata store
//   - init: Write a default configuration file
//   - version: Show snare version information
//   - completion: Generate shell completion scripts
package cmd
