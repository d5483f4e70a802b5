// Package config loads and validates the tsbridge TOML configuration.
//
// A config file is optional; Load returns the defaults when the path does
// not exist. Watch provides live reload: it monitors the file's directory,
// debounces write bursts, re-loads, and publishes a Changed event on the
// bus. Changes to the server or transport sections alter the spawn command
// line and are flagged RequiresRestart; everything else applies to a
// running client.
package config
