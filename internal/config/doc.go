// Package config loads, normalizes, and validates m4brew configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the M4BREW_* environment overrides
// used by container deployments. The Library section doubles as the persisted
// run settings (root folder, audio mode, bitrate); ApplySettings and Save
// implement the clamped settings update exposed by the API and CLI.
package config
