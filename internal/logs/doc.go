// Package logs reads m4brew log files and the daemon log API for the CLI.
//
// Tail reads a plain log file from a byte offset (or its last N lines) and can
// wait briefly for more. Stream prefers the daemon's structured /api/logs feed
// and falls back to tailing daemon.log when the daemon does not answer.
package logs
