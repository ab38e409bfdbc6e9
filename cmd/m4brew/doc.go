// Command m4brew converts, corrects and cleans up audiobook folders.
//
// The foreground `run` command drives a batch in-process; `serve` starts the
// long-running daemon that exposes the HTTP API, and the `job`, `history`,
// `status` and `config` commands talk to it.
package main
