// Package preflight checks that a job can safely start against a library
// root, and reports the health of directories and tools for status views.
//
// Root checks run before a job is accepted; a failure rejects the start
// request with a typed code and no job is created.
package preflight
