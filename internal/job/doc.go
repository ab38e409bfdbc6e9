// Package job owns the single global job slot.
//
// A Supervisor accepts start requests, runs one batch at a time in a
// background goroutine, exposes a consistent Snapshot for polling, and
// accepts cancellation while a job is running. Mutual exclusion is held
// twice: an in-memory flag rejects concurrent requests in this process and
// an advisory file lock rejects a second m4brew process working the same
// tree. Both are held for the whole run.
//
// The batch runner reports progress as structured events; the supervisor
// folds them into the snapshot and fans them out to subscribers (the
// websocket feed and CLI progress bars).
package job
