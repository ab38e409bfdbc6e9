// Package daemon hosts the long-running m4brew process surface: the HTTP API
// over the job supervisor, the websocket progress feed, and settings
// persistence.
//
// The supervisor owns all job state and the advisory lock; the daemon only
// translates HTTP requests into supervisor calls and supervisor updates into
// JSON. Keep conversion logic out of here.
package daemon
