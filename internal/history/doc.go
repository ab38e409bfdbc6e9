// Package history records every job in a small SQLite database so finished
// runs can be listed after the in-memory job slot has been replaced.
//
// Rows are written as "running" when a job starts and finalised when it
// ends. A daemon that crashes mid-run leaves running rows behind;
// MarkInterrupted sweeps them on the next start.
package history
