// Package logging assembles the structured slog loggers used across m4brew.
//
// It owns the console and JSON handlers, the in-memory StreamHub that backs
// the live log API, the JSONL EventArchive, and the plain-text job log that
// forms the "advanced view" of a batch run. Context helpers tag lines with the
// job ID, book path, and stage so a single run can be followed end to end.
package logging
