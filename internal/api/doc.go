// Package api defines the wire format of the m4brew HTTP API and a client for
// it. The daemon encodes these types; the CLI decodes them.
//
// # Key Types
//
// JobStatus: the pollable job snapshot (status, progress, settings, summary).
//
// StartJobRequest: mode, dry run and per-run overrides for a new job.
//
// DaemonStatus: process info, the current job, dependency and preflight checks.
//
// JobLogResponse: a chunk of the plain-text job log plus the next offset.
//
// LogEvent/LogStreamResponse: structured daemon log events for live tailing.
//
// # Design Notes
//
// JSON keys are snake_case throughout to match the job snapshot. Errors are
// returned as ErrorResponse with a machine-readable code where one exists
// (start rejections carry the preflight or single-flight code).
package api
