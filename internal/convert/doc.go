// Package convert runs the per-book conversion: it drives the merge or remux
// tool against a private temp file, validates what the tool produced, then
// promotes the temp file to the canonical Book.m4b and moves the consumed
// sources into _backup_files.
//
// Sources are never touched until the output has been validated. A failed
// tool run removes its temp file; an undersized or unparsable output keeps it
// for inspection.
package convert
