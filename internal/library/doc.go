// Package library discovers book folders under an Author/Book tree and decides,
// per book, which conversion is safe and necessary.
//
// Discovery is recomputed on every batch pass and never persisted. Only the
// top level of each book folder is inspected; subdirectories such as
// _backup_files are ignored. Hidden files are skipped, which also keeps
// in-flight temp outputs out of every classification.
package library
