// Package batch sweeps a library root for one mode (convert, correct,
// cleanup), isolating per-book failures and rolling results into a Summary.
//
// Progress is reported as Events on a channel supplied by the caller; the
// human-readable transcript and the final JSON summary line are written to
// the request's Transcript writer.
package batch
