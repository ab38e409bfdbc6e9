// Package services holds the error taxonomy and context keys shared by the
// batch runner, the conversion executor and the external tool wrappers.
//
// Failures are tagged with a sentinel (ErrExternalTool, ErrTimeout, ...)
// through Wrap so callers classify them with errors.Is. WithJobID and WithBook
// stamp the identifiers that logging.WithContext turns into record fields.
package services
