// Package notifications pushes job outcomes to ntfy.
//
// With no topic configured the service is a no-op, so the supervisor can call
// it unconditionally.
package notifications
