// Package textutil holds small string helpers for building safe file names.
package textutil
