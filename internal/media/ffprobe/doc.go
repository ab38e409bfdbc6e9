// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// m4brew uses it to read the channel count of a book's first source file when
// the channel policy is "match".
package ffprobe
